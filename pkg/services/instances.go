package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/dukex/matterflow/pkg/engine"
	"github.com/dukex/matterflow/pkg/events"
	"github.com/dukex/matterflow/pkg/locker"
	"github.com/dukex/matterflow/pkg/models"
	"github.com/dukex/matterflow/pkg/otelhelper"
	"github.com/dukex/matterflow/pkg/persistence"
	render "github.com/dukex/matterflow/pkg/template"
)

// ExpiredOutcome is the outcome recorded for a step that outlived its deadline.
const ExpiredOutcome = "expired"

const maxUpdateAttempts = 3

// Instances runs templates against matters: it serializes each
// read-compute-write cycle, stores the result and announces what changed.
type Instances struct {
	persistence persistence.Persistence
	deps        dependencies

	mu      sync.Mutex
	engines map[string]*engine.Engine
}

// NewInstances creates a new instance service.
func NewInstances(persistence persistence.Persistence, opts ...Option) *Instances {
	d := newDependencies(opts)
	d.logger = d.logger.With("module", "instance_service")

	return &Instances{
		persistence: persistence,
		deps:        d,
		engines:     make(map[string]*engine.Engine),
	}
}

// StartInstanceRequest names the template version and matter to run.
type StartInstanceRequest struct {
	TemplateID string         `json:"template_id" validate:"required"`
	MatterID   string         `json:"matter_id"`
	ContactID  string         `json:"contact_id"`
	Context    map[string]any `json:"context"`
}

// ListInstancesRequest filters instance listings.
type ListInstancesRequest struct {
	TemplateID string
	MatterID   string
	Status     models.InstanceStatus
}

// Start creates an instance of an active template and resolves its first
// READY steps.
func (s *Instances) Start(ctx context.Context, req StartInstanceRequest) (_ engine.Resolution, err error) {
	ctx, span := otelhelper.StartSpan(ctx, s.deps.tracer, "instances.Start",
		attribute.String(otelhelper.TemplateIDKey, req.TemplateID))
	defer func() { otelhelper.End(span, err) }()

	template, err := s.persistence.TemplateRepository().GetByID(ctx, req.TemplateID)
	if err != nil {
		return engine.Resolution{}, err
	}

	if !template.IsActive() {
		return engine.Resolution{}, newConflictError("Start", "TEMPLATE_NOT_ACTIVE",
			fmt.Errorf("%w: %s is %s", ErrTemplateNotActive, template.ID, template.Status))
	}

	e, err := s.engine(template)
	if err != nil {
		return engine.Resolution{}, err
	}

	now := s.deps.now()

	res, err := e.Start(&models.Instance{
		ID:        newID(),
		MatterID:  req.MatterID,
		ContactID: req.ContactID,
		Context:   maps.Clone(req.Context),
		CreatedAt: now,
	})
	if err != nil {
		return engine.Resolution{}, err
	}

	s.stamp(res, "", now)

	if err := s.persistence.InstanceRepository().Create(ctx, res.Instance); err != nil {
		return engine.Resolution{}, fmt.Errorf("failed to create instance: %w", err)
	}

	span.SetAttributes(attribute.String(otelhelper.InstanceIDKey, res.Instance.ID))

	s.deps.logger.InfoContext(ctx, "Instance started",
		"instance_id", res.Instance.ID,
		"template_id", template.ID,
		"matter_id", req.MatterID,
		"ready", res.Ready,
	)

	s.publish(ctx, res.Instance.ID, events.InstanceStarted{
		BaseEvent:  events.NewBaseEvent(events.InstanceStartedEvent, template.ID),
		InstanceID: res.Instance.ID,
		MatterID:   req.MatterID,
		ContactID:  req.ContactID,
	})
	s.announce(ctx, e, res, "", models.InstanceStatusRunning)

	return res, nil
}

// Get returns the instance with the given id.
func (s *Instances) Get(ctx context.Context, instanceID string) (*models.Instance, error) {
	return s.persistence.InstanceRepository().GetByID(ctx, instanceID)
}

// List returns the instances matching the request filters.
func (s *Instances) List(ctx context.Context, req ListInstancesRequest) ([]*models.Instance, error) {
	return s.persistence.InstanceRepository().List(ctx, persistence.ListInstancesOptions{
		TemplateID: req.TemplateID,
		MatterID:   req.MatterID,
		Status:     req.Status,
	})
}

// CompleteStep records the outcome of a READY step and propagates readiness.
func (s *Instances) CompleteStep(ctx context.Context, instanceID, stepID string, outcome any) (engine.Resolution, error) {
	return s.mutate(ctx, "CompleteStep", instanceID, stepID, func(e *engine.Engine, inst *models.Instance) (engine.Resolution, error) {
		return e.Complete(inst, stepID, outcome)
	})
}

// SkipStep settles a PENDING or READY step as skipped.
func (s *Instances) SkipStep(ctx context.Context, instanceID, stepID, reason string) (engine.Resolution, error) {
	return s.mutate(ctx, "SkipStep", instanceID, stepID, func(e *engine.Engine, inst *models.Instance) (engine.Resolution, error) {
		return e.Skip(inst, stepID, reason)
	})
}

// Cancel skips every open step and marks the instance cancelled.
func (s *Instances) Cancel(ctx context.Context, instanceID string) (engine.Resolution, error) {
	return s.mutate(ctx, "Cancel", instanceID, "", func(e *engine.Engine, inst *models.Instance) (engine.Resolution, error) {
		return e.Cancel(inst)
	})
}

// ExpireStep completes a READY step with ExpiredOutcome.
func (s *Instances) ExpireStep(ctx context.Context, instanceID, stepID string) (engine.Resolution, error) {
	return s.CompleteStep(ctx, instanceID, stepID, ExpiredOutcome)
}

// Recompute re-runs readiness propagation without a transition, for example
// after the context changed.
func (s *Instances) Recompute(ctx context.Context, instanceID string) (engine.Resolution, error) {
	return s.mutate(ctx, "Recompute", instanceID, "", func(e *engine.Engine, inst *models.Instance) (engine.Resolution, error) {
		return e.Recompute(inst)
	})
}

// UpdateContext merges vars into the instance context. Readiness is not
// recomputed; settled steps keep their state.
func (s *Instances) UpdateContext(ctx context.Context, instanceID string, vars map[string]any) (*models.Instance, error) {
	release, err := s.deps.locker.Acquire(ctx, locker.InstanceKey(instanceID))
	if err != nil {
		return nil, err
	}

	defer s.release(ctx, release, instanceID)

	for attempt := 1; ; attempt++ {
		inst, err := s.persistence.InstanceRepository().GetByID(ctx, instanceID)
		if err != nil {
			return nil, err
		}

		if inst.Status == models.InstanceStatusCancelled {
			return nil, newConflictError("UpdateContext", "INSTANCE_FINISHED",
				fmt.Errorf("%w: %s", engine.ErrInstanceFinished, instanceID))
		}

		if inst.Context == nil {
			inst.Context = make(map[string]any, len(vars))
		}

		maps.Copy(inst.Context, vars)

		err = s.persistence.InstanceRepository().Update(ctx, inst, inst.Revision)
		if err == nil {
			return inst, nil
		}

		if !persistence.IsVersionConflict(err) || attempt == maxUpdateAttempts {
			return nil, err
		}
	}
}

// ExpireOverdue completes every READY step whose deadline has passed and
// returns how many were expired.
func (s *Instances) ExpireOverdue(ctx context.Context) (int, error) {
	running, err := s.persistence.InstanceRepository().List(ctx, persistence.ListInstancesOptions{
		Status: models.InstanceStatusRunning,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list running instances: %w", err)
	}

	now := s.deps.now()
	expired := 0

	var errs []error

	for _, inst := range running {
		overdue, err := s.overdueSteps(ctx, inst, now)
		if err != nil {
			errs = append(errs, err)

			continue
		}

		for _, stepID := range overdue {
			_, err := s.ExpireStep(ctx, inst.ID, stepID)

			switch {
			case err == nil:
				expired++
			case errors.Is(err, engine.ErrStepAlreadySettled), errors.Is(err, engine.ErrInvalidTransition):
				// settled by someone else since the listing
			default:
				errs = append(errs, fmt.Errorf("expire %s/%s: %w", inst.ID, stepID, err))
			}
		}
	}

	return expired, errors.Join(errs...)
}

func (s *Instances) overdueSteps(ctx context.Context, inst *models.Instance, now time.Time) ([]string, error) {
	e, err := s.engineFor(ctx, inst.TemplateID)
	if err != nil {
		return nil, err
	}

	var overdue []string

	for _, stepID := range e.StepIDs() {
		record := inst.Steps[stepID]
		if record == nil || record.State != models.StepStateReady || record.ReadyAt == nil {
			continue
		}

		step, _ := e.Step(stepID)
		if step.ExpiresAfterSeconds <= 0 {
			continue
		}

		deadline := record.ReadyAt.Add(time.Duration(step.ExpiresAfterSeconds) * time.Second)
		if !now.Before(deadline) {
			overdue = append(overdue, stepID)
		}
	}

	return overdue, nil
}

// HandleOutcomeReported is the event bus handler for outcomes sent by action
// handlers. Duplicate deliveries of a settled step are acknowledged.
func (s *Instances) HandleOutcomeReported(ctx context.Context, event any) error {
	reported, ok := event.(*events.StepOutcomeReported)
	if !ok {
		return fmt.Errorf("%w: unexpected event %T", ErrInvalidRequest, event)
	}

	_, err := s.CompleteStep(ctx, reported.InstanceID, reported.StepID, reported.Outcome)
	if errors.Is(err, engine.ErrStepAlreadySettled) {
		s.deps.logger.DebugContext(ctx, "Ignoring outcome for settled step",
			"instance_id", reported.InstanceID, "step_id", reported.StepID)

		return nil
	}

	return err
}

type operation func(e *engine.Engine, inst *models.Instance) (engine.Resolution, error)

// mutate holds the instance lock across load, engine call and
// compare-and-swap save. A revision conflict reloads and retries.
func (s *Instances) mutate(ctx context.Context, op, instanceID, stepID string, fn operation) (_ engine.Resolution, err error) {
	ctx, span := otelhelper.StartSpan(ctx, s.deps.tracer, "instances."+op,
		attribute.String(otelhelper.InstanceIDKey, instanceID),
		attribute.String(otelhelper.StepIDKey, stepID))
	defer func() { otelhelper.End(span, err) }()

	release, err := s.deps.locker.Acquire(ctx, locker.InstanceKey(instanceID))
	if err != nil {
		return engine.Resolution{}, err
	}

	defer s.release(ctx, release, instanceID)

	for attempt := 1; ; attempt++ {
		inst, err := s.persistence.InstanceRepository().GetByID(ctx, instanceID)
		if err != nil {
			return engine.Resolution{}, err
		}

		e, err := s.engineFor(ctx, inst.TemplateID)
		if err != nil {
			return engine.Resolution{}, err
		}

		previous := inst.Status
		expected := inst.Revision

		res, err := fn(e, inst)
		if err != nil {
			return engine.Resolution{}, s.transitionError(op, instanceID, err)
		}

		s.stamp(res, stepID, s.deps.now())

		err = s.persistence.InstanceRepository().Update(ctx, res.Instance, expected)
		if err == nil {
			s.logResolution(ctx, op, stepID, res)
			s.announce(ctx, e, res, stepID, previous)

			return res, nil
		}

		if !persistence.IsVersionConflict(err) || attempt == maxUpdateAttempts {
			return engine.Resolution{}, err
		}

		s.deps.logger.WarnContext(ctx, "Instance changed concurrently, retrying",
			"instance_id", instanceID, "attempt", attempt)
	}
}

func (s *Instances) transitionError(op, instanceID string, err error) error {
	switch {
	case errors.Is(err, engine.ErrUnknownStep):
		return &ServiceError{Op: op, Code: "STEP_NOT_FOUND", Err: fmt.Errorf("%w: %w", ErrStepNotFound, err)}
	case errors.Is(err, engine.ErrStepAlreadySettled):
		return newConflictError(op, "STEP_ALREADY_SETTLED", err)
	case errors.Is(err, engine.ErrInvalidTransition):
		return newConflictError(op, "INVALID_TRANSITION", err)
	case errors.Is(err, engine.ErrInstanceFinished):
		return newConflictError(op, "INSTANCE_FINISHED", err)
	default:
		return fmt.Errorf("instance %s: %w", instanceID, err)
	}
}

// stamp records when steps became ready and when stepID settled.
func (s *Instances) stamp(res engine.Resolution, stepID string, now time.Time) {
	inst := res.Instance
	inst.UpdatedAt = now

	for _, id := range res.Ready {
		at := now
		inst.Steps[id].ReadyAt = &at
	}

	if record, ok := inst.Steps[stepID]; ok && record.State == models.StepStateCompleted && record.CompletedAt == nil {
		at := now
		record.CompletedAt = &at
	}
}

func (s *Instances) logResolution(ctx context.Context, op, stepID string, res engine.Resolution) {
	s.deps.logger.InfoContext(ctx, "Instance updated",
		"operation", op,
		"instance_id", res.Instance.ID,
		"step_id", stepID,
		"ready", res.Ready,
		"skipped", res.Skipped,
		"status", res.Status,
	)

	for _, a := range res.Anomalies {
		s.deps.logger.DebugContext(ctx, "Condition referenced missing field",
			"instance_id", res.Instance.ID, "step_id", a.StepID, "field", a.Field)
	}

	for _, w := range res.Warnings {
		s.deps.logger.WarnContext(ctx, "Engine warning",
			"instance_id", res.Instance.ID, "kind", w.Kind, "step_ids", w.StepIDs, "message", w.Message)
	}
}

// announce records metrics and publishes one event per change. Publish
// failures are logged; the new state is already stored.
func (s *Instances) announce(ctx context.Context, e *engine.Engine, res engine.Resolution, stepID string, previous models.InstanceStatus) {
	if stepID != "" {
		if record, ok := res.Instance.Steps[stepID]; ok {
			s.deps.metrics.ObserveStep(record.State)
		}
	}

	s.deps.metrics.ObserveResolution(res, previous)

	if s.deps.publisher == nil {
		return
	}

	inst := res.Instance
	templateID := inst.TemplateID

	if record, ok := inst.Steps[stepID]; ok && record.State == models.StepStateCompleted {
		s.publish(ctx, inst.ID, events.StepCompleted{
			BaseEvent:     events.NewBaseEvent(events.StepCompletedEvent, templateID),
			InstanceID:    inst.ID,
			StepID:        stepID,
			Outcome:       record.Outcome,
			TakenBranches: record.TakenBranches,
		})
	}

	for _, id := range res.Skipped {
		s.publish(ctx, inst.ID, events.StepSkipped{
			BaseEvent:  events.NewBaseEvent(events.StepSkippedEvent, templateID),
			InstanceID: inst.ID,
			StepID:     id,
			Reason:     inst.Steps[id].SkipReason,
		})
	}

	for _, id := range res.Ready {
		step, _ := e.Step(id)
		s.publish(ctx, inst.ID, s.stepReady(ctx, inst, step))
	}

	switch res.Status {
	case models.InstanceStatusStalled:
		if previous == models.InstanceStatusStalled {
			return
		}

		reason, ids := stallReason(res.Warnings)
		s.publish(ctx, inst.ID, events.InstanceStalled{
			BaseEvent:  events.NewBaseEvent(events.InstanceStalledEvent, templateID),
			InstanceID: inst.ID,
			Reason:     reason,
			StepIDs:    ids,
		})
	case models.InstanceStatusCompleted:
		if previous != models.InstanceStatusCompleted {
			s.publish(ctx, inst.ID, events.InstanceCompleted{
				BaseEvent:  events.NewBaseEvent(events.InstanceCompletedEvent, templateID),
				InstanceID: inst.ID,
				MatterID:   inst.MatterID,
			})
		}
	case models.InstanceStatusCancelled:
		if previous != models.InstanceStatusCancelled {
			s.publish(ctx, inst.ID, events.InstanceCancelled{
				BaseEvent:  events.NewBaseEvent(events.InstanceCancelledEvent, templateID),
				InstanceID: inst.ID,
			})
		}
	}
}

func (s *Instances) publish(ctx context.Context, key string, event interface{ GetType() events.EventType }) {
	if s.deps.publisher == nil {
		return
	}

	if err := s.deps.publisher.Publish(ctx, key, event); err != nil {
		s.deps.logger.ErrorContext(ctx, "Failed to publish event",
			"event_type", event.GetType(), "instance_id", key, "error", err)
	}
}

func (s *Instances) release(ctx context.Context, release locker.Release, instanceID string) {
	if err := release(context.WithoutCancel(ctx)); err != nil {
		s.deps.logger.ErrorContext(ctx, "Failed to release instance lock", "instance_id", instanceID, "error", err)
	}
}

// engineFor returns the cached engine of a template. Instantiable templates
// never change, so an engine is built once per template ID.
func (s *Instances) engineFor(ctx context.Context, templateID string) (*engine.Engine, error) {
	s.mu.Lock()
	e, ok := s.engines[templateID]
	s.mu.Unlock()

	if ok {
		return e, nil
	}

	template, err := s.persistence.TemplateRepository().GetByID(ctx, templateID)
	if err != nil {
		return nil, err
	}

	return s.engine(template)
}

func (s *Instances) engine(template *models.Template) (*engine.Engine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.engines[template.ID]; ok {
		return e, nil
	}

	e, err := engine.New(template, s.deps.engineOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load template %s: %w", template.ID, err)
	}

	s.engines[template.ID] = e

	return e, nil
}

// stepReady builds the StepReady event. Templated action config values are
// rendered against the instance; on a render failure the raw config is sent.
func (s *Instances) stepReady(ctx context.Context, inst *models.Instance, step *models.Step) events.StepReady {
	config, err := render.RenderConfig(step.ActionConfig, render.Data(inst))
	if err != nil {
		s.deps.logger.WarnContext(ctx, "Failed to render action config",
			"instance_id", inst.ID, "step_id", step.ID, "error", err)

		config = step.ActionConfig
	}

	event := events.StepReady{
		BaseEvent:    events.NewBaseEvent(events.StepReadyEvent, inst.TemplateID),
		InstanceID:   inst.ID,
		StepID:       step.ID,
		StepName:     step.Name,
		ActionType:   step.ActionType,
		ActionConfig: config,
		AssigneeRole: step.AssigneeRole,
		MatterID:     inst.MatterID,
	}

	if readyAt := inst.Steps[step.ID].ReadyAt; readyAt != nil && step.ExpiresAfterSeconds > 0 {
		expiresAt := readyAt.Add(time.Duration(step.ExpiresAfterSeconds) * time.Second)
		event.ExpiresAt = &expiresAt
	}

	return event
}

// stallReason picks the most specific warning behind a stall.
func stallReason(warnings []engine.Warning) (string, []string) {
	for _, kind := range []engine.WarningKind{
		engine.WarningNoSwitchMatch,
		engine.WarningUnsatisfiableDependency,
		engine.WarningNoProgress,
	} {
		for _, w := range warnings {
			if w.Kind == kind {
				return string(w.Kind), w.StepIDs
			}
		}
	}

	return string(engine.WarningNoProgress), nil
}
