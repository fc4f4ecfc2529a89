package engine

import (
	"fmt"

	"github.com/mohae/deepcopy"

	"github.com/dukex/matterflow/pkg/models"
)

// Start gives every step of the template a PENDING record, marks the
// instance running and resolves the initial READY set. Records already in
// inst are discarded.
func (e *Engine) Start(inst *models.Instance) (Resolution, error) {
	if inst == nil {
		return Resolution{}, ErrNilInstance
	}

	fresh := *inst
	fresh.TemplateID = e.template.ID
	fresh.Status = models.InstanceStatusRunning
	fresh.Steps = nil

	snapshot, err := e.snapshot(&fresh)
	if err != nil {
		return Resolution{}, err
	}

	res := Resolution{Instance: snapshot}
	e.settle(&res)

	return res, nil
}

// Complete records the outcome of a READY step, selects its branches and
// propagates readiness. A step that is already settled yields
// ErrStepAlreadySettled so duplicate deliveries can be ignored.
func (e *Engine) Complete(inst *models.Instance, stepID string, outcome any) (Resolution, error) {
	snapshot, record, err := e.transition(inst, stepID)
	if err != nil {
		return Resolution{}, err
	}

	if record.State != models.StepStateReady {
		return Resolution{}, fmt.Errorf("%w: step %s is %s, not %s",
			ErrInvalidTransition, stepID, record.State, models.StepStateReady)
	}

	record.State = models.StepStateCompleted
	record.Outcome = outcome
	record.SkipReason = ""

	res := Resolution{Instance: snapshot}

	if e.graph.hasBranchLinks(stepID) {
		selection := e.selectBranches(e.graph.steps[stepID], outcome, e.scope(snapshot))

		record.BranchesSelected = true
		record.TakenBranches = selection.Taken

		res.Branches = append(res.Branches, selection)

		if selection.Warning != nil {
			res.Warnings = append(res.Warnings, *selection.Warning)
		}

		for _, a := range selection.Anomalies {
			res.addAnomaly(a)
		}
	}

	e.settle(&res)

	return res, nil
}

// Skip settles a PENDING or READY step as SKIPPED and propagates readiness.
func (e *Engine) Skip(inst *models.Instance, stepID, reason string) (Resolution, error) {
	snapshot, record, err := e.transition(inst, stepID)
	if err != nil {
		return Resolution{}, err
	}

	if reason == "" {
		reason = SkipReasonManual
	}

	res := Resolution{Instance: snapshot}

	record.State = models.StepStateSkipped
	record.SkipReason = reason
	res.Skipped = append(res.Skipped, stepID)

	e.settle(&res)

	return res, nil
}

// Cancel settles every open step as SKIPPED and marks the instance cancelled.
func (e *Engine) Cancel(inst *models.Instance) (Resolution, error) {
	snapshot, err := e.snapshot(inst)
	if err != nil {
		return Resolution{}, err
	}

	res := Resolution{Instance: snapshot}

	if snapshot.Status == models.InstanceStatusCancelled {
		res.Status = snapshot.Status

		return res, nil
	}

	for _, id := range e.graph.order {
		if !snapshot.Steps[id].State.IsTerminal() {
			e.skip(&res, id, SkipReasonCancelled)
		}
	}

	snapshot.Status = models.InstanceStatusCancelled
	res.Status = snapshot.Status

	return res, nil
}

// transition snapshots inst and returns the record of an unsettled step.
func (e *Engine) transition(inst *models.Instance, stepID string) (*models.Instance, *models.StepRecord, error) {
	snapshot, err := e.snapshot(inst)
	if err != nil {
		return nil, nil, err
	}

	if snapshot.Status == models.InstanceStatusCancelled {
		return nil, nil, fmt.Errorf("%w: %s", ErrInstanceFinished, snapshot.ID)
	}

	if _, ok := e.graph.steps[stepID]; !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownStep, stepID)
	}

	record := snapshot.Steps[stepID]
	if record.State.IsTerminal() {
		return nil, nil, fmt.Errorf("%w: step %s is %s", ErrStepAlreadySettled, stepID, record.State)
	}

	return snapshot, record, nil
}

// snapshot deep-copies inst and gives every template step a record.
func (e *Engine) snapshot(inst *models.Instance) (*models.Instance, error) {
	if inst == nil {
		return nil, ErrNilInstance
	}

	if inst.TemplateID != "" && e.template.ID != "" && inst.TemplateID != e.template.ID {
		return nil, fmt.Errorf("%w: instance %s has template %s, engine has %s",
			ErrTemplateMismatch, inst.ID, inst.TemplateID, e.template.ID)
	}

	snapshot, ok := deepcopy.Copy(inst).(*models.Instance)
	if !ok {
		return nil, fmt.Errorf("copy instance %s", inst.ID)
	}

	if snapshot.Steps == nil {
		snapshot.Steps = make(map[string]*models.StepRecord, len(e.graph.order))
	}

	if snapshot.Context == nil {
		snapshot.Context = make(map[string]any)
	}

	for _, id := range e.graph.order {
		record := snapshot.Steps[id]
		if record == nil {
			snapshot.Steps[id] = &models.StepRecord{State: models.StepStatePending}

			continue
		}

		if record.State == "" {
			record.State = models.StepStatePending
		}
	}

	e.backfillBranches(snapshot)

	return snapshot, nil
}

// backfillBranches selects branches for completed steps that were recorded
// without a selection, so their links carry a definite signal.
func (e *Engine) backfillBranches(inst *models.Instance) {
	var vars map[string]any

	for _, id := range e.graph.order {
		record := inst.Steps[id]
		if record.State != models.StepStateCompleted || record.BranchesSelected || !e.graph.hasBranchLinks(id) {
			continue
		}

		if vars == nil {
			vars = e.scope(inst)
		}

		selection := e.selectBranches(e.graph.steps[id], record.Outcome, vars)
		record.BranchesSelected = true
		record.TakenBranches = selection.Taken
	}
}
