package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/mohae/deepcopy"
	"go.opentelemetry.io/otel/attribute"

	"github.com/dukex/matterflow/pkg/engine"
	"github.com/dukex/matterflow/pkg/events"
	"github.com/dukex/matterflow/pkg/models"
	"github.com/dukex/matterflow/pkg/otelhelper"
	"github.com/dukex/matterflow/pkg/persistence"
)

// Templates handles template authoring, validation and version activation.
type Templates struct {
	persistence persistence.Persistence
	deps        dependencies
}

// NewTemplates creates a new template service.
func NewTemplates(persistence persistence.Persistence, opts ...Option) *Templates {
	d := newDependencies(opts)
	d.logger = d.logger.With("module", "template_service")

	return &Templates{
		persistence: persistence,
		deps:        d,
	}
}

// HealthCheck checks the health of the persistence layer.
func (s *Templates) HealthCheck(ctx context.Context) (string, bool) {
	if s.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := s.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// ListTemplatesRequest contains options for listing templates.
type ListTemplatesRequest struct {
	// Pagination
	Limit  int `validate:"min=1,max=100"`
	Offset int `validate:"min=0"`

	// Filtering
	OwnerID string
	Status  *models.TemplateStatus
	GroupID string

	// Sorting
	SortBy    string `validate:"oneof=created_at updated_at name"`
	SortOrder string `validate:"oneof=asc desc"`
}

// ListTemplatesResponse contains the result of listing templates.
type ListTemplatesResponse struct {
	Templates   []*models.Template `json:"templates"`
	TotalCount  int64              `json:"total_count"`
	HasNextPage bool               `json:"has_next_page"`
}

// List retrieves templates with filtering, sorting, and pagination.
func (s *Templates) List(ctx context.Context, req ListTemplatesRequest) (*ListTemplatesResponse, error) {
	if err := validateListTemplatesRequest(&req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}

	result, err := s.persistence.TemplateRepository().List(ctx, persistence.ListTemplatesOptions{
		Limit:     req.Limit,
		Offset:    req.Offset,
		OwnerID:   req.OwnerID,
		Status:    req.Status,
		GroupID:   req.GroupID,
		SortBy:    req.SortBy,
		SortOrder: req.SortOrder,
	})
	if err != nil {
		if errors.Is(err, persistence.ErrInvalidSortField) {
			return nil, ErrInvalidSortField
		}

		return nil, fmt.Errorf("failed to list templates: %w", err)
	}

	return &ListTemplatesResponse{
		Templates:   result.Templates,
		TotalCount:  result.TotalCount,
		HasNextPage: result.HasNextPage,
	}, nil
}

func validateListTemplatesRequest(req *ListTemplatesRequest) error {
	if req.Limit <= 0 {
		req.Limit = 20
	}

	if req.Limit > 100 {
		req.Limit = 100
	}

	if req.Offset < 0 {
		req.Offset = 0
	}

	if req.SortBy == "" {
		req.SortBy = "created_at"
	}

	if req.SortOrder == "" {
		req.SortOrder = "desc"
	}

	if !persistence.AllowedSortFields[req.SortBy] {
		return NewValidationError(
			"validateListTemplatesRequest",
			"INVALID_SORT_FIELD",
			fmt.Sprintf("invalid sort field '%s', allowed: created_at, name, updated_at", req.SortBy),
			ErrInvalidSortField,
		)
	}

	if req.SortOrder != "asc" && req.SortOrder != "desc" {
		return NewValidationError(
			"validateListTemplatesRequest",
			"INVALID_SORT_ORDER",
			fmt.Sprintf("invalid sort order '%s', allowed: asc, desc", req.SortOrder),
			ErrInvalidSortOrder,
		)
	}

	if req.Status != nil {
		allowed := []models.TemplateStatus{
			models.TemplateStatusDraft,
			models.TemplateStatusActive,
			models.TemplateStatusInactive,
		}

		if !slices.Contains(allowed, *req.Status) {
			return NewValidationError(
				"validateListTemplatesRequest",
				"INVALID_STATUS",
				fmt.Sprintf("invalid status '%s'", *req.Status),
				ErrInvalidStatus,
			)
		}
	}

	if req.OwnerID != "" {
		req.OwnerID = strings.TrimSpace(req.OwnerID)
		if req.OwnerID == "" {
			return ErrEmptyOwnerID
		}
	}

	return nil
}

// FetchByID retrieves a template by its ID.
func (s *Templates) FetchByID(ctx context.Context, id string) (*models.Template, error) {
	return s.persistence.TemplateRepository().GetByID(ctx, id)
}

// GetVersions returns every version of a template group, oldest first.
func (s *Templates) GetVersions(ctx context.Context, groupID string) ([]*models.Template, error) {
	return s.persistence.TemplateRepository().GetVersions(ctx, groupID)
}

// GetActive returns the active version of a template group.
func (s *Templates) GetActive(ctx context.Context, groupID string) (*models.Template, error) {
	return s.persistence.TemplateRepository().GetActiveByGroupID(ctx, groupID)
}

// Create stores a new draft template as version 1 of a new group.
func (s *Templates) Create(ctx context.Context, template *models.Template) (*models.Template, error) {
	if template == nil {
		return nil, ErrTemplateNil
	}

	if strings.TrimSpace(template.Name) == "" {
		return nil, ErrTemplateNameRequired
	}

	template.ID = newID()
	template.TemplateGroupID = template.ID
	template.Version = 1
	template.Status = models.TemplateStatusDraft
	template.ActivatedAt = nil

	normalizeTemplate(template)

	err := s.persistence.TemplateRepository().Save(ctx, template)
	if err != nil {
		return nil, fmt.Errorf("failed to create template: %w", err)
	}

	s.deps.logger.InfoContext(ctx, "Template created", "template_id", template.ID, "steps", len(template.Steps))

	return template, nil
}

// Update replaces the definition of a draft template. Identity, version and
// group are kept.
func (s *Templates) Update(ctx context.Context, templateID string, template *models.Template) (*models.Template, error) {
	if template == nil {
		return nil, ErrTemplateNil
	}

	existing, err := s.draft(ctx, "Update", templateID)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(template.Name) == "" {
		return nil, ErrTemplateNameRequired
	}

	template.ID = existing.ID
	template.TemplateGroupID = existing.TemplateGroupID
	template.Version = existing.Version
	template.Status = existing.Status
	template.CreatedAt = existing.CreatedAt
	template.ActivatedAt = nil

	normalizeTemplate(template)

	if err := s.persistence.TemplateRepository().Save(ctx, template); err != nil {
		return nil, fmt.Errorf("failed to update template: %w", err)
	}

	return template, nil
}

// Delete removes a draft template.
func (s *Templates) Delete(ctx context.Context, templateID string) error {
	if _, err := s.draft(ctx, "Delete", templateID); err != nil {
		return err
	}

	if err := s.persistence.TemplateRepository().Delete(ctx, templateID); err != nil {
		return fmt.Errorf("failed to delete template: %w", err)
	}

	return nil
}

// AddStep appends a step to a draft template. A step without an ID gets one.
func (s *Templates) AddStep(ctx context.Context, templateID string, step *models.Step) (*models.Step, error) {
	if step == nil {
		return nil, ErrStepNil
	}

	template, err := s.draft(ctx, "AddStep", templateID)
	if err != nil {
		return nil, err
	}

	if step.ID == "" {
		step.ID = newID()
	}

	if template.StepByID(step.ID) != nil {
		return nil, NewValidationError("AddStep", "DUPLICATE_STEP_ID",
			fmt.Sprintf("step '%s' already exists", step.ID), ErrDuplicateStepID)
	}

	if step.Order == 0 {
		step.Order = len(template.Steps) + 1
	}

	template.Steps = append(template.Steps, step)

	if err := s.persistence.TemplateRepository().Save(ctx, template); err != nil {
		return nil, fmt.Errorf("failed to save step: %w", err)
	}

	return step, nil
}

// UpdateStep replaces a step of a draft template, keeping its ID.
func (s *Templates) UpdateStep(ctx context.Context, templateID, stepID string, step *models.Step) (*models.Step, error) {
	if step == nil {
		return nil, ErrStepNil
	}

	template, err := s.draft(ctx, "UpdateStep", templateID)
	if err != nil {
		return nil, err
	}

	index := slices.IndexFunc(template.Steps, func(s *models.Step) bool { return s.ID == stepID })
	if index < 0 {
		return nil, fmt.Errorf("%w: %s", ErrStepNotFound, stepID)
	}

	step.ID = stepID
	template.Steps[index] = step

	if err := s.persistence.TemplateRepository().Save(ctx, template); err != nil {
		return nil, fmt.Errorf("failed to update step: %w", err)
	}

	return step, nil
}

// RemoveStep deletes a step and every dependency touching it.
func (s *Templates) RemoveStep(ctx context.Context, templateID, stepID string) error {
	template, err := s.draft(ctx, "RemoveStep", templateID)
	if err != nil {
		return err
	}

	if template.StepByID(stepID) == nil {
		return fmt.Errorf("%w: %s", ErrStepNotFound, stepID)
	}

	template.Steps = slices.DeleteFunc(template.Steps, func(s *models.Step) bool { return s.ID == stepID })
	template.Dependencies = slices.DeleteFunc(template.Dependencies, func(d *models.Dependency) bool {
		return d.SourceStepID == stepID || d.TargetStepID == stepID
	})

	if err := s.persistence.TemplateRepository().Save(ctx, template); err != nil {
		return fmt.Errorf("failed to remove step: %w", err)
	}

	return nil
}

// AddDependency adds an edge to a draft template. References are checked by
// Validate and Activate, not here.
func (s *Templates) AddDependency(ctx context.Context, templateID string, dependency *models.Dependency) (*models.Dependency, error) {
	if dependency == nil {
		return nil, fmt.Errorf("%w: dependency cannot be nil", ErrInvalidRequest)
	}

	template, err := s.draft(ctx, "AddDependency", templateID)
	if err != nil {
		return nil, err
	}

	dependency.ID = newID()
	if dependency.Type == "" {
		dependency.Type = models.DependencyTypeDependsOn
	}

	template.Dependencies = append(template.Dependencies, dependency)

	if err := s.persistence.TemplateRepository().Save(ctx, template); err != nil {
		return nil, fmt.Errorf("failed to save dependency: %w", err)
	}

	return dependency, nil
}

func (s *Templates) RemoveDependency(ctx context.Context, templateID, dependencyID string) error {
	template, err := s.draft(ctx, "RemoveDependency", templateID)
	if err != nil {
		return err
	}

	before := len(template.Dependencies)
	template.Dependencies = slices.DeleteFunc(template.Dependencies, func(d *models.Dependency) bool {
		return d.ID == dependencyID
	})

	if len(template.Dependencies) == before {
		return fmt.Errorf("%w: %s", ErrDependencyNotFound, dependencyID)
	}

	if err := s.persistence.TemplateRepository().Save(ctx, template); err != nil {
		return fmt.Errorf("failed to remove dependency: %w", err)
	}

	return nil
}

// Validate runs the full structural check on a template and returns every
// problem found. It never changes the template.
func (s *Templates) Validate(ctx context.Context, templateID string) (engine.ValidationErrors, error) {
	template, err := s.persistence.TemplateRepository().GetByID(ctx, templateID)
	if err != nil {
		return nil, err
	}

	return s.validate(template), nil
}

func (s *Templates) validate(template *models.Template) engine.ValidationErrors {
	opts := slices.Clone(s.deps.engineOpts)
	if s.deps.checker != nil {
		opts = append(opts, engine.WithActionConfigChecker(s.deps.checker))
	}

	errs, _ := engine.AsValidationErrors(engine.Validate(template, opts...))
	s.deps.metrics.ObserveValidation(errs)

	return errs
}

// Activate validates a draft and makes it the active version of its group.
// The previously active version becomes inactive.
func (s *Templates) Activate(ctx context.Context, templateID string) (_ *models.Template, err error) {
	ctx, span := otelhelper.StartSpan(ctx, s.deps.tracer, "templates.Activate",
		attribute.String(otelhelper.TemplateIDKey, templateID))
	defer func() { otelhelper.End(span, err) }()

	template, err := s.draft(ctx, "Activate", templateID)
	if err != nil {
		return nil, err
	}

	if errs := s.validate(template); len(errs) > 0 {
		return nil, &ServiceError{
			Op:      "Activate",
			Code:    "INVALID_TEMPLATE",
			Message: fmt.Sprintf("template has %d validation error(s)", len(errs)),
			Err:     errs,
		}
	}

	var previousID string
	if previous, err := s.persistence.TemplateRepository().GetActiveByGroupID(ctx, template.TemplateGroupID); err == nil {
		previousID = previous.ID
	}

	if err := s.persistence.TemplateRepository().Activate(ctx, templateID); err != nil {
		return nil, fmt.Errorf("failed to activate template: %w", err)
	}

	activated, err := s.persistence.TemplateRepository().GetByID(ctx, templateID)
	if err != nil {
		return nil, err
	}

	s.deps.logger.InfoContext(ctx, "Template activated",
		"template_id", activated.ID,
		"template_group_id", activated.TemplateGroupID,
		"version", activated.Version,
		"previous_id", previousID,
	)

	if s.deps.publisher != nil {
		err := s.deps.publisher.Publish(ctx, activated.TemplateGroupID, events.TemplateActivated{
			BaseEvent:       events.NewBaseEvent(events.TemplateActivatedEvent, activated.ID),
			TemplateGroupID: activated.TemplateGroupID,
			Version:         activated.Version,
			PreviousID:      previousID,
		})
		if err != nil {
			s.deps.logger.ErrorContext(ctx, "Failed to publish template activation", "template_id", activated.ID, "error", err)
		}
	}

	return activated, nil
}

// CreateDraftFromActive starts a new editable version from the active one.
// An existing draft of the group is returned as is.
func (s *Templates) CreateDraftFromActive(ctx context.Context, groupID string) (*models.Template, error) {
	repo := s.persistence.TemplateRepository()

	draft, err := repo.GetDraftByGroupID(ctx, groupID)
	if err == nil {
		return draft, nil
	}

	if !persistence.IsDraftTemplateNotFound(err) {
		return nil, err
	}

	active, err := repo.GetActiveByGroupID(ctx, groupID)
	if err != nil {
		return nil, err
	}

	versions, err := repo.GetVersions(ctx, groupID)
	if err != nil {
		return nil, err
	}

	latest := active.Version
	for _, v := range versions {
		latest = max(latest, v.Version)
	}

	next, ok := deepcopy.Copy(active).(*models.Template)
	if !ok {
		return nil, fmt.Errorf("failed to copy template %s", active.ID)
	}

	next.ID = newID()
	next.Version = latest + 1
	next.Status = models.TemplateStatusDraft
	next.ActivatedAt = nil
	next.CreatedAt = s.deps.now()

	if err := repo.Save(ctx, next); err != nil {
		return nil, fmt.Errorf("failed to create draft: %w", err)
	}

	return next, nil
}

// draft loads a template that may still be edited.
func (s *Templates) draft(ctx context.Context, op, templateID string) (*models.Template, error) {
	template, err := s.persistence.TemplateRepository().GetByID(ctx, templateID)
	if err != nil {
		return nil, err
	}

	switch template.Status {
	case models.TemplateStatusActive:
		return nil, newConflictError(op, "TEMPLATE_ACTIVE", ErrCannotModifyActive)
	case models.TemplateStatusInactive:
		return nil, newConflictError(op, "TEMPLATE_INACTIVE", ErrCannotModifyInactive)
	}

	return template, nil
}

// normalizeTemplate gives every dependency an ID and a type.
func normalizeTemplate(template *models.Template) {
	for _, dep := range template.Dependencies {
		if dep.ID == "" {
			dep.ID = newID()
		}

		if dep.Type == "" {
			dep.Type = models.DependencyTypeDependsOn
		}
	}
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}

	return id.String()
}
