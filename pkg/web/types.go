// Package web provides HTTP request and response types for the matterflow API.
package web

import "github.com/dukex/matterflow/pkg/models"

// CreateTemplateRequest represents the request body for creating a new template.
// Steps and dependencies may also be added later one by one.
type CreateTemplateRequest struct {
	Name         string              `json:"name"                   validate:"required,min=3"`
	Description  string              `json:"description"`
	Owner        string              `json:"owner"                  validate:"required"`
	Metadata     map[string]any      `json:"metadata,omitempty"`
	Steps        []StepRequest       `json:"steps,omitempty"        validate:"dive"`
	Dependencies []DependencyRequest `json:"dependencies,omitempty" validate:"dive"`
}

// UpdateTemplateRequest represents the request body for updating a draft template.
// All fields are optional to support partial updates.
type UpdateTemplateRequest struct {
	Name         *string             `json:"name,omitempty"         validate:"omitempty,min=3"`
	Description  *string             `json:"description,omitempty"`
	Metadata     map[string]any      `json:"metadata,omitempty"`
	Steps        []StepRequest       `json:"steps,omitempty"        validate:"omitempty,dive"`
	Dependencies []DependencyRequest `json:"dependencies,omitempty" validate:"omitempty,dive"`
}

// StepRequest is a step as authored over the API. The ID is generated when omitted.
type StepRequest struct {
	ID                  string                 `json:"id"                              validate:"omitempty,max=128"`
	Name                string                 `json:"name"                            validate:"required,min=1"`
	Order               int                    `json:"order"`
	ActionType          models.ActionType      `json:"action_type"                     validate:"required,oneof=checklist approval signature document_request payment free_text questionnaire task"`
	ActionConfig        map[string]any         `json:"action_config,omitempty"`
	Required            bool                   `json:"required"`
	AssigneeRole        string                 `json:"assignee_role,omitempty"`
	ConditionType       models.ConditionType   `json:"condition_type,omitempty"        validate:"omitempty,oneof=ALWAYS IF_TRUE IF_FALSE SWITCH"`
	ConditionConfig     *models.Condition      `json:"condition_config,omitempty"`
	Branches            []models.SwitchBranch  `json:"branches,omitempty"`
	DependencyLogic     models.DependencyLogic `json:"dependency_logic,omitempty"      validate:"omitempty,oneof=ALL ANY CUSTOM"`
	CustomLogic         *models.Condition      `json:"custom_logic,omitempty"`
	ExpiresAfterSeconds int                    `json:"expires_after_seconds,omitempty" validate:"min=0"`
}

func (r StepRequest) toModel() *models.Step {
	return &models.Step{
		ID:                  r.ID,
		Name:                r.Name,
		Order:               r.Order,
		ActionType:          r.ActionType,
		ActionConfig:        r.ActionConfig,
		Required:            r.Required,
		AssigneeRole:        r.AssigneeRole,
		ConditionType:       r.ConditionType,
		ConditionConfig:     r.ConditionConfig,
		Branches:            r.Branches,
		DependencyLogic:     r.DependencyLogic,
		CustomLogic:         r.CustomLogic,
		ExpiresAfterSeconds: r.ExpiresAfterSeconds,
	}
}

// DependencyRequest is a dependency edge as authored over the API.
type DependencyRequest struct {
	SourceStepID string                `json:"source_step_id" validate:"required"`
	TargetStepID string                `json:"target_step_id" validate:"required,nefield=SourceStepID"`
	Type         models.DependencyType `json:"type"           validate:"omitempty,oneof=DEPENDS_ON TRIGGERS IF_TRUE_BRANCH IF_FALSE_BRANCH"`
}

func (r DependencyRequest) toModel() *models.Dependency {
	return &models.Dependency{
		SourceStepID: r.SourceStepID,
		TargetStepID: r.TargetStepID,
		Type:         r.Type,
	}
}

func stepsToModel(in []StepRequest) []*models.Step {
	out := make([]*models.Step, 0, len(in))
	for _, s := range in {
		out = append(out, s.toModel())
	}

	return out
}

func dependenciesToModel(in []DependencyRequest) []*models.Dependency {
	out := make([]*models.Dependency, 0, len(in))
	for _, d := range in {
		out = append(out, d.toModel())
	}

	return out
}

// ValidateTemplateResponse lists every problem found in a template.
type ValidateTemplateResponse struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationIssue `json:"errors"`
}

type ValidationIssue struct {
	Kind    string   `json:"kind"`
	StepIDs []string `json:"step_ids,omitempty"`
	Path    string   `json:"path,omitempty"`
	Message string   `json:"message"`
}

// StartInstanceRequest represents the request body for starting an instance.
type StartInstanceRequest struct {
	TemplateID string         `json:"template_id" validate:"required"`
	MatterID   string         `json:"matter_id"   validate:"required"`
	ContactID  string         `json:"contact_id"`
	Context    map[string]any `json:"context"`
}

// CompleteStepRequest carries the outcome of a READY step.
type CompleteStepRequest struct {
	Outcome any `json:"outcome"`
}

type SkipStepRequest struct {
	Reason string `json:"reason" validate:"max=256"`
}

// UpdateContextRequest merges Context into the instance context.
type UpdateContextRequest struct {
	Context map[string]any `json:"context" validate:"required"`
}

// ActionTypeResponse describes one registered action type and its config schema.
type ActionTypeResponse struct {
	Type        models.ActionType `json:"type"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Schema      map[string]any    `json:"schema"`
}
