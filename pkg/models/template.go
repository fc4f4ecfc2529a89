// Package models defines the core domain models for matter workflow templates and instances.
package models

import "time"

// TemplateStatus represents the lifecycle state of a template version.
type TemplateStatus string

const (
	TemplateStatusDraft    TemplateStatus = "draft"    // Editable, not instantiable
	TemplateStatusActive   TemplateStatus = "active"   // Immutable, instantiable
	TemplateStatusInactive TemplateStatus = "inactive" // Superseded version, kept for running instances
)

// Template is a versioned step graph. Once active it is never mutated; edits
// go into a new draft version of the same group.
type Template struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"                  validate:"required,min=3"`
	Description     string         `json:"description"`
	TemplateGroupID string         `json:"template_group_id"` // Stable ID linking all versions
	Version         int            `json:"version"`
	Status          TemplateStatus `json:"status"`
	Steps           []*Step        `json:"steps"`
	Dependencies    []*Dependency  `json:"dependencies"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	Owner           string         `json:"owner"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	ActivatedAt     *time.Time     `json:"activated_at,omitempty"`
}

// IsActive reports whether the template can be instantiated.
func (t *Template) IsActive() bool {
	return t.Status == TemplateStatusActive
}

// StepByID returns the step with the given id, or nil.
func (t *Template) StepByID(id string) *Step {
	for _, step := range t.Steps {
		if step.ID == id {
			return step
		}
	}

	return nil
}
