// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrTemplateNotFound indicates a template was not found by the given identifier.
	ErrTemplateNotFound = errors.New("template not found")

	// ErrActiveTemplateNotFound indicates no active template exists for the given group.
	ErrActiveTemplateNotFound = errors.New("active template not found")

	// ErrDraftTemplateNotFound indicates no draft template exists for the given group.
	ErrDraftTemplateNotFound = errors.New("draft template not found")

	// ErrInstanceNotFound indicates an instance was not found by the given identifier.
	ErrInstanceNotFound = errors.New("instance not found")

	// ErrInstanceAlreadyExists indicates an instance with the same identifier already exists.
	ErrInstanceAlreadyExists = errors.New("instance already exists")

	// ErrInstanceVersionConflict indicates the stored instance changed since it was read.
	ErrInstanceVersionConflict = errors.New("instance version conflict")

	// ErrInvalidSortField indicates an unsupported sort field was requested.
	ErrInvalidSortField = errors.New("invalid sort field")

	// ErrInvalidID indicates an identifier that cannot be stored safely.
	ErrInvalidID = errors.New("invalid identifier")
)

// TemplateError wraps template-related errors with additional context.
type TemplateError struct {
	Op         string // Operation being performed (e.g., "GetByID", "Save", "Activate")
	TemplateID string // Template ID if applicable
	GroupID    string // Template group ID if applicable
	Err        error  // Underlying error
}

func (e *TemplateError) Error() string {
	target := e.TemplateID
	if e.GroupID != "" {
		target = "group " + e.GroupID
	}

	return fmt.Sprintf("%s operation failed for template %s: %v", e.Op, target, e.Err)
}

func (e *TemplateError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for template errors.
func (e *TemplateError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewTemplateError creates a new template error with context.
func NewTemplateError(op, templateID string, err error) *TemplateError {
	return &TemplateError{
		Op:         op,
		TemplateID: templateID,
		Err:        err,
	}
}

// NewTemplateGroupError creates a new template error for group operations.
func NewTemplateGroupError(op, groupID string, err error) *TemplateError {
	return &TemplateError{
		Op:      op,
		GroupID: groupID,
		Err:     err,
	}
}

// InstanceError wraps instance-related errors with additional context.
type InstanceError struct {
	Op         string // Operation being performed
	InstanceID string // Instance ID
	Err        error  // Underlying error
}

func (e *InstanceError) Error() string {
	return fmt.Sprintf("%s operation failed for instance %s: %v", e.Op, e.InstanceID, e.Err)
}

func (e *InstanceError) Unwrap() error {
	return e.Err
}

func (e *InstanceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewInstanceError creates a new instance error with context.
func NewInstanceError(op, instanceID string, err error) *InstanceError {
	return &InstanceError{
		Op:         op,
		InstanceID: instanceID,
		Err:        err,
	}
}

// IsTemplateNotFound checks if an error indicates a template was not found.
func IsTemplateNotFound(err error) bool {
	return errors.Is(err, ErrTemplateNotFound)
}

// IsActiveTemplateNotFound checks if an error indicates an active template was not found.
func IsActiveTemplateNotFound(err error) bool {
	return errors.Is(err, ErrActiveTemplateNotFound)
}

// IsDraftTemplateNotFound checks if an error indicates a draft template was not found.
func IsDraftTemplateNotFound(err error) bool {
	return errors.Is(err, ErrDraftTemplateNotFound)
}

// IsInstanceNotFound checks if an error indicates an instance was not found.
func IsInstanceNotFound(err error) bool {
	return errors.Is(err, ErrInstanceNotFound)
}

// IsVersionConflict checks if an error indicates a lost optimistic-concurrency race.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrInstanceVersionConflict)
}

// AllowedSortFields lists the fields templates can be sorted by.
var AllowedSortFields = map[string]bool{
	"created_at": true,
	"updated_at": true,
	"name":       true,
}

// NormalizeListOptions applies defaults and rejects unknown sort fields.
func NormalizeListOptions(opts ListTemplatesOptions) (ListTemplatesOptions, error) {
	if opts.Limit <= 0 || opts.Limit > 100 {
		opts.Limit = 20
	}

	if opts.Offset < 0 {
		opts.Offset = 0
	}

	if opts.SortBy == "" {
		opts.SortBy = "created_at"
	}

	if opts.SortOrder != "asc" {
		opts.SortOrder = "desc"
	}

	if !AllowedSortFields[opts.SortBy] {
		return opts, fmt.Errorf("%w: %s", ErrInvalidSortField, opts.SortBy)
	}

	return opts, nil
}
