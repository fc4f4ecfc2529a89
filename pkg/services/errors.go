// Package services implements template authoring and instance execution on
// top of the engine, persistence, locking and the event bus.
package services

import (
	"errors"
	"fmt"

	"github.com/dukex/matterflow/pkg/engine"
	"github.com/dukex/matterflow/pkg/locker"
	"github.com/dukex/matterflow/pkg/persistence"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest       = errors.New("invalid request")
	ErrInvalidSortField     = errors.New("invalid sort field")
	ErrInvalidSortOrder     = errors.New("invalid sort order")
	ErrInvalidStatus        = errors.New("invalid template status")
	ErrEmptyOwnerID         = errors.New("owner ID cannot be empty")
	ErrTemplateNameRequired = errors.New("template name is required")
	ErrTemplateNil          = errors.New("template cannot be nil")
	ErrStepNil              = errors.New("step cannot be nil")
	ErrDuplicateStepID      = errors.New("step ID already used in template")

	// Not Found (404).
	ErrStepNotFound       = errors.New("step not found")
	ErrDependencyNotFound = errors.New("dependency not found")

	// Business Logic Conflicts (409 Conflict).
	ErrCannotModifyActive   = errors.New("cannot modify active template")
	ErrCannotModifyInactive = errors.New("cannot modify inactive template")
	ErrTemplateNotActive    = errors.New("template is not active")
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidSortField) ||
		errors.Is(err, ErrInvalidSortOrder) ||
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrEmptyOwnerID) ||
		errors.Is(err, ErrTemplateNameRequired) ||
		errors.Is(err, ErrTemplateNil) ||
		errors.Is(err, ErrStepNil) ||
		errors.Is(err, ErrDuplicateStepID) ||
		errors.Is(err, engine.ErrInvalidTemplate)
}

// IsConflictError checks if an error is a business logic conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrCannotModifyActive) ||
		errors.Is(err, ErrCannotModifyInactive) ||
		errors.Is(err, ErrTemplateNotActive) ||
		errors.Is(err, engine.ErrInvalidTransition) ||
		errors.Is(err, engine.ErrStepAlreadySettled) ||
		errors.Is(err, engine.ErrInstanceFinished) ||
		errors.Is(err, persistence.ErrInstanceVersionConflict) ||
		errors.Is(err, persistence.ErrInstanceAlreadyExists) ||
		errors.Is(err, locker.ErrNotAcquired)
}

// IsNotFoundError checks if an error should return HTTP 404.
func IsNotFoundError(err error) bool {
	return errors.Is(err, persistence.ErrTemplateNotFound) ||
		errors.Is(err, persistence.ErrActiveTemplateNotFound) ||
		errors.Is(err, persistence.ErrDraftTemplateNotFound) ||
		errors.Is(err, persistence.ErrInstanceNotFound) ||
		errors.Is(err, ErrStepNotFound) ||
		errors.Is(err, ErrDependencyNotFound) ||
		errors.Is(err, engine.ErrUnknownStep)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func newConflictError(op, code string, err error) *ServiceError {
	return &ServiceError{Op: op, Code: code, Err: err}
}
