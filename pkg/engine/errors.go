package engine

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidTemplate is matched by every ValidationErrors value.
	ErrInvalidTemplate = errors.New("invalid template")

	// ErrNilTemplate is returned by New when no template is given.
	ErrNilTemplate = errors.New("template cannot be nil")

	// ErrUnknownStep is returned when a transition names a step the template does not have.
	ErrUnknownStep = errors.New("unknown step")

	// ErrInvalidTransition is returned when a step is not in a state that allows the transition.
	ErrInvalidTransition = errors.New("invalid step transition")

	// ErrNilInstance is returned when a transition receives no instance.
	ErrNilInstance = errors.New("instance cannot be nil")

	// ErrTemplateMismatch is returned when an instance belongs to another template.
	ErrTemplateMismatch = errors.New("instance does not belong to template")

	// ErrInstanceFinished is returned when a cancelled instance receives a step transition.
	ErrInstanceFinished = errors.New("instance is finished")

	// ErrStepAlreadySettled is returned when a completed or skipped step receives another
	// transition. Callers with at-least-once delivery treat it as a no-op.
	ErrStepAlreadySettled = errors.New("step already settled")
)

// ValidationErrorKind classifies a template authoring problem.
type ValidationErrorKind string

const (
	KindCycleDetected             ValidationErrorKind = "cycle_detected"
	KindUnknownStepReference      ValidationErrorKind = "unknown_step_reference"
	KindCompoundArityViolation    ValidationErrorKind = "compound_arity_violation"
	KindNestingDepthExceeded      ValidationErrorKind = "nesting_depth_exceeded"
	KindUnknownOperator           ValidationErrorKind = "unknown_operator"
	KindMissingConditionConfig    ValidationErrorKind = "missing_condition_config"
	KindDuplicateSwitchTarget     ValidationErrorKind = "duplicate_switch_target"
	KindDuplicateStepID           ValidationErrorKind = "duplicate_step_id"
	KindMissingStepID             ValidationErrorKind = "missing_step_id"
	KindInvalidConditionValue     ValidationErrorKind = "invalid_condition_value"
	KindInvalidSwitchBranches     ValidationErrorKind = "invalid_switch_branches"
	KindMissingSwitchDefault      ValidationErrorKind = "missing_switch_default"
	KindInvalidCustomReference    ValidationErrorKind = "invalid_custom_reference"
	KindUnexpectedConditionConfig ValidationErrorKind = "unexpected_condition_config"
	KindUnknownConditionType      ValidationErrorKind = "unknown_condition_type"
	KindUnknownDependencyType     ValidationErrorKind = "unknown_dependency_type"
	KindUnknownDependencyLogic    ValidationErrorKind = "unknown_dependency_logic"
	KindInvalidActionConfig       ValidationErrorKind = "invalid_action_config"
)

// ValidationError is one problem found in a template.
type ValidationError struct {
	Kind    ValidationErrorKind `json:"kind"`
	StepIDs []string            `json:"step_ids,omitempty"`
	Path    string              `json:"path,omitempty"`
	Message string              `json:"message"`
}

func (e ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s at %s: %s", e.Kind, e.Path, e.Message)
	}

	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// ValidationErrors collects every problem found in a template.
type ValidationErrors []ValidationError

func (errs ValidationErrors) Error() string {
	messages := make([]string, 0, len(errs))
	for _, err := range errs {
		messages = append(messages, err.Error())
	}

	return fmt.Sprintf("template has %d validation error(s): %s", len(errs), strings.Join(messages, "; "))
}

// Is makes errors.Is(err, ErrInvalidTemplate) hold.
func (errs ValidationErrors) Is(target error) bool {
	return target == ErrInvalidTemplate
}

// Kinds returns the distinct kinds in order of first appearance.
func (errs ValidationErrors) Kinds() []ValidationErrorKind {
	seen := make(map[ValidationErrorKind]bool, len(errs))
	kinds := make([]ValidationErrorKind, 0, len(errs))

	for _, err := range errs {
		if !seen[err.Kind] {
			seen[err.Kind] = true

			kinds = append(kinds, err.Kind)
		}
	}

	return kinds
}

// AsValidationErrors extracts the collected validation errors from err.
func AsValidationErrors(err error) (ValidationErrors, bool) {
	var errs ValidationErrors
	if errors.As(err, &errs) {
		return errs, true
	}

	return nil, false
}

// WarningKind classifies a non-fatal runtime diagnostic.
type WarningKind string

const (
	// WarningNoSwitchMatch: a SWITCH step completed with no matching branch and no default.
	WarningNoSwitchMatch WarningKind = "no_switch_match"
	// WarningUnsatisfiableDependency: pending steps whose dependency logic can no longer hold.
	WarningUnsatisfiableDependency WarningKind = "unsatisfiable_dependency"
	// WarningNoProgress: nothing is READY but required steps are still unsettled.
	WarningNoProgress WarningKind = "no_progress"
)

// Warning is a stall diagnostic. The instance keeps its state.
type Warning struct {
	Kind    WarningKind `json:"kind"`
	StepIDs []string    `json:"step_ids,omitempty"`
	Message string      `json:"message"`
}

// Anomaly records a condition that read a field absent from the context.
// It is resolved fail-closed and only reported for observability.
type Anomaly struct {
	StepID string `json:"step_id"`
	Field  string `json:"field"`
}
