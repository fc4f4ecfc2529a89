package engine

import (
	"maps"
	"strings"

	"github.com/dukex/matterflow/pkg/models"
)

// Reserved context key suffixes. "<stepId>.outcome" and "<stepId>.state" are
// always derived from the instance and shadow any provider value.
const (
	OutcomeSuffix = ".outcome"
	StateSuffix   = ".state"
)

// OutcomeKey is the scope key holding the recorded outcome of a completed step.
func OutcomeKey(stepID string) string {
	return stepID + OutcomeSuffix
}

// StateKey is the scope key holding the current state of a step.
func StateKey(stepID string) string {
	return stepID + StateSuffix
}

// ParseStepKey returns the step id of a reserved outcome or state key.
func ParseStepKey(field string) (string, bool) {
	if id, ok := strings.CutSuffix(field, OutcomeSuffix); ok && id != "" {
		return id, true
	}

	if id, ok := strings.CutSuffix(field, StateSuffix); ok && id != "" {
		return id, true
	}

	return "", false
}

// scope builds the variable bindings conditions are evaluated against. The
// instance context is copied, never widened in place.
func (e *Engine) scope(inst *models.Instance) map[string]any {
	vars := make(map[string]any, len(inst.Context)+2*len(e.graph.order))
	maps.Copy(vars, inst.Context)

	for _, id := range e.graph.order {
		record := inst.Steps[id]
		if record == nil {
			vars[StateKey(id)] = string(models.StepStatePending)

			continue
		}

		vars[StateKey(id)] = string(record.State)

		if record.State == models.StepStateCompleted && record.Outcome != nil {
			vars[OutcomeKey(id)] = record.Outcome
		}
	}

	return vars
}

// Scope returns the bindings a condition would see for inst.
func (e *Engine) Scope(inst *models.Instance) map[string]any {
	if inst == nil {
		return map[string]any{}
	}

	return e.scope(inst)
}
