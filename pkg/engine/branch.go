package engine

import (
	"fmt"
	"maps"

	"github.com/dukex/matterflow/pkg/models"
)

// BranchSelection is the result of deciding which branch successors of a
// completed step fire. Taken targets see a COMPLETED predecessor signal,
// NotTaken targets see SKIPPED.
type BranchSelection struct {
	StepID    string    `json:"step_id"`
	Label     string    `json:"label,omitempty"`
	Taken     []string  `json:"taken"`
	NotTaken  []string  `json:"not_taken"`
	Warning   *Warning  `json:"warning,omitempty"`
	Anomalies []Anomaly `json:"anomalies,omitempty"`
}

// SelectBranches decides which IF_TRUE_BRANCH/IF_FALSE_BRANCH edges and SWITCH
// targets of stepID fire for the given outcome. vars is not modified; the
// outcome is visible to guards under OutcomeKey(stepID).
func (e *Engine) SelectBranches(stepID string, outcome any, vars map[string]any) (BranchSelection, error) {
	step, ok := e.graph.steps[stepID]
	if !ok {
		return BranchSelection{}, fmt.Errorf("%w: %s", ErrUnknownStep, stepID)
	}

	scoped := make(map[string]any, len(vars)+1)
	maps.Copy(scoped, vars)

	if outcome != nil {
		scoped[OutcomeKey(stepID)] = outcome
	}

	return e.selectBranches(step, outcome, scoped), nil
}

func (e *Engine) selectBranches(step *models.Step, outcome any, vars map[string]any) BranchSelection {
	selection := BranchSelection{
		StepID:   step.ID,
		Taken:    []string{},
		NotTaken: []string{},
	}

	var ifLinks []link

	for _, l := range e.graph.outgoing[step.ID] {
		if l.kind == linkIfTrue || l.kind == linkIfFalse {
			ifLinks = append(ifLinks, l)
		}
	}

	if len(ifLinks) > 0 {
		decision := e.branchDecision(step, outcome, vars, &selection)

		for _, l := range ifLinks {
			if (l.kind == linkIfTrue) == decision {
				selection.Taken = append(selection.Taken, l.target)
			} else {
				selection.NotTaken = append(selection.NotTaken, l.target)
			}
		}
	}

	if step.EffectiveConditionType() == models.ConditionTypeSwitch {
		e.selectSwitch(step, vars, &selection)
	}

	return selection
}

// branchDecision is the step's own condition for IF_TRUE/IF_FALSE steps and
// the truthiness of the outcome otherwise.
func (e *Engine) branchDecision(step *models.Step, outcome any, vars map[string]any, selection *BranchSelection) bool {
	switch step.EffectiveConditionType() {
	case models.ConditionTypeIfTrue, models.ConditionTypeIfFalse:
		if step.ConditionConfig != nil {
			result, missing := EvaluateTrace(step.ConditionConfig, vars)
			selection.addAnomalies(step.ID, missing)

			return result
		}
	}

	return truthy(outcome)
}

func (e *Engine) selectSwitch(step *models.Step, vars map[string]any, selection *BranchSelection) {
	chosen := -1

	for i, branch := range step.Branches {
		if branch.Default {
			continue
		}

		result, missing := EvaluateTrace(branch.Condition, vars)
		selection.addAnomalies(step.ID, missing)

		if result {
			chosen = i

			break
		}
	}

	if chosen < 0 {
		for i, branch := range step.Branches {
			if branch.Default {
				chosen = i

				break
			}
		}
	}

	if chosen < 0 {
		selection.Warning = &Warning{
			Kind:    WarningNoSwitchMatch,
			StepIDs: []string{step.ID},
			Message: fmt.Sprintf("no branch of switch step %q matched and it has no default", step.ID),
		}
	} else {
		selection.Label = step.Branches[chosen].Label
	}

	for i, branch := range step.Branches {
		if _, known := e.graph.steps[branch.TargetStepID]; !known {
			continue
		}

		if i == chosen {
			selection.Taken = append(selection.Taken, branch.TargetStepID)
		} else {
			selection.NotTaken = append(selection.NotTaken, branch.TargetStepID)
		}
	}
}

func (s *BranchSelection) addAnomalies(stepID string, fields []string) {
	for _, field := range fields {
		s.Anomalies = append(s.Anomalies, Anomaly{StepID: stepID, Field: field})
	}
}
