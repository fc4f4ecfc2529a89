package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dukex/matterflow/pkg/models"
)

// Validate checks that a template is well-formed enough to be activated. It
// collects every problem instead of stopping at the first one and returns
// them as ValidationErrors, or nil when the template is valid.
func Validate(t *models.Template, opts ...Option) error {
	return validate(t, newOptions(opts))
}

func validate(t *models.Template, o options) error {
	if t == nil {
		return ValidationErrors{{Kind: KindMissingStepID, Message: ErrNilTemplate.Error()}}
	}

	v := &validation{
		template: t,
		opts:     o,
		graph:    buildGraph(t),
	}

	v.checkSteps()
	v.checkDependencies()
	v.checkCycles()

	if len(v.errs) == 0 {
		return nil
	}

	return v.errs
}

type validation struct {
	template *models.Template
	opts     options
	graph    *graph
	errs     ValidationErrors
}

func (v *validation) add(kind ValidationErrorKind, path, message string, stepIDs ...string) {
	v.errs = append(v.errs, ValidationError{
		Kind:    kind,
		StepIDs: stepIDs,
		Path:    path,
		Message: message,
	})
}

func (v *validation) checkSteps() {
	seen := make(map[string]bool, len(v.template.Steps))

	for i, step := range v.template.Steps {
		if step == nil || step.ID == "" {
			v.add(KindMissingStepID, fmt.Sprintf("steps[%d]", i), "step id is required")

			continue
		}

		if seen[step.ID] {
			v.add(KindDuplicateStepID, stepPath(step.ID), fmt.Sprintf("step id %q is used more than once", step.ID), step.ID)

			continue
		}

		seen[step.ID] = true

		v.checkOwnCondition(step)
		v.checkDependencyLogic(step)
		v.checkActionConfig(step)
	}
}

func (v *validation) checkOwnCondition(step *models.Step) {
	path := stepPath(step.ID) + ".condition_config"

	switch step.EffectiveConditionType() {
	case models.ConditionTypeAlways:
		if step.ConditionConfig != nil {
			v.add(KindUnexpectedConditionConfig, path, "ALWAYS steps must not carry a condition", step.ID)
		}
	case models.ConditionTypeIfTrue, models.ConditionTypeIfFalse:
		if step.ConditionConfig == nil {
			v.add(KindMissingConditionConfig, path,
				fmt.Sprintf("%s steps require a condition", step.ConditionType), step.ID)

			return
		}

		v.checkCondition(step.ID, path, step.ConditionConfig, 0)
	case models.ConditionTypeSwitch:
		if step.ConditionConfig != nil {
			v.checkCondition(step.ID, path, step.ConditionConfig, 0)
		}

		v.checkSwitch(step)
	default:
		v.add(KindUnknownConditionType, stepPath(step.ID)+".condition_type",
			fmt.Sprintf("unknown condition type %q", step.ConditionType), step.ID)
	}
}

func (v *validation) checkSwitch(step *models.Step) {
	path := stepPath(step.ID) + ".branches"

	if len(step.Branches) < 2 {
		v.add(KindInvalidSwitchBranches, path,
			fmt.Sprintf("SWITCH steps need at least 2 branches, got %d", len(step.Branches)), step.ID)
	}

	targets := make(map[string]string, len(step.Branches))
	defaults := 0

	for i, branch := range step.Branches {
		branchPath := fmt.Sprintf("%s[%d]", path, i)

		if strings.TrimSpace(branch.Label) == "" {
			v.add(KindInvalidSwitchBranches, branchPath+".label", "branch label is required", step.ID)
		}

		if _, ok := v.graph.steps[branch.TargetStepID]; !ok {
			v.add(KindUnknownStepReference, branchPath+".target_step_id",
				fmt.Sprintf("branch target %q does not exist", branch.TargetStepID), step.ID, branch.TargetStepID)
		}

		if previous, dup := targets[branch.TargetStepID]; dup {
			v.add(KindDuplicateSwitchTarget, branchPath+".target_step_id",
				fmt.Sprintf("branches %q and %q both target %q", previous, branch.Label, branch.TargetStepID),
				step.ID, branch.TargetStepID)
		} else {
			targets[branch.TargetStepID] = branch.Label
		}

		if branch.Default {
			defaults++

			if branch.Condition != nil {
				v.checkCondition(step.ID, branchPath+".condition", branch.Condition, 0)
			}

			continue
		}

		if branch.Condition == nil {
			v.add(KindMissingConditionConfig, branchPath+".condition", "non-default branches require a guard", step.ID)

			continue
		}

		v.checkCondition(step.ID, branchPath+".condition", branch.Condition, 0)
	}

	if defaults > 1 {
		v.add(KindInvalidSwitchBranches, path, fmt.Sprintf("only one default branch is allowed, got %d", defaults), step.ID)
	}

	if defaults == 0 && v.opts.requireSwitchDefault {
		v.add(KindMissingSwitchDefault, path, "SWITCH steps must declare a default branch", step.ID)
	}
}

func (v *validation) checkDependencyLogic(step *models.Step) {
	path := stepPath(step.ID) + ".custom_logic"

	switch step.EffectiveDependencyLogic() {
	case models.DependencyLogicAll, models.DependencyLogicAny:
		return
	case models.DependencyLogicCustom:
	default:
		v.add(KindUnknownDependencyLogic, stepPath(step.ID)+".dependency_logic",
			fmt.Sprintf("unknown dependency logic %q", step.DependencyLogic), step.ID)

		return
	}

	if step.CustomLogic == nil {
		v.add(KindMissingConditionConfig, path, "CUSTOM dependency logic requires a condition", step.ID)

		return
	}

	v.checkCondition(step.ID, path, step.CustomLogic, 0)

	predecessors := make(map[string]bool)
	for _, id := range v.graph.predecessors(step.ID) {
		predecessors[id] = true
	}

	for _, field := range step.CustomLogic.Fields() {
		ref, ok := ParseStepKey(field)
		if !ok {
			v.add(KindInvalidCustomReference, path,
				fmt.Sprintf("field %q is not a predecessor outcome or state", field), step.ID)

			continue
		}

		if !predecessors[ref] {
			v.add(KindInvalidCustomReference, path,
				fmt.Sprintf("field %q references %q which is not a predecessor", field, ref), step.ID, ref)
		}
	}
}

func (v *validation) checkActionConfig(step *models.Step) {
	if v.opts.actionChecker == nil {
		return
	}

	if err := v.opts.actionChecker.CheckActionConfig(step.ActionType, step.ActionConfig); err != nil {
		v.add(KindInvalidActionConfig, stepPath(step.ID)+".action_config", err.Error(), step.ID)
	}
}

// checkCondition walks a condition tree. depth counts the compound
// conditions enclosing cond.
func (v *validation) checkCondition(stepID, path string, cond *models.Condition, depth int) {
	if cond == nil {
		v.add(KindMissingConditionConfig, path, "condition is required", stepID)

		return
	}

	switch cond.Variant() {
	case models.ConditionKindCompound:
		depth++
		if depth > v.opts.maxNestingDepth {
			v.add(KindNestingDepthExceeded, path,
				fmt.Sprintf("compound nesting depth %d exceeds maximum %d", depth, v.opts.maxNestingDepth), stepID)

			return
		}

		if !cond.Operator.IsCompound() {
			v.add(KindUnknownOperator, path,
				fmt.Sprintf("compound operator must be AND or OR, got %q", cond.Operator), stepID)
		}

		if len(cond.Conditions) < 2 {
			v.add(KindCompoundArityViolation, path,
				fmt.Sprintf("compound conditions need at least 2 entries, got %d", len(cond.Conditions)), stepID)
		}

		for i, sub := range cond.Conditions {
			v.checkCondition(stepID, fmt.Sprintf("%s.conditions[%d]", path, i), sub, depth)
		}
	case models.ConditionKindSimple:
		if strings.TrimSpace(cond.Field) == "" {
			v.add(KindInvalidConditionValue, path, "condition field is required", stepID)
		}

		if !cond.Operator.IsSimple() {
			v.add(KindUnknownOperator, path, fmt.Sprintf("unknown operator %q", cond.Operator), stepID)

			return
		}

		if !cond.Operator.TakesValue() {
			return
		}

		if cond.Value == nil {
			v.add(KindInvalidConditionValue, path,
				fmt.Sprintf("operator %q requires a value", cond.Operator), stepID)

			return
		}

		if cond.Operator == models.OperatorIn || cond.Operator == models.OperatorNotIn {
			if _, ok := asSlice(cond.Value); !ok {
				v.add(KindInvalidConditionValue, path,
					fmt.Sprintf("operator %q requires an array value", cond.Operator), stepID)
			}
		}
	default:
		v.add(KindUnknownOperator, path, fmt.Sprintf("unknown condition kind %q", cond.Kind), stepID)
	}
}

func (v *validation) checkDependencies() {
	for i, dep := range v.template.Dependencies {
		path := fmt.Sprintf("dependencies[%d]", i)

		if dep == nil {
			v.add(KindUnknownStepReference, path, "dependency is empty")

			continue
		}

		switch dep.Type {
		case models.DependencyTypeDependsOn, models.DependencyTypeTriggers,
			models.DependencyTypeIfTrueBranch, models.DependencyTypeIfFalseBranch:
		default:
			v.add(KindUnknownDependencyType, path+".type", fmt.Sprintf("unknown dependency type %q", dep.Type))
		}

		if _, ok := v.graph.steps[dep.SourceStepID]; !ok {
			v.add(KindUnknownStepReference, path+".source_step_id",
				fmt.Sprintf("source step %q does not exist", dep.SourceStepID), dep.SourceStepID)
		}

		if _, ok := v.graph.steps[dep.TargetStepID]; !ok {
			v.add(KindUnknownStepReference, path+".target_step_id",
				fmt.Sprintf("target step %q does not exist", dep.TargetStepID), dep.TargetStepID)
		}
	}
}

// checkCycles runs a depth-first search with a recursion stack over every
// predecessor relation and reports each distinct cycle once.
func (v *validation) checkCycles() {
	const (
		unvisited = iota
		onStack
		done
	)

	color := make(map[string]int, len(v.graph.order))
	reported := make(map[string]bool)
	stack := make([]string, 0, len(v.graph.order))

	var visit func(id string)

	visit = func(id string) {
		color[id] = onStack
		stack = append(stack, id)

		for _, l := range v.graph.outgoing[id] {
			switch color[l.target] {
			case unvisited:
				visit(l.target)
			case onStack:
				start := len(stack) - 1
				for stack[start] != l.target {
					start--
				}

				cycle := append([]string(nil), stack[start:]...)

				key := cycleKey(cycle)
				if reported[key] {
					continue
				}

				reported[key] = true

				v.add(KindCycleDetected, "dependencies",
					"dependency cycle: "+strings.Join(append(cycle, cycle[0]), " -> "), cycle...)
			}
		}

		stack = stack[:len(stack)-1]
		color[id] = done
	}

	for _, id := range v.graph.order {
		if color[id] == unvisited {
			visit(id)
		}
	}
}

func cycleKey(ids []string) string {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)

	return strings.Join(sorted, "\x00")
}

func stepPath(id string) string {
	return "steps[" + id + "]"
}
