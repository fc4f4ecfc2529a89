package engine

import (
	"strings"

	"github.com/dukex/matterflow/pkg/models"
)

// maxEvaluationDepth is a hard recursion guard for conditions that skipped
// validation. Validated templates never get close to it.
const maxEvaluationDepth = 32

// Evaluate reports whether cond holds against vars. It never fails: a field
// missing from vars makes every operator except exists/isEmpty/isNotEmpty
// evaluate to false, and a nil or malformed condition is false.
func Evaluate(cond *models.Condition, vars map[string]any) bool {
	return evaluate(cond, vars, 0, nil)
}

// EvaluateTrace is Evaluate plus the list of absent fields that were resolved
// fail-closed, in evaluation order.
func EvaluateTrace(cond *models.Condition, vars map[string]any) (bool, []string) {
	var missing []string

	result := evaluate(cond, vars, 0, func(field string) {
		missing = append(missing, field)
	})

	return result, missing
}

func evaluate(cond *models.Condition, vars map[string]any, depth int, onMissing func(string)) bool {
	if cond == nil || depth > maxEvaluationDepth {
		return false
	}

	switch cond.Variant() {
	case models.ConditionKindSimple:
		return evaluateSimple(cond, vars, onMissing)
	case models.ConditionKindCompound:
		return evaluateCompound(cond, vars, depth, onMissing)
	default:
		return false
	}
}

func evaluateCompound(cond *models.Condition, vars map[string]any, depth int, onMissing func(string)) bool {
	if len(cond.Conditions) == 0 {
		return false
	}

	switch cond.Operator {
	case models.OperatorAnd:
		for _, sub := range cond.Conditions {
			if !evaluate(sub, vars, depth+1, onMissing) {
				return false
			}
		}

		return true
	case models.OperatorOr:
		for _, sub := range cond.Conditions {
			if evaluate(sub, vars, depth+1, onMissing) {
				return true
			}
		}

		return false
	default:
		return false
	}
}

func evaluateSimple(cond *models.Condition, vars map[string]any, onMissing func(string)) bool {
	actual, found := lookup(vars, cond.Field)

	switch cond.Operator {
	case models.OperatorExists:
		return found && actual != nil
	case models.OperatorIsEmpty:
		return !found || isEmpty(actual)
	case models.OperatorIsNotEmpty:
		return found && !isEmpty(actual)
	}

	if !found {
		if onMissing != nil {
			onMissing(cond.Field)
		}

		return false
	}

	switch cond.Operator {
	case models.OperatorEqual:
		return equal(actual, cond.Value)
	case models.OperatorNotEqual:
		return !equal(actual, cond.Value)
	case models.OperatorGreaterThan:
		c, ok := compare(actual, cond.Value)

		return ok && c > 0
	case models.OperatorLessThan:
		c, ok := compare(actual, cond.Value)

		return ok && c < 0
	case models.OperatorGreaterOrEqual:
		c, ok := compare(actual, cond.Value)

		return ok && c >= 0
	case models.OperatorLessOrEqual:
		c, ok := compare(actual, cond.Value)

		return ok && c <= 0
	case models.OperatorContains:
		return contains(actual, cond.Value)
	case models.OperatorStartsWith:
		s, v, ok := stringPair(actual, cond.Value)

		return ok && strings.HasPrefix(s, v)
	case models.OperatorEndsWith:
		s, v, ok := stringPair(actual, cond.Value)

		return ok && strings.HasSuffix(s, v)
	case models.OperatorIn:
		members, ok := asSlice(cond.Value)

		return ok && memberOf(members, actual)
	case models.OperatorNotIn:
		members, ok := asSlice(cond.Value)

		return ok && !memberOf(members, actual)
	default:
		return false
	}
}

// lookup resolves a field by exact key first, then as a dotted path into
// nested maps ("matter.type").
func lookup(vars map[string]any, field string) (any, bool) {
	if field == "" || vars == nil {
		return nil, false
	}

	if value, ok := vars[field]; ok {
		return value, true
	}

	if !strings.Contains(field, ".") {
		return nil, false
	}

	var current any = vars

	for _, part := range strings.Split(field, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}

		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}

	return current, true
}

func contains(actual, value any) bool {
	if s, ok := actual.(string); ok {
		v, ok := value.(string)

		return ok && strings.Contains(s, v)
	}

	if items, ok := asSlice(actual); ok {
		return memberOf(items, value)
	}

	return false
}
