package models

// ConditionKind tags the Condition variant.
type ConditionKind string

const (
	ConditionKindSimple   ConditionKind = "simple"
	ConditionKindCompound ConditionKind = "compound"
)

// Operator is either a simple comparison operator or a compound connective.
type Operator string

// Simple condition operators.
const (
	OperatorEqual          Operator = "=="
	OperatorNotEqual       Operator = "!="
	OperatorGreaterThan    Operator = ">"
	OperatorLessThan       Operator = "<"
	OperatorGreaterOrEqual Operator = ">="
	OperatorLessOrEqual    Operator = "<="
	OperatorContains       Operator = "contains"
	OperatorStartsWith     Operator = "startsWith"
	OperatorEndsWith       Operator = "endsWith"
	OperatorIn             Operator = "in"
	OperatorNotIn          Operator = "notIn"
	OperatorExists         Operator = "exists"
	OperatorIsEmpty        Operator = "isEmpty"
	OperatorIsNotEmpty     Operator = "isNotEmpty"
)

// Compound condition connectives.
const (
	OperatorAnd Operator = "AND"
	OperatorOr  Operator = "OR"
)

var simpleOperators = map[Operator]bool{
	OperatorEqual:          true,
	OperatorNotEqual:       true,
	OperatorGreaterThan:    true,
	OperatorLessThan:       true,
	OperatorGreaterOrEqual: true,
	OperatorLessOrEqual:    true,
	OperatorContains:       true,
	OperatorStartsWith:     true,
	OperatorEndsWith:       true,
	OperatorIn:             true,
	OperatorNotIn:          true,
	OperatorExists:         true,
	OperatorIsEmpty:        true,
	OperatorIsNotEmpty:     true,
}

// IsSimple reports whether op is a recognized simple-condition operator.
func (op Operator) IsSimple() bool {
	return simpleOperators[op]
}

// IsCompound reports whether op is AND or OR.
func (op Operator) IsCompound() bool {
	return op == OperatorAnd || op == OperatorOr
}

// TakesValue reports whether a simple operator needs a comparison value.
// exists, isEmpty and isNotEmpty only look at the field.
func (op Operator) TakesValue() bool {
	switch op {
	case OperatorExists, OperatorIsEmpty, OperatorIsNotEmpty:
		return false
	default:
		return true
	}
}

// Condition is a boolean predicate over a runtime context. It is a tagged
// union: simple conditions use Field/Operator/Value, compound conditions use
// Operator (AND|OR) and Conditions.
type Condition struct {
	Kind       ConditionKind `json:"kind"`
	Field      string        `json:"field,omitempty"`
	Operator   Operator      `json:"operator"`
	Value      any           `json:"value,omitempty"`
	Conditions []*Condition  `json:"conditions,omitempty"`
}

// Simple builds a simple condition.
func Simple(field string, op Operator, value any) *Condition {
	return &Condition{
		Kind:     ConditionKindSimple,
		Field:    field,
		Operator: op,
		Value:    value,
	}
}

// And builds a compound AND condition.
func And(conditions ...*Condition) *Condition {
	return &Condition{
		Kind:       ConditionKindCompound,
		Operator:   OperatorAnd,
		Conditions: conditions,
	}
}

// Or builds a compound OR condition.
func Or(conditions ...*Condition) *Condition {
	return &Condition{
		Kind:       ConditionKindCompound,
		Operator:   OperatorOr,
		Conditions: conditions,
	}
}

// Variant returns the condition kind, inferring it when Kind was omitted by
// the author: AND/OR or nested conditions mean compound.
func (c *Condition) Variant() ConditionKind {
	if c.Kind != "" {
		return c.Kind
	}

	if c.Operator.IsCompound() || len(c.Conditions) > 0 {
		return ConditionKindCompound
	}

	return ConditionKindSimple
}

// Fields returns every context field referenced by the condition tree, in
// depth-first order. Duplicates are kept.
func (c *Condition) Fields() []string {
	if c == nil {
		return nil
	}

	if c.Variant() == ConditionKindSimple {
		return []string{c.Field}
	}

	fields := make([]string, 0, len(c.Conditions))
	for _, sub := range c.Conditions {
		fields = append(fields, sub.Fields()...)
	}

	return fields
}
