package models

// ConditionOperator is the closed set of operators a condition clause may use.
type ConditionOperator string

const (
	OperatorEquals         ConditionOperator = "equals"
	OperatorNotEquals      ConditionOperator = "not_equals"
	OperatorContains       ConditionOperator = "contains"
	OperatorGreaterThan    ConditionOperator = "greater_than"
	OperatorGreaterOrEqual ConditionOperator = "greater_or_equal"
	OperatorLessThan       ConditionOperator = "less_than"
	OperatorLessOrEqual    ConditionOperator = "less_or_equal"
	OperatorIsEmpty        ConditionOperator = "is_empty"
	OperatorIsNotEmpty     ConditionOperator = "is_not_empty"
)

// Condition is a single predicate clause over a flattened entity snapshot
// field. Clause lists are combined with logical AND.
type Condition struct {
	Field    string            `json:"field"    validate:"required"`
	Operator ConditionOperator `json:"operator" validate:"required,oneof=equals not_equals contains greater_than greater_or_equal less_than less_or_equal is_empty is_not_empty"`
	Value    any               `json:"value,omitempty"`
}
