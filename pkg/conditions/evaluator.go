// Package conditions evaluates condition clauses against flattened entity
// snapshots. Evaluation is pure, so it is safe to reuse for dry-run previews.
package conditions

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nurtura/nurtura/pkg/models"
)

// Match evaluates the clauses as a logical AND over the flattened snapshot.
// A field absent from the snapshot never matches, unless the operator is an
// emptiness check.
func Match(clauses []models.Condition, snapshot map[string]any) (bool, error) {
	for _, clause := range clauses {
		ok, err := matchClause(clause, snapshot)
		if err != nil {
			return false, err
		}

		if !ok {
			return false, nil
		}
	}

	return true, nil
}

func matchClause(clause models.Condition, snapshot map[string]any) (bool, error) {
	value, present := snapshot[clause.Field]

	switch clause.Operator {
	case models.OperatorIsEmpty:
		return !present || isEmpty(value), nil
	case models.OperatorIsNotEmpty:
		return present && !isEmpty(value), nil
	}

	if !present {
		return false, nil
	}

	switch clause.Operator {
	case models.OperatorEquals:
		return equals(value, clause.Value), nil
	case models.OperatorNotEquals:
		return !equals(value, clause.Value), nil
	case models.OperatorContains:
		return contains(value, clause.Value), nil
	case models.OperatorGreaterThan, models.OperatorGreaterOrEqual,
		models.OperatorLessThan, models.OperatorLessOrEqual:
		return compareNumeric(clause.Operator, value, clause.Value)
	default:
		return false, fmt.Errorf("unsupported condition operator %q", clause.Operator)
	}
}

func isEmpty(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	case []any:
		return len(v) == 0
	case map[string]any:
		return len(v) == 0
	default:
		return false
	}
}

// equals compares loosely: numbers compare by value regardless of Go type
// (JSON decoding produces float64), everything else by string form.
func equals(left, right any) bool {
	lf, lok := toFloat(left)
	rf, rok := toFloat(right)

	if lok && rok {
		return lf == rf
	}

	return fmt.Sprintf("%v", left) == fmt.Sprintf("%v", right)
}

func contains(haystack, needle any) bool {
	switch h := haystack.(type) {
	case string:
		return strings.Contains(strings.ToLower(h), strings.ToLower(fmt.Sprintf("%v", needle)))
	case []any:
		for _, item := range h {
			if equals(item, needle) {
				return true
			}
		}

		return false
	default:
		return false
	}
}

func compareNumeric(op models.ConditionOperator, left, right any) (bool, error) {
	lf, lok := toFloat(left)
	rf, rok := toFloat(right)

	if !lok || !rok {
		// Non-numeric operands never match a numeric comparison.
		return false, nil
	}

	switch op {
	case models.OperatorGreaterThan:
		return lf > rf, nil
	case models.OperatorGreaterOrEqual:
		return lf >= rf, nil
	case models.OperatorLessThan:
		return lf < rf, nil
	case models.OperatorLessOrEqual:
		return lf <= rf, nil
	default:
		return false, fmt.Errorf("unsupported numeric operator %q", op)
	}
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}

		return f, true
	default:
		return 0, false
	}
}
