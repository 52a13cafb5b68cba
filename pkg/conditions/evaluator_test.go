package conditions

import (
	"testing"

	"github.com/nurtura/nurtura/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatch_EmptyClauseList(t *testing.T) {
	ok, err := Match(nil, map[string]any{"name": "Ada"})

	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMatch_Equals(t *testing.T) {
	snapshot := map[string]any{
		"name":              "Ada Lovelace",
		"value":             float64(1500),
		"customFields.plan": "pro",
	}

	tests := []struct {
		name    string
		clause  models.Condition
		matches bool
	}{
		{"string equal", models.Condition{Field: "name", Operator: models.OperatorEquals, Value: "Ada Lovelace"}, true},
		{"string not equal", models.Condition{Field: "name", Operator: models.OperatorEquals, Value: "Grace"}, false},
		{"number equal across types", models.Condition{Field: "value", Operator: models.OperatorEquals, Value: 1500}, true},
		{"dot path field", models.Condition{Field: "customFields.plan", Operator: models.OperatorEquals, Value: "pro"}, true},
		{"not_equals", models.Condition{Field: "name", Operator: models.OperatorNotEquals, Value: "Grace"}, true},
		{"bool against string form", models.Condition{Field: "name", Operator: models.OperatorNotEquals, Value: "Ada Lovelace"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := Match([]models.Condition{tt.clause}, snapshot)

			require.NoError(t, err)
			assert.Equal(t, tt.matches, ok)
		})
	}
}

func TestMatch_NumericComparisons(t *testing.T) {
	high := map[string]any{"value": float64(1500)}
	low := map[string]any{"value": float64(500)}

	clause := models.Condition{Field: "value", Operator: models.OperatorGreaterThan, Value: 1000}

	ok, err := Match([]models.Condition{clause}, high)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Match([]models.Condition{clause}, low)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMatch_NumericStringCoercion(t *testing.T) {
	snapshot := map[string]any{"score": "42"}

	ok, err := Match([]models.Condition{
		{Field: "score", Operator: models.OperatorLessOrEqual, Value: 42},
	}, snapshot)

	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMatch_NonNumericOperandNeverMatches(t *testing.T) {
	snapshot := map[string]any{"name": "Ada"}

	ok, err := Match([]models.Condition{
		{Field: "name", Operator: models.OperatorGreaterThan, Value: 10},
	}, snapshot)

	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMatch_Contains(t *testing.T) {
	snapshot := map[string]any{
		"email": "ada@example.com",
		"tags":  []any{"vip", "newsletter"},
	}

	ok, err := Match([]models.Condition{
		{Field: "email", Operator: models.OperatorContains, Value: "Example.COM"},
	}, snapshot)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Match([]models.Condition{
		{Field: "tags", Operator: models.OperatorContains, Value: "vip"},
	}, snapshot)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Match([]models.Condition{
		{Field: "tags", Operator: models.OperatorContains, Value: "churned"},
	}, snapshot)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMatch_AbsentField(t *testing.T) {
	snapshot := map[string]any{"name": "Ada"}

	// Absent fields never match regular operators.
	ok, err := Match([]models.Condition{
		{Field: "missing", Operator: models.OperatorEquals, Value: "x"},
	}, snapshot)
	require.NoError(t, err)
	assert.False(t, ok)

	// Emptiness checks are the exception.
	ok, err = Match([]models.Condition{
		{Field: "missing", Operator: models.OperatorIsEmpty},
	}, snapshot)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Match([]models.Condition{
		{Field: "missing", Operator: models.OperatorIsNotEmpty},
	}, snapshot)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMatch_Emptiness(t *testing.T) {
	snapshot := map[string]any{
		"notes": "  ",
		"tags":  []any{},
		"phone": "555-1234",
	}

	ok, err := Match([]models.Condition{
		{Field: "notes", Operator: models.OperatorIsEmpty},
		{Field: "tags", Operator: models.OperatorIsEmpty},
		{Field: "phone", Operator: models.OperatorIsNotEmpty},
	}, snapshot)

	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMatch_AndSemantics(t *testing.T) {
	snapshot := map[string]any{"a": float64(1), "b": float64(2)}

	ok, err := Match([]models.Condition{
		{Field: "a", Operator: models.OperatorEquals, Value: 1},
		{Field: "b", Operator: models.OperatorEquals, Value: 3},
	}, snapshot)

	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMatch_UnknownOperator(t *testing.T) {
	_, err := Match([]models.Condition{
		{Field: "a", Operator: "regex", Value: ".*"},
	}, map[string]any{"a": "x"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported condition operator")
}
