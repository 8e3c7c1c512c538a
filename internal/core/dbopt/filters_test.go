package dbopt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeShorthand(t *testing.T) {
	preds, err := Filters{
		"status": "active",
		"name":   "Ada%",
		"id":     []int{1, 2, 3},
		"score":  42,
		"note":   nil,
	}.Normalize()
	require.NoError(t, err)
	require.Len(t, preds, 5)

	byColumn := make(map[string]Predicate)
	for _, p := range preds {
		byColumn[p.Column] = p
	}

	assert.Equal(t, OpEq, byColumn["status"].Operator)
	assert.Equal(t, OpLike, byColumn["name"].Operator)
	assert.Equal(t, OpIn, byColumn["id"].Operator)
	assert.Equal(t, OpEq, byColumn["score"].Operator)
	assert.Equal(t, OpIs, byColumn["note"].Operator)
}

func TestNormalizeIsDeterministic(t *testing.T) {
	f := Filters{"b": 2, "a": 1, "c": 3}

	first, err := f.Normalize()
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		again, err := f.Normalize()
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	assert.Equal(t, "a", first[0].Column)
	assert.Equal(t, "c", first[2].Column)
}

func TestNormalizeExplicitCondition(t *testing.T) {
	preds, err := Filters{"age": Condition{Operator: OpGte, Value: 21}}.Normalize()
	require.NoError(t, err)
	require.Len(t, preds, 1)
	assert.Equal(t, OpGte, preds[0].Operator)
	assert.Equal(t, 21, preds[0].Value)
}

func TestBuildWhereRejectsUnsupportedOperator(t *testing.T) {
	_, _, err := buildWhere([]Predicate{{Column: "tsv", Operator: OpTextSearch, Value: "gala"}})
	assert.Error(t, err)
}

func TestBuildWhereInClause(t *testing.T) {
	clause, args, err := buildWhere([]Predicate{{Column: "id", Operator: OpIn, Value: []int{1, 2}}})
	require.NoError(t, err)
	assert.Equal(t, " WHERE id IN (?, ?)", clause)
	assert.Equal(t, []interface{}{1, 2}, args)
}

func TestBuildWhereEmptyInMatchesNothing(t *testing.T) {
	clause, args, err := buildWhere([]Predicate{{Column: "id", Operator: OpIn, Value: []int{}}})
	require.NoError(t, err)
	assert.Equal(t, " WHERE 1 = 0", clause)
	assert.Empty(t, args)
}
