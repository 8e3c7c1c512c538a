package dbopt

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// text normalizes MapScan results; the driver may surface TEXT as []byte.
func text(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return fmt.Sprint(v)
	}
}

func newTestSQLStore(t *testing.T) *SQLStore {
	t.Helper()
	store, err := NewSQLStore(filepath.Join(t.TempDir(), "test.db"), 2)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	_, err = store.DB().Exec(`CREATE TABLE donors (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT,
		total_given REAL NOT NULL DEFAULT 0
	)`)
	require.NoError(t, err)
	return store
}

func seedDonors(t *testing.T, store *SQLStore) {
	t.Helper()
	n, err := store.Insert(context.Background(), "donors", []Row{
		{"id": 1, "name": "Ada", "email": "ada@example.org", "total_given": 500.0},
		{"id": 2, "name": "Grace", "email": nil, "total_given": 1200.0},
		{"id": 3, "name": "Alan", "email": "alan@example.org", "total_given": 50.0},
	})
	require.NoError(t, err)
	require.Equal(t, int64(3), n)
}

func TestSQLStoreQueryOperators(t *testing.T) {
	store := newTestSQLStore(t)
	seedDonors(t, store)
	ctx := context.Background()

	preds, err := Filters{"total_given": Condition{Operator: OpGte, Value: 500}}.Normalize()
	require.NoError(t, err)
	rows, err := store.Query(ctx, "donors", preds, QueryOptions{OrderBy: "total_given", Desc: true})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Grace", text(rows[0]["name"]))

	preds, err = Filters{"name": "A%"}.Normalize()
	require.NoError(t, err)
	rows, err = store.Query(ctx, "donors", preds, QueryOptions{})
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	preds, err = Filters{"id": []int{1, 3}}.Normalize()
	require.NoError(t, err)
	rows, err = store.Query(ctx, "donors", preds, QueryOptions{})
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	preds, err = Filters{"email": nil}.Normalize()
	require.NoError(t, err)
	rows, err = store.Query(ctx, "donors", preds, QueryOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Grace", text(rows[0]["name"]))
}

func TestSQLStoreProjectionAndPaging(t *testing.T) {
	store := newTestSQLStore(t)
	seedDonors(t, store)

	rows, err := store.Query(context.Background(), "donors", nil, QueryOptions{
		Select:  []string{"name"},
		OrderBy: "id",
		Limit:   2,
		Offset:  1,
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Grace", text(rows[0]["name"]))
	_, hasEmail := rows[0]["email"]
	assert.False(t, hasEmail)
}

func TestSQLStoreUpdateAndDelete(t *testing.T) {
	store := newTestSQLStore(t)
	seedDonors(t, store)
	ctx := context.Background()

	preds, err := Filters{"id": 3}.Normalize()
	require.NoError(t, err)

	n, err := store.Update(ctx, "donors", Row{"total_given": 75.0}, preds)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	rows, err := store.Query(ctx, "donors", preds, QueryOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 75.0, rows[0]["total_given"])

	n, err = store.Delete(ctx, "donors", preds)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	rows, err = store.Query(ctx, "donors", nil, QueryOptions{})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestSQLStoreRejectsRichOperators(t *testing.T) {
	store := newTestSQLStore(t)

	for _, op := range []string{OpContains, OpContainedBy, OpOverlaps, OpTextSearch, OpRangeGt} {
		preds := []Predicate{{Column: "name", Operator: op, Value: "x"}}
		_, err := store.Query(context.Background(), "donors", preds, QueryOptions{})
		assert.Error(t, err, op)
	}
}
