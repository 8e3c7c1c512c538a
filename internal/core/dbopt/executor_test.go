package dbopt

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raisekit/opscore/internal/core/cache"
	"github.com/raisekit/opscore/internal/core/metrics"
	"github.com/raisekit/opscore/pkg/errors"
)

// fakeStore scripts per-call results for the executor.
type fakeStore struct {
	mu       sync.Mutex
	queries  int
	inserts  int
	failures int // fail this many calls before succeeding
	rows     []Row
}

func (f *fakeStore) Query(_ context.Context, _ string, _ []Predicate, _ QueryOptions) ([]Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++
	if f.failures > 0 {
		f.failures--
		return nil, assert.AnError
	}
	return f.rows, nil
}

func (f *fakeStore) Insert(_ context.Context, _ string, rows []Row) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserts++
	if f.failures > 0 {
		f.failures--
		return 0, assert.AnError
	}
	return int64(len(rows)), nil
}

func (f *fakeStore) Update(_ context.Context, _ string, _ Row, _ []Predicate) (int64, error) {
	return 1, nil
}

func (f *fakeStore) Delete(_ context.Context, _ string, _ []Predicate) (int64, error) {
	return 1, nil
}

func newTestExecutor(store Store) (*Executor, *cache.Service, *metrics.Store) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	cacheSvc := cache.NewService(100, time.Minute, cache.StrategyLRU, time.Minute, nil)
	metricStore := metrics.NewStore(1000, 24*time.Hour, time.Hour, logger)
	exec := NewExecutor(store, cacheSvc, metricStore, logger)
	exec.backoffUnit = time.Millisecond
	return exec, cacheSvc, metricStore
}

func TestSelectCacheAside(t *testing.T) {
	store := &fakeStore{rows: []Row{{"id": int64(1), "name": "Ada"}}}
	exec, _, _ := newTestExecutor(store)

	cfg := QueryConfig{UseCache: true, CacheTTL: time.Minute}

	rows, err := exec.Select(context.Background(), "donors", Filters{"id": 1}, QueryOptions{}, cfg)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	// Second identical read is served from cache; the store sees one query.
	rows, err = exec.Select(context.Background(), "donors", Filters{"id": 1}, QueryOptions{}, cfg)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 1, store.queries)

	// A different filter misses the cache.
	_, err = exec.Select(context.Background(), "donors", Filters{"id": 2}, QueryOptions{}, cfg)
	require.NoError(t, err)
	assert.Equal(t, 2, store.queries)
}

func TestSelectWithoutCacheAlwaysHitsStore(t *testing.T) {
	store := &fakeStore{rows: []Row{}}
	exec, _, _ := newTestExecutor(store)

	for i := 0; i < 3; i++ {
		_, err := exec.Select(context.Background(), "donors", nil, QueryOptions{}, QueryConfig{})
		require.NoError(t, err)
	}
	assert.Equal(t, 3, store.queries)
}

func TestRetryRecoversFromTransientFailure(t *testing.T) {
	store := &fakeStore{failures: 2, rows: []Row{{"id": int64(1)}}}
	exec, _, _ := newTestExecutor(store)

	rows, err := exec.Select(context.Background(), "donors", nil, QueryOptions{}, QueryConfig{})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Equal(t, 3, store.queries)
}

func TestRetryExhaustionReturnsDatabaseError(t *testing.T) {
	store := &fakeStore{failures: 100}
	exec, cacheSvc, _ := newTestExecutor(store)

	_, err := exec.Select(context.Background(), "donors", nil, QueryOptions{}, QueryConfig{UseCache: true})
	require.Error(t, err)
	assert.Equal(t, errors.KindDatabase, errors.KindOf(err))

	// Exactly three attempts by default, and nothing cached.
	assert.Equal(t, 3, store.queries)
	assert.Equal(t, 0, cacheSvc.Len())
}

func TestWriteInvalidatesTableTag(t *testing.T) {
	store := &fakeStore{rows: []Row{{"id": int64(1)}}}
	exec, cacheSvc, _ := newTestExecutor(store)

	cfg := QueryConfig{UseCache: true}
	_, err := exec.Select(context.Background(), "donors", nil, QueryOptions{}, cfg)
	require.NoError(t, err)
	require.Equal(t, 1, cacheSvc.Len())

	_, err = exec.Insert(context.Background(), "donors", []Row{{"name": "Grace"}}, QueryConfig{})
	require.NoError(t, err)

	assert.Equal(t, 0, cacheSvc.Len(), "insert must drop cached reads of the table")
}

func TestFailedWriteStillInvalidates(t *testing.T) {
	store := &fakeStore{rows: []Row{{"id": int64(1)}}}
	exec, cacheSvc, _ := newTestExecutor(store)

	_, err := exec.Select(context.Background(), "donors", nil, QueryOptions{}, QueryConfig{UseCache: true})
	require.NoError(t, err)
	require.Equal(t, 1, cacheSvc.Len())

	store.mu.Lock()
	store.failures = 100
	store.mu.Unlock()

	_, err = exec.Insert(context.Background(), "donors", []Row{{"name": "Grace"}}, QueryConfig{Retries: 1})
	require.Error(t, err)

	assert.Equal(t, 0, cacheSvc.Len(), "invalidation is unconditional on writes")
}

func TestQueryMetricsRecorded(t *testing.T) {
	store := &fakeStore{rows: []Row{}}
	exec, _, metricStore := newTestExecutor(store)

	_, err := exec.Select(context.Background(), "donors", nil, QueryOptions{}, QueryConfig{})
	require.NoError(t, err)

	samples := metricStore.Query(metrics.Filter{Type: metrics.TypeDBQueryTime})
	require.Len(t, samples, 1)
	assert.Equal(t, "select donors", samples[0].Name)
	assert.Equal(t, "true", samples[0].Tags["success"])
	assert.Equal(t, "0", samples[0].Tags["retries"])
}

func TestUnfilteredDeleteRejected(t *testing.T) {
	exec, _, _ := newTestExecutor(&fakeStore{})

	_, err := exec.Delete(context.Background(), "donors", Filters{}, QueryConfig{})
	require.Error(t, err)
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))
}

func TestInvalidOperatorFailsFast(t *testing.T) {
	store := &fakeStore{}
	exec, _, _ := newTestExecutor(store)

	_, err := exec.Select(context.Background(), "donors",
		Filters{"id": Condition{Operator: "frobnicate", Value: 1}}, QueryOptions{}, QueryConfig{})
	require.Error(t, err)
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))
	assert.Zero(t, store.queries)
}
