package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(maxSamples int) *Store {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewStore(maxSamples, 24*time.Hour, time.Hour, logger)
}

func TestRecordAssignsIdentity(t *testing.T) {
	store := newTestStore(100)

	sample := store.Record(TypeAPIResponseTime, "GET /donors", 123.4, "ms", map[string]string{"route": "/donors"}, nil)

	require.NotNil(t, sample)
	assert.NotEmpty(t, sample.ID)
	assert.WithinDuration(t, time.Now(), sample.Timestamp, time.Second)
	assert.Equal(t, 1, store.Len())
}

func TestRecordEvictsOldestAtCapacity(t *testing.T) {
	store := newTestStore(10)

	for i := 0; i < 25; i++ {
		store.Record(TypeResponseTime, fmt.Sprintf("op-%d", i), float64(i), "ms", nil, nil)
	}

	assert.Equal(t, 10, store.Len())

	samples := store.Query(Filter{Type: TypeResponseTime})
	require.Len(t, samples, 10)
	// Newest first; the oldest surviving sample is op-15.
	assert.Equal(t, "op-24", samples[0].Name)
	assert.Equal(t, "op-15", samples[9].Name)
}

func TestQueryFilters(t *testing.T) {
	store := newTestStore(100)
	store.Record(TypeAPIResponseTime, "GET /donors", 100, "ms", nil, nil)
	store.Record(TypeAPIResponseTime, "GET /gifts", 200, "ms", nil, nil)
	store.Record(TypeDBQueryTime, "select donors", 50, "ms", nil, nil)

	byType := store.Query(Filter{Type: TypeAPIResponseTime})
	assert.Len(t, byType, 2)

	byName := store.Query(Filter{Type: TypeAPIResponseTime, Name: "GET /gifts"})
	require.Len(t, byName, 1)
	assert.Equal(t, 200.0, byName[0].Value)

	limited := store.Query(Filter{Limit: 2})
	assert.Len(t, limited, 2)

	future := store.Query(Filter{StartTime: time.Now().Add(time.Hour)})
	assert.Empty(t, future)
}

func TestQueryReturnsNewestFirst(t *testing.T) {
	store := newTestStore(100)
	for i := 0; i < 5; i++ {
		store.Record(TypeThroughput, fmt.Sprintf("op-%d", i), float64(i), "rps", nil, nil)
	}

	samples := store.Query(Filter{})
	require.Len(t, samples, 5)
	for i := 1; i < len(samples); i++ {
		assert.False(t, samples[i].Timestamp.After(samples[i-1].Timestamp))
	}
}

func TestAggregatePercentiles(t *testing.T) {
	store := newTestStore(1000)
	for i := 1; i <= 100; i++ {
		store.Record(TypeAPIResponseTime, "GET /donors", float64(i), "ms", nil, nil)
	}

	aggs := store.Aggregate("1h")
	agg, ok := aggs[TypeAPIResponseTime]
	require.True(t, ok)

	assert.Equal(t, 100, agg.Count)
	assert.Equal(t, 50.5, agg.Average)
	assert.Equal(t, 1.0, agg.Min)
	assert.Equal(t, 100.0, agg.Max)
	assert.Equal(t, 96.0, agg.P95)
	assert.Equal(t, 100.0, agg.P99)
}

func TestAggregateOmitsAbsentTypes(t *testing.T) {
	store := newTestStore(100)
	store.Record(TypeCPUUsage, "system cpu", 42, "%", nil, nil)

	aggs := store.Aggregate("1h")
	_, ok := aggs[TypeMemoryUsage]
	assert.False(t, ok)
	_, ok = aggs[TypeCPUUsage]
	assert.True(t, ok)
}

func TestObserversSeeEverySample(t *testing.T) {
	store := newTestStore(100)

	var seen []*Sample
	store.AddObserver(func(s *Sample) { seen = append(seen, s) })

	store.Record(TypeErrorRate, "api errors", 2.5, "%", nil, nil)
	store.Record(TypeErrorRate, "api errors", 7.5, "%", nil, nil)

	require.Len(t, seen, 2)
	assert.Equal(t, 7.5, seen[1].Value)
}

func TestSweepDropsExpiredSamples(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	store := NewStore(100, 10*time.Millisecond, time.Hour, logger)

	store.Record(TypeResponseTime, "old", 1, "ms", nil, nil)
	time.Sleep(20 * time.Millisecond)
	store.Record(TypeResponseTime, "new", 2, "ms", nil, nil)

	store.Sweep()

	samples := store.Query(Filter{})
	require.Len(t, samples, 1)
	assert.Equal(t, "new", samples[0].Name)
}

func TestPeriodDuration(t *testing.T) {
	assert.Equal(t, 5*time.Minute, PeriodDuration("5m"))
	assert.Equal(t, 7*24*time.Hour, PeriodDuration("7d"))
	assert.Equal(t, time.Hour, PeriodDuration("bogus"))
}
