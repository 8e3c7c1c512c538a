package metrics

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Type identifies what a metric sample measures.
type Type string

const (
	TypeResponseTime    Type = "response_time"
	TypeThroughput      Type = "throughput"
	TypeErrorRate       Type = "error_rate"
	TypeMemoryUsage     Type = "memory_usage"
	TypeCPUUsage        Type = "cpu_usage"
	TypeDBQueryTime     Type = "db_query_time"
	TypeCacheHitRate    Type = "cache_hit_rate"
	TypeAPIResponseTime Type = "api_response_time"
	TypePageLoadTime    Type = "page_load_time"
	TypeBundleSize      Type = "bundle_size"
	TypeConnectionCount Type = "connection_count"
	TypeRequestSize     Type = "request_size"
	TypeResponseSize    Type = "response_size"
)

// Sample is one timestamped observation. Samples are immutable once recorded.
type Sample struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Type      Type                   `json:"type"`
	Name      string                 `json:"name"`
	Value     float64                `json:"value"`
	Unit      string                 `json:"unit"`
	Tags      map[string]string      `json:"tags,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Filter selects samples for Query. Zero-value fields are ignored; provided
// fields combine with AND.
type Filter struct {
	Type      Type      `json:"type,omitempty"`
	Name      string    `json:"name,omitempty"`
	StartTime time.Time `json:"start_time,omitempty"`
	EndTime   time.Time `json:"end_time,omitempty"`
	Limit     int       `json:"limit,omitempty"`
}

// Aggregate summarizes samples of one type over a window.
type Aggregate struct {
	Average float64 `json:"average"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	P95     float64 `json:"p95"`
	P99     float64 `json:"p99"`
	Count   int     `json:"count"`
}

// Observer is invoked synchronously for every recorded sample, after the
// sample is stored and outside the store's lock.
type Observer func(*Sample)

// Store is an append-only, size-bounded in-memory sample store. It never
// returns errors; absence is reported as empty results.
type Store struct {
	mu         sync.RWMutex
	samples    []*Sample
	maxSamples int
	retention  time.Duration
	sweepEvery time.Duration
	observers  []Observer
	logger     *logrus.Logger
	stopCh     chan struct{}
	stopOnce   sync.Once
}

// NewStore creates a metric store bounded by maxSamples entries and
// retention age.
func NewStore(maxSamples int, retention, sweepEvery time.Duration, logger *logrus.Logger) *Store {
	if maxSamples <= 0 {
		maxSamples = 10000
	}
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	if sweepEvery <= 0 {
		sweepEvery = time.Hour
	}
	return &Store{
		samples:    make([]*Sample, 0, 256),
		maxSamples: maxSamples,
		retention:  retention,
		sweepEvery: sweepEvery,
		logger:     logger,
		stopCh:     make(chan struct{}),
	}
}

// AddObserver registers a synchronous sample observer. Observers must be
// registered before recording starts.
func (s *Store) AddObserver(fn Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

// Record appends a sample with the current server timestamp and notifies
// observers before returning.
func (s *Store) Record(typ Type, name string, value float64, unit string, tags map[string]string, metadata map[string]interface{}) *Sample {
	sample := &Sample{
		ID:        uuid.New().String(),
		Timestamp: time.Now(),
		Type:      typ,
		Name:      name,
		Value:     value,
		Unit:      unit,
		Tags:      tags,
		Metadata:  metadata,
	}

	s.mu.Lock()
	s.samples = append(s.samples, sample)
	if overflow := len(s.samples) - s.maxSamples; overflow > 0 {
		s.samples = s.samples[overflow:]
	}
	observers := s.observers
	s.mu.Unlock()

	for _, fn := range observers {
		fn(sample)
	}

	return sample
}

// Query returns matching samples sorted newest-first. Limit truncates after
// sorting.
func (s *Store) Query(f Filter) []*Sample {
	s.mu.RLock()
	matches := make([]*Sample, 0)
	for _, sample := range s.samples {
		if f.Type != "" && sample.Type != f.Type {
			continue
		}
		if f.Name != "" && sample.Name != f.Name {
			continue
		}
		if !f.StartTime.IsZero() && sample.Timestamp.Before(f.StartTime) {
			continue
		}
		if !f.EndTime.IsZero() && sample.Timestamp.After(f.EndTime) {
			continue
		}
		matches = append(matches, sample)
	}
	s.mu.RUnlock()

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Timestamp.After(matches[j].Timestamp)
	})

	if f.Limit > 0 && len(matches) > f.Limit {
		matches = matches[:f.Limit]
	}
	return matches
}

// Aggregate computes per-type summaries over samples recorded within the
// period. Types with no samples in the window are absent from the result.
func (s *Store) Aggregate(period string) map[Type]Aggregate {
	cutoff := time.Now().Add(-PeriodDuration(period))

	s.mu.RLock()
	byType := make(map[Type][]float64)
	for _, sample := range s.samples {
		if sample.Timestamp.Before(cutoff) {
			continue
		}
		byType[sample.Type] = append(byType[sample.Type], sample.Value)
	}
	s.mu.RUnlock()

	result := make(map[Type]Aggregate, len(byType))
	for typ, values := range byType {
		sort.Float64s(values)

		sum := 0.0
		for _, v := range values {
			sum += v
		}

		result[typ] = Aggregate{
			Average: sum / float64(len(values)),
			Min:     values[0],
			Max:     values[len(values)-1],
			P95:     percentile(values, 0.95),
			P99:     percentile(values, 0.99),
			Count:   len(values),
		}
	}
	return result
}

// percentile reads the value at index floor(count*p) of an ascending-sorted
// slice, clamped to the last element.
func percentile(sorted []float64, p float64) float64 {
	idx := int(math.Floor(float64(len(sorted)) * p))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// PeriodDuration maps a report period label to its duration. Unknown labels
// fall back to one hour.
func PeriodDuration(period string) time.Duration {
	switch period {
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "1h":
		return time.Hour
	case "6h":
		return 6 * time.Hour
	case "24h":
		return 24 * time.Hour
	case "7d":
		return 7 * 24 * time.Hour
	default:
		return time.Hour
	}
}

// Len returns the current number of retained samples.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.samples)
}

// Start launches the periodic retention sweep. Stop shuts it down.
func (s *Store) Start() {
	go func() {
		ticker := time.NewTicker(s.sweepEvery)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.Sweep()
			}
		}
	}()
}

// Stop terminates the background sweep. Safe to call more than once.
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Sweep drops samples older than the retention window.
func (s *Store) Sweep() {
	cutoff := time.Now().Add(-s.retention)

	s.mu.Lock()
	kept := s.samples[:0]
	removed := 0
	for _, sample := range s.samples {
		if sample.Timestamp.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, sample)
	}
	s.samples = kept
	s.mu.Unlock()

	if removed > 0 && s.logger != nil {
		s.logger.WithField("removed_count", removed).Debug("Swept expired metric samples")
	}
}
