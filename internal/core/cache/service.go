package cache

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Strategy selects which entries to evict when the cache is full.
type Strategy string

const (
	StrategyLRU  Strategy = "lru"  // oldest last access
	StrategyFIFO Strategy = "fifo" // oldest insert
	StrategyTTL  Strategy = "ttl"  // soonest expiry
)

// Entry is one cached value. Owned exclusively by the service's map.
type Entry struct {
	Key          string                 `json:"key"`
	Value        interface{}            `json:"value"`
	Timestamp    time.Time              `json:"timestamp"`
	TTL          time.Duration          `json:"ttl"`
	Hits         int64                  `json:"hits"`
	LastAccessed time.Time              `json:"last_accessed"`
	Tags         []string               `json:"tags,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

func (e *Entry) expiresAt() time.Time {
	return e.Timestamp.Add(e.TTL)
}

func (e *Entry) expired(now time.Time) bool {
	return now.After(e.expiresAt())
}

// EventType identifies a cache lifecycle event.
type EventType string

const (
	EventHit    EventType = "hit"
	EventMiss   EventType = "miss"
	EventSet    EventType = "set"
	EventDelete EventType = "delete"
	EventEvict  EventType = "evict"
	EventExpire EventType = "expire"
)

// Event is delivered to subscribed listeners on cache activity.
type Event struct {
	Type      EventType `json:"type"`
	Key       string    `json:"key"`
	Timestamp time.Time `json:"timestamp"`
}

// Listener receives cache events. Listeners run synchronously after the
// triggering operation releases the cache lock; they must not block.
type Listener func(Event)

// Stats reports hit/miss counters and entry distribution.
type Stats struct {
	Hits       int64          `json:"hits"`
	Misses     int64          `json:"misses"`
	HitRate    float64        `json:"hit_rate"`
	Size       int            `json:"size"`
	MaxSize    int            `json:"max_size"`
	Namespaces map[string]int `json:"namespaces"`
}

// Service is a TTL-bounded, size-bounded in-memory cache with pluggable
// eviction, tag invalidation, and lifecycle events. Operations never return
// errors; absence is reported as a miss.
type Service struct {
	mu         sync.RWMutex
	entries    map[string]*Entry
	maxSize    int
	defaultTTL time.Duration
	strategy   Strategy
	sweepEvery time.Duration
	hits       int64
	misses     int64
	namespaces map[string]int
	listeners  []Listener
	logger     *logrus.Logger
	stopCh     chan struct{}
	stopOnce   sync.Once
}

// NewService creates a cache bounded by maxSize entries.
func NewService(maxSize int, defaultTTL time.Duration, strategy Strategy, sweepEvery time.Duration, logger *logrus.Logger) *Service {
	if maxSize <= 0 {
		maxSize = 1000
	}
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	if sweepEvery <= 0 {
		sweepEvery = time.Minute
	}
	switch strategy {
	case StrategyLRU, StrategyFIFO, StrategyTTL:
	default:
		strategy = StrategyLRU
	}
	return &Service{
		entries:    make(map[string]*Entry),
		maxSize:    maxSize,
		defaultTTL: defaultTTL,
		strategy:   strategy,
		sweepEvery: sweepEvery,
		namespaces: make(map[string]int),
		logger:     logger,
		stopCh:     make(chan struct{}),
	}
}

// Subscribe registers a lifecycle event listener.
func (s *Service) Subscribe(fn Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// fullKey namespaces a key as "{namespace}:{key}" when a namespace is given.
func fullKey(key, namespace string) string {
	if namespace == "" {
		return key
	}
	return namespace + ":" + key
}

// Get returns the cached value, or (nil, false) on a miss. A TTL-expired
// entry is deleted as a side effect of the miss.
func (s *Service) Get(key, namespace string) (interface{}, bool) {
	fk := fullKey(key, namespace)
	now := time.Now()

	s.mu.Lock()
	entry, ok := s.entries[fk]
	if ok && entry.expired(now) {
		delete(s.entries, fk)
		s.recountNamespacesLocked()
		ok = false
		s.misses++
		listeners := s.listeners
		s.mu.Unlock()
		s.emit(listeners, Event{Type: EventExpire, Key: fk, Timestamp: now})
		s.emit(listeners, Event{Type: EventMiss, Key: fk, Timestamp: now})
		return nil, false
	}
	if !ok {
		s.misses++
		listeners := s.listeners
		s.mu.Unlock()
		s.emit(listeners, Event{Type: EventMiss, Key: fk, Timestamp: now})
		return nil, false
	}

	entry.Hits++
	entry.LastAccessed = now
	s.hits++
	value := entry.Value
	listeners := s.listeners
	s.mu.Unlock()

	s.emit(listeners, Event{Type: EventHit, Key: fk, Timestamp: now})
	return value, true
}

// Set inserts or overwrites an entry. At capacity roughly 10% of entries
// are evicted first using the configured strategy.
func (s *Service) Set(key string, value interface{}, ttl time.Duration, namespace string, tags []string) {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	fk := fullKey(key, namespace)
	now := time.Now()

	s.mu.Lock()
	if _, exists := s.entries[fk]; !exists && len(s.entries) >= s.maxSize {
		s.evictLocked()
	}
	s.entries[fk] = &Entry{
		Key:          fk,
		Value:        value,
		Timestamp:    now,
		TTL:          ttl,
		LastAccessed: now,
		Tags:         tags,
	}
	s.recountNamespacesLocked()
	listeners := s.listeners
	s.mu.Unlock()

	s.emit(listeners, Event{Type: EventSet, Key: fk, Timestamp: now})
}

// evictLocked removes ~10% of entries per the eviction strategy. Caller
// holds s.mu.
func (s *Service) evictLocked() {
	count := s.maxSize / 10
	if count < 1 {
		count = 1
	}

	keys := make([]string, 0, len(s.entries))
	for key := range s.entries {
		keys = append(keys, key)
	}

	sort.Slice(keys, func(i, j int) bool {
		a, b := s.entries[keys[i]], s.entries[keys[j]]
		switch s.strategy {
		case StrategyFIFO:
			return a.Timestamp.Before(b.Timestamp)
		case StrategyTTL:
			return a.expiresAt().Before(b.expiresAt())
		default:
			return a.LastAccessed.Before(b.LastAccessed)
		}
	})

	if count > len(keys) {
		count = len(keys)
	}
	for _, key := range keys[:count] {
		delete(s.entries, key)
	}

	if s.logger != nil {
		s.logger.WithFields(logrus.Fields{
			"evicted":  count,
			"strategy": s.strategy,
		}).Debug("Cache eviction")
	}
}

// Delete removes one entry, reporting whether it existed.
func (s *Service) Delete(key, namespace string) bool {
	fk := fullKey(key, namespace)
	now := time.Now()

	s.mu.Lock()
	_, ok := s.entries[fk]
	if ok {
		delete(s.entries, fk)
		s.recountNamespacesLocked()
	}
	listeners := s.listeners
	s.mu.Unlock()

	if ok {
		s.emit(listeners, Event{Type: EventDelete, Key: fk, Timestamp: now})
	}
	return ok
}

// Clear removes all entries in a namespace, or every entry when namespace
// is empty. Returns the number of removed entries.
func (s *Service) Clear(namespace string) int {
	prefix := namespace + ":"

	s.mu.Lock()
	removed := 0
	for key := range s.entries {
		if namespace == "" || strings.HasPrefix(key, prefix) {
			delete(s.entries, key)
			removed++
		}
	}
	s.recountNamespacesLocked()
	s.mu.Unlock()

	return removed
}

// InvalidateByTag removes every entry carrying the tag, scoped to the
// namespace prefix when one is given. Returns the number of removed entries.
func (s *Service) InvalidateByTag(tag, namespace string) int {
	prefix := namespace + ":"

	s.mu.Lock()
	removed := 0
	for key, entry := range s.entries {
		if namespace != "" && !strings.HasPrefix(key, prefix) {
			continue
		}
		for _, t := range entry.Tags {
			if t == tag {
				delete(s.entries, key)
				removed++
				break
			}
		}
	}
	s.recountNamespacesLocked()
	s.mu.Unlock()

	if removed > 0 && s.logger != nil {
		s.logger.WithFields(logrus.Fields{
			"tag":     tag,
			"removed": removed,
		}).Debug("Cache tag invalidation")
	}
	return removed
}

// GetOrSet returns the cached value, or computes it via factory and caches
// the result. Factory errors are returned without populating the cache.
func (s *Service) GetOrSet(key, namespace string, ttl time.Duration, tags []string, factory func() (interface{}, error)) (interface{}, error) {
	if value, ok := s.Get(key, namespace); ok {
		return value, nil
	}

	value, err := factory()
	if err != nil {
		return nil, err
	}
	s.Set(key, value, ttl, namespace, tags)
	return value, nil
}

// MGet fetches multiple keys; missing keys are absent from the result.
func (s *Service) MGet(keys []string, namespace string) map[string]interface{} {
	out := make(map[string]interface{}, len(keys))
	for _, key := range keys {
		if value, ok := s.Get(key, namespace); ok {
			out[key] = value
		}
	}
	return out
}

// MSet stores multiple entries. No atomicity across keys.
func (s *Service) MSet(items map[string]interface{}, ttl time.Duration, namespace string, tags []string) {
	for key, value := range items {
		s.Set(key, value, ttl, namespace, tags)
	}
}

// Stats returns a snapshot of hit/miss counters and namespace counts.
func (s *Service) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := s.hits + s.misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(s.hits) / float64(total) * 100
	}

	namespaces := make(map[string]int, len(s.namespaces))
	for ns, count := range s.namespaces {
		namespaces[ns] = count
	}

	return Stats{
		Hits:       s.hits,
		Misses:     s.misses,
		HitRate:    hitRate,
		Size:       len(s.entries),
		MaxSize:    s.maxSize,
		Namespaces: namespaces,
	}
}

// Len returns the current entry count.
func (s *Service) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// recountNamespacesLocked recomputes per-namespace entry counts. O(n), which
// is fine at the cache's target scale. Caller holds s.mu.
func (s *Service) recountNamespacesLocked() {
	counts := make(map[string]int)
	for key := range s.entries {
		ns := "default"
		if idx := strings.Index(key, ":"); idx > 0 {
			ns = key[:idx]
		}
		counts[ns]++
	}
	s.namespaces = counts
}

func (s *Service) emit(listeners []Listener, event Event) {
	for _, fn := range listeners {
		fn(event)
	}
}

// Start launches the background sweep that proactively removes TTL-expired
// entries, independent of lazy on-read expiry.
func (s *Service) Start() {
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
func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Sweep removes all expired entries.
func (s *Service) Sweep() {
	now := time.Now()

	s.mu.Lock()
	expired := make([]string, 0)
	for key, entry := range s.entries {
		if entry.expired(now) {
			expired = append(expired, key)
		}
	}
	for _, key := range expired {
		delete(s.entries, key)
	}
	if len(expired) > 0 {
		s.recountNamespacesLocked()
	}
	listeners := s.listeners
	s.mu.Unlock()

	for _, key := range expired {
		s.emit(listeners, Event{Type: EventExpire, Key: key, Timestamp: now})
	}
}
