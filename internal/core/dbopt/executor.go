package dbopt

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/raisekit/opscore/internal/core/cache"
	"github.com/raisekit/opscore/internal/core/metrics"
	"github.com/raisekit/opscore/pkg/errors"
)

const (
	cacheNamespace = "query"

	defaultRetries = 3
	defaultTimeout = 30 * time.Second
)

// QueryOptions shapes a Select: projection, ordering, and paging.
type QueryOptions struct {
	Select  []string `json:"select,omitempty"`
	OrderBy string   `json:"order_by,omitempty"`
	Desc    bool     `json:"desc,omitempty"`
	Limit   int      `json:"limit,omitempty"`
	Offset  int      `json:"offset,omitempty"`
}

// QueryConfig tunes caching and resilience per call site.
type QueryConfig struct {
	UseCache  bool
	CacheTTL  time.Duration
	CacheKey  string
	CacheTags []string
	Retries   int
	Timeout   time.Duration
}

// Row is one result record keyed by column name.
type Row = map[string]interface{}

// Store executes normalized operations against a backing database. A store
// that cannot express a predicate's operator must return a validation error
// before touching the database.
type Store interface {
	Query(ctx context.Context, table string, preds []Predicate, opts QueryOptions) ([]Row, error)
	Insert(ctx context.Context, table string, rows []Row) (int64, error)
	Update(ctx context.Context, table string, data Row, preds []Predicate) (int64, error)
	Delete(ctx context.Context, table string, preds []Predicate) (int64, error)
}

// Executor wraps a Store with read-through caching, timeout and retry
// handling, and per-query latency metrics. Writes always invalidate the
// affected cache tags, even on failure, trading extra misses for
// consistency.
type Executor struct {
	store       Store
	cache       *cache.Service
	metrics     *metrics.Store
	logger      *logrus.Logger
	backoffUnit time.Duration
}

// NewExecutor wires a store to the cache and metric store. Either of cache
// or metrics may be nil, disabling that concern.
func NewExecutor(store Store, cacheSvc *cache.Service, metricStore *metrics.Store, logger *logrus.Logger) *Executor {
	return &Executor{
		store:       store,
		cache:       cacheSvc,
		metrics:     metricStore,
		logger:      logger,
		backoffUnit: time.Second,
	}
}

// Select runs a cached, retried read. On a cache hit the store is not
// touched at all.
func (e *Executor) Select(ctx context.Context, table string, filters Filters, opts QueryOptions, cfg QueryConfig) ([]Row, error) {
	preds, err := filters.Normalize()
	if err != nil {
		return nil, err
	}

	var cacheKey string
	if cfg.UseCache && e.cache != nil {
		cacheKey = cfg.CacheKey
		if cacheKey == "" {
			cacheKey = deriveCacheKey(table, preds, opts)
		}
		if value, ok := e.cache.Get(cacheKey, cacheNamespace); ok {
			if rows, ok := value.([]Row); ok {
				e.logger.WithFields(logrus.Fields{
					"table": table,
					"key":   cacheKey,
				}).Debug("Query served from cache")
				return rows, nil
			}
		}
	}

	start := time.Now()
	result, attempts, err := e.execute(ctx, cfg, func(callCtx context.Context) (interface{}, error) {
		return e.store.Query(callCtx, table, preds, opts)
	})
	e.recordQuery(table, "select", start, attempts, err)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindDatabase, "select from %s failed", table)
	}

	rows := result.([]Row)
	if cfg.UseCache && e.cache != nil {
		tags := append([]string{"table:" + table}, cfg.CacheTags...)
		e.cache.Set(cacheKey, rows, cfg.CacheTTL, cacheNamespace, tags)
	}
	return rows, nil
}

// Insert writes rows with retry, then invalidates the table's cached reads.
func (e *Executor) Insert(ctx context.Context, table string, rows []Row, cfg QueryConfig) (int64, error) {
	if len(rows) == 0 {
		return 0, errors.New(errors.KindValidation, "insert requires at least one row")
	}

	defer e.invalidate(table, cfg.CacheTags)

	start := time.Now()
	result, attempts, err := e.execute(ctx, cfg, func(callCtx context.Context) (interface{}, error) {
		return e.store.Insert(callCtx, table, rows)
	})
	e.recordQuery(table, "insert", start, attempts, err)
	if err != nil {
		return 0, errors.Wrapf(err, errors.KindDatabase, "insert into %s failed", table)
	}
	return result.(int64), nil
}

// Update modifies matching rows with retry, then invalidates cached reads.
func (e *Executor) Update(ctx context.Context, table string, data Row, filters Filters, cfg QueryConfig) (int64, error) {
	if len(data) == 0 {
		return 0, errors.New(errors.KindValidation, "update requires at least one column")
	}
	preds, err := filters.Normalize()
	if err != nil {
		return 0, err
	}

	defer e.invalidate(table, cfg.CacheTags)

	start := time.Now()
	result, attempts, err := e.execute(ctx, cfg, func(callCtx context.Context) (interface{}, error) {
		return e.store.Update(callCtx, table, data, preds)
	})
	e.recordQuery(table, "update", start, attempts, err)
	if err != nil {
		return 0, errors.Wrapf(err, errors.KindDatabase, "update of %s failed", table)
	}
	return result.(int64), nil
}

// Delete removes matching rows with retry, then invalidates cached reads.
func (e *Executor) Delete(ctx context.Context, table string, filters Filters, cfg QueryConfig) (int64, error) {
	preds, err := filters.Normalize()
	if err != nil {
		return 0, err
	}
	if len(preds) == 0 {
		return 0, errors.New(errors.KindValidation, "refusing unfiltered delete")
	}

	defer e.invalidate(table, cfg.CacheTags)

	start := time.Now()
	result, attempts, err := e.execute(ctx, cfg, func(callCtx context.Context) (interface{}, error) {
		return e.store.Delete(callCtx, table, preds)
	})
	e.recordQuery(table, "delete", start, attempts, err)
	if err != nil {
		return 0, errors.Wrapf(err, errors.KindDatabase, "delete from %s failed", table)
	}
	return result.(int64), nil
}

// execute runs fn with the configured timeout, retrying on failure with
// exponential backoff (2^attempt seconds). Returns the number of attempts
// made alongside the result.
func (e *Executor) execute(ctx context.Context, cfg QueryConfig, fn func(context.Context) (interface{}, error)) (interface{}, int, error) {
	retries := cfg.Retries
	if retries <= 0 {
		retries = defaultRetries
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * e.backoffUnit
			select {
			case <-ctx.Done():
				return nil, attempt, ctx.Err()
			case <-time.After(backoff):
			}
			e.logger.WithFields(logrus.Fields{
				"attempt": attempt + 1,
				"error":   lastErr,
			}).Warn("Retrying database operation")
		}

		callCtx, cancel := context.WithTimeout(ctx, timeout)
		result, err := fn(callCtx)
		cancel()
		if err == nil {
			return result, attempt + 1, nil
		}
		lastErr = err
	}
	return nil, retries, lastErr
}

// invalidate drops cached reads for the table and any caller-supplied tags.
// Runs regardless of write outcome.
func (e *Executor) invalidate(table string, tags []string) {
	if e.cache == nil {
		return
	}
	e.cache.InvalidateByTag("table:"+table, cacheNamespace)
	for _, tag := range tags {
		e.cache.InvalidateByTag(tag, cacheNamespace)
	}
}

func (e *Executor) recordQuery(table, operation string, start time.Time, attempts int, err error) {
	if e.metrics == nil {
		return
	}
	retries := attempts - 1
	if retries < 0 {
		retries = 0
	}
	e.metrics.Record(
		metrics.TypeDBQueryTime,
		fmt.Sprintf("%s %s", operation, table),
		float64(time.Since(start).Milliseconds()),
		"ms",
		map[string]string{
			"table":     table,
			"operation": operation,
			"success":   strconv.FormatBool(err == nil),
			"retries":   strconv.Itoa(retries),
		},
		nil,
	)
}

// deriveCacheKey hashes the full query shape so distinct queries never
// collide. Predicates arrive pre-sorted from Normalize.
func deriveCacheKey(table string, preds []Predicate, opts QueryOptions) string {
	payload, _ := json.Marshal(struct {
		Table string       `json:"table"`
		Preds []Predicate  `json:"preds"`
		Opts  QueryOptions `json:"opts"`
	}{table, preds, opts})
	return fmt.Sprintf("%x", md5.Sum(payload))
}
