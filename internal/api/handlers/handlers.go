package handlers

import (
	"github.com/sirupsen/logrus"

	"github.com/raisekit/opscore/internal/core/alerting"
	"github.com/raisekit/opscore/internal/core/backup"
	"github.com/raisekit/opscore/internal/core/cache"
	"github.com/raisekit/opscore/internal/core/dbopt"
	"github.com/raisekit/opscore/internal/core/metrics"
	"github.com/raisekit/opscore/internal/core/system"
)

// Handlers bundles the core services behind the HTTP surface.
type Handlers struct {
	Metrics   *metrics.Store
	Engine    *alerting.Engine
	Evaluator *alerting.Evaluator
	Cache     *cache.Service
	Executor  *dbopt.Executor
	Backups   *backup.Scheduler
	Health    *system.Monitor
	Logger    *logrus.Logger
}

// New creates the handler set.
func New(
	metricStore *metrics.Store,
	engine *alerting.Engine,
	evaluator *alerting.Evaluator,
	cacheSvc *cache.Service,
	executor *dbopt.Executor,
	backups *backup.Scheduler,
	health *system.Monitor,
	logger *logrus.Logger,
) *Handlers {
	return &Handlers{
		Metrics:   metricStore,
		Engine:    engine,
		Evaluator: evaluator,
		Cache:     cacheSvc,
		Executor:  executor,
		Backups:   backups,
		Health:    health,
		Logger:    logger,
	}
}
