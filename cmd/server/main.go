package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/raisekit/opscore/internal/api"
	"github.com/raisekit/opscore/internal/api/handlers"
	"github.com/raisekit/opscore/internal/config"
	"github.com/raisekit/opscore/internal/core/alerting"
	"github.com/raisekit/opscore/internal/core/backup"
	"github.com/raisekit/opscore/internal/core/cache"
	"github.com/raisekit/opscore/internal/core/dbopt"
	"github.com/raisekit/opscore/internal/core/metrics"
	"github.com/raisekit/opscore/internal/core/system"
	apperrors "github.com/raisekit/opscore/pkg/errors"
	"github.com/raisekit/opscore/pkg/logger"
)

func main() {
	log := logger.New()

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}
	logger.SetLevel(log, cfg.Logging.Level)

	log.WithFields(map[string]interface{}{
		"port": cfg.Server.Port,
		"mode": cfg.Server.Mode,
	}).Info("Starting opscore")

	// Metric store with the Prometheus exporter and threshold evaluator
	// attached as observers. Every recorded sample flows through both.
	store := metrics.NewStore(
		cfg.Metrics.MaxSamples,
		config.Duration(cfg.Metrics.Retention, 24*time.Hour),
		config.Duration(cfg.Metrics.SweepInterval, time.Hour),
		log,
	)

	registry := prometheus.NewRegistry()
	exporter := metrics.NewPrometheusExporter(registry)
	store.AddObserver(exporter.Observe)

	engine := alerting.NewEngine(log)
	engine.RegisterSender(alerting.ChannelWebhook, alerting.NewWebhookSender(10*time.Second))
	engine.RegisterSender(alerting.ChannelSlack, alerting.NewWebhookSender(10*time.Second))
	engine.RegisterSender(alerting.ChannelDiscord, alerting.NewWebhookSender(10*time.Second))
	engine.RegisterSender(alerting.ChannelTeams, alerting.NewWebhookSender(10*time.Second))
	engine.RegisterSender(alerting.ChannelEmail, alerting.NewLogSender(log))
	engine.RegisterSender(alerting.ChannelSMS, alerting.NewLogSender(log))
	engine.RegisterSender(alerting.ChannelPush, alerting.NewLogSender(log))

	evaluator := alerting.NewEvaluator(engine, log)
	if cfg.Alerting.Enabled {
		store.AddObserver(evaluator.Check)
		if seeds, err := alerting.LoadSeeds(cfg.Alerting.SeedsPath); err == nil {
			seeds.Apply(engine, evaluator)
			log.WithField("path", cfg.Alerting.SeedsPath).Info("Loaded alerting seeds")
		} else {
			log.WithError(err).Debug("No alerting seed file, using defaults")
			alerting.SeedDefaults(engine, evaluator, log)
		}
	}

	cacheSvc := cache.NewService(
		cfg.Cache.MaxSize,
		config.Duration(cfg.Cache.DefaultTTL, 5*time.Minute),
		cache.Strategy(cfg.Cache.Strategy),
		config.Duration(cfg.Cache.SweepInterval, time.Minute),
		log,
	)

	sqlStore, err := dbopt.NewSQLStore(cfg.Database.Path, cfg.Database.MaxConnections)
	if err != nil {
		log.WithError(err).Fatal("Failed to open database")
	}
	executor := dbopt.NewExecutor(sqlStore, cacheSvc, store, log)

	scheduler, err := buildBackupScheduler(cfg, sqlStore, store, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize backups")
	}

	health := system.NewMonitor(store, log)

	store.Start()
	cacheSvc.Start()
	health.Start(30 * time.Second)
	if scheduler != nil {
		scheduler.Start()
	}

	h := handlers.New(store, engine, evaluator, cacheSvc, executor, scheduler, health, log)
	router := api.NewRouter(h, registry, cfg.Server.Mode, log)

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.WithField("addr", server.Addr).Info("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Error("Forced server shutdown")
	}

	if scheduler != nil {
		scheduler.Stop()
	}
	health.Stop()
	cacheSvc.Stop()
	store.Stop()
	if err := sqlStore.Close(); err != nil {
		log.WithError(err).Error("Failed to close database")
	}

	log.Info("Shutdown complete")
}

// buildBackupScheduler assembles storage, drivers, and the default
// schedule. Returns nil when backups are disabled.
func buildBackupScheduler(cfg *config.Config, sqlStore *dbopt.SQLStore, store *metrics.Store, log *logrus.Logger) (*backup.Scheduler, error) {
	if !cfg.Backup.Enabled {
		return nil, nil
	}

	var storage backup.Storage
	switch cfg.Backup.Storage.Provider {
	case "s3":
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background())
		if err != nil {
			return nil, err
		}
		storage = backup.NewS3Storage(s3.NewFromConfig(awsCfg), cfg.Backup.Storage.Bucket, cfg.Backup.Storage.Prefix)
	case "gcs", "azure":
		return nil, apperrors.New(apperrors.KindExternalService,
			fmt.Sprintf("backup storage provider %s is not supported", cfg.Backup.Storage.Provider))
	default:
		local, err := backup.NewLocalStorage(cfg.Backup.Storage.Path)
		if err != nil {
			return nil, err
		}
		storage = local
	}

	var key []byte
	if cfg.Backup.EncryptionKey != "" {
		key = backup.DeriveKey(cfg.Backup.EncryptionKey)
	}

	scheduler := backup.NewScheduler(storage, key, store, log)
	provider := cfg.Backup.Storage.Provider
	if provider == "" {
		provider = "local"
	}
	scheduler.RegisterStorage(provider, storage)

	dbDriver := backup.NewSQLiteDriver(sqlStore.DB(), cfg.Database.Path)
	filesDriver := backup.NewFilesDriver(cfg.Backup.Storage.Path + "/restore")
	scheduler.RegisterDriver(backup.TypeDatabase, dbDriver)
	scheduler.RegisterDriver(backup.TypeFiles, filesDriver)
	scheduler.RegisterDriver(backup.TypeConfiguration, filesDriver)
	scheduler.RegisterDriver(backup.TypeIncremental, filesDriver)
	scheduler.RegisterDriver(backup.TypeFull, backup.NewFullDriver(dbDriver, filesDriver))

	scheduler.SeedDefaults([]string{cfg.Backup.DataPath}, []string{cfg.Backup.ConfigPath})
	return scheduler, nil
}
