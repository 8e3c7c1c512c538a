package api

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/raisekit/opscore/internal/api/handlers"
)

// NewRouter builds the HTTP surface: health, Prometheus scrape endpoint,
// and the versioned inspection API.
func NewRouter(h *handlers.Handlers, registry *prometheus.Registry, mode string, logger *logrus.Logger) *gin.Engine {
	if mode != "" {
		gin.SetMode(mode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/health", h.GetHealth)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/metrics", h.GetMetrics)
		v1.POST("/metrics", h.RecordMetric)
		v1.GET("/metrics/report", h.GetMetricsReport)

		v1.POST("/query", h.Query)

		v1.GET("/alerts", h.GetAlerts)
		v1.GET("/alerts/:id", h.GetAlert)
		v1.POST("/alerts/:id/acknowledge", h.AcknowledgeAlert)
		v1.POST("/alerts/:id/resolve", h.ResolveAlert)
		v1.POST("/alerts/:id/suppress", h.SuppressAlert)

		v1.GET("/alerts/thresholds", h.GetThresholds)
		v1.PUT("/alerts/thresholds", h.SetThreshold)

		v1.GET("/alerts/rules", h.GetRules)
		v1.PUT("/alerts/rules", h.SetRule)
		v1.DELETE("/alerts/rules/:id", h.DeleteRule)

		v1.GET("/alerts/channels", h.GetChannels)
		v1.PUT("/alerts/channels", h.SetChannel)
		v1.POST("/alerts/channels/:id/test", h.TestChannel)
		v1.GET("/alerts/notifications", h.GetNotifications)

		v1.GET("/cache/stats", h.GetCacheStats)
		v1.POST("/cache/clear", h.ClearCache)
		v1.POST("/cache/invalidate", h.InvalidateCache)

		v1.GET("/backups", h.GetBackupJobs)
		v1.POST("/backups", h.RunBackup)
		v1.GET("/backups/restores", h.GetBackupRestores)
		v1.GET("/backups/:id", h.GetBackupJob)
		v1.POST("/backups/:id/restore", h.RestoreBackup)
		v1.DELETE("/backups/:id", h.DeleteBackupJob)

		v1.GET("/backups/configs", h.GetBackupConfigs)
		v1.PUT("/backups/configs", h.SetBackupConfig)
		v1.DELETE("/backups/configs/:id", h.DeleteBackupConfig)
	}

	return router
}

// requestLogger logs each request with latency and status.
func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
			"client":  c.ClientIP(),
		}).Debug("Request handled")
	}
}
