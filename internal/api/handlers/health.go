package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/raisekit/opscore/internal/core/alerting"
)

// GetHealth returns a live health snapshot. Responses carry cache-busting
// headers so intermediaries never serve a stale picture.
func (h *Handlers) GetHealth(c *gin.Context) {
	c.Header("Cache-Control", "no-store, no-cache, must-revalidate")
	c.Header("Pragma", "no-cache")
	c.Header("Expires", "0")

	snapshot := h.Health.Snapshot()
	activeAlerts := h.Engine.Alerts(alerting.AlertFilter{Status: alerting.StatusActive})

	status := http.StatusOK
	if snapshot.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{
		"status":        snapshot.Status,
		"timestamp":     snapshot.Timestamp,
		"uptime":        snapshot.UptimeSeconds,
		"memory":        gin.H{"percent": snapshot.MemoryPercent, "used_mb": snapshot.MemoryUsedMB},
		"cpu":           gin.H{"percent": snapshot.CPUPercent},
		"active_alerts": len(activeAlerts),
		"cache":         h.Cache.Stats(),
		"metrics":       gin.H{"samples": h.Metrics.Len()},
	})
}
