package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/raisekit/opscore/internal/core/metrics"
	"github.com/raisekit/opscore/pkg/utils"
)

// GetMetrics returns raw samples matching the query parameters.
func (h *Handlers) GetMetrics(c *gin.Context) {
	filter := metrics.Filter{
		Type: metrics.Type(c.Query("type")),
		Name: c.Query("name"),
	}
	if v := c.Query("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			utils.SendError(c, http.StatusBadRequest, "start must be RFC3339")
			return
		}
		filter.StartTime = t
	}
	if v := c.Query("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			utils.SendError(c, http.StatusBadRequest, "end must be RFC3339")
			return
		}
		filter.EndTime = t
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			utils.SendError(c, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}

	samples := h.Metrics.Query(filter)
	utils.SendSuccessWithMeta(c, samples, gin.H{"count": len(samples)})
}

type recordMetricRequest struct {
	Type     metrics.Type           `json:"type" binding:"required"`
	Name     string                 `json:"name" binding:"required"`
	Value    float64                `json:"value"`
	Unit     string                 `json:"unit"`
	Tags     map[string]string      `json:"tags"`
	Metadata map[string]interface{} `json:"metadata"`
}

// RecordMetric ingests one sample. Threshold evaluation runs synchronously
// through the store's observers before the response is written.
func (h *Handlers) RecordMetric(c *gin.Context) {
	var req recordMetricRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendError(c, http.StatusBadRequest, "invalid metric payload: "+err.Error())
		return
	}

	sample := h.Metrics.Record(req.Type, req.Name, req.Value, req.Unit, req.Tags, req.Metadata)
	utils.SendSuccess(c, sample)
}

// GetMetricsReport returns per-type aggregates for a period.
func (h *Handlers) GetMetricsReport(c *gin.Context) {
	period := c.DefaultQuery("period", "1h")
	utils.SendSuccess(c, gin.H{
		"period":     period,
		"aggregates": h.Metrics.Aggregate(period),
		"samples":    h.Metrics.Len(),
	})
}
