package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/raisekit/opscore/internal/core/alerting"
	"github.com/raisekit/opscore/internal/core/metrics"
	"github.com/raisekit/opscore/pkg/utils"
)

// GetAlerts lists alerts, filterable by status, severity, and type.
func (h *Handlers) GetAlerts(c *gin.Context) {
	filter := alerting.AlertFilter{
		Status:   alerting.Status(c.Query("status")),
		Severity: alerting.Severity(c.Query("severity")),
		Type:     alerting.AlertType(c.Query("type")),
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			utils.SendError(c, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}

	alerts := h.Engine.Alerts(filter)
	utils.SendSuccessWithMeta(c, alerts, gin.H{"count": len(alerts)})
}

// GetAlert returns one alert by ID.
func (h *Handlers) GetAlert(c *gin.Context) {
	alert, ok := h.Engine.Alert(c.Param("id"))
	if !ok {
		utils.SendError(c, http.StatusNotFound, "alert not found")
		return
	}
	utils.SendSuccess(c, alert)
}

// AcknowledgeAlert moves an active alert to acknowledged.
func (h *Handlers) AcknowledgeAlert(c *gin.Context) {
	if err := h.Engine.Acknowledge(c.Param("id")); err != nil {
		utils.SendAppError(c, err)
		return
	}
	utils.SendSuccess(c, gin.H{"status": alerting.StatusAcknowledged})
}

// ResolveAlert moves an active or acknowledged alert to resolved.
func (h *Handlers) ResolveAlert(c *gin.Context) {
	if err := h.Engine.Resolve(c.Param("id")); err != nil {
		utils.SendAppError(c, err)
		return
	}
	utils.SendSuccess(c, gin.H{"status": alerting.StatusResolved})
}

// SuppressAlert silences an alert without resolving it.
func (h *Handlers) SuppressAlert(c *gin.Context) {
	if err := h.Engine.Suppress(c.Param("id")); err != nil {
		utils.SendAppError(c, err)
		return
	}
	utils.SendSuccess(c, gin.H{"status": alerting.StatusSuppressed})
}

// GetThresholds returns the evaluator's threshold table.
func (h *Handlers) GetThresholds(c *gin.Context) {
	utils.SendSuccess(c, h.Evaluator.Thresholds())
}

type setThresholdRequest struct {
	Type      metrics.Type       `json:"type" binding:"required"`
	Threshold alerting.Threshold `json:"threshold" binding:"required"`
}

// SetThreshold upserts a threshold for one metric type.
func (h *Handlers) SetThreshold(c *gin.Context) {
	var req setThresholdRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendError(c, http.StatusBadRequest, "invalid threshold payload: "+err.Error())
		return
	}
	h.Evaluator.SetThreshold(req.Type, req.Threshold)
	utils.SendSuccess(c, gin.H{"type": req.Type, "threshold": req.Threshold})
}

// GetRules lists alert rules.
func (h *Handlers) GetRules(c *gin.Context) {
	utils.SendSuccess(c, h.Engine.Rules())
}

// SetRule upserts an alert rule.
func (h *Handlers) SetRule(c *gin.Context) {
	var rule alerting.Rule
	if err := c.ShouldBindJSON(&rule); err != nil {
		utils.SendError(c, http.StatusBadRequest, "invalid rule payload: "+err.Error())
		return
	}
	if rule.ID == "" {
		utils.SendError(c, http.StatusBadRequest, "rule requires an id")
		return
	}
	h.Engine.SetRule(&rule)
	utils.SendSuccess(c, rule)
}

// DeleteRule removes a rule by ID.
func (h *Handlers) DeleteRule(c *gin.Context) {
	h.Engine.RemoveRule(c.Param("id"))
	utils.SendSuccess(c, gin.H{"deleted": c.Param("id")})
}

// GetChannels lists notification channels.
func (h *Handlers) GetChannels(c *gin.Context) {
	utils.SendSuccess(c, h.Engine.Channels())
}

// SetChannel upserts a notification channel.
func (h *Handlers) SetChannel(c *gin.Context) {
	var channel alerting.Channel
	if err := c.ShouldBindJSON(&channel); err != nil {
		utils.SendError(c, http.StatusBadRequest, "invalid channel payload: "+err.Error())
		return
	}
	if channel.ID == "" {
		utils.SendError(c, http.StatusBadRequest, "channel requires an id")
		return
	}
	h.Engine.SetChannel(&channel)
	utils.SendSuccess(c, channel)
}

type testChannelRequest struct {
	Message string `json:"message"`
}

// TestChannel sends a test message through a channel. Test sends bypass the
// channel's rate-limit budget.
func (h *Handlers) TestChannel(c *gin.Context) {
	var req testChannelRequest
	_ = c.ShouldBindJSON(&req)
	if req.Message == "" {
		req.Message = "Test notification"
	}

	ok := h.Engine.TestChannel(c.Request.Context(), c.Param("id"), req.Message)
	utils.SendSuccess(c, gin.H{"delivered": ok})
}

// GetNotifications lists the notification delivery log.
func (h *Handlers) GetNotifications(c *gin.Context) {
	utils.SendSuccess(c, h.Engine.Notifications())
}
