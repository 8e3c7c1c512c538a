package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/raisekit/opscore/pkg/utils"
)

// GetCacheStats returns hit/miss counters and namespace sizes.
func (h *Handlers) GetCacheStats(c *gin.Context) {
	utils.SendSuccess(c, h.Cache.Stats())
}

// ClearCache flushes a namespace, or the whole cache without one.
func (h *Handlers) ClearCache(c *gin.Context) {
	removed := h.Cache.Clear(c.Query("namespace"))
	utils.SendSuccess(c, gin.H{"removed": removed})
}

type invalidateCacheRequest struct {
	Tag       string `json:"tag" binding:"required"`
	Namespace string `json:"namespace"`
}

// InvalidateCache drops entries by tag, optionally scoped to a namespace.
func (h *Handlers) InvalidateCache(c *gin.Context) {
	var req invalidateCacheRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendError(c, http.StatusBadRequest, "invalid invalidation payload: "+err.Error())
		return
	}
	removed := h.Cache.InvalidateByTag(req.Tag, req.Namespace)
	utils.SendSuccess(c, gin.H{"removed": removed})
}
