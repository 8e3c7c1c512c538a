package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/raisekit/opscore/internal/core/dbopt"
	"github.com/raisekit/opscore/pkg/utils"
)

type queryRequest struct {
	Table    string             `json:"table" binding:"required"`
	Filters  dbopt.Filters      `json:"filters"`
	Options  dbopt.QueryOptions `json:"options"`
	UseCache bool               `json:"use_cache"`
	CacheTTL string             `json:"cache_ttl"`
	Retries  int                `json:"retries"`
	Timeout  string             `json:"timeout"`
}

// Query runs a cached read through the query executor. Write operations
// are not exposed over HTTP.
func (h *Handlers) Query(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendError(c, http.StatusBadRequest, "invalid query payload: "+err.Error())
		return
	}

	cfg := dbopt.QueryConfig{
		UseCache: req.UseCache,
		Retries:  req.Retries,
	}
	if req.CacheTTL != "" {
		if d, err := time.ParseDuration(req.CacheTTL); err == nil {
			cfg.CacheTTL = d
		}
	}
	if req.Timeout != "" {
		if d, err := time.ParseDuration(req.Timeout); err == nil {
			cfg.Timeout = d
		}
	}

	rows, err := h.Executor.Select(c.Request.Context(), req.Table, req.Filters, req.Options, cfg)
	if err != nil {
		utils.SendAppError(c, err)
		return
	}
	utils.SendSuccessWithMeta(c, rows, gin.H{"count": len(rows)})
}
