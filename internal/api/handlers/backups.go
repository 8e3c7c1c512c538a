package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/raisekit/opscore/internal/core/backup"
	"github.com/raisekit/opscore/pkg/utils"
)

// backups rejects the request when the scheduler is not enabled.
func (h *Handlers) backups(c *gin.Context) (*backup.Scheduler, bool) {
	if h.Backups == nil {
		utils.SendError(c, http.StatusServiceUnavailable, "backups are disabled")
		return nil, false
	}
	return h.Backups, true
}

// GetBackupConfigs lists backup configurations.
func (h *Handlers) GetBackupConfigs(c *gin.Context) {
	sched, ok := h.backups(c)
	if !ok {
		return
	}
	utils.SendSuccess(c, sched.Configs())
}

// SetBackupConfig validates and upserts a backup configuration.
func (h *Handlers) SetBackupConfig(c *gin.Context) {
	sched, ok := h.backups(c)
	if !ok {
		return
	}
	var cfg backup.Config
	if err := c.ShouldBindJSON(&cfg); err != nil {
		utils.SendError(c, http.StatusBadRequest, "invalid backup config: "+err.Error())
		return
	}
	if err := sched.SetConfig(&cfg); err != nil {
		utils.SendAppError(c, err)
		return
	}
	utils.SendSuccess(c, cfg)
}

// DeleteBackupConfig removes a backup configuration; past jobs survive.
func (h *Handlers) DeleteBackupConfig(c *gin.Context) {
	sched, ok := h.backups(c)
	if !ok {
		return
	}
	if !sched.RemoveConfig(c.Param("id")) {
		utils.SendError(c, http.StatusNotFound, "backup config not found")
		return
	}
	utils.SendSuccess(c, gin.H{"deleted": c.Param("id")})
}

type runBackupRequest struct {
	ConfigID string `json:"config_id" binding:"required"`
	Type     string `json:"type"`
}

// RunBackup triggers an on-demand backup for a config, optionally overriding
// the backup type. The pipeline runs in the background; poll the returned
// job's ID for completion.
func (h *Handlers) RunBackup(c *gin.Context) {
	sched, ok := h.backups(c)
	if !ok {
		return
	}
	var req runBackupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendError(c, http.StatusBadRequest, "invalid backup request: "+err.Error())
		return
	}

	job, err := sched.CreateBackup(req.ConfigID, backup.Type(req.Type))
	if err != nil {
		utils.SendAppError(c, err)
		return
	}
	utils.SendSuccess(c, job)
}

// GetBackupJobs lists backup jobs, newest first.
func (h *Handlers) GetBackupJobs(c *gin.Context) {
	sched, ok := h.backups(c)
	if !ok {
		return
	}
	utils.SendSuccess(c, sched.Jobs())
}

// GetBackupJob returns one job by ID.
func (h *Handlers) GetBackupJob(c *gin.Context) {
	sched, ok := h.backups(c)
	if !ok {
		return
	}
	job, found := sched.Job(c.Param("id"))
	if !found {
		utils.SendError(c, http.StatusNotFound, "backup job not found")
		return
	}
	utils.SendSuccess(c, job)
}

type restoreBackupRequest struct {
	Target string `json:"target"`
}

// RestoreBackup restores a completed job's artifact, optionally to an
// alternate target location.
func (h *Handlers) RestoreBackup(c *gin.Context) {
	sched, ok := h.backups(c)
	if !ok {
		return
	}
	var req restoreBackupRequest
	_ = c.ShouldBindJSON(&req)

	if err := sched.RestoreBackup(c.Request.Context(), c.Param("id"), req.Target); err != nil {
		utils.SendAppError(c, err)
		return
	}
	utils.SendSuccess(c, gin.H{"restored": c.Param("id")})
}

// GetBackupRestores lists restore records, newest first.
func (h *Handlers) GetBackupRestores(c *gin.Context) {
	sched, ok := h.backups(c)
	if !ok {
		return
	}
	utils.SendSuccess(c, sched.Restores())
}

// DeleteBackupJob removes a job record and its stored artifact.
func (h *Handlers) DeleteBackupJob(c *gin.Context) {
	sched, ok := h.backups(c)
	if !ok {
		return
	}
	if err := sched.DeleteBackup(c.Request.Context(), c.Param("id")); err != nil {
		utils.SendAppError(c, err)
		return
	}
	utils.SendSuccess(c, gin.H{"deleted": c.Param("id")})
}
