package backup

import "time"

// Type identifies what a backup config captures.
type Type string

const (
	TypeDatabase      Type = "database"
	TypeFiles         Type = "files"
	TypeConfiguration Type = "configuration"
	TypeFull          Type = "full"
	TypeIncremental   Type = "incremental"
)

// JobStatus tracks a backup job through its lifecycle.
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
)

// RetentionPolicy bounds how long and how many backups a config keeps.
// Zero values disable the respective limit.
type RetentionPolicy struct {
	Days       int `json:"days" yaml:"days"`
	MaxBackups int `json:"max_backups" yaml:"max_backups"`
}

// Config describes a recurring backup. Schedule is a standard five-field
// cron expression evaluated against local time.
type Config struct {
	ID          string          `json:"id" yaml:"id"`
	Name        string          `json:"name" yaml:"name"`
	Type        Type            `json:"type" yaml:"type"`
	Schedule    string          `json:"schedule" yaml:"schedule"`
	Enabled     bool            `json:"enabled" yaml:"enabled"`
	Compression bool            `json:"compression" yaml:"compression"`
	Encryption  bool            `json:"encryption" yaml:"encryption"`
	Retention   RetentionPolicy `json:"retention" yaml:"retention"`
	Storage     StorageSpec     `json:"storage,omitempty" yaml:"storage,omitempty"`
	// Targets are driver-specific: directories for file backups, unused
	// for database backups.
	Targets []string `json:"targets,omitempty" yaml:"targets,omitempty"`
}

// StorageSpec selects the storage backend for a config's artifacts. An
// empty provider uses the scheduler's default backend.
type StorageSpec struct {
	Provider string            `json:"provider,omitempty" yaml:"provider,omitempty"`
	Config   map[string]string `json:"config,omitempty" yaml:"config,omitempty"`
}

// Job is one execution of a backup config.
type Job struct {
	ID          string     `json:"id"`
	ConfigID    string     `json:"config_id"`
	Type        Type       `json:"type"`
	Status      JobStatus  `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	SizeBytes   int64      `json:"size_bytes"`
	Location    string     `json:"location,omitempty"`
	Checksum    string     `json:"checksum,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Restore records one restore of a completed job, mirroring the job
// lifecycle.
type Restore struct {
	ID          string     `json:"id"`
	JobID       string     `json:"job_id"`
	Status      JobStatus  `json:"status"`
	Target      string     `json:"target,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}
