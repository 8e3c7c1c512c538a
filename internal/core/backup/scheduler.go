package backup

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/raisekit/opscore/internal/core/metrics"
	"github.com/raisekit/opscore/pkg/errors"
)

// scheduleTolerance is how far either side of a cron fire time the minute
// tick may land and still count as due.
const scheduleTolerance = time.Minute

// Scheduler owns backup configs, runs them on their cron schedules, applies
// retention, and serves on-demand backup and restore requests.
type Scheduler struct {
	mu       sync.RWMutex
	configs  map[string]*Config
	jobs     map[string]*Job
	restores map[string]*Restore
	lastRun  map[string]string // config ID -> YYYY-MM-DD of last trigger
	drivers  map[Type]Driver
	storage  Storage
	storages map[string]Storage
	key      []byte
	metrics  *metrics.Store
	logger   *logrus.Logger
	parser   cron.Parser
	tick     time.Duration
	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewScheduler creates a scheduler. encryptionKey may be nil, in which case
// configs requesting encryption fail at run time.
func NewScheduler(storage Storage, encryptionKey []byte, metricStore *metrics.Store, logger *logrus.Logger) *Scheduler {
	return &Scheduler{
		configs:  make(map[string]*Config),
		jobs:     make(map[string]*Job),
		restores: make(map[string]*Restore),
		lastRun:  make(map[string]string),
		drivers:  make(map[Type]Driver),
		storage:  storage,
		storages: make(map[string]Storage),
		key:      encryptionKey,
		metrics:  metricStore,
		logger:   logger,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		tick:     time.Minute,
		stopCh:   make(chan struct{}),
	}
}

// RegisterDriver installs the driver for a backup type. The incremental
// type reuses the files driver when no dedicated one is registered.
func (s *Scheduler) RegisterDriver(typ Type, driver Driver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drivers[typ] = driver
}

// RegisterStorage installs a named storage backend that configs can select
// via their storage.provider field.
func (s *Scheduler) RegisterStorage(provider string, storage Storage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.storages[provider] = storage
}

// storageForLocked resolves a config's storage backend. Caller holds s.mu.
func (s *Scheduler) storageForLocked(cfg *Config) Storage {
	if cfg != nil && cfg.Storage.Provider != "" {
		if storage, ok := s.storages[cfg.Storage.Provider]; ok {
			return storage
		}
	}
	return s.storage
}

func (s *Scheduler) storageFor(cfg *Config) Storage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.storageForLocked(cfg)
}

// SetConfig validates and upserts a backup config.
func (s *Scheduler) SetConfig(cfg *Config) error {
	if cfg.ID == "" {
		return errors.New(errors.KindValidation, "backup config requires an id")
	}
	if _, err := s.parser.Parse(cfg.Schedule); err != nil {
		return errors.Wrapf(err, errors.KindValidation, "invalid schedule %q", cfg.Schedule)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.drivers[cfg.Type]; !ok {
		return errors.New(errors.KindValidation, fmt.Sprintf("no driver registered for backup type %s", cfg.Type))
	}
	if cfg.Storage.Provider != "" {
		if _, ok := s.storages[cfg.Storage.Provider]; !ok {
			return errors.New(errors.KindValidation, fmt.Sprintf("no storage registered for provider %s", cfg.Storage.Provider))
		}
	}
	s.configs[cfg.ID] = cfg
	return nil
}

// RemoveConfig deletes a config. Its past jobs are kept.
func (s *Scheduler) RemoveConfig(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.configs[id]
	delete(s.configs, id)
	return ok
}

// Configs lists configs ordered by ID.
func (s *Scheduler) Configs() []*Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Config, 0, len(s.configs))
	for _, cfg := range s.configs {
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Jobs lists job snapshots newest-first.
func (s *Scheduler) Jobs() []*Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		cp := *job
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// Job returns a snapshot of one job by ID.
func (s *Scheduler) Job(id string) (*Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, false
	}
	cp := *job
	return &cp, true
}

// CreateBackup creates a pending job for the config and starts its pipeline
// in the background: dump, compress, encrypt, checksum, upload, then
// retention cleanup. An empty override uses the config's own type. The
// returned job is a pending snapshot; poll Job for completion.
func (s *Scheduler) CreateBackup(configID string, override Type) (*Job, error) {
	s.mu.Lock()
	cfg, ok := s.configs[configID]
	if !ok {
		s.mu.Unlock()
		return nil, errors.New(errors.KindNotFound, fmt.Sprintf("backup config %s not found", configID))
	}
	if !cfg.Enabled {
		s.mu.Unlock()
		return nil, errors.New(errors.KindValidation, fmt.Sprintf("backup config %s is disabled", configID))
	}
	typ := cfg.Type
	if override != "" {
		typ = override
	}
	driver, ok := s.drivers[typ]
	if !ok {
		s.mu.Unlock()
		return nil, errors.New(errors.KindValidation, fmt.Sprintf("no driver registered for backup type %s", typ))
	}
	since := s.lastCompletedLocked(configID)

	job := &Job{
		ID:        uuid.New().String(),
		ConfigID:  cfg.ID,
		Type:      typ,
		Status:    StatusPending,
		StartedAt: time.Now(),
	}
	s.jobs[job.ID] = job
	snapshot := *job
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"job_id": job.ID,
		"config": cfg.ID,
		"type":   typ,
	}).Info("Backup started")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.execute(context.Background(), cfg, driver, job, since)
	}()

	return &snapshot, nil
}

// execute drives one job through the pipeline and applies retention.
func (s *Scheduler) execute(ctx context.Context, cfg *Config, driver Driver, job *Job, since time.Time) {
	s.setStatus(job, StatusRunning, "")
	start := time.Now()
	location, checksum, size, err := s.run(ctx, cfg, driver, job, since)
	duration := time.Since(start)

	s.mu.Lock()
	job.Location = location
	job.Checksum = checksum
	job.SizeBytes = size
	s.mu.Unlock()

	if err != nil {
		s.setStatus(job, StatusFailed, err.Error())
		s.logger.WithError(err).WithField("job_id", job.ID).Error("Backup failed")
	} else {
		s.setStatus(job, StatusCompleted, "")
		s.logger.WithFields(logrus.Fields{
			"job_id":   job.ID,
			"size":     size,
			"location": location,
			"duration": duration.String(),
		}).Info("Backup completed")
	}

	if s.metrics != nil {
		s.metrics.Record(metrics.TypeResponseTime, "backup "+string(job.Type),
			float64(duration.Milliseconds()), "ms",
			map[string]string{
				"config":  cfg.ID,
				"success": fmt.Sprintf("%t", err == nil),
			}, nil)
	}

	s.applyRetention(ctx, cfg)
}

// run executes the pipeline body and returns the artifact's location,
// checksum, and size.
func (s *Scheduler) run(ctx context.Context, cfg *Config, driver Driver, job *Job, since time.Time) (string, string, int64, error) {
	var (
		data []byte
		err  error
	)
	if job.Type == TypeIncremental {
		files, ok := driver.(*FilesDriver)
		if !ok {
			return "", "", 0, errors.New(errors.KindValidation, "incremental backups require the files driver")
		}
		data, err = files.DumpSince(ctx, cfg, since)
	} else {
		data, err = driver.Dump(ctx, cfg)
	}
	if err != nil {
		return "", "", 0, err
	}

	// Job ID prefix keeps names unique even for runs within the same second.
	name := fmt.Sprintf("%s-%s-%s-%s", job.Type, cfg.ID, job.StartedAt.Format("20060102-150405"), job.ID[:8])
	if cfg.Compression {
		if data, err = gzipCompress(data); err != nil {
			return "", "", 0, err
		}
		name += ".gz"
	}
	if cfg.Encryption {
		if len(s.key) == 0 {
			return "", "", 0, errors.New(errors.KindValidation, "encryption requested but no key configured")
		}
		if data, err = encrypt(s.key, data); err != nil {
			return "", "", 0, err
		}
		name += ".enc"
	}

	checksum := fmt.Sprintf("%x", sha256.Sum256(data))
	size := int64(len(data))

	location, err := s.storageFor(cfg).Put(ctx, name, data)
	if err != nil {
		return "", "", 0, err
	}
	return location, checksum, size, nil
}

// RestoreBackup fetches a completed job's artifact, verifies its checksum,
// reverses the encrypt/compress stages by location suffix, and hands the
// payload to the job type's driver. An empty target uses the driver's
// default restore location. Each attempt is tracked as a Restore record.
func (s *Scheduler) RestoreBackup(ctx context.Context, jobID, target string) error {
	s.mu.RLock()
	var job Job
	stored, ok := s.jobs[jobID]
	var cfg *Config
	var driver Driver
	if ok {
		job = *stored
		cfg = s.configs[job.ConfigID]
		driver = s.drivers[job.Type]
	}
	s.mu.RUnlock()

	if !ok {
		return errors.New(errors.KindNotFound, fmt.Sprintf("backup job %s not found", jobID))
	}
	if job.Status != StatusCompleted {
		return errors.New(errors.KindConflict, fmt.Sprintf("backup job %s is %s, not completed", jobID, job.Status))
	}
	if cfg == nil || driver == nil {
		return errors.New(errors.KindConflict, fmt.Sprintf("config for job %s no longer exists", jobID))
	}

	record := &Restore{
		ID:        uuid.New().String(),
		JobID:     jobID,
		Status:    StatusRunning,
		Target:    target,
		StartedAt: time.Now(),
	}
	s.mu.Lock()
	s.restores[record.ID] = record
	s.mu.Unlock()

	err := s.restore(ctx, &job, cfg, driver, target)

	s.mu.Lock()
	now := time.Now()
	record.CompletedAt = &now
	if err != nil {
		record.Status = StatusFailed
		record.Error = err.Error()
	} else {
		record.Status = StatusCompleted
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.WithError(err).WithField("job_id", jobID).Error("Restore failed")
		return err
	}
	s.logger.WithFields(logrus.Fields{
		"job_id": jobID,
		"config": cfg.ID,
	}).Info("Backup restored")
	return nil
}

func (s *Scheduler) restore(ctx context.Context, job *Job, cfg *Config, driver Driver, target string) error {
	data, err := s.storageFor(cfg).Get(ctx, job.Location)
	if err != nil {
		return err
	}
	if sum := fmt.Sprintf("%x", sha256.Sum256(data)); sum != job.Checksum {
		return errors.New(errors.KindValidation, "backup checksum mismatch, artifact corrupted")
	}

	location := job.Location
	if strings.HasSuffix(location, ".enc") {
		if data, err = decrypt(s.key, data); err != nil {
			return err
		}
		location = strings.TrimSuffix(location, ".enc")
	}
	if strings.HasSuffix(location, ".gz") {
		if data, err = gzipDecompress(data); err != nil {
			return err
		}
	}

	return driver.Restore(ctx, cfg, target, data)
}

// Restores lists restore record snapshots newest-first.
func (s *Scheduler) Restores() []*Restore {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Restore, 0, len(s.restores))
	for _, record := range s.restores {
		cp := *record
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// DeleteBackup removes a job's artifact and record. In-flight jobs cannot
// be deleted.
func (s *Scheduler) DeleteBackup(ctx context.Context, jobID string) error {
	s.mu.Lock()
	job, ok := s.jobs[jobID]
	if ok && (job.Status == StatusPending || job.Status == StatusRunning) {
		s.mu.Unlock()
		return errors.New(errors.KindConflict, fmt.Sprintf("backup job %s is still %s", jobID, job.Status))
	}
	var location string
	var storage Storage
	if ok {
		location = job.Location
		storage = s.storageForLocked(s.configs[job.ConfigID])
		delete(s.jobs, jobID)
	}
	s.mu.Unlock()

	if !ok {
		return errors.New(errors.KindNotFound, fmt.Sprintf("backup job %s not found", jobID))
	}
	if location != "" {
		return storage.Delete(ctx, location)
	}
	return nil
}

// Start launches the minute tick that fires due schedules.
func (s *Scheduler) Start() {
	go func() {
		ticker := time.NewTicker(s.tick)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case now := <-ticker.C:
				s.runDue(now)
			}
		}
	}()
}

// Stop halts the schedule tick and waits for in-flight jobs. Safe to call
// more than once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// runDue fires every enabled config whose cron schedule lands within the
// tolerance window around now, at most once per config per day.
func (s *Scheduler) runDue(now time.Time) {
	day := now.Format("2006-01-02")

	s.mu.Lock()
	due := make([]string, 0)
	for id, cfg := range s.configs {
		if !cfg.Enabled || s.lastRun[id] == day {
			continue
		}
		sched, err := s.parser.Parse(cfg.Schedule)
		if err != nil {
			continue
		}
		next := sched.Next(now.Add(-scheduleTolerance))
		if !next.After(now.Add(scheduleTolerance)) {
			s.lastRun[id] = day
			due = append(due, id)
		}
	}
	s.mu.Unlock()

	for _, id := range due {
		if _, err := s.CreateBackup(id, ""); err != nil {
			s.logger.WithError(err).WithField("config", id).Error("Scheduled backup failed")
		}
	}
}

// applyRetention deletes completed jobs beyond the config's age and count
// limits, oldest first.
func (s *Scheduler) applyRetention(ctx context.Context, cfg *Config) {
	cutoff := time.Time{}
	if cfg.Retention.Days > 0 {
		cutoff = time.Now().AddDate(0, 0, -cfg.Retention.Days)
	}

	s.mu.Lock()
	completed := make([]*Job, 0)
	for _, job := range s.jobs {
		if job.ConfigID == cfg.ID && job.Status == StatusCompleted {
			completed = append(completed, job)
		}
	}
	sort.Slice(completed, func(i, j int) bool { return completed[i].StartedAt.Before(completed[j].StartedAt) })

	expired := make([]*Job, 0)
	kept := completed[:0]
	for _, job := range completed {
		if !cutoff.IsZero() && job.StartedAt.Before(cutoff) {
			expired = append(expired, job)
		} else {
			kept = append(kept, job)
		}
	}
	if cfg.Retention.MaxBackups > 0 && len(kept) > cfg.Retention.MaxBackups {
		overflow := len(kept) - cfg.Retention.MaxBackups
		expired = append(expired, kept[:overflow]...)
	}
	for _, job := range expired {
		delete(s.jobs, job.ID)
	}
	s.mu.Unlock()

	storage := s.storageFor(cfg)
	for _, job := range expired {
		if job.Location != "" {
			if err := storage.Delete(ctx, job.Location); err != nil {
				s.logger.WithError(err).WithField("job_id", job.ID).Warn("Failed to delete expired backup")
			}
		}
	}
	if len(expired) > 0 {
		s.logger.WithFields(logrus.Fields{
			"config":  cfg.ID,
			"deleted": len(expired),
		}).Info("Backup retention applied")
	}
}

func (s *Scheduler) setStatus(job *Job, status JobStatus, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job.Status = status
	job.Error = errMsg
	if status == StatusCompleted || status == StatusFailed {
		now := time.Now()
		job.CompletedAt = &now
	}
}

// lastCompletedLocked returns the newest completion time for a config, for
// incremental bounds. Caller holds s.mu.
func (s *Scheduler) lastCompletedLocked(configID string) time.Time {
	var last time.Time
	for _, job := range s.jobs {
		if job.ConfigID == configID && job.Status == StatusCompleted && job.CompletedAt != nil && job.CompletedAt.After(last) {
			last = *job.CompletedAt
		}
	}
	return last
}

// SeedDefaults installs the stock schedule: nightly database at 02:00,
// nightly files at 03:00, weekly configuration on Sunday 04:00.
func (s *Scheduler) SeedDefaults(dataDirs, configDirs []string) {
	defaults := []*Config{
		{
			ID: "daily-database", Name: "Daily database backup", Type: TypeDatabase,
			Schedule: "0 2 * * *", Enabled: true, Compression: true, Encryption: len(s.key) > 0,
			Retention: RetentionPolicy{Days: 30, MaxBackups: 30},
		},
		{
			ID: "daily-files", Name: "Daily file backup", Type: TypeFiles,
			Schedule: "0 3 * * *", Enabled: true, Compression: true, Encryption: len(s.key) > 0,
			Retention: RetentionPolicy{Days: 14, MaxBackups: 14},
			Targets:   dataDirs,
		},
		{
			ID: "weekly-config", Name: "Weekly configuration backup", Type: TypeConfiguration,
			Schedule: "0 4 * * 0", Enabled: true, Compression: true,
			Retention: RetentionPolicy{Days: 90, MaxBackups: 12},
			Targets:   configDirs,
		},
	}
	for _, cfg := range defaults {
		if err := s.SetConfig(cfg); err != nil {
			s.logger.WithError(err).WithField("config", cfg.ID).Warn("Skipping default backup config")
		}
	}
}

func gzipCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(data); err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "compression failed")
	}
	if err := gw.Close(); err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "compression failed")
	}
	return buf.Bytes(), nil
}

func gzipDecompress(data []byte) ([]byte, error) {
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, errors.KindValidation, "backup is not gzip compressed")
	}
	defer gr.Close()
	out, err := io.ReadAll(gr)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindValidation, "decompression failed")
	}
	return out, nil
}
