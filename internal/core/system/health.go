package system

import (
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/sirupsen/logrus"

	"github.com/raisekit/opscore/internal/core/metrics"
)

// Health is a point-in-time process and host snapshot.
type Health struct {
	Status        string    `json:"status"`
	Timestamp     time.Time `json:"timestamp"`
	UptimeSeconds float64   `json:"uptime_seconds"`
	MemoryPercent float64   `json:"memory_percent"`
	MemoryUsedMB  float64   `json:"memory_used_mb"`
	CPUPercent    float64   `json:"cpu_percent"`
}

// Monitor samples host memory and CPU. When a metric store is attached each
// snapshot also records memory_usage and cpu_usage samples, which feeds the
// threshold evaluator.
type Monitor struct {
	startedAt time.Time
	metrics   *metrics.Store
	logger    *logrus.Logger
	stopCh    chan struct{}
	stopOnce  sync.Once
}

// NewMonitor creates a monitor anchored at the current time.
func NewMonitor(metricStore *metrics.Store, logger *logrus.Logger) *Monitor {
	return &Monitor{
		startedAt: time.Now(),
		metrics:   metricStore,
		logger:    logger,
		stopCh:    make(chan struct{}),
	}
}

// Snapshot gathers the current health picture. Gopsutil failures degrade
// the snapshot rather than failing it.
func (m *Monitor) Snapshot() *Health {
	h := &Health{
		Status:        "healthy",
		Timestamp:     time.Now(),
		UptimeSeconds: time.Since(m.startedAt).Seconds(),
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		h.MemoryPercent = vm.UsedPercent
		h.MemoryUsedMB = float64(vm.Used) / 1024 / 1024
	} else if m.logger != nil {
		m.logger.WithError(err).Debug("Memory stats unavailable")
	}

	// Zero interval reuses the counters from the previous call, so this
	// does not block.
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		h.CPUPercent = percents[0]
	} else if m.logger != nil && err != nil {
		m.logger.WithError(err).Debug("CPU stats unavailable")
	}

	switch {
	case h.MemoryPercent >= 95 || h.CPUPercent >= 95:
		h.Status = "unhealthy"
	case h.MemoryPercent >= 85 || h.CPUPercent >= 85:
		h.Status = "degraded"
	}

	if m.metrics != nil {
		m.metrics.Record(metrics.TypeMemoryUsage, "system memory", h.MemoryPercent, "%", nil, nil)
		m.metrics.Record(metrics.TypeCPUUsage, "system cpu", h.CPUPercent, "%", nil, nil)
	}
	return h
}

// Start samples health on the given interval until Stop.
func (m *Monitor) Start(interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.Snapshot()
			}
		}
	}()
}

// Stop halts background sampling. Safe to call more than once.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}
