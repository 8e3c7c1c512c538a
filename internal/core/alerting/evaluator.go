package alerting

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/raisekit/opscore/internal/core/metrics"
)

// Threshold holds the warning/critical pair for one metric type. Breaches
// compare with >= (at-or-above triggers).
type Threshold struct {
	Warning  float64 `json:"warning" yaml:"warning"`
	Critical float64 `json:"critical" yaml:"critical"`
	Unit     string  `json:"unit,omitempty" yaml:"unit,omitempty"`
	Enabled  bool    `json:"enabled" yaml:"enabled"`
}

// Evaluator checks recorded samples against per-metric-type thresholds and
// raises alerts through the engine. Register Check as a metric store
// observer.
type Evaluator struct {
	mu         sync.RWMutex
	thresholds map[metrics.Type]Threshold
	engine     *Engine
	logger     *logrus.Logger
}

// NewEvaluator creates an evaluator with no thresholds configured.
func NewEvaluator(engine *Engine, logger *logrus.Logger) *Evaluator {
	return &Evaluator{
		thresholds: make(map[metrics.Type]Threshold),
		engine:     engine,
		logger:     logger,
	}
}

// SetThreshold upserts the threshold for a metric type. Calling it twice
// with the same arguments is a no-op the second time.
func (e *Evaluator) SetThreshold(typ metrics.Type, t Threshold) {
	e.mu.Lock()
	e.thresholds[typ] = t
	e.mu.Unlock()

	e.logger.WithFields(logrus.Fields{
		"metric":   typ,
		"warning":  t.Warning,
		"critical": t.Critical,
		"enabled":  t.Enabled,
	}).Debug("Threshold updated")
}

// Threshold returns the configured threshold for a metric type.
func (e *Evaluator) Threshold(typ metrics.Type) (Threshold, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.thresholds[typ]
	return t, ok
}

// Thresholds returns a copy of all configured thresholds.
func (e *Evaluator) Thresholds() map[metrics.Type]Threshold {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make(map[metrics.Type]Threshold, len(e.thresholds))
	for typ, t := range e.thresholds {
		out[typ] = t
	}
	return out
}

// Check evaluates one sample. Critical is checked before warning so a value
// breaching both produces a single critical alert. Warning breaches map to
// severity high so routing rules keyed on severity still fire.
func (e *Evaluator) Check(sample *metrics.Sample) {
	e.mu.RLock()
	t, ok := e.thresholds[sample.Type]
	e.mu.RUnlock()

	if !ok || !t.Enabled {
		return
	}

	var severity Severity
	var breached float64

	switch {
	case sample.Value >= t.Critical:
		severity = SeverityCritical
		breached = t.Critical
	case sample.Value >= t.Warning:
		severity = SeverityHigh
		breached = t.Warning
	default:
		return
	}

	e.engine.RaiseThresholdAlert(ThresholdBreach{
		Metric:       MetricRef{Type: sample.Type, Name: sample.Name},
		Severity:     severity,
		Threshold:    breached,
		CurrentValue: sample.Value,
		Unit:         t.Unit,
		Title:        fmt.Sprintf("%s threshold exceeded", sample.Type),
		Description: fmt.Sprintf("%s (%s) is %.2f%s, at or above the %s threshold of %.2f%s",
			sample.Type, sample.Name, sample.Value, t.Unit, severityLabel(severity), breached, t.Unit),
	})
}

func severityLabel(s Severity) string {
	if s == SeverityCritical {
		return "critical"
	}
	return "warning"
}
