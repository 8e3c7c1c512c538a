package alerting

import (
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/raisekit/opscore/internal/core/metrics"
	"github.com/raisekit/opscore/pkg/errors"
)

// Seeds is the operator-provided alerting configuration loaded once at
// startup. Cooldowns are expressed in minutes.
type Seeds struct {
	Thresholds map[metrics.Type]Threshold `yaml:"thresholds"`
	Channels   []*Channel                 `yaml:"channels"`
	Rules      []seedRule                 `yaml:"rules"`
}

type seedRule struct {
	ID              string          `yaml:"id"`
	Name            string          `yaml:"name"`
	Description     string          `yaml:"description"`
	Conditions      []RuleCondition `yaml:"conditions"`
	Actions         []RuleAction    `yaml:"actions"`
	Enabled         bool            `yaml:"enabled"`
	CooldownMinutes int             `yaml:"cooldown_minutes"`
}

// LoadSeeds reads an alerting seed file.
func LoadSeeds(path string) (*Seeds, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindValidation, "failed to read alerting seeds %s", path)
	}

	var seeds Seeds
	if err := yaml.Unmarshal(data, &seeds); err != nil {
		return nil, errors.Wrapf(err, errors.KindValidation, "failed to parse alerting seeds %s", path)
	}
	return &seeds, nil
}

// Apply installs thresholds, channels, and rules from the seed file.
func (s *Seeds) Apply(engine *Engine, evaluator *Evaluator) {
	for typ, threshold := range s.Thresholds {
		evaluator.SetThreshold(typ, threshold)
	}
	for _, channel := range s.Channels {
		engine.SetChannel(channel)
	}
	for _, seed := range s.Rules {
		engine.SetRule(&Rule{
			ID:          seed.ID,
			Name:        seed.Name,
			Description: seed.Description,
			Conditions:  seed.Conditions,
			Actions:     seed.Actions,
			Enabled:     seed.Enabled,
			Cooldown:    time.Duration(seed.CooldownMinutes) * time.Minute,
		})
	}
}

// SeedDefaults installs a baseline configuration when no seed file exists:
// thresholds for the latency and resource metrics, and a rule that routes
// every critical-value breach to the ops channel.
func SeedDefaults(engine *Engine, evaluator *Evaluator, logger *logrus.Logger) {
	logger.Info("Seeding default alerting configuration")

	defaults := map[metrics.Type]Threshold{
		metrics.TypeAPIResponseTime: {Warning: 1000, Critical: 5000, Unit: "ms", Enabled: true},
		metrics.TypeResponseTime:    {Warning: 1000, Critical: 5000, Unit: "ms", Enabled: true},
		metrics.TypeDBQueryTime:     {Warning: 500, Critical: 2000, Unit: "ms", Enabled: true},
		metrics.TypePageLoadTime:    {Warning: 3000, Critical: 8000, Unit: "ms", Enabled: true},
		metrics.TypeErrorRate:       {Warning: 5, Critical: 10, Unit: "%", Enabled: true},
		metrics.TypeMemoryUsage:     {Warning: 85, Critical: 95, Unit: "%", Enabled: true},
		metrics.TypeCPUUsage:        {Warning: 80, Critical: 90, Unit: "%", Enabled: true},
		metrics.TypeCacheHitRate:    {Warning: 0, Critical: 0, Unit: "%", Enabled: false},
	}
	for typ, threshold := range defaults {
		evaluator.SetThreshold(typ, threshold)
	}

	// Email is log-backed until a real transport is registered, which makes
	// it a safe default destination.
	engine.SetChannel(&Channel{
		ID:      "ops-log",
		Type:    ChannelEmail,
		Enabled: true,
	})

	engine.SetRule(&Rule{
		ID:          "default-critical-escalation",
		Name:        "Critical breach escalation",
		Description: "Notifies the ops channel for any latency breach",
		Conditions: []RuleCondition{
			{Metric: metrics.TypeAPIResponseTime, Operator: OpGTE, Value: 1000},
			{Metric: metrics.TypeResponseTime, Operator: OpGTE, Value: 1000},
			{Metric: metrics.TypeDBQueryTime, Operator: OpGTE, Value: 500},
			{Metric: metrics.TypeErrorRate, Operator: OpGTE, Value: 5},
			{Metric: metrics.TypeMemoryUsage, Operator: OpGTE, Value: 85},
			{Metric: metrics.TypeCPUUsage, Operator: OpGTE, Value: 80},
		},
		Actions: []RuleAction{
			{Type: ActionSendNotification, Config: map[string]string{"channel": "ops-log"}, Enabled: true},
		},
		Enabled:  true,
		Cooldown: 15 * time.Minute,
	})
}
