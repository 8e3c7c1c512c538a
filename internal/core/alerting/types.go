package alerting

import (
	"time"

	"github.com/raisekit/opscore/internal/core/metrics"
)

// AlertType classifies what produced an alert.
type AlertType string

const (
	AlertThresholdExceeded      AlertType = "threshold_exceeded"
	AlertAnomalyDetected        AlertType = "anomaly_detected"
	AlertErrorSpike             AlertType = "error_spike"
	AlertPerformanceDegradation AlertType = "performance_degradation"
	AlertResourceExhaustion     AlertType = "resource_exhaustion"
	AlertServiceDown            AlertType = "service_down"
)

// Severity represents alert severity.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Status tracks an alert through its lifecycle. Transitions are one-way
// except active↔acknowledged; resolved and suppressed are terminal for an
// occurrence.
type Status string

const (
	StatusActive       Status = "active"
	StatusAcknowledged Status = "acknowledged"
	StatusResolved     Status = "resolved"
	StatusSuppressed   Status = "suppressed"
)

// MetricRef identifies the metric that triggered an alert.
type MetricRef struct {
	Type metrics.Type `json:"type"`
	Name string       `json:"name"`
}

// Alert is a stateful record of a threshold breach.
type Alert struct {
	ID           string                 `json:"id"`
	Timestamp    time.Time              `json:"timestamp"`
	Type         AlertType              `json:"alert_type"`
	Severity     Severity               `json:"severity"`
	Title        string                 `json:"title"`
	Description  string                 `json:"description"`
	Metric       MetricRef              `json:"metric"`
	Threshold    float64                `json:"threshold"`
	CurrentValue float64                `json:"current_value"`
	Status       Status                 `json:"status"`
	ResolvedAt   *time.Time             `json:"resolved_at,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// Operator compares an alert's current value against a rule condition.
type Operator string

const (
	OpGT  Operator = "gt"
	OpGTE Operator = "gte"
	OpLT  Operator = "lt"
	OpLTE Operator = "lte"
	OpEQ  Operator = "eq"
	OpNEQ Operator = "neq"
)

// Compare evaluates value against threshold. Unknown operators never match.
func (op Operator) Compare(value, threshold float64) bool {
	switch op {
	case OpGT:
		return value > threshold
	case OpGTE:
		return value >= threshold
	case OpLT:
		return value < threshold
	case OpLTE:
		return value <= threshold
	case OpEQ:
		return value == threshold
	case OpNEQ:
		return value != threshold
	default:
		return false
	}
}

// RuleCondition matches alerts by metric type and value comparison.
type RuleCondition struct {
	Metric   metrics.Type  `json:"metric" yaml:"metric"`
	Operator Operator      `json:"operator" yaml:"operator"`
	Value    float64       `json:"value" yaml:"value"`
	Duration time.Duration `json:"duration,omitempty" yaml:"duration,omitempty"`
}

// ActionType names what a rule does when it fires.
type ActionType string

const (
	ActionSendNotification ActionType = "send_notification"
	ActionCreateTicket     ActionType = "create_ticket"
	ActionScaleService     ActionType = "scale_service"
	ActionRestartService   ActionType = "restart_service"
	ActionExecuteScript    ActionType = "execute_script"
)

// RuleAction is one action executed when a rule fires.
type RuleAction struct {
	Type    ActionType        `json:"type" yaml:"type"`
	Config  map[string]string `json:"config,omitempty" yaml:"config,omitempty"`
	Enabled bool              `json:"enabled" yaml:"enabled"`
}

// Rule maps alert conditions to actions, with a cooldown window. A rule
// fires at most once per cooldown, measured from LastTriggered.
type Rule struct {
	ID            string          `json:"id" yaml:"id"`
	Name          string          `json:"name" yaml:"name"`
	Description   string          `json:"description,omitempty" yaml:"description,omitempty"`
	Conditions    []RuleCondition `json:"conditions" yaml:"conditions"`
	Actions       []RuleAction    `json:"actions" yaml:"actions"`
	Enabled       bool            `json:"enabled" yaml:"enabled"`
	Cooldown      time.Duration   `json:"cooldown" yaml:"cooldown"`
	LastTriggered *time.Time      `json:"last_triggered,omitempty" yaml:"-"`
}

// ChannelType names a notification transport.
type ChannelType string

const (
	ChannelEmail   ChannelType = "email"
	ChannelSlack   ChannelType = "slack"
	ChannelWebhook ChannelType = "webhook"
	ChannelSMS     ChannelType = "sms"
	ChannelPush    ChannelType = "push"
	ChannelDiscord ChannelType = "discord"
	ChannelTeams   ChannelType = "teams"
)

// RateLimit caps deliveries per channel; counters reset on wall-clock hour
// and day boundaries.
type RateLimit struct {
	MaxPerHour int `json:"max_per_hour" yaml:"max_per_hour"`
	MaxPerDay  int `json:"max_per_day" yaml:"max_per_day"`
}

// Channel is an operator-configured notification destination.
type Channel struct {
	ID        string            `json:"id" yaml:"id"`
	Type      ChannelType       `json:"type" yaml:"type"`
	Config    map[string]string `json:"config,omitempty" yaml:"config,omitempty"`
	Enabled   bool              `json:"enabled" yaml:"enabled"`
	RateLimit *RateLimit        `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`
}

// NotificationStatus tracks one delivery attempt.
type NotificationStatus string

const (
	NotificationPending     NotificationStatus = "pending"
	NotificationSent        NotificationStatus = "sent"
	NotificationDelivered   NotificationStatus = "delivered"
	NotificationFailed      NotificationStatus = "failed"
	NotificationRateLimited NotificationStatus = "rate_limited"
)

// Notification is one entry in the append-only delivery log.
type Notification struct {
	ID          string             `json:"id"`
	AlertID     string             `json:"alert_id"`
	Channel     string             `json:"channel"`
	Status      NotificationStatus `json:"status"`
	SentAt      time.Time          `json:"sent_at"`
	DeliveredAt *time.Time         `json:"delivered_at,omitempty"`
	Error       string             `json:"error,omitempty"`
	RetryCount  int                `json:"retry_count"`
}
