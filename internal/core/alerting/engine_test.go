package alerting

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raisekit/opscore/internal/core/metrics"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

// recordingSender captures every delivery attempt.
type recordingSender struct {
	mu    sync.Mutex
	sends []string
	fail  bool
}

func (s *recordingSender) Send(_ context.Context, channel *Channel, message string, _ *Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sends = append(s.sends, channel.ID+": "+message)
	if s.fail {
		return assert.AnError
	}
	return nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sends)
}

func breach(typ metrics.Type, name string, severity Severity, value, threshold float64) ThresholdBreach {
	return ThresholdBreach{
		Metric:       MetricRef{Type: typ, Name: name},
		Severity:     severity,
		Threshold:    threshold,
		CurrentValue: value,
		Title:        "Latency threshold exceeded",
		Description:  "observed value crossed the configured bound",
	}
}

func TestRaiseThresholdAlertDeduplicates(t *testing.T) {
	eng := NewEngine(testLogger())

	first := eng.RaiseThresholdAlert(breach(metrics.TypeAPIResponseTime, "GET /donors", SeverityHigh, 1200, 1000))
	require.NotNil(t, first)
	assert.Equal(t, StatusActive, first.Status)

	// Same metric type and name while the first is still active.
	second := eng.RaiseThresholdAlert(breach(metrics.TypeAPIResponseTime, "GET /donors", SeverityHigh, 1300, 1000))
	assert.Nil(t, second)

	active := eng.Alerts(AlertFilter{Status: StatusActive})
	assert.Len(t, active, 1)
}

func TestAlertAccessorsReturnSnapshots(t *testing.T) {
	eng := NewEngine(testLogger())

	raised := eng.RaiseThresholdAlert(breach(metrics.TypeAPIResponseTime, "GET /donors", SeverityHigh, 1200, 1000))
	require.NotNil(t, raised)

	snapshot, ok := eng.Alert(raised.ID)
	require.True(t, ok)
	listed := eng.Alerts(AlertFilter{})
	require.Len(t, listed, 1)

	require.NoError(t, eng.Resolve(raised.ID))

	// Earlier snapshots are unaffected by the transition.
	assert.Equal(t, StatusActive, snapshot.Status)
	assert.Nil(t, snapshot.ResolvedAt)
	assert.Equal(t, StatusActive, listed[0].Status)

	current, ok := eng.Alert(raised.ID)
	require.True(t, ok)
	assert.Equal(t, StatusResolved, current.Status)
	assert.NotNil(t, current.ResolvedAt)
}

func TestRaiseThresholdAlertAfterResolve(t *testing.T) {
	eng := NewEngine(testLogger())

	first := eng.RaiseThresholdAlert(breach(metrics.TypeDBQueryTime, "select donors", SeverityCritical, 2500, 2000))
	require.NotNil(t, first)
	require.NoError(t, eng.Resolve(first.ID))

	second := eng.RaiseThresholdAlert(breach(metrics.TypeDBQueryTime, "select donors", SeverityCritical, 2600, 2000))
	require.NotNil(t, second)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestDifferentMetricNamesAlertIndependently(t *testing.T) {
	eng := NewEngine(testLogger())

	a := eng.RaiseThresholdAlert(breach(metrics.TypeAPIResponseTime, "GET /donors", SeverityHigh, 1200, 1000))
	b := eng.RaiseThresholdAlert(breach(metrics.TypeAPIResponseTime, "GET /gifts", SeverityHigh, 1400, 1000))

	require.NotNil(t, a)
	require.NotNil(t, b)
	assert.Len(t, eng.Alerts(AlertFilter{Status: StatusActive}), 2)
}

func TestRuleRoutesToChannel(t *testing.T) {
	eng := NewEngine(testLogger())
	sender := &recordingSender{}
	eng.RegisterSender(ChannelWebhook, sender)
	eng.SetChannel(&Channel{ID: "ops", Type: ChannelWebhook, Enabled: true})
	eng.SetRule(&Rule{
		ID:      "r1",
		Name:    "latency",
		Enabled: true,
		Conditions: []RuleCondition{
			{Metric: metrics.TypeAPIResponseTime, Operator: OpGTE, Value: 1000},
		},
		Actions: []RuleAction{
			{Type: ActionSendNotification, Config: map[string]string{"channel": "ops"}, Enabled: true},
		},
	})

	eng.RaiseThresholdAlert(breach(metrics.TypeAPIResponseTime, "GET /donors", SeverityHigh, 1200, 1000))

	assert.Equal(t, 1, sender.count())

	notifications := eng.Notifications()
	require.Len(t, notifications, 1)
	assert.Equal(t, NotificationSent, notifications[0].Status)
}

func TestRuleCooldownBlocksRefire(t *testing.T) {
	eng := NewEngine(testLogger())
	sender := &recordingSender{}
	eng.RegisterSender(ChannelWebhook, sender)
	eng.SetChannel(&Channel{ID: "ops", Type: ChannelWebhook, Enabled: true})
	eng.SetRule(&Rule{
		ID:      "r1",
		Name:    "latency",
		Enabled: true,
		Conditions: []RuleCondition{
			{Metric: metrics.TypeAPIResponseTime, Operator: OpGTE, Value: 1000},
		},
		Actions: []RuleAction{
			{Type: ActionSendNotification, Config: map[string]string{"channel": "ops"}, Enabled: true},
		},
		Cooldown: time.Hour,
	})

	a := eng.RaiseThresholdAlert(breach(metrics.TypeAPIResponseTime, "GET /donors", SeverityHigh, 1200, 1000))
	require.NotNil(t, a)
	require.NoError(t, eng.Resolve(a.ID))

	// Second alert matches the rule but falls inside the cooldown.
	b := eng.RaiseThresholdAlert(breach(metrics.TypeAPIResponseTime, "GET /donors", SeverityHigh, 1500, 1000))
	require.NotNil(t, b)

	assert.Equal(t, 1, sender.count())
}

func TestRuleMatchesAnyCondition(t *testing.T) {
	rule := &Rule{
		Conditions: []RuleCondition{
			{Metric: metrics.TypeErrorRate, Operator: OpGTE, Value: 5},
			{Metric: metrics.TypeCPUUsage, Operator: OpGTE, Value: 80},
		},
	}

	cpu := &Alert{Metric: MetricRef{Type: metrics.TypeCPUUsage}, CurrentValue: 85}
	assert.True(t, ruleMatches(rule, cpu))

	lowCPU := &Alert{Metric: MetricRef{Type: metrics.TypeCPUUsage}, CurrentValue: 40}
	assert.False(t, ruleMatches(rule, lowCPU))

	other := &Alert{Metric: MetricRef{Type: metrics.TypeThroughput}, CurrentValue: 9000}
	assert.False(t, ruleMatches(rule, other))
}

func TestSendNotificationRateLimit(t *testing.T) {
	eng := NewEngine(testLogger())
	sender := &recordingSender{}
	eng.RegisterSender(ChannelWebhook, sender)
	eng.SetChannel(&Channel{
		ID:        "ops",
		Type:      ChannelWebhook,
		Enabled:   true,
		RateLimit: &RateLimit{MaxPerHour: 2},
	})

	alert := &Alert{ID: "a1", Severity: SeverityHigh, Status: StatusActive}

	assert.True(t, eng.SendNotification(context.Background(), "ops", alert, "one"))
	assert.True(t, eng.SendNotification(context.Background(), "ops", alert, "two"))
	assert.False(t, eng.SendNotification(context.Background(), "ops", alert, "three"))

	assert.Equal(t, 2, sender.count())

	notifications := eng.Notifications()
	require.Len(t, notifications, 3)
	assert.Equal(t, NotificationRateLimited, notifications[2].Status)
}

func TestSendNotificationFailureRecorded(t *testing.T) {
	eng := NewEngine(testLogger())
	sender := &recordingSender{fail: true}
	eng.RegisterSender(ChannelWebhook, sender)
	eng.SetChannel(&Channel{ID: "ops", Type: ChannelWebhook, Enabled: true})

	ok := eng.SendNotification(context.Background(), "ops", &Alert{ID: "a1"}, "boom")
	assert.False(t, ok)

	notifications := eng.Notifications()
	require.Len(t, notifications, 1)
	assert.Equal(t, NotificationFailed, notifications[0].Status)
	assert.NotEmpty(t, notifications[0].Error)
}

func TestSendNotificationMissingOrDisabledChannel(t *testing.T) {
	eng := NewEngine(testLogger())
	assert.False(t, eng.SendNotification(context.Background(), "nope", &Alert{ID: "a1"}, ""))

	eng.SetChannel(&Channel{ID: "off", Type: ChannelWebhook, Enabled: false})
	assert.False(t, eng.SendNotification(context.Background(), "off", &Alert{ID: "a1"}, ""))

	assert.Empty(t, eng.Notifications())
}

func TestTestChannelBypassesRateBudget(t *testing.T) {
	eng := NewEngine(testLogger())
	sender := &recordingSender{}
	eng.RegisterSender(ChannelWebhook, sender)
	eng.SetChannel(&Channel{
		ID:        "ops",
		Type:      ChannelWebhook,
		Enabled:   true,
		RateLimit: &RateLimit{MaxPerHour: 1},
	})

	assert.True(t, eng.TestChannel(context.Background(), "ops", "ping"))
	assert.Empty(t, eng.Notifications())

	// The production budget is untouched by the test send.
	assert.True(t, eng.SendNotification(context.Background(), "ops", &Alert{ID: "a1"}, "real"))
}

func TestDuplicateSuppressionWindow(t *testing.T) {
	eng := NewEngine(testLogger())
	sender := &recordingSender{}
	eng.RegisterSender(ChannelWebhook, sender)
	eng.SetChannel(&Channel{ID: "ops", Type: ChannelWebhook, Enabled: true})
	eng.SetRule(&Rule{
		ID:      "r1",
		Enabled: true,
		Conditions: []RuleCondition{
			{Metric: metrics.TypeErrorRate, Operator: OpGTE, Value: 5},
		},
		Actions: []RuleAction{
			{Type: ActionSendNotification, Config: map[string]string{"channel": "ops"}, Enabled: true},
		},
	})

	alert := eng.RaiseThresholdAlert(breach(metrics.TypeErrorRate, "api errors", SeverityCritical, 12, 10))
	require.NotNil(t, alert)
	assert.Equal(t, 1, sender.count())

	// Reprocessing the same alert within the window sends nothing.
	eng.ProcessAlert(context.Background(), alert)
	assert.Equal(t, 1, sender.count())
}

func TestLifecycleTransitions(t *testing.T) {
	eng := NewEngine(testLogger())
	alert := eng.RaiseThresholdAlert(breach(metrics.TypeMemoryUsage, "system memory", SeverityCritical, 96, 95))
	require.NotNil(t, alert)

	require.NoError(t, eng.Acknowledge(alert.ID))
	assert.Equal(t, StatusAcknowledged, alert.Status)

	// Acknowledging twice is a conflict.
	assert.Error(t, eng.Acknowledge(alert.ID))

	require.NoError(t, eng.Resolve(alert.ID))
	assert.Equal(t, StatusResolved, alert.Status)
	assert.NotNil(t, alert.ResolvedAt)

	// Resolved is terminal.
	assert.Error(t, eng.Suppress(alert.ID))
	assert.Error(t, eng.Acknowledge(alert.ID))

	assert.Error(t, eng.Resolve("missing"))
}

func TestSuppressedAlertSkipsProcessing(t *testing.T) {
	eng := NewEngine(testLogger())
	sender := &recordingSender{}
	eng.RegisterSender(ChannelWebhook, sender)
	eng.SetChannel(&Channel{ID: "ops", Type: ChannelWebhook, Enabled: true})
	eng.SetRule(&Rule{
		ID:      "r1",
		Enabled: true,
		Conditions: []RuleCondition{
			{Metric: metrics.TypeErrorRate, Operator: OpGTE, Value: 0},
		},
		Actions: []RuleAction{
			{Type: ActionSendNotification, Config: map[string]string{"channel": "ops"}, Enabled: true},
		},
	})

	alert := &Alert{
		ID:           "suppressed",
		Status:       StatusSuppressed,
		Metric:       MetricRef{Type: metrics.TypeErrorRate},
		CurrentValue: 50,
	}
	eng.ProcessAlert(context.Background(), alert)
	assert.Zero(t, sender.count())
}

func TestFormatAlertMessage(t *testing.T) {
	alert := &Alert{
		Severity:     SeverityCritical,
		Title:        "Latency threshold exceeded",
		Description:  "api latency over critical bound",
		Metric:       MetricRef{Type: metrics.TypeAPIResponseTime, Name: "GET /donors"},
		Threshold:    5000,
		CurrentValue: 6200,
		Timestamp:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	msg := FormatAlertMessage(alert)
	assert.Contains(t, msg, "🚨")
	assert.Contains(t, msg, "Latency threshold exceeded")
	assert.Contains(t, msg, "Current value: 6200.00")
	assert.Contains(t, msg, "Threshold: 5000.00")
	assert.Contains(t, msg, "2026-03-01T12:00:00Z")
}
