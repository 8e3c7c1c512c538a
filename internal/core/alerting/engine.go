package alerting

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/raisekit/opscore/pkg/errors"
)

// duplicateSuppressionWindow blocks repeat notifications for the same alert.
const duplicateSuppressionWindow = 5 * time.Minute

// Sender delivers a notification over one transport type. Implementations
// report success or failure; the engine never retries within a single send.
type Sender interface {
	Send(ctx context.Context, channel *Channel, message string, alert *Alert) error
}

// ActionRunner executes non-notification rule actions (tickets, scaling,
// scripts). The default runner only logs.
type ActionRunner interface {
	Run(ctx context.Context, action RuleAction, alert *Alert) error
}

type logActionRunner struct {
	logger *logrus.Logger
}

func (r *logActionRunner) Run(_ context.Context, action RuleAction, alert *Alert) error {
	r.logger.WithFields(logrus.Fields{
		"action":   action.Type,
		"alert_id": alert.ID,
	}).Info("Operational action requested (no runner configured)")
	return nil
}

// rateCounter tracks per-channel delivery counts within the current
// wall-clock hour and day.
type rateCounter struct {
	hourStart time.Time
	dayStart  time.Time
	hourCount int
	dayCount  int
}

// Engine owns alert lifecycle, rule-based routing, cooldown suppression,
// channel rate limiting, and notification delivery.
type Engine struct {
	mu            sync.RWMutex
	logger        *logrus.Logger
	alerts        map[string]*Alert
	rules         map[string]*Rule
	channels      map[string]*Channel
	senders       map[ChannelType]Sender
	notifications []*Notification
	lastNotified  map[string]time.Time
	rates         map[string]*rateCounter
	actions       ActionRunner
}

// NewEngine creates an alerting engine with no rules or channels registered.
func NewEngine(logger *logrus.Logger) *Engine {
	eng := &Engine{
		logger:       logger,
		alerts:       make(map[string]*Alert),
		rules:        make(map[string]*Rule),
		channels:     make(map[string]*Channel),
		senders:      make(map[ChannelType]Sender),
		lastNotified: make(map[string]time.Time),
		rates:        make(map[string]*rateCounter),
	}
	eng.actions = &logActionRunner{logger: logger}
	return eng
}

// SetActionRunner replaces the default log-only runner for operational
// actions.
func (eng *Engine) SetActionRunner(runner ActionRunner) {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	eng.actions = runner
}

// RegisterSender installs the transport for a channel type.
func (eng *Engine) RegisterSender(typ ChannelType, sender Sender) {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	eng.senders[typ] = sender
}

// ThresholdBreach describes a sample that crossed a configured threshold.
type ThresholdBreach struct {
	Metric       MetricRef
	Severity     Severity
	Threshold    float64
	CurrentValue float64
	Unit         string
	Title        string
	Description  string
}

// RaiseThresholdAlert creates and processes an alert for a breach unless an
// active alert already exists for the same metric type and name. The
// check-and-create is atomic under the engine lock so at most one active
// alert per pair exists even with concurrent recorders.
func (eng *Engine) RaiseThresholdAlert(breach ThresholdBreach) *Alert {
	eng.mu.Lock()
	for _, existing := range eng.alerts {
		if existing.Status == StatusActive &&
			existing.Metric.Type == breach.Metric.Type &&
			existing.Metric.Name == breach.Metric.Name {
			eng.mu.Unlock()
			return nil
		}
	}

	alert := &Alert{
		ID:           uuid.New().String(),
		Timestamp:    time.Now(),
		Type:         AlertThresholdExceeded,
		Severity:     breach.Severity,
		Title:        breach.Title,
		Description:  breach.Description,
		Metric:       breach.Metric,
		Threshold:    breach.Threshold,
		CurrentValue: breach.CurrentValue,
		Status:       StatusActive,
	}
	eng.alerts[alert.ID] = alert
	eng.mu.Unlock()

	eng.logger.WithFields(logrus.Fields{
		"alert_id": alert.ID,
		"severity": alert.Severity,
		"metric":   alert.Metric.Type,
		"name":     alert.Metric.Name,
		"value":    alert.CurrentValue,
	}).Warn("Alert raised")

	eng.ProcessAlert(context.Background(), alert)
	return alert
}

// ProcessAlert routes an alert through the rule registry. Suppressed alerts
// and alerts notified within the duplicate-suppression window are skipped.
// Action errors are logged per action and never block the remaining actions.
func (eng *Engine) ProcessAlert(ctx context.Context, alert *Alert) {
	if alert.Status == StatusSuppressed {
		return
	}

	eng.mu.RLock()
	if last, ok := eng.lastNotified[alert.ID]; ok && time.Since(last) < duplicateSuppressionWindow {
		eng.mu.RUnlock()
		return
	}
	rules := make([]*Rule, 0, len(eng.rules))
	for _, rule := range eng.rules {
		rules = append(rules, rule)
	}
	eng.mu.RUnlock()

	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })

	for _, rule := range rules {
		if !rule.Enabled || !ruleMatches(rule, alert) {
			continue
		}

		eng.mu.Lock()
		if rule.LastTriggered != nil && time.Since(*rule.LastTriggered) < rule.Cooldown {
			eng.mu.Unlock()
			continue
		}
		now := time.Now()
		rule.LastTriggered = &now
		eng.mu.Unlock()

		eng.logger.WithFields(logrus.Fields{
			"rule":     rule.Name,
			"alert_id": alert.ID,
		}).Info("Alert rule triggered")

		for _, action := range rule.Actions {
			if !action.Enabled {
				continue
			}
			if err := eng.runAction(ctx, action, alert); err != nil {
				eng.logger.WithFields(logrus.Fields{
					"rule":   rule.Name,
					"action": action.Type,
					"error":  err,
				}).Error("Alert action failed")
			}
		}
	}
}

// ruleMatches reports whether any condition of the rule matches the alert's
// metric and current value.
func ruleMatches(rule *Rule, alert *Alert) bool {
	for _, cond := range rule.Conditions {
		if cond.Metric == alert.Metric.Type && cond.Operator.Compare(alert.CurrentValue, cond.Value) {
			return true
		}
	}
	return false
}

func (eng *Engine) runAction(ctx context.Context, action RuleAction, alert *Alert) error {
	if action.Type == ActionSendNotification {
		channelID := action.Config["channel"]
		if channelID == "" {
			return errors.New(errors.KindValidation, "send_notification action has no channel configured")
		}
		eng.SendNotification(ctx, channelID, alert, action.Config["message"])
		return nil
	}
	return eng.actions.Run(ctx, action, alert)
}

// SendNotification delivers an alert through one channel, honoring the
// channel's rate limit. It records one Notification per attempt and never
// propagates transport errors to the caller.
func (eng *Engine) SendNotification(ctx context.Context, channelID string, alert *Alert, customMessage string) bool {
	eng.mu.Lock()
	channel, ok := eng.channels[channelID]
	if !ok || !channel.Enabled {
		eng.mu.Unlock()
		eng.logger.WithField("channel", channelID).Debug("Notification skipped: channel missing or disabled")
		return false
	}

	if !eng.allowSendLocked(channel) {
		eng.appendNotificationLocked(&Notification{
			ID:      uuid.New().String(),
			AlertID: alert.ID,
			Channel: channelID,
			Status:  NotificationRateLimited,
			SentAt:  time.Now(),
		})
		eng.mu.Unlock()
		eng.logger.WithFields(logrus.Fields{
			"channel":  channelID,
			"alert_id": alert.ID,
		}).Warn("Notification rate limited")
		return false
	}

	sender := eng.senders[channel.Type]
	eng.mu.Unlock()

	message := customMessage
	if message == "" {
		message = FormatAlertMessage(alert)
	}

	notification := &Notification{
		ID:      uuid.New().String(),
		AlertID: alert.ID,
		Channel: channelID,
		SentAt:  time.Now(),
	}

	var err error
	if sender == nil {
		err = errors.New(errors.KindExternalService, fmt.Sprintf("no sender registered for channel type %s", channel.Type))
	} else {
		err = sender.Send(ctx, channel, message, alert)
	}

	eng.mu.Lock()
	defer eng.mu.Unlock()

	if err != nil {
		notification.Status = NotificationFailed
		notification.Error = err.Error()
		eng.appendNotificationLocked(notification)
		eng.logger.WithFields(logrus.Fields{
			"channel":  channelID,
			"alert_id": alert.ID,
			"error":    err,
		}).Error("Notification delivery failed")
		return false
	}

	notification.Status = NotificationSent
	eng.appendNotificationLocked(notification)
	eng.consumeRateLocked(channel)
	eng.lastNotified[alert.ID] = time.Now()
	return true
}

// TestChannel sends a one-off message through a channel. Test sends do not
// consume the channel's production rate-limit budget and are not recorded in
// the notification log.
func (eng *Engine) TestChannel(ctx context.Context, channelID, message string) bool {
	eng.mu.RLock()
	channel, ok := eng.channels[channelID]
	var sender Sender
	if ok {
		sender = eng.senders[channel.Type]
	}
	eng.mu.RUnlock()

	if !ok || !channel.Enabled || sender == nil {
		return false
	}

	if err := sender.Send(ctx, channel, message, nil); err != nil {
		eng.logger.WithFields(logrus.Fields{
			"channel": channelID,
			"error":   err,
		}).Warn("Channel test failed")
		return false
	}
	return true
}

// allowSendLocked checks the channel's rate limit, resetting counters on
// wall-clock hour/day boundaries. Caller holds eng.mu.
func (eng *Engine) allowSendLocked(channel *Channel) bool {
	if channel.RateLimit == nil {
		return true
	}

	counter := eng.rates[channel.ID]
	if counter == nil {
		counter = &rateCounter{}
		eng.rates[channel.ID] = counter
	}

	now := time.Now()
	hour := now.Truncate(time.Hour)
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	if !counter.hourStart.Equal(hour) {
		counter.hourStart = hour
		counter.hourCount = 0
	}
	if !counter.dayStart.Equal(day) {
		counter.dayStart = day
		counter.dayCount = 0
	}

	if channel.RateLimit.MaxPerHour > 0 && counter.hourCount >= channel.RateLimit.MaxPerHour {
		return false
	}
	if channel.RateLimit.MaxPerDay > 0 && counter.dayCount >= channel.RateLimit.MaxPerDay {
		return false
	}
	return true
}

func (eng *Engine) consumeRateLocked(channel *Channel) {
	if channel.RateLimit == nil {
		return
	}
	if counter := eng.rates[channel.ID]; counter != nil {
		counter.hourCount++
		counter.dayCount++
	}
}

func (eng *Engine) appendNotificationLocked(n *Notification) {
	eng.notifications = append(eng.notifications, n)
}

// FormatAlertMessage renders the default notification body.
func FormatAlertMessage(alert *Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", severityGlyph(alert.Severity), alert.Title)
	fmt.Fprintf(&b, "%s\n\n", alert.Description)
	fmt.Fprintf(&b, "Metric: %s (%s)\n", alert.Metric.Type, alert.Metric.Name)
	fmt.Fprintf(&b, "Current value: %.2f\n", alert.CurrentValue)
	fmt.Fprintf(&b, "Threshold: %.2f\n", alert.Threshold)
	fmt.Fprintf(&b, "Severity: %s\n", alert.Severity)
	fmt.Fprintf(&b, "Time: %s\n", alert.Timestamp.UTC().Format(time.RFC3339))
	if len(alert.Metadata) > 0 {
		fmt.Fprintf(&b, "Metadata: %v\n", alert.Metadata)
	}
	return b.String()
}

func severityGlyph(s Severity) string {
	switch s {
	case SeverityCritical:
		return "🚨"
	case SeverityHigh:
		return "🔴"
	case SeverityMedium:
		return "🟠"
	default:
		return "🔵"
	}
}

// AlertFilter selects alerts for listing.
type AlertFilter struct {
	Status   Status    `json:"status,omitempty"`
	Severity Severity  `json:"severity,omitempty"`
	Type     AlertType `json:"type,omitempty"`
	Limit    int       `json:"limit,omitempty"`
}

// Alerts returns snapshots of matching alerts, newest first.
func (eng *Engine) Alerts(f AlertFilter) []*Alert {
	eng.mu.RLock()
	matches := make([]*Alert, 0)
	for _, alert := range eng.alerts {
		if f.Status != "" && alert.Status != f.Status {
			continue
		}
		if f.Severity != "" && alert.Severity != f.Severity {
			continue
		}
		if f.Type != "" && alert.Type != f.Type {
			continue
		}
		cp := *alert
		matches = append(matches, &cp)
	}
	eng.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Timestamp.After(matches[j].Timestamp)
	})
	if f.Limit > 0 && len(matches) > f.Limit {
		matches = matches[:f.Limit]
	}
	return matches
}

// Alert returns a snapshot of one alert by ID.
func (eng *Engine) Alert(id string) (*Alert, bool) {
	eng.mu.RLock()
	defer eng.mu.RUnlock()
	alert, ok := eng.alerts[id]
	if !ok {
		return nil, false
	}
	cp := *alert
	return &cp, true
}

// Acknowledge moves an active alert to acknowledged.
func (eng *Engine) Acknowledge(id string) error {
	return eng.transition(id, StatusAcknowledged, map[Status]bool{StatusActive: true})
}

// Resolve terminates an alert. A new breach of the same metric can create a
// fresh alert afterwards.
func (eng *Engine) Resolve(id string) error {
	if err := eng.transition(id, StatusResolved, map[Status]bool{StatusActive: true, StatusAcknowledged: true}); err != nil {
		return err
	}
	eng.mu.Lock()
	if alert, ok := eng.alerts[id]; ok {
		now := time.Now()
		alert.ResolvedAt = &now
	}
	eng.mu.Unlock()
	return nil
}

// Suppress terminates an alert without resolution; no notifications are sent
// for it afterwards.
func (eng *Engine) Suppress(id string) error {
	return eng.transition(id, StatusSuppressed, map[Status]bool{StatusActive: true, StatusAcknowledged: true})
}

func (eng *Engine) transition(id string, to Status, allowedFrom map[Status]bool) error {
	eng.mu.Lock()
	defer eng.mu.Unlock()

	alert, ok := eng.alerts[id]
	if !ok {
		return errors.New(errors.KindNotFound, fmt.Sprintf("alert %s not found", id))
	}
	if !allowedFrom[alert.Status] {
		return errors.New(errors.KindConflict, fmt.Sprintf("alert %s is %s, cannot move to %s", id, alert.Status, to))
	}
	alert.Status = to

	eng.logger.WithFields(logrus.Fields{
		"alert_id": id,
		"status":   to,
	}).Info("Alert status changed")
	return nil
}

// SetRule upserts a rule by ID, assigning an ID when absent.
func (eng *Engine) SetRule(rule *Rule) {
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	eng.mu.Lock()
	eng.rules[rule.ID] = rule
	eng.mu.Unlock()

	eng.logger.WithFields(logrus.Fields{
		"rule_id": rule.ID,
		"name":    rule.Name,
	}).Debug("Alert rule registered")
}

// RemoveRule deletes a rule by ID.
func (eng *Engine) RemoveRule(id string) {
	eng.mu.Lock()
	delete(eng.rules, id)
	eng.mu.Unlock()
}

// Rules returns all registered rules.
func (eng *Engine) Rules() []*Rule {
	eng.mu.RLock()
	defer eng.mu.RUnlock()

	rules := make([]*Rule, 0, len(eng.rules))
	for _, rule := range eng.rules {
		rules = append(rules, rule)
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
	return rules
}

// SetChannel upserts a notification channel by ID.
func (eng *Engine) SetChannel(channel *Channel) {
	eng.mu.Lock()
	eng.channels[channel.ID] = channel
	eng.mu.Unlock()
}

// Channels returns all registered channels.
func (eng *Engine) Channels() []*Channel {
	eng.mu.RLock()
	defer eng.mu.RUnlock()

	channels := make([]*Channel, 0, len(eng.channels))
	for _, ch := range eng.channels {
		channels = append(channels, ch)
	}
	sort.Slice(channels, func(i, j int) bool { return channels[i].ID < channels[j].ID })
	return channels
}

// Notifications returns a copy of the delivery log, oldest first.
func (eng *Engine) Notifications() []*Notification {
	eng.mu.RLock()
	defer eng.mu.RUnlock()

	out := make([]*Notification, len(eng.notifications))
	copy(out, eng.notifications)
	return out
}
