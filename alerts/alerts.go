// Package alerts implements the rule-driven Alert Engine (C3): rule
// evaluation over metric writes, an active-alert table, and a notification
// fan-out across channel implementations.
//
// Grounded in the teacher's metrics.PrometheusProvider for the mutex-guarded
// registry shape, and in the CloudSlash notifier package for the channel
// send/webhook pattern (see channels.go).
package alerts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/edukz/vagas-scrapy-sub001/logging"
	"github.com/edukz/vagas-scrapy-sub001/metrics"
)

type Comparator string

const (
	ComparatorGT Comparator = "gt"
	ComparatorLT Comparator = "lt"
	ComparatorEQ Comparator = "eq"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

type Status string

const (
	StatusActive       Status = "ACTIVE"
	StatusAcknowledged Status = "ACKNOWLEDGED"
	StatusResolved     Status = "RESOLVED"
	StatusSuppressed   Status = "SUPPRESSED"
)

// Rule binds a metric name to a threshold condition and notification policy.
type Rule struct {
	Name              string
	MetricName        string
	Comparator        Comparator
	Threshold         float64
	Severity          Severity
	Cooldown          time.Duration
	EscalationAfter   time.Duration
	EscalationSeverity Severity
	Enabled           bool
	Channels          []string

	mu             sync.Mutex
	lastTriggered  time.Time
}

func (r *Rule) satisfied(value float64) bool {
	switch r.Comparator {
	case ComparatorGT:
		return value > r.Threshold
	case ComparatorLT:
		return value < r.Threshold
	case ComparatorEQ:
		return value == r.Threshold
	default:
		return false
	}
}

// Alert is an active-alert table row (spec's "Active alert").
type Alert struct {
	ID              string
	RuleName        string
	Severity        Severity
	Status          Status
	CreatedAt       time.Time
	LastTriggeredAt time.Time
	TriggerCount    int
	Escalated       bool
	Title           string
	Description     string
	Context         map[string]any
}

// Policy resolves behaviors the spec left as open questions.
type Policy struct {
	// AutoResolveAcknowledged controls whether an ACKNOWLEDGED alert is
	// still subject to the 24h stale-alert auto-resolution sweep. Default
	// false: acknowledged alerts are assumed actively handled.
	AutoResolveAcknowledged bool
	StaleAfter              time.Duration // default 24h
	HistoryLimit            int           // default 10000
}

func (p Policy) withDefaults() Policy {
	if p.StaleAfter <= 0 {
		p.StaleAfter = 24 * time.Hour
	}
	if p.HistoryLimit <= 0 {
		p.HistoryLimit = 10000
	}
	return p
}

// Channel is the polymorphic capability set every notification destination
// implements: AllowSend is the rate check, and Send both formats and
// submits the alert (there is no separate format method).
type Channel interface {
	Name() string
	Enabled() bool
	MinSeverity() Severity
	AllowSend(now time.Time) bool // per-channel per-hour rate limit
	Send(ctx context.Context, a Alert) error
}

// Engine owns rules, the active-alert table, and the registered channels. It
// subscribes to a metrics.Registry via the AlertSink interface.
type Engine struct {
	mu       sync.Mutex
	rules    map[string]*Rule
	active   map[string]*Alert
	history  []Alert
	channels map[string]Channel
	policy   Policy

	reg *metrics.Registry
	log *logging.Logger

	stop chan struct{}
	wg   sync.WaitGroup
}

func NewEngine(reg *metrics.Registry, log *logging.Logger, policy Policy) *Engine {
	return &Engine{
		rules:    make(map[string]*Rule),
		active:   make(map[string]*Alert),
		channels: make(map[string]Channel),
		policy:   policy.withDefaults(),
		reg:      reg,
		log:      log.With("alerts"),
		stop:     make(chan struct{}),
	}
}

func (e *Engine) AddRule(r *Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules[r.MetricName] = r
}

func (e *Engine) RegisterChannel(c Channel) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.channels[c.Name()] = c
}

// Observe implements metrics.AlertSink. It is the entry point for every
// metric write (spec §4.2/§4.3).
func (e *Engine) Observe(name string, value float64, labels map[string]string) {
	e.mu.Lock()
	rule, ok := e.rules[name]
	e.mu.Unlock()
	if !ok || !rule.Enabled {
		return
	}
	e.evaluate(context.Background(), rule, value)
}

func alertID(ruleName, title, description string) string {
	h := sha256.Sum256([]byte(ruleName + "|" + title + "|" + description))
	return hex.EncodeToString(h[:])[:32]
}

func (e *Engine) evaluate(ctx context.Context, rule *Rule, value float64) {
	rule.mu.Lock()
	now := time.Now()
	if now.Sub(rule.lastTriggered) < rule.Cooldown {
		rule.mu.Unlock()
		return
	}
	if !rule.satisfied(value) {
		rule.mu.Unlock()
		return
	}
	rule.lastTriggered = now
	rule.mu.Unlock()

	title := rule.Name + " threshold breached"
	description := rule.MetricName
	id := alertID(rule.Name, title, description)

	e.mu.Lock()
	a, exists := e.active[id]
	if !exists {
		a = &Alert{
			ID: id, RuleName: rule.Name, Severity: rule.Severity,
			Status: StatusActive, CreatedAt: now, LastTriggeredAt: now,
			TriggerCount: 1, Title: title, Description: description,
		}
		e.active[id] = a
	} else {
		a.TriggerCount++
		a.LastTriggeredAt = now
	}
	channelNames := append([]string(nil), rule.Channels...)
	e.mu.Unlock()

	e.notify(ctx, *a, channelNames)
}

// notify fans out to every named channel, never aborting siblings on a
// single channel's failure (spec §4.3).
func (e *Engine) notify(ctx context.Context, a Alert, channelNames []string) {
	for _, name := range channelNames {
		e.mu.Lock()
		ch := e.channels[name]
		e.mu.Unlock()
		if ch == nil || !ch.Enabled() || severityRank(a.Severity) < severityRank(ch.MinSeverity()) {
			continue
		}
		if !ch.AllowSend(time.Now()) {
			continue
		}
		if err := ch.Send(ctx, a); err != nil {
			e.log.Error(ctx, "notification channel send failed", "channel", name, "error", err.Error())
			if e.reg != nil {
				e.reg.IncrementCounter("notifications."+name+".failed", 1)
			}
		}
	}
}

func severityRank(s Severity) int {
	switch s {
	case SeverityLow:
		return 0
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	default:
		return 0
	}
}

// Acknowledge marks an active alert ACKNOWLEDGED.
func (e *Engine) Acknowledge(alertID, actor string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.active[alertID]
	if !ok {
		return false
	}
	a.Status = StatusAcknowledged
	if a.Context == nil {
		a.Context = map[string]any{}
	}
	a.Context["acknowledged_by"] = actor
	return true
}

// Resolve removes an alert from the active set and keeps it in history.
func (e *Engine) Resolve(alertID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.active[alertID]
	if !ok {
		return false
	}
	a.Status = StatusResolved
	e.history = append(e.history, *a)
	delete(e.active, alertID)
	e.trimHistoryLocked()
	return true
}

func (e *Engine) trimHistoryLocked() {
	if len(e.history) > e.policy.HistoryLimit {
		e.history = e.history[len(e.history)-e.policy.HistoryLimit:]
	}
}

// Active returns a snapshot of the active-alert table.
func (e *Engine) Active() []Alert {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Alert, 0, len(e.active))
	for _, a := range e.active {
		out = append(out, *a)
	}
	return out
}

// Start launches the 60s background loop: stale-alert resolution,
// escalation, history purge (spec §4.3).
func (e *Engine) Start(ctx context.Context) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-e.stop:
				return
			case <-ticker.C:
				e.sweep(ctx)
			}
		}
	}()
}

func (e *Engine) Stop() {
	close(e.stop)
	e.wg.Wait()
}

func (e *Engine) sweep(ctx context.Context) {
	now := time.Now()
	e.mu.Lock()
	var toResolve []string
	var toEscalate []*Alert
	for id, a := range e.active {
		if a.Status == StatusAcknowledged && !e.policy.AutoResolveAcknowledged {
			continue
		}
		if now.Sub(a.LastTriggeredAt) > e.policy.StaleAfter {
			toResolve = append(toResolve, id)
			continue
		}
		if rule, ok := e.rules[metricNameForRule(e.rules, a.RuleName)]; ok && !a.Escalated &&
			rule.EscalationAfter > 0 && now.Sub(a.CreatedAt) >= rule.EscalationAfter {
			a.Severity = rule.EscalationSeverity
			a.Escalated = true
			toEscalate = append(toEscalate, a)
		}
	}
	for _, id := range toResolve {
		a := e.active[id]
		a.Status = StatusResolved
		e.history = append(e.history, *a)
		delete(e.active, id)
	}
	e.trimHistoryLocked()
	e.mu.Unlock()

	for _, a := range toEscalate {
		e.mu.Lock()
		rule := e.rules[metricNameForRule(e.rules, a.RuleName)]
		var channelNames []string
		if rule != nil {
			channelNames = rule.Channels
		}
		e.mu.Unlock()
		e.notify(ctx, *a, channelNames)
	}
}

func metricNameForRule(rules map[string]*Rule, ruleName string) string {
	for metricName, r := range rules {
		if r.Name == ruleName {
			return metricName
		}
	}
	return ""
}
