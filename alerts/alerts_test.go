package alerts

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edukz/vagas-scrapy-sub001/logging"
	"github.com/edukz/vagas-scrapy-sub001/metrics"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	log, err := logging.New(logging.Config{})
	require.NoError(t, err)
	reg := metrics.NewRegistry(0)
	return NewEngine(reg, log, Policy{})
}

type fakeChannel struct {
	name    string
	sev     Severity
	sent    []Alert
	fail    bool
}

func (c *fakeChannel) Name() string                     { return c.name }
func (c *fakeChannel) Enabled() bool                    { return true }
func (c *fakeChannel) MinSeverity() Severity            { return c.sev }
func (c *fakeChannel) AllowSend(now time.Time) bool     { return true }
func (c *fakeChannel) Send(ctx context.Context, a Alert) error {
	if c.fail {
		return assert.AnError
	}
	c.sent = append(c.sent, a)
	return nil
}

func TestRuleTriggersAndNotifies(t *testing.T) {
	e := newTestEngine(t)
	ch := &fakeChannel{name: "console", sev: SeverityLow}
	e.RegisterChannel(ch)
	e.AddRule(&Rule{
		Name: "high_error_rate", MetricName: "errors.rate",
		Comparator: ComparatorGT, Threshold: 0.5, Severity: SeverityHigh,
		Cooldown: time.Minute, Enabled: true, Channels: []string{"console"},
	})

	e.Observe("errors.rate", 0.9, nil)

	active := e.Active()
	require.Len(t, active, 1)
	assert.Equal(t, 1, active[0].TriggerCount)
	require.Len(t, ch.sent, 1)
}

func TestRuleRetriggerWithinCooldownIsSuppressed(t *testing.T) {
	e := newTestEngine(t)
	ch := &fakeChannel{name: "console", sev: SeverityLow}
	e.RegisterChannel(ch)
	e.AddRule(&Rule{
		Name: "high_error_rate", MetricName: "errors.rate",
		Comparator: ComparatorGT, Threshold: 0.5, Severity: SeverityHigh,
		Cooldown: time.Hour, Enabled: true, Channels: []string{"console"},
	})

	e.Observe("errors.rate", 0.9, nil)
	e.Observe("errors.rate", 0.95, nil)

	active := e.Active()
	require.Len(t, active, 1)
	assert.Equal(t, 1, active[0].TriggerCount, "second trigger is within cooldown and should be suppressed")
	assert.Len(t, ch.sent, 1)
}

func TestAcknowledgeAndResolve(t *testing.T) {
	e := newTestEngine(t)
	e.AddRule(&Rule{
		Name: "r", MetricName: "m", Comparator: ComparatorGT, Threshold: 1,
		Severity: SeverityLow, Cooldown: time.Minute, Enabled: true,
	})
	e.Observe("m", 2, nil)
	active := e.Active()
	require.Len(t, active, 1)

	ok := e.Acknowledge(active[0].ID, "operator")
	require.True(t, ok)

	ok = e.Resolve(active[0].ID)
	require.True(t, ok)
	assert.Empty(t, e.Active())
}

func TestDisabledRuleNeverTriggers(t *testing.T) {
	e := newTestEngine(t)
	e.AddRule(&Rule{
		Name: "r", MetricName: "m", Comparator: ComparatorGT, Threshold: 1,
		Severity: SeverityLow, Enabled: false,
	})
	e.Observe("m", 100, nil)
	assert.Empty(t, e.Active())
}

func TestSweepEscalatesAfterThreshold(t *testing.T) {
	e := newTestEngine(t)
	ch := &fakeChannel{name: "console", sev: SeverityLow}
	e.RegisterChannel(ch)
	e.AddRule(&Rule{
		Name: "high_error_rate", MetricName: "errors.rate",
		Comparator: ComparatorGT, Threshold: 0.5, Severity: SeverityMedium,
		EscalationAfter: 10 * time.Millisecond, EscalationSeverity: SeverityCritical,
		Cooldown: 0, Enabled: true, Channels: []string{"console"},
	})

	e.Observe("errors.rate", 0.9, nil)
	active := e.Active()
	require.Len(t, active, 1)
	require.False(t, active[0].Escalated)
	require.Len(t, ch.sent, 1, "initial trigger notifies once")

	time.Sleep(20 * time.Millisecond)
	e.sweep(context.Background())

	active = e.Active()
	require.Len(t, active, 1)
	assert.True(t, active[0].Escalated)
	assert.Equal(t, SeverityCritical, active[0].Severity)
	assert.Len(t, ch.sent, 2, "escalation re-notifies every eligible channel once")
}

func TestSweepAutoResolvesStaleActiveAlert(t *testing.T) {
	e := newTestEngine(t)
	e.AddRule(&Rule{
		Name: "r", MetricName: "m", Comparator: ComparatorGT, Threshold: 1,
		Severity: SeverityLow, Cooldown: 0, Enabled: true,
	})
	e.policy.StaleAfter = 10 * time.Millisecond

	e.Observe("m", 2, nil)
	require.Len(t, e.Active(), 1)

	time.Sleep(20 * time.Millisecond)
	e.sweep(context.Background())

	assert.Empty(t, e.Active())
}

func TestChannelFailureDoesNotAbortSiblings(t *testing.T) {
	e := newTestEngine(t)
	failing := &fakeChannel{name: "webhook", sev: SeverityLow, fail: true}
	ok := &fakeChannel{name: "console", sev: SeverityLow}
	e.RegisterChannel(failing)
	e.RegisterChannel(ok)
	e.AddRule(&Rule{
		Name: "r", MetricName: "m", Comparator: ComparatorGT, Threshold: 1,
		Severity: SeverityLow, Cooldown: time.Minute, Enabled: true,
		Channels: []string{"webhook", "console"},
	})
	e.Observe("m", 2, nil)
	assert.Len(t, ok.sent, 1)
	assert.Empty(t, failing.sent)
}
