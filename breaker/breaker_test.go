package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func failOp(ctx context.Context) error { return errBoom }
func okOp(ctx context.Context) error   { return nil }

func TestOpensAfterConsecutiveFailures(t *testing.T) {
	m := NewManager(nil, nil, nil)
	c := m.Get("svc", Config{FailureThreshold: 2, RecoveryTimeout: time.Hour})

	_ = c.Call(context.Background(), failOp)
	assert.Equal(t, StateClosed, c.State())
	_ = c.Call(context.Background(), failOp)
	assert.Equal(t, StateOpen, c.State())
}

func TestOpenRejectsBeforeRecovery(t *testing.T) {
	m := NewManager(nil, nil, nil)
	c := m.Get("svc", Config{FailureThreshold: 1, RecoveryTimeout: time.Hour})
	_ = c.Call(context.Background(), failOp)
	require.Equal(t, StateOpen, c.State())

	err := c.Call(context.Background(), okOp)
	var coe *CircuitOpenError
	assert.ErrorAs(t, err, &coe)
}

func TestHalfOpenClosesAfterSuccessThreshold(t *testing.T) {
	m := NewManager(nil, nil, nil)
	c := m.Get("svc", Config{FailureThreshold: 1, RecoveryTimeout: time.Millisecond, SuccessThreshold: 2})
	_ = c.Call(context.Background(), failOp)
	require.Equal(t, StateOpen, c.State())

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, c.Call(context.Background(), okOp))
	assert.Equal(t, StateHalfOpen, c.State())

	require.NoError(t, c.Call(context.Background(), okOp))
	assert.Equal(t, StateClosed, c.State())
}

func TestHalfOpenFailureReopens(t *testing.T) {
	m := NewManager(nil, nil, nil)
	c := m.Get("svc", Config{FailureThreshold: 1, RecoveryTimeout: time.Millisecond, SuccessThreshold: 2})
	_ = c.Call(context.Background(), failOp)
	time.Sleep(5 * time.Millisecond)
	_ = c.Call(context.Background(), okOp) // -> HALF_OPEN
	require.Equal(t, StateHalfOpen, c.State())

	_ = c.Call(context.Background(), failOp)
	assert.Equal(t, StateOpen, c.State())
}

func TestVolumeAndPercentageThresholdTrips(t *testing.T) {
	m := NewManager(nil, nil, nil)
	c := m.Get("svc", Config{
		FailureThreshold: 1000, RequestVolumeThreshold: 4,
		ErrorPercentageThreshold: 0.5, SlidingWindowSize: 4, RecoveryTimeout: time.Hour,
	})
	_ = c.Call(context.Background(), okOp)
	_ = c.Call(context.Background(), failOp)
	_ = c.Call(context.Background(), okOp)
	require.Equal(t, StateClosed, c.State())
	_ = c.Call(context.Background(), failOp)
	assert.Equal(t, StateOpen, c.State())
}

func TestGetNeverReplacesExisting(t *testing.T) {
	m := NewManager(nil, nil, nil)
	c1 := m.Get("svc", Config{FailureThreshold: 1})
	c2 := m.Get("svc", Config{FailureThreshold: 99})
	assert.Same(t, c1, c2)
}

func TestOnOpenCallbackFires(t *testing.T) {
	var opened string
	m := NewManager(func(name string) { opened = name }, nil, nil)
	c := m.Get("svc", Config{FailureThreshold: 1, RecoveryTimeout: time.Hour})
	_ = c.Call(context.Background(), failOp)
	assert.Equal(t, "svc", opened)
}

func TestOnCloseCallbackFiresOnHalfOpenToClosed(t *testing.T) {
	var closed string
	m := NewManager(nil, func(name string) { closed = name }, nil)
	c := m.Get("svc", Config{FailureThreshold: 1, RecoveryTimeout: time.Millisecond, SuccessThreshold: 1})
	_ = c.Call(context.Background(), failOp)
	require.Equal(t, StateOpen, c.State())

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, c.Call(context.Background(), okOp))
	assert.Equal(t, StateClosed, c.State())
	assert.Equal(t, "svc", closed)
}

func TestRejectedCounterIncrementsWhileOpen(t *testing.T) {
	var rejectedCalls int
	m := NewManager(nil, nil, func(name string) { rejectedCalls++ })
	c := m.Get("svc", Config{FailureThreshold: 1, RecoveryTimeout: time.Hour})
	_ = c.Call(context.Background(), failOp)
	require.Equal(t, StateOpen, c.State())

	_ = c.Call(context.Background(), okOp)
	_ = c.Call(context.Background(), okOp)
	assert.Equal(t, int64(2), c.Rejected())
	assert.Equal(t, int64(2), m.RejectedCounts()["svc"])
	assert.Equal(t, 2, rejectedCalls)
}

func TestOperationTimeoutCountsAsFailure(t *testing.T) {
	m := NewManager(nil, nil, nil)
	c := m.Get("svc", Config{FailureThreshold: 1, OperationTimeout: time.Millisecond, RecoveryTimeout: time.Hour})
	err := c.Call(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.Error(t, err)
	assert.Equal(t, StateOpen, c.State())
}
