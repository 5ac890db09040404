// Package retry implements the bounded, jittered, policy-driven retry
// engine (C8).
//
// Grounded in the teacher's internal/pipeline backoffDelay/scheduleRetry
// pair (exponential delay capped at max, randomized jitter via a
// mutex-guarded rand.Rand), generalized here into a standalone Execute
// function usable for any operation and all three backoff kinds spec.md
// names rather than just the pipeline's hardcoded exponential curve.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/edukz/vagas-scrapy-sub001/metrics"
)

type Backoff string

const (
	BackoffFixed       Backoff = "fixed"
	BackoffLinear      Backoff = "linear"
	BackoffExponential Backoff = "exponential"
)

// Policy controls Execute's retry behavior (spec §4.8).
type Policy struct {
	MaxAttempts      int
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	Backoff          Backoff
	Jitter           float64 // in [0,1]
	Retryable        func(err error) bool
	PerAttemptTimeout time.Duration
	MetricPrefix     string // e.g. "retry"; empty disables metric publishing
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 200 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 5 * time.Second
	}
	if p.Backoff == "" {
		p.Backoff = BackoffExponential
	}
	if p.Retryable == nil {
		p.Retryable = func(error) bool { return true }
	}
	return p
}

var (
	randMu sync.Mutex
	rnd    = rand.New(rand.NewSource(time.Now().UnixNano()))
)

func jittered(delay time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return delay
	}
	randMu.Lock()
	factor := 1 + (rnd.Float64()*2-1)*jitter
	randMu.Unlock()
	d := time.Duration(float64(delay) * factor)
	if d < 0 {
		return 0
	}
	return d
}

func delayFor(p Policy, attempt int) time.Duration {
	var delay time.Duration
	switch p.Backoff {
	case BackoffFixed:
		delay = p.BaseDelay
	case BackoffLinear:
		delay = p.BaseDelay * time.Duration(attempt)
	default: // exponential
		delay = p.BaseDelay * time.Duration(1<<uint(attempt-1))
	}
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return jittered(delay, p.Jitter)
}

// Executor wires a Policy to an optional metrics registry so every Execute
// call publishes the retry.* counters spec.md requires.
type Executor struct {
	reg *metrics.Registry
}

func NewExecutor(reg *metrics.Registry) *Executor {
	return &Executor{reg: reg}
}

func (e *Executor) incr(name string) {
	if e.reg != nil && name != "" {
		e.reg.IncrementCounter(name, 1)
	}
}

// Execute calls op; on failure it retries per policy until max_attempts is
// exhausted, the error isn't retryable, or ctx is cancelled.
func (e *Executor) Execute(ctx context.Context, policy Policy, op func(ctx context.Context) error) error {
	policy = policy.withDefaults()
	e.incr(policy.MetricPrefix + ".total_operations")

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		opCtx := ctx
		var cancel context.CancelFunc
		if policy.PerAttemptTimeout > 0 {
			opCtx, cancel = context.WithTimeout(ctx, policy.PerAttemptTimeout)
		}
		err := op(opCtx)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			if attempt > 1 {
				e.incr(policy.MetricPrefix + ".success_after_retry")
			}
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt >= policy.MaxAttempts || !policy.Retryable(err) {
			break
		}

		e.incr(policy.MetricPrefix + ".retry_count")
		delay := delayFor(policy, attempt)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	e.incr(policy.MetricPrefix + ".failed_operations")
	if lastErr == nil {
		lastErr = errors.New("retry: operation failed with no error recorded")
	}
	return lastErr
}
