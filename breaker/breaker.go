// Package breaker implements the named circuit breaker manager (C9).
//
// Grounded in the teacher's internal/ratelimit breakerState, embedded there
// inside the per-domain rate limiter state (circuitClosed/Open/HalfOpen
// with a failure counter and a fixed reopen delay). Generalized here into a
// standalone Manager of named circuits with the full state machine spec.md
// §4.9 requires: a sliding window of timestamped outcomes, volume and
// percentage thresholds alongside the consecutive-failure threshold, and an
// operation-timeout wrapper around call().
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

var (
	ErrCircuitOpen = errors.New("breaker: circuit open")
)

// CircuitOpenError is returned by Call when a circuit rejects an attempt
// outright (spec §4.9, §7 "Policy" error class).
type CircuitOpenError struct{ Name string }

func (e *CircuitOpenError) Error() string { return "circuit " + e.Name + " is open" }
func (e *CircuitOpenError) Unwrap() error { return ErrCircuitOpen }

// Config configures a single named circuit.
type Config struct {
	FailureThreshold       int
	ErrorPercentageThreshold float64
	RequestVolumeThreshold  int
	RecoveryTimeout         time.Duration
	SuccessThreshold        int
	SlidingWindowSize       int
	OperationTimeout        time.Duration
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.ErrorPercentageThreshold <= 0 {
		c.ErrorPercentageThreshold = 0.5
	}
	if c.RequestVolumeThreshold <= 0 {
		c.RequestVolumeThreshold = 10
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = 5 * time.Second
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 2
	}
	if c.SlidingWindowSize <= 0 {
		c.SlidingWindowSize = 20
	}
	return c
}

type outcome struct {
	ok bool
	at time.Time
}

// Circuit is a single named state machine, guarded by its own mutex so
// transitions and the outcome that caused them are always observed
// together (spec §5).
type Circuit struct {
	name string
	cfg  Config

	mu                      sync.Mutex
	state                   State
	consecutiveFailures     int
	consecutiveSuccessesHO  int
	openedAt                time.Time
	window                  []outcome
	rejected                int64

	onOpen   func(name string)
	onClose  func(name string)
	onReject func(name string)
}

func newCircuit(name string, cfg Config, onOpen, onClose, onReject func(string)) *Circuit {
	return &Circuit{name: name, cfg: cfg.withDefaults(), state: StateClosed, onOpen: onOpen, onClose: onClose, onReject: onReject}
}

func (c *Circuit) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Rejected returns the count of calls rejected outright while OPEN (spec
// §4.9: "reject with CircuitOpenError, rejected++").
func (c *Circuit) Rejected() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rejected
}

func (c *Circuit) pushOutcomeLocked(ok bool) {
	c.window = append(c.window, outcome{ok: ok, at: time.Now()})
	if len(c.window) > c.cfg.SlidingWindowSize {
		c.window = c.window[len(c.window)-c.cfg.SlidingWindowSize:]
	}
}

func (c *Circuit) errorRateLocked() float64 {
	if len(c.window) == 0 {
		return 0
	}
	failures := 0
	for _, o := range c.window {
		if !o.ok {
			failures++
		}
	}
	return float64(failures) / float64(len(c.window))
}

// allow decides whether a call may proceed given the current state,
// performing the OPEN -> HALF_OPEN transition when recovery_timeout has
// elapsed.
func (c *Circuit) allow() error {
	c.mu.Lock()
	rejected := false

	var err error
	switch c.state {
	case StateOpen:
		if time.Since(c.openedAt) >= c.cfg.RecoveryTimeout {
			c.state = StateHalfOpen
			c.consecutiveSuccessesHO = 0
		} else {
			c.rejected++
			rejected = true
			err = &CircuitOpenError{Name: c.name}
		}
	}
	c.mu.Unlock()

	if rejected && c.onReject != nil {
		c.onReject(c.name)
	}
	return err
}

func (c *Circuit) onSuccess() {
	c.mu.Lock()
	closed := false
	c.pushOutcomeLocked(true)

	switch c.state {
	case StateClosed:
		c.consecutiveFailures = 0
	case StateHalfOpen:
		c.consecutiveSuccessesHO++
		if c.consecutiveSuccessesHO >= c.cfg.SuccessThreshold {
			c.state = StateClosed
			c.consecutiveFailures = 0
			c.consecutiveSuccessesHO = 0
			closed = true
		}
	}
	c.mu.Unlock()

	if closed && c.onClose != nil {
		c.onClose(c.name)
	}
}

func (c *Circuit) onFailure() {
	c.mu.Lock()
	opened := false
	c.pushOutcomeLocked(false)

	switch c.state {
	case StateClosed:
		c.consecutiveFailures++
		volumeTripped := len(c.window) >= c.cfg.RequestVolumeThreshold && c.errorRateLocked() >= c.cfg.ErrorPercentageThreshold
		if c.consecutiveFailures >= c.cfg.FailureThreshold || volumeTripped {
			c.state = StateOpen
			c.openedAt = time.Now()
			opened = true
		}
	case StateHalfOpen:
		c.state = StateOpen
		c.openedAt = time.Now()
		c.consecutiveSuccessesHO = 0
		opened = true
	}
	c.mu.Unlock()

	if opened && c.onOpen != nil {
		c.onOpen(c.name)
	}
}

// Call runs op under operation_timeout, treating a timeout as a failure.
func (c *Circuit) Call(ctx context.Context, op func(ctx context.Context) error) error {
	if err := c.allow(); err != nil {
		return err
	}

	opCtx := ctx
	var cancel context.CancelFunc
	if c.cfg.OperationTimeout > 0 {
		opCtx, cancel = context.WithTimeout(ctx, c.cfg.OperationTimeout)
		defer cancel()
	}

	err := op(opCtx)
	if err != nil {
		c.onFailure()
		return err
	}
	c.onSuccess()
	return nil
}

// Manager holds every named circuit, created once and never replaced (spec
// §4.9: "get(name, config) never replacing an existing one").
type Manager struct {
	mu       sync.Mutex
	circuits map[string]*Circuit
	onOpen   func(name string)
	onClose  func(name string)
	onReject func(name string)
}

// NewManager builds a Manager. onOpen fires on every CLOSED/HALF_OPEN->OPEN
// transition; onClose fires on every HALF_OPEN->CLOSED transition; onReject
// fires on every call rejected outright while OPEN (spec §4.9, §4.9 state
// table "reject ... rejected++", scenario 3: "circuit_breaker.opens=1,
// circuit_breaker.closes=1"). Any callback may be nil.
func NewManager(onOpen, onClose, onReject func(name string)) *Manager {
	return &Manager{circuits: make(map[string]*Circuit), onOpen: onOpen, onClose: onClose, onReject: onReject}
}

func (m *Manager) Get(name string, cfg Config) *Circuit {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.circuits[name]; ok {
		return c
	}
	c := newCircuit(name, cfg, m.onOpen, m.onClose, m.onReject)
	m.circuits[name] = c
	return c
}

func (m *Manager) Snapshot() map[string]State {
	m.mu.Lock()
	names := make([]*Circuit, 0, len(m.circuits))
	for _, c := range m.circuits {
		names = append(names, c)
	}
	m.mu.Unlock()

	out := make(map[string]State, len(names))
	for _, c := range names {
		out[c.name] = c.State()
	}
	return out
}

// RejectedCounts returns the running count of outright-rejected calls per
// named circuit (spec §4.9 "rejected++"), for export alongside Snapshot.
func (m *Manager) RejectedCounts() map[string]int64 {
	m.mu.Lock()
	circuits := make([]*Circuit, 0, len(m.circuits))
	for _, c := range m.circuits {
		circuits = append(circuits, c)
	}
	m.mu.Unlock()

	out := make(map[string]int64, len(circuits))
	for _, c := range circuits {
		out[c.name] = c.Rejected()
	}
	return out
}
