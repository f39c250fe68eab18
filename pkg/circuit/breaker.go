package circuit

import (
	"fmt"
	"sync"
	"time"

	"entryproc/pkg/types"

	"github.com/sirupsen/logrus"
)

// BreakerConfig configures a circuit breaker.
type BreakerConfig struct {
	Name             string        `yaml:"name"`
	FailureThreshold int           `yaml:"failure_threshold"`   // failure count that opens; each closed-state success lowers it by one
	SuccessThreshold int           `yaml:"success_threshold"`   // successes in half-open to close
	Timeout          time.Duration `yaml:"timeout"`             // time spent open before half-open
	HalfOpenMaxCalls int           `yaml:"half_open_max_calls"` // max calls allowed while half-open
	ResetTimeout     time.Duration `yaml:"reset_timeout"`       // defaulted to 10m; not read by the state machine
}

// Breaker implements the circuit breaker pattern: calls that can fail
// transiently (catalog writes, broker publishes) are wrapped in Execute so
// a struggling backend trips the breaker instead of backing up callers.
type Breaker struct {
	config BreakerConfig
	logger *logrus.Logger

	state         types.CircuitBreakerState
	failures      int64
	successes     int64
	requests      int64
	lastFailure   time.Time
	lastSuccess   time.Time
	nextRetryTime time.Time

	// Controle de half-open
	halfOpenCalls     int
	halfOpenSuccesses int
	halfOpenStartTime time.Time
	maxHalfOpen       int

	// Callbacks para eventos
	onStateChange func(from, to types.CircuitBreakerState)
	onFailure     func(error)
	onSuccess     func()

	mu sync.RWMutex
}

// NewBreaker builds a Breaker, applying defaults to any zero-valued field.
func NewBreaker(config BreakerConfig, logger *logrus.Logger) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 3
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	if config.HalfOpenMaxCalls <= 0 {
		config.HalfOpenMaxCalls = 10
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = 10 * time.Minute
	}

	return &Breaker{
		config:      config,
		logger:      logger,
		state:       types.CircuitBreakerClosed,
		maxHalfOpen: config.HalfOpenMaxCalls,
	}
}

// Execute runs fn under the breaker's protection in three phases, so the
// lock is never held across fn's execution: pre-check (locked) validates
// state and admits the call, execution (unlocked) runs fn concurrently with
// other callers, and post-record (locked) updates counters/state and
// evaluates whether to trip.
func (b *Breaker) Execute(fn func() error) error {
	b.mu.Lock()

	b.requests++

	if b.state == types.CircuitBreakerOpen {
		if time.Now().Before(b.nextRetryTime) {
			b.mu.Unlock()
			return fmt.Errorf("circuit breaker %s is open", b.config.Name)
		}
		b.setState(types.CircuitBreakerHalfOpen)
		b.halfOpenCalls = 0
		b.halfOpenSuccesses = 0
		b.halfOpenStartTime = time.Now()
	}

	if b.state == types.CircuitBreakerHalfOpen {
		halfOpenTimeout := b.config.Timeout * 2
		if time.Since(b.halfOpenStartTime) > halfOpenTimeout {
			b.logger.WithField("breaker", b.config.Name).Warn("circuit breaker half-open timeout, reopening")
			b.trip()
			b.mu.Unlock()
			return fmt.Errorf("circuit breaker %s half-open timeout", b.config.Name)
		}

		if b.halfOpenCalls >= b.maxHalfOpen {
			b.mu.Unlock()
			return fmt.Errorf("circuit breaker %s is half-open (max calls reached)", b.config.Name)
		}
		b.halfOpenCalls++
	}

	b.mu.Unlock()

	err := fn()

	b.mu.Lock()

	if err != nil {
		b.onExecutionFailure(err)
		if b.shouldTrip() {
			b.trip()
		}
		b.mu.Unlock()
		return err
	}

	b.onExecutionSuccess()
	b.mu.Unlock()
	return nil
}

// shouldTrip reports whether the breaker should open.
func (b *Breaker) shouldTrip() bool {
	if b.state != types.CircuitBreakerClosed {
		return false
	}

	return b.failures >= int64(b.config.FailureThreshold)
}

// trip opens the circuit breaker.
func (b *Breaker) trip() {
	if b.state == types.CircuitBreakerOpen {
		return
	}

	b.setState(types.CircuitBreakerOpen)
	b.nextRetryTime = time.Now().Add(b.config.Timeout)

	b.logger.WithFields(logrus.Fields{
		"breaker":         b.config.Name,
		"failures":        b.failures,
		"next_retry_time": b.nextRetryTime,
	}).Warn("Circuit breaker opened")
}

// onExecutionFailure handles a failed execution.
func (b *Breaker) onExecutionFailure(err error) {
	b.failures++
	b.lastFailure = time.Now()

	if b.onFailure != nil {
		b.onFailure(err)
	}

	// In half-open, go straight back to open.
	if b.state == types.CircuitBreakerHalfOpen {
		b.trip()
	}
}

// onExecutionSuccess handles a successful execution.
func (b *Breaker) onExecutionSuccess() {
	b.successes++
	b.lastSuccess = time.Now()

	if b.onSuccess != nil {
		b.onSuccess()
	}

	// In half-open, check whether we can close.
	if b.state == types.CircuitBreakerHalfOpen {
		// Count successes toward the half-open close threshold.
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.config.SuccessThreshold {
			b.setState(types.CircuitBreakerClosed)
			b.reset()
		}
	} else if b.state == types.CircuitBreakerClosed {
		// Let successes erode the failure count.
		if b.failures > 0 {
			b.failures = max(0, b.failures-1)
		}
	}
}

// reset clears the breaker's counters.
func (b *Breaker) reset() {
	b.failures = 0
	b.halfOpenCalls = 0
	b.halfOpenSuccesses = 0
	b.nextRetryTime = time.Time{}

	b.logger.WithFields(logrus.Fields{
		"breaker":   b.config.Name,
		"successes": b.successes,
	}).Info("Circuit breaker reset")
}

// setState transitions the breaker's state, invoking the state-change
// callback if one is registered.
func (b *Breaker) setState(newState types.CircuitBreakerState) {
	if b.state == newState {
		return
	}

	oldState := b.state
	b.state = newState

	if b.onStateChange != nil {
		b.onStateChange(oldState, newState)
	}

	b.logger.WithFields(logrus.Fields{
		"breaker":   b.config.Name,
		"old_state": oldState,
		"new_state": newState,
		"failures":  b.failures,
		"successes": b.successes,
	}).Info("Circuit breaker state changed")
}

// State returns the breaker's current state.
func (b *Breaker) State() types.CircuitBreakerState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// IsOpen reports whether the breaker is open.
func (b *Breaker) IsOpen() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state == types.CircuitBreakerOpen
}

// Reset forces the breaker back to closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.setState(types.CircuitBreakerClosed)
	b.reset()
}

// GetStats returns a snapshot of the breaker's counters.
func (b *Breaker) GetStats() types.CircuitBreakerStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return types.CircuitBreakerStats{
		State:         b.state,
		Failures:      b.failures,
		Successes:     b.successes,
		Requests:      b.requests,
		LastFailure:   b.lastFailure,
		LastSuccess:   b.lastSuccess,
		NextRetryTime: b.nextRetryTime,
	}
}

// SetStateChangeCallback registers a callback fired on state transitions.
func (b *Breaker) SetStateChangeCallback(fn func(from, to types.CircuitBreakerState)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onStateChange = fn
}

// SetFailureCallback registers a callback fired on execution failure.
func (b *Breaker) SetFailureCallback(fn func(error)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onFailure = fn
}

// SetSuccessCallback registers a callback fired on execution success.
func (b *Breaker) SetSuccessCallback(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onSuccess = fn
}

// CanExecute reports whether a call would currently be admitted.
func (b *Breaker) CanExecute() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	switch b.state {
	case types.CircuitBreakerClosed:
		return true
	case types.CircuitBreakerOpen:
		return time.Now().After(b.nextRetryTime)
	case types.CircuitBreakerHalfOpen:
		return b.halfOpenCalls < b.maxHalfOpen
	default:
		return false
	}
}

// ForceOpen trips the breaker regardless of its current failure count.
func (b *Breaker) ForceOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trip()
}

func max(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
