// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package resilience holds the balance circuit breaker that halts the
// pipeline when the funding account can no longer pay for anchoring.
package resilience

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ManuGH/camanchor/internal/chain"
	"github.com/ManuGH/camanchor/internal/log"
	"github.com/ManuGH/camanchor/internal/metrics"
	"github.com/rs/zerolog"
)

// State represents the circuit breaker state.
type State string

const (
	StateClosed State = "closed"
	StateOpen   State = "open"
)

// Trip reasons.
const (
	ReasonLowBalance   = "balance_below_threshold"
	ReasonSubmitFailed = "balance_submit_failure"
)

// ErrCircuitOpen is returned to callers refused while the breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BalanceSource reports the funding account balance in wei.
type BalanceSource interface {
	Balance(ctx context.Context) (*big.Int, error)
}

// clock abstracts time operations for testability.
type clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Status is a point-in-time view of the breaker.
type Status struct {
	State       State
	IsHalted    bool
	LastBalance *big.Int
	MinBalance  *big.Int
	SampledAt   time.Time
	Reason      string
	LastError   string
}

// BalanceBreaker opens when a sampled balance falls below MinBalance and
// closes when a later sample is at or above it. Hooks fire only on edges.
type BalanceBreaker struct {
	mu        sync.Mutex
	name      string
	source    BalanceSource
	min       *big.Int
	interval  time.Duration
	clock     clock
	state     State
	last      *big.Int
	sampledAt time.Time
	reason    string
	lastErr   string

	hookMu  sync.Mutex
	onOpen  []func(reason string)
	onClose []func()

	logger zerolog.Logger
}

// Option configures a BalanceBreaker.
type Option func(*BalanceBreaker)

// WithClock replaces the clock used for sample timestamps.
func WithClock(c clock) Option {
	return func(b *BalanceBreaker) { b.clock = c }
}

// WithName labels the breaker in logs and metrics.
func WithName(name string) Option {
	return func(b *BalanceBreaker) { b.name = name }
}

// NewBalanceBreaker creates a closed breaker. A non-positive interval
// defaults to 30s.
func NewBalanceBreaker(source BalanceSource, minBalance *big.Int, interval time.Duration, opts ...Option) *BalanceBreaker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if minBalance == nil {
		minBalance = new(big.Int)
	}
	b := &BalanceBreaker{
		name:     "balance",
		source:   source,
		min:      new(big.Int).Set(minBalance),
		interval: interval,
		clock:    realClock{},
		state:    StateClosed,
		logger:   log.WithComponent("breaker"),
	}
	for _, opt := range opts {
		opt(b)
	}
	metrics.SetCircuitBreakerState(b.name, string(b.state))
	return b
}

// OnOpen registers fn to run after every Closed -> Open transition.
func (b *BalanceBreaker) OnOpen(fn func(reason string)) {
	b.hookMu.Lock()
	b.onOpen = append(b.onOpen, fn)
	b.hookMu.Unlock()
}

// OnClose registers fn to run after every Open -> Closed transition.
func (b *BalanceBreaker) OnClose(fn func()) {
	b.hookMu.Lock()
	b.onClose = append(b.onClose, fn)
	b.hookMu.Unlock()
}

// Sample reads the balance and moves the breaker accordingly. A failed read
// leaves the state unchanged.
func (b *BalanceBreaker) Sample(ctx context.Context) (*big.Int, error) {
	bal, err := b.source.Balance(ctx)
	if err != nil {
		metrics.IncBalanceSampleError()
		b.mu.Lock()
		b.lastErr = err.Error()
		b.mu.Unlock()
		b.logger.Warn().Err(err).Msg("balance sample failed")
		return nil, err
	}

	metrics.SetAccountBalance(chain.AmountFloat(bal))

	b.mu.Lock()
	b.last = new(big.Int).Set(bal)
	b.sampledAt = b.clock.Now()
	b.lastErr = ""
	target, reason := StateClosed, ""
	if bal.Cmp(b.min) < 0 {
		target, reason = StateOpen, ReasonLowBalance
	}
	changed := b.transitionTo(target, reason)
	b.mu.Unlock()

	b.fire(changed, target, reason, bal)
	return bal, nil
}

// Trip opens the breaker immediately, independent of the sampling timer.
func (b *BalanceBreaker) Trip(reason string) {
	b.mu.Lock()
	changed := b.transitionTo(StateOpen, reason)
	b.mu.Unlock()
	b.fire(changed, StateOpen, reason, nil)
}

// transitionTo handles state transitions and updates metrics.
// Caller must hold lock.
func (b *BalanceBreaker) transitionTo(newState State, reason string) bool {
	if b.state == newState {
		return false
	}
	b.state = newState
	b.reason = reason
	if newState == StateOpen {
		metrics.RecordCircuitBreakerTrip(b.name, reason)
	}
	metrics.SetCircuitBreakerState(b.name, string(newState))
	return true
}

func (b *BalanceBreaker) fire(changed bool, state State, reason string, bal *big.Int) {
	if !changed {
		return
	}
	ev := b.logger.Warn()
	if state == StateClosed {
		ev = b.logger.Info()
	}
	ev = ev.Str(log.FieldOldState, string(opposite(state))).
		Str(log.FieldNewState, string(state)).
		Str("min_balance", chain.FormatAmount(b.min))
	if bal != nil {
		ev = ev.Str(log.FieldBalance, chain.FormatAmount(bal))
	}
	if reason != "" {
		ev = ev.Str("reason", reason)
	}
	ev.Str(log.FieldEvent, "breaker."+string(state)).Msg("circuit breaker transition")

	b.hookMu.Lock()
	opens := append([]func(string){}, b.onOpen...)
	closes := append([]func(){}, b.onClose...)
	b.hookMu.Unlock()

	if state == StateOpen {
		for _, fn := range opens {
			fn(reason)
		}
		return
	}
	for _, fn := range closes {
		fn()
	}
}

func opposite(s State) State {
	if s == StateOpen {
		return StateClosed
	}
	return StateOpen
}

// Run samples every interval while shouldSample reports true, until ctx is
// done. A nil shouldSample samples on every tick.
func (b *BalanceBreaker) Run(ctx context.Context, shouldSample func() bool) error {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if shouldSample != nil && !shouldSample() {
				continue
			}
			_, _ = b.Sample(ctx)
		}
	}
}

// IsHalted reports whether the breaker is open.
func (b *BalanceBreaker) IsHalted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == StateOpen
}

// Status returns a copy of the breaker state.
func (b *BalanceBreaker) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := Status{
		State:      b.state,
		IsHalted:   b.state == StateOpen,
		MinBalance: new(big.Int).Set(b.min),
		SampledAt:  b.sampledAt,
		Reason:     b.reason,
		LastError:  b.lastErr,
	}
	if b.last != nil {
		st.LastBalance = new(big.Int).Set(b.last)
	}
	return st
}

// Interval is the sampling period.
func (b *BalanceBreaker) Interval() time.Duration { return b.interval }
