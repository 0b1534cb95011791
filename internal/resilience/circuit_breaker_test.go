// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package resilience

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type mockClock struct {
	now time.Time
}

func (m *mockClock) Now() time.Time { return m.now }

type scriptedSource struct {
	mu      sync.Mutex
	balance *big.Int
	err     error
	calls   int
}

func (s *scriptedSource) set(v int64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balance, s.err = big.NewInt(v), err
}

func (s *scriptedSource) Balance(context.Context) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return new(big.Int).Set(s.balance), nil
}

func (s *scriptedSource) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newTestBreaker(src *scriptedSource) (*BalanceBreaker, *int32, *int32) {
	clock := &mockClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := NewBalanceBreaker(src, big.NewInt(50), time.Millisecond, WithClock(clock), WithName("test"))
	var opened, closed int32
	b.OnOpen(func(string) { atomic.AddInt32(&opened, 1) })
	b.OnClose(func() { atomic.AddInt32(&closed, 1) })
	return b, &opened, &closed
}

func TestBalanceBreaker_Transitions(t *testing.T) {
	src := &scriptedSource{}
	b, opened, closed := newTestBreaker(src)
	ctx := context.Background()

	src.set(100, nil)
	_, err := b.Sample(ctx)
	require.NoError(t, err)
	assert.False(t, b.IsHalted())
	assert.Zero(t, atomic.LoadInt32(opened))

	src.set(49, nil)
	_, err = b.Sample(ctx)
	require.NoError(t, err)
	assert.True(t, b.IsHalted())
	assert.Equal(t, int32(1), atomic.LoadInt32(opened))

	// Staying below does not re-fire the hook.
	_, err = b.Sample(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(opened))

	// At threshold closes.
	src.set(50, nil)
	_, err = b.Sample(ctx)
	require.NoError(t, err)
	assert.False(t, b.IsHalted())
	assert.Equal(t, int32(1), atomic.LoadInt32(closed))

	st := b.Status()
	assert.Equal(t, StateClosed, st.State)
	assert.Equal(t, big.NewInt(50), st.LastBalance)
	assert.Equal(t, big.NewInt(50), st.MinBalance)
	assert.False(t, st.SampledAt.IsZero())
}

func TestBalanceBreaker_SampleErrorKeepsState(t *testing.T) {
	src := &scriptedSource{}
	b, opened, _ := newTestBreaker(src)

	src.set(0, errors.New("rpc down"))
	_, err := b.Sample(context.Background())
	require.Error(t, err)
	assert.False(t, b.IsHalted())
	assert.Zero(t, atomic.LoadInt32(opened))
	assert.Equal(t, "rpc down", b.Status().LastError)
	assert.Nil(t, b.Status().LastBalance)
}

func TestBalanceBreaker_TripIsImmediateAndEdgeTriggered(t *testing.T) {
	src := &scriptedSource{}
	b, opened, closed := newTestBreaker(src)

	b.Trip(ReasonSubmitFailed)
	b.Trip(ReasonSubmitFailed)
	assert.True(t, b.IsHalted())
	assert.Equal(t, int32(1), atomic.LoadInt32(opened))
	assert.Equal(t, ReasonSubmitFailed, b.Status().Reason)
	assert.Zero(t, src.count(), "trip does not wait for a sample")

	src.set(1000, nil)
	_, err := b.Sample(context.Background())
	require.NoError(t, err)
	assert.False(t, b.IsHalted())
	assert.Equal(t, int32(1), atomic.LoadInt32(closed))
}

func TestBalanceBreaker_RunHonoursGate(t *testing.T) {
	src := &scriptedSource{}
	src.set(10, nil)
	b, _, _ := newTestBreaker(src)

	var gate atomic.Bool
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = b.Run(ctx, gate.Load)
	}()

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, src.count(), "no samples while the gate is closed")

	gate.Store(true)
	require.Eventually(t, b.IsHalted, time.Second, time.Millisecond)

	cancel()
	<-done
}
