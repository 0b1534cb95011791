// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ManuGH/camanchor/internal/chain"
	"github.com/ManuGH/camanchor/internal/pinning"
	"github.com/ManuGH/camanchor/internal/recorder"
	"github.com/ManuGH/camanchor/internal/records"
	"github.com/ManuGH/camanchor/internal/resilience"
	"github.com/ManuGH/camanchor/internal/segments"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var testNow = time.Date(2025, 3, 1, 10, 4, 0, 0, time.UTC)

type balanceSource struct {
	mu  sync.Mutex
	bal *big.Int
	err error
}

func newBalanceSource(v int64) *balanceSource { return &balanceSource{bal: big.NewInt(v)} }

func (b *balanceSource) set(v int64) {
	b.mu.Lock()
	b.bal = big.NewInt(v)
	b.mu.Unlock()
}

func (b *balanceSource) Balance(context.Context) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	return new(big.Int).Set(b.bal), nil
}

// newTestState builds a state whose breaker trips below 100 wei.
func newTestState(src *balanceSource) *State {
	return NewState(resilience.NewBalanceBreaker(src, big.NewInt(100), time.Hour))
}

type stableNow struct{}

func (stableNow) Wait(context.Context, string) (bool, error) { return true, nil }

type fakeProber struct {
	seconds float64
	err     error
}

func (p fakeProber) Duration(context.Context, string) (float64, error) { return p.seconds, p.err }

type fakePinner struct {
	mu    sync.Mutex
	err   error
	names []string
	pins  []pinning.Pin
}

func (p *fakePinner) Pin(_ context.Context, _ string, name string) (pinning.PinResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.names = append(p.names, name)
	if p.err != nil {
		return pinning.PinResult{}, p.err
	}
	return pinning.PinResult{CID: "cid-" + name, Size: 1}, nil
}

func (p *fakePinner) ListPinned(context.Context, int) ([]pinning.Pin, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pins, nil
}

func (p *fakePinner) pinned() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.names...)
}

type fakeAnchorer struct {
	mu   sync.Mutex
	err  error
	hash string
	reqs []chain.AnchorRequest
}

func (a *fakeAnchorer) SubmitAnchor(_ context.Context, req chain.AnchorRequest) (chain.Receipt, chain.FeeParams, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reqs = append(a.reqs, req)
	fee := chain.FeeParams{GasTipCap: chain.Gwei(30), GasFeeCap: chain.Gwei(60)}
	if a.err != nil {
		return chain.Receipt{TxHash: a.hash}, fee, a.err
	}
	return chain.Receipt{TxHash: fmt.Sprintf("0x%02d", len(a.reqs)), BlockNumber: 100}, fee, nil
}

type fakeHandle struct {
	id   string
	done chan struct{}
	once sync.Once
}

func (h *fakeHandle) ID() string            { return h.id }
func (h *fakeHandle) Done() <-chan struct{} { return h.done }
func (h *fakeHandle) Err() error            { return nil }
func (h *fakeHandle) exit()                 { h.once.Do(func() { close(h.done) }) }

type fakeRecorder struct {
	mu      sync.Mutex
	started []*fakeHandle
	stopped int
	err     error
}

func (r *fakeRecorder) Start(_ context.Context, _ string, _ int) (recorder.Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	h := &fakeHandle{id: fmt.Sprintf("session-%d", len(r.started)+1), done: make(chan struct{})}
	r.started = append(r.started, h)
	return h, nil
}

func (r *fakeRecorder) Stop(h recorder.Handle) error {
	fh, ok := h.(*fakeHandle)
	if !ok {
		return recorder.ErrNotRunning
	}
	r.mu.Lock()
	r.stopped++
	r.mu.Unlock()
	fh.exit()
	return nil
}

func (r *fakeRecorder) counts() (started, stopped int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.started), r.stopped
}

var errBoom = errors.New("boom")

// writeSegment creates a non-empty segment file with an mtime offset from testNow.
func writeSegment(t *testing.T, dir string, seq int) segments.Segment {
	t.Helper()
	name := fmt.Sprintf("segment_%03d.mp4", seq)
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o600))
	mtime := testNow.Add(time.Duration(seq) * time.Minute)
	require.NoError(t, os.Chtimes(path, mtime, mtime))
	return segments.Segment{Name: name, Path: path, SizeBytes: 4, CreatedAt: mtime, Sequence: seq}
}

func newTestOrchestrator(t *testing.T, dir string, state *State, store records.Store, probe Prober, pins Pinner, anchor Anchorer) *Orchestrator {
	t.Helper()
	return NewOrchestrator(OrchestratorConfig{
		Dir:      dir,
		Pattern:  segments.DefaultPattern,
		MaxFiles: 3,
		Now:      func() time.Time { return testNow },
	}, state, store, stableNow{}, probe, pins, anchor)
}
