// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ManuGH/camanchor/internal/chain"
	"github.com/ManuGH/camanchor/internal/log"
	"github.com/ManuGH/camanchor/internal/metrics"
	"github.com/ManuGH/camanchor/internal/pinning"
	"github.com/ManuGH/camanchor/internal/recorder"
	"github.com/ManuGH/camanchor/internal/records"
	"github.com/ManuGH/camanchor/internal/segments"
	"github.com/rs/zerolog"
)

// Recorder starts and stops the external capture process.
type Recorder interface {
	Start(ctx context.Context, source string, segmentSeconds int) (recorder.Handle, error)
	Stop(h recorder.Handle) error
}

// ServiceConfig configures a Service.
type ServiceConfig struct {
	CaptureDir  string
	SessionsDir string
	Pattern     segments.Pattern
	// Address is the funding account shown with the balance.
	Address         string
	PinHistoryLimit int
	Now             func() time.Time
}

// BalanceStatus is the breaker view exposed to callers.
type BalanceStatus struct {
	Address    string    `json:"address,omitempty"`
	Balance    string    `json:"balance"`
	MinBalance string    `json:"minBalance"`
	IsHalted   bool      `json:"isHalted"`
	Reason     string    `json:"reason,omitempty"`
	SampledAt  time.Time `json:"sampledAt,omitempty"`
}

// Service is the caller-facing surface of the pipeline: counters, balance,
// and the recording session lifecycle.
type Service struct {
	cfg     ServiceConfig
	state   *State
	store   records.Store
	rec     Recorder
	watcher *Watcher
	pins    Pinner
	logger  zerolog.Logger

	// mu serializes session start and stop.
	mu sync.Mutex

	lifeMu sync.Mutex
	closed bool
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService wires the session lifecycle to the breaker: opening stops the
// active session, closing rescans the capture directory.
func NewService(cfg ServiceConfig, state *State, store records.Store, rec Recorder, watcher *Watcher, pins Pinner) *Service {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.PinHistoryLimit <= 0 {
		cfg.PinHistoryLimit = 100
	}
	if cfg.Pattern.Prefix == "" {
		cfg.Pattern = segments.DefaultPattern
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		cfg:     cfg,
		state:   state,
		store:   store,
		rec:     rec,
		watcher: watcher,
		pins:    pins,
		logger:  log.WithComponent("session"),
		ctx:     ctx,
		cancel:  cancel,
	}
	state.Breaker.OnOpen(func(reason string) {
		s.spawn(func() { s.halt(reason) })
	})
	state.Breaker.OnClose(func() {
		s.logger.Info().Str(log.FieldEvent, "pipeline.resumed").Msg("balance restored, uploads resume; recording stays stopped")
		s.watcher.Scan()
	})
	return s
}

// State exposes the shared pipeline state.
func (s *Service) State() *State { return s.state }

// ShouldSample tells the breaker loop when periodic sampling is needed:
// while recording, and while open so that it can close again.
func (s *Service) ShouldSample() bool {
	return s.state.Recording() || s.state.Halted()
}

// Stats recomputes the aggregate counters from the ledger.
func (s *Service) Stats(ctx context.Context) (records.Stats, error) {
	st, err := s.store.Stats(ctx)
	if err != nil {
		return records.Stats{}, fmt.Errorf("ledger stats: %w", err)
	}
	return st, nil
}

// BalanceStatus samples the balance and reports the breaker state. When the
// sample fails the last known value is returned, if there is one.
func (s *Service) BalanceStatus(ctx context.Context) (BalanceStatus, error) {
	_, sampleErr := s.state.Breaker.Sample(ctx)
	st := s.state.Breaker.Status()
	if st.LastBalance == nil {
		if sampleErr == nil {
			return BalanceStatus{}, ErrBalanceUnavailable
		}
		return BalanceStatus{}, fmt.Errorf("%w: %w", ErrBalanceUnavailable, sampleErr)
	}
	return BalanceStatus{
		Address:    s.cfg.Address,
		Balance:    chain.FormatAmount(st.LastBalance),
		MinBalance: chain.FormatAmount(st.MinBalance),
		IsHalted:   st.IsHalted,
		Reason:     st.Reason,
		SampledAt:  st.SampledAt,
	}, nil
}

// Progress returns the latest per-segment activity.
func (s *Service) Progress() Progress { return s.state.Progress() }

// Session returns the active session, if any.
func (s *Service) Session() (SessionInfo, bool) { return s.state.Session() }

// Pins lists the pin history from the storage service.
func (s *Service) Pins(ctx context.Context) ([]pinning.Pin, error) {
	return s.pins.ListPinned(ctx, s.cfg.PinHistoryLimit)
}

// StartSession begins recording source in segments of segmentSeconds. It is
// rejected with ErrLowBalance, before any process starts, while the balance
// is below the minimum. An active session is stopped first, and the files
// and ledger of the previous session are archived under SessionsDir.
func (s *Service) StartSession(ctx context.Context, source string, segmentSeconds int) (SessionInfo, error) {
	if s.isClosed() {
		return SessionInfo{}, ErrClosed
	}
	if err := recorder.ValidateSource(source); err != nil {
		return SessionInfo{}, fmt.Errorf("%w: %v", ErrSessionInvalid, err)
	}
	if segmentSeconds < 1 || segmentSeconds > recorder.MaxSegmentSeconds {
		return SessionInfo{}, fmt.Errorf("%w: segmentSeconds must be between 1 and %d", ErrSessionInvalid, recorder.MaxSegmentSeconds)
	}

	// Sampled outside mu: an open transition runs the halt hook, which takes mu.
	if _, err := s.state.Breaker.Sample(ctx); err != nil {
		return SessionInfo{}, fmt.Errorf("%w: %w", ErrBalanceUnavailable, err)
	}
	if s.state.Halted() {
		metrics.RecordSessionEvent("rejected_low_balance")
		st := s.state.Breaker.Status()
		s.logger.Warn().
			Str(log.FieldEvent, "session.rejected").
			Str(log.FieldBalance, chain.FormatAmount(st.LastBalance)).
			Str("min_balance", chain.FormatAmount(st.MinBalance)).
			Msg("session rejected: balance below minimum")
		return SessionInfo{}, ErrLowBalance
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.state.Session(); ok {
		if h, ok := s.state.markStopping(StopRotate); ok {
			if err := s.rec.Stop(h); err != nil {
				s.logger.Warn().Err(err).Str(log.FieldSessionID, prev.ID).Msg("stop previous session")
			}
		}
		s.state.endSession(prev.ID)
	}

	if err := s.watcher.Quiesce(func() error { return s.rotate(ctx) }); err != nil {
		return SessionInfo{}, fmt.Errorf("rotate session: %w", err)
	}
	if err := os.MkdirAll(s.cfg.CaptureDir, 0o750); err != nil {
		return SessionInfo{}, fmt.Errorf("create capture dir: %w", err)
	}

	h, err := s.rec.Start(ctx, source, segmentSeconds)
	if err != nil {
		return SessionInfo{}, fmt.Errorf("start recorder: %w", err)
	}
	info := SessionInfo{
		ID:             h.ID(),
		Source:         recorder.RedactSource(source),
		SegmentSeconds: segmentSeconds,
		StartedAt:      s.cfg.Now(),
	}
	s.state.setSession(info, h)
	s.spawn(func() { s.monitor(h) })

	s.logger.Info().
		Str(log.FieldEvent, "session.started").
		Str(log.FieldSessionID, info.ID).
		Str(log.FieldSourceURI, info.Source).
		Int("segment_seconds", segmentSeconds).
		Msg("recording session started")
	return info, nil
}

// StopSession stops the active session. Segments already written, including
// the last one, are still anchored.
func (s *Service) StopSession(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.state.Session()
	if !ok {
		return ErrNoActiveSession
	}
	h, ok := s.state.markStopping(StopOperator)
	if !ok {
		return ErrNoActiveSession
	}
	if err := s.rec.Stop(h); err != nil {
		return fmt.Errorf("stop recorder: %w", err)
	}
	select {
	case <-h.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	s.logger.Info().Str(log.FieldEvent, "session.stopped").Str(log.FieldSessionID, info.ID).Msg("recording session stopped")
	return nil
}

// halt stops the active session after the breaker opened. The final
// segment is not flushed; uploads stay paused until the breaker closes.
func (s *Service) halt(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.state.markStopping(StopBreaker)
	if !ok {
		return
	}
	metrics.RecordSessionEvent("halted")
	s.logger.Warn().
		Str(log.FieldEvent, "session.halted").
		Str(log.FieldHandle, h.ID()).
		Str("reason", reason).
		Msg("balance breaker open, stopping recording")
	if err := s.rec.Stop(h); err != nil {
		s.logger.Error().Err(err).Str(log.FieldHandle, h.ID()).Msg("stop recorder after halt")
	}
}

// monitor waits for the recorder to exit, clears the session and, unless
// the stop was breaker-driven or part of a rotation, queues the final batch.
func (s *Service) monitor(h recorder.Handle) {
	select {
	case <-h.Done():
	case <-s.ctx.Done():
		return
	}
	reason, ok := s.state.endSession(h.ID())
	if !ok {
		return
	}
	logger := s.logger.With().Str(log.FieldSessionID, h.ID()).Logger()
	if reason == "" {
		metrics.RecordSessionEvent("exited")
		logger.Warn().Err(h.Err()).Str(log.FieldEvent, "session.exited").Msg("recorder exited on its own")
	}
	switch reason {
	case StopBreaker, StopShutdown, StopRotate:
		return
	}
	if s.state.Halted() {
		return
	}
	if err := s.watcher.FlushFinal(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn().Err(err).Msg("final segment flush failed")
	}
}

// rotate moves leftover segment files and a ledger snapshot into
// SessionsDir/<id>/ and resets the ledger. Caller holds mu and the watcher
// is quiesced.
func (s *Service) rotate(ctx context.Context) error {
	segs, err := segments.List(s.cfg.CaptureDir, s.cfg.Pattern)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	recs, err := s.store.List(ctx)
	if err != nil {
		return err
	}
	if len(segs) == 0 && len(recs) == 0 {
		return nil
	}

	id := s.state.PreviousSessionID()
	if id == "" {
		id = "unsessioned-" + s.cfg.Now().UTC().Format("20060102T150405Z")
	}
	dest := filepath.Join(s.cfg.SessionsDir, id)
	if err := os.MkdirAll(dest, 0o750); err != nil {
		return fmt.Errorf("create archive dir: %w", err)
	}
	for _, seg := range segs {
		if err := os.Rename(seg.Path, filepath.Join(dest, seg.Name)); err != nil {
			return fmt.Errorf("archive %s: %w", seg.Name, err)
		}
	}
	n, err := records.Archive(ctx, s.store, dest)
	if err != nil {
		return err
	}
	if err := s.store.Reset(ctx); err != nil {
		return fmt.Errorf("reset ledger: %w", err)
	}
	metrics.SetLedgerCounts(0, 0)
	s.logger.Info().
		Str(log.FieldEvent, "session.archived").
		Str(log.FieldPath, dest).
		Int("segments", len(segs)).
		Int("records", n).
		Msg("previous session archived")
	return nil
}

func (s *Service) spawn(fn func()) {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if s.closed {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

func (s *Service) isClosed() bool {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	return s.closed
}

// Close stops any active session without a final flush and waits for the
// background goroutines.
func (s *Service) Close() error {
	s.lifeMu.Lock()
	if s.closed {
		s.lifeMu.Unlock()
		return nil
	}
	s.closed = true
	s.lifeMu.Unlock()

	var err error
	s.mu.Lock()
	if h, ok := s.state.markStopping(StopShutdown); ok {
		err = s.rec.Stop(h)
	}
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	return err
}
