// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/ManuGH/camanchor/internal/log"
	"github.com/ManuGH/camanchor/internal/metrics"
	"github.com/ManuGH/camanchor/internal/records"
	"github.com/ManuGH/camanchor/internal/segments"
	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Processor handles one segment at a time.
type Processor interface {
	Process(ctx context.Context, seg segments.Segment) (Outcome, error)
}

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	Dir       string
	Pattern   segments.Pattern
	QueueSize int
}

type batch struct {
	id    string
	gen   uint64
	final bool
	segs  []segments.Segment
}

// Watcher turns capture-directory notifications into ordered batches of
// candidate segments and feeds them, one segment at a time, to a Processor.
// Every batch is re-derived from disk, so a dropped batch is recovered by
// the next notification.
type Watcher struct {
	cfg     WatcherConfig
	state   *State
	store   records.Store
	proc    Processor
	batches chan batch
	logger  zerolog.Logger

	// busy is held while a segment is being processed.
	busy sync.Mutex
	// gen invalidates batches queued before the last Quiesce.
	gen atomic.Uint64
}

// NewWatcher creates a watcher. Watch and Run must both be started.
func NewWatcher(cfg WatcherConfig, state *State, store records.Store, proc Processor) *Watcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 4
	}
	if cfg.Pattern.Prefix == "" {
		cfg.Pattern = segments.DefaultPattern
	}
	return &Watcher{
		cfg:     cfg,
		state:   state,
		store:   store,
		proc:    proc,
		batches: make(chan batch, cfg.QueueSize),
		logger:  log.WithComponent("watcher"),
	}
}

// Watch subscribes to the capture directory and scans on every new segment
// file until ctx is done.
func (w *Watcher) Watch(ctx context.Context) error {
	if err := os.MkdirAll(w.cfg.Dir, 0o750); err != nil {
		return fmt.Errorf("create capture dir: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify.NewWatcher: %w", err)
	}
	defer func() {
		_ = fw.Close()
	}()
	if err := fw.Add(w.cfg.Dir); err != nil {
		return fmt.Errorf("watch directory %s: %w", w.cfg.Dir, err)
	}
	w.logger.Info().Str(log.FieldPath, w.cfg.Dir).Msg("watching capture directory")

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return errors.New("watcher channel closed")
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if !w.cfg.Pattern.Match(filepath.Base(ev.Name)) {
				continue
			}
			w.Scan()
		case err, ok := <-fw.Errors:
			if !ok {
				return errors.New("watcher error channel closed")
			}
			w.logger.Warn().Err(err).Msg("fsnotify watcher error")
		}
	}
}

// Scan lists the capture directory and queues every segment except the
// newest. It never blocks: a full queue drops the batch.
func (w *Watcher) Scan() {
	if w.state.Halted() {
		metrics.RecordWatcherBatch("halted")
		w.logger.Debug().Msg("pipeline halted, notification ignored")
		return
	}
	gen := w.gen.Load()
	all, err := segments.List(w.cfg.Dir, w.cfg.Pattern)
	if err != nil {
		metrics.RecordWatcherBatch("list_error")
		w.logger.Warn().Err(err).Str(log.FieldPath, w.cfg.Dir).Msg("list segments failed")
		return
	}
	cands := segments.Candidates(all)
	if len(cands) == 0 {
		metrics.RecordWatcherBatch("too_few")
		return
	}
	b := batch{id: uuid.NewString(), gen: gen, segs: cands}
	select {
	case w.batches <- b:
		metrics.RecordWatcherBatch("queued")
	default:
		metrics.RecordWatcherBatch("dropped")
		w.logger.Debug().Str(log.FieldBatchID, b.id).Msg("queue full, batch dropped")
	}
}

// FlushFinal queues every segment including the newest. It is used once the
// recorder has exited and the last file is complete. It blocks until the
// batch is queued or ctx is done.
func (w *Watcher) FlushFinal(ctx context.Context) error {
	gen := w.gen.Load()
	all, err := segments.List(w.cfg.Dir, w.cfg.Pattern)
	if err != nil {
		metrics.RecordWatcherBatch("list_error")
		return fmt.Errorf("list segments: %w", err)
	}
	if len(all) == 0 {
		return nil
	}
	b := batch{id: uuid.NewString(), gen: gen, final: true, segs: all}
	select {
	case w.batches <- b:
		metrics.RecordWatcherBatch("queued")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run is the single worker. Segments are processed strictly one at a time,
// in batch order, until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case b := <-w.batches:
			w.handle(ctx, b)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, b batch) {
	logger := w.logger.With().Str(log.FieldBatchID, b.id).Logger()
	for _, seg := range b.segs {
		if ctx.Err() != nil {
			return
		}
		if w.state.Halted() {
			logger.Info().Str(log.FieldEvent, "batch.halted").Msg("pipeline halted, batch abandoned")
			return
		}
		if !w.processOne(ctx, b.gen, seg, logger) {
			logger.Debug().Msg("stale batch abandoned")
			return
		}
	}
	if b.final {
		logger.Info().Int("segments", len(b.segs)).Msg("final batch processed")
	}
}

// processOne reports false when the batch predates the last Quiesce.
func (w *Watcher) processOne(ctx context.Context, gen uint64, seg segments.Segment, logger zerolog.Logger) bool {
	w.busy.Lock()
	defer w.busy.Unlock()

	if gen != w.gen.Load() {
		return false
	}
	exists, err := w.store.Exists(ctx, seg.Name)
	if err != nil {
		logger.Error().Err(err).Str(log.FieldSegment, seg.Name).Msg("ledger lookup failed")
		return true
	}
	if exists {
		return true
	}
	outcome, err := w.proc.Process(log.ContextWithSegment(ctx, seg.Name), seg)
	if err != nil {
		logger.Warn().Err(err).
			Str(log.FieldSegment, seg.Name).
			Str(log.FieldOutcome, string(outcome)).
			Msg("segment not anchored")
	}
	return true
}

// Quiesce runs fn while no segment is in flight. Batches queued or in
// progress before the call are discarded, so no stale record lands in a
// freshly reset ledger.
func (w *Watcher) Quiesce(fn func() error) error {
	w.busy.Lock()
	defer w.busy.Unlock()
	w.gen.Add(1)
	for {
		select {
		case <-w.batches:
			metrics.RecordWatcherBatch("discarded")
		default:
			return fn()
		}
	}
}
