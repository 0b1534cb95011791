// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/ManuGH/camanchor/internal/chain"
	"github.com/ManuGH/camanchor/internal/log"
	"github.com/ManuGH/camanchor/internal/metrics"
	"github.com/ManuGH/camanchor/internal/pinning"
	"github.com/ManuGH/camanchor/internal/records"
	"github.com/ManuGH/camanchor/internal/resilience"
	"github.com/ManuGH/camanchor/internal/segments"
	"github.com/ManuGH/camanchor/internal/telemetry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TitleLayout formats the ledger title from the wall clock.
const TitleLayout = "2006-01-02 15:04"

// Stabilizer waits until a file stops growing.
type Stabilizer interface {
	Wait(ctx context.Context, path string) (bool, error)
}

// Prober reports media duration in seconds.
type Prober interface {
	Duration(ctx context.Context, path string) (float64, error)
}

// Pinner uploads files to content-addressed storage.
type Pinner interface {
	Pin(ctx context.Context, path, displayName string) (pinning.PinResult, error)
	ListPinned(ctx context.Context, limit int) ([]pinning.Pin, error)
}

// Anchorer submits anchoring transactions with escalated fees.
type Anchorer interface {
	SubmitAnchor(ctx context.Context, req chain.AnchorRequest) (chain.Receipt, chain.FeeParams, error)
}

// OrchestratorConfig configures retention after successful anchoring.
type OrchestratorConfig struct {
	Dir      string
	Pattern  segments.Pattern
	MaxFiles int
	// Now defaults to time.Now.
	Now func() time.Time
}

// Orchestrator runs the per-segment state machine:
// stability, probe, pin, submit, persist, retention.
type Orchestrator struct {
	store     records.Store
	stability Stabilizer
	probe     Prober
	pins      Pinner
	anchor    Anchorer
	state     *State
	retention segments.Retention
	now       func() time.Time
	tracer    trace.Tracer
	logger    zerolog.Logger
}

// NewOrchestrator wires the collaborators of Process.
func NewOrchestrator(cfg OrchestratorConfig, state *State, store records.Store, stab Stabilizer, probe Prober, pins Pinner, anchor Anchorer) *Orchestrator {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	o := &Orchestrator{
		store:     store,
		stability: stab,
		probe:     probe,
		pins:      pins,
		anchor:    anchor,
		state:     state,
		now:       now,
		tracer:    telemetry.Tracer("camanchor/pipeline"),
		logger:    log.WithComponent("orchestrator"),
	}
	o.retention = segments.Retention{
		Dir:       cfg.Dir,
		Pattern:   cfg.Pattern,
		MaxFiles:  cfg.MaxFiles,
		Evictable: o.evictable,
	}
	return o
}

// Process anchors one segment. Errors are classified by the returned
// Outcome; only OutcomeAnchored and OutcomeSkipped come with a nil error.
func (o *Orchestrator) Process(ctx context.Context, seg segments.Segment) (outcome Outcome, err error) {
	ctx, span := o.tracer.Start(ctx, "pipeline.process",
		trace.WithAttributes(telemetry.SegmentAttributes(seg.Name, seg.SizeBytes, log.SessionIDFromContext(ctx))...))
	logger := o.logger.With().Str(log.FieldSegment, seg.Name).Logger()
	if sid := log.SessionIDFromContext(ctx); sid != "" {
		logger = logger.With().Str(log.FieldSessionID, sid).Logger()
	}
	defer func() {
		metrics.RecordSegmentOutcome(string(outcome))
		span.SetAttributes(attribute.String(telemetry.SegmentOutcomeKey, string(outcome)))
		if err != nil {
			span.RecordError(err)
			span.SetAttributes(telemetry.ErrorAttributes(string(outcome))...)
			span.SetStatus(codes.Error, string(outcome))
		}
		span.End()
	}()

	exists, err := o.store.Exists(ctx, seg.Name)
	if err != nil {
		return OutcomeTransient, fmt.Errorf("ledger lookup: %w", err)
	}
	if exists {
		return OutcomeSkipped, nil
	}

	stable, err := timed(ctx, span, "stability", func() (bool, error) {
		return o.stability.Wait(ctx, seg.Path)
	})
	if err != nil {
		return OutcomeTransient, fmt.Errorf("stability: %w", err)
	}
	if !stable {
		logger.Warn().Msg("file size still changing after attempt budget, proceeding")
	}

	seconds, err := timed(ctx, span, "probe", func() (float64, error) {
		return o.probe.Duration(ctx, seg.Path)
	})
	if err != nil {
		return OutcomeTransient, fmt.Errorf("probe: %w", err)
	}
	duration := uint64(math.Round(seconds))
	if duration == 0 {
		return OutcomeTransient, fmt.Errorf("probe: duration %.3fs rounds to zero", seconds)
	}

	start := o.now()
	rec := records.Record{
		SegmentName:     seg.Name,
		DurationSeconds: seconds,
		Title:           start.Format(TitleLayout),
		StartedAt:       start,
		UpdatedAt:       start,
	}
	if err := o.store.Upsert(ctx, rec); err != nil {
		return OutcomeTransient, fmt.Errorf("create record: %w", err)
	}
	logger.Info().Str(log.FieldEvent, "segment.started").Float64("duration_s", seconds).Msg("anchoring segment")

	o.state.updateProgress(o.now(), func(p *Progress) {
		p.UploadStatus, p.TxStatus = UploadUploading, TxIdle
		p.LastFile, p.LastCID, p.LastTxHash, p.LastError = seg.Name, "", "", ""
	})
	pin, err := timed(ctx, span, "pin", func() (pinning.PinResult, error) {
		return o.pins.Pin(ctx, seg.Path, seg.Name)
	})
	if err != nil {
		err = fmt.Errorf("pin: %w", err)
		o.state.updateProgress(o.now(), func(p *Progress) {
			p.UploadStatus, p.LastError = UploadFailed, err.Error()
		})
		return OutcomePinFailed, o.finalize(ctx, rec, err)
	}
	span.SetAttributes(telemetry.PinAttributes(pin.CID, pin.IsDuplicate)...)
	rec.StorageID = records.Ptr(pin.CID)
	o.state.updateProgress(o.now(), func(p *Progress) {
		p.UploadStatus, p.TxStatus, p.LastCID = UploadUploaded, TxPending, pin.CID
	})

	req := chain.AnchorRequest{
		ContentID:       pin.CID,
		Title:           rec.Title,
		Description:     "",
		DurationSeconds: duration,
	}
	type submitted struct {
		rcpt chain.Receipt
		fee  chain.FeeParams
	}
	res, err := timed(ctx, span, "submit", func() (submitted, error) {
		rcpt, fee, err := o.anchor.SubmitAnchor(ctx, req)
		return submitted{rcpt, fee}, err
	})
	model := ""
	if res.fee.MaxPerGas() != nil {
		model = res.fee.Model()
	}
	span.SetAttributes(telemetry.TxAttributes(res.rcpt.TxHash, res.rcpt.BlockNumber, model, "")...)

	if err != nil {
		err = fmt.Errorf("submit: %w", err)
		// A reverted or unconfirmed transaction is not an anchor.
		if res.rcpt.TxHash != "" {
			rec.BroadcastHash = records.Ptr(res.rcpt.TxHash)
		}
		o.state.updateProgress(o.now(), func(p *Progress) {
			p.TxStatus, p.LastTxHash, p.LastError = TxFailed, res.rcpt.TxHash, err.Error()
		})
		if chain.IsBalanceError(err) {
			logger.Error().Err(err).Str(log.FieldEvent, "breaker.trip").Msg("balance-related submit failure, halting pipeline")
			o.state.Breaker.Trip(resilience.ReasonSubmitFailed)
		}
		return OutcomeSubmitFailed, o.finalize(ctx, rec, err)
	}

	rec.TxHash = records.Ptr(res.rcpt.TxHash)
	rec.BlockNumber = res.rcpt.BlockNumber
	if err := o.finalize(ctx, rec, nil); err != nil {
		return OutcomeAnchored, err
	}
	o.state.updateProgress(o.now(), func(p *Progress) {
		p.TxStatus, p.LastTxHash = TxSuccess, res.rcpt.TxHash
	})
	logger.Info().
		Str(log.FieldEvent, "segment.anchored").
		Str(log.FieldCID, pin.CID).
		Str(log.FieldTxHash, res.rcpt.TxHash).
		Uint64(log.FieldBlock, res.rcpt.BlockNumber).
		Str("fee_model", model).
		Msg("segment anchored")

	o.enforceRetention(ctx, span, logger)
	return OutcomeAnchored, nil
}

// finalize writes the terminal record. cause, when set, becomes the record
// error and is returned, joined with any persistence failure.
func (o *Orchestrator) finalize(ctx context.Context, rec records.Record, cause error) error {
	if cause != nil {
		rec.Error = records.Ptr(cause.Error())
	}
	rec.UpdatedAt = o.now()
	started := time.Now()
	err := o.store.Upsert(ctx, rec)
	metrics.ObserveStep("persist", time.Since(started))
	if err != nil {
		o.logger.Error().Err(err).Str(log.FieldSegment, rec.SegmentName).Msg("persist record failed")
		err = fmt.Errorf("persist record: %w", err)
	}
	if stats, serr := o.store.Stats(ctx); serr == nil {
		metrics.SetLedgerCounts(stats.UploadedCount, stats.TxCount)
	}
	return errors.Join(cause, err)
}

func (o *Orchestrator) enforceRetention(ctx context.Context, span trace.Span, logger zerolog.Logger) {
	if o.retention.MaxFiles <= 0 {
		return
	}
	removed, err := timed(ctx, span, "retention", func() ([]string, error) {
		return o.retention.Enforce(ctx)
	})
	if err != nil {
		logger.Warn().Err(err).Msg("retention failed")
		return
	}
	if len(removed) > 0 {
		logger.Info().Strs("removed", removed).Msg("retention evicted segments")
	}
}

// evictable allows deletion only of files whose record is terminal.
func (o *Orchestrator) evictable(name string) bool {
	rec, err := o.store.Get(context.Background(), name)
	if err != nil {
		return false
	}
	return rec.Terminal()
}

func timed[T any](ctx context.Context, span trace.Span, step string, fn func() (T, error)) (T, error) {
	started := time.Now()
	v, err := fn()
	elapsed := time.Since(started)
	metrics.ObserveStep(step, elapsed)
	span.AddEvent(step, trace.WithAttributes(telemetry.StepAttributes(step, elapsed.Milliseconds())...))
	if err != nil {
		log.FromContext(ctx).Debug().Err(err).Str(log.FieldStep, step).Msg("step failed")
	}
	return v, err
}
