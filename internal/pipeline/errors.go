// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package pipeline

import "errors"

var (
	// ErrLowBalance rejects a new session while the funding balance is below the minimum.
	ErrLowBalance = errors.New("balance below minimum")
	// ErrNoActiveSession is returned by StopSession when nothing is recording.
	ErrNoActiveSession = errors.New("no active recording session")
	// ErrSessionInvalid wraps rejected session parameters.
	ErrSessionInvalid = errors.New("invalid session parameters")
	// ErrBalanceUnavailable means the funding balance could not be read.
	ErrBalanceUnavailable = errors.New("balance unavailable")
	// ErrClosed is returned after the service has shut down.
	ErrClosed = errors.New("pipeline closed")
)

// Outcome classifies what Process did with one segment.
type Outcome string

const (
	// OutcomeSkipped: a record already exists; nothing was done.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeTransient: stability or probe failed; no record, retried on a later scan.
	OutcomeTransient Outcome = "transient"
	// OutcomePinFailed: record written with an error and no storage id.
	OutcomePinFailed Outcome = "pin_failed"
	// OutcomeSubmitFailed: pinned, but the ledger submission failed.
	OutcomeSubmitFailed Outcome = "submit_failed"
	// OutcomeAnchored: pinned and submitted.
	OutcomeAnchored Outcome = "anchored"
)
