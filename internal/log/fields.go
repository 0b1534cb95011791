// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldSessionID = "session_id"
	FieldSegment   = "segment"
	FieldBatchID   = "batch_id"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldHandle    = "handle"
	FieldStep      = "step"
	FieldOutcome   = "outcome"

	// Anchoring fields
	FieldCID      = "cid"
	FieldTxHash   = "tx_hash"
	FieldBlock    = "block"
	FieldEndpoint = "endpoint"
	FieldBalance  = "balance"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Path / URL fields
	FieldPath      = "path"
	FieldSourceURI = "source_uri"
)
