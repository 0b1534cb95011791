// SPDX-License-Identifier: MIT

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys used on pipeline spans.
const (
	SegmentNameKey     = "segment.name"
	SegmentSizeKey     = "segment.size_bytes"
	SegmentDurationKey = "segment.duration_seconds"
	SegmentOutcomeKey  = "segment.outcome"

	SessionIDKey = "session.id"

	PinCIDKey       = "pin.cid"
	PinDuplicateKey = "pin.duplicate"

	TxHashKey      = "tx.hash"
	TxBlockKey     = "tx.block"
	TxFeeModelKey  = "tx.fee_model"
	TxEndpointKey  = "tx.endpoint"
	ErrorKey       = "error"
	ErrorClassKey  = "error.class"
	StepKey        = "pipeline.step"
	StepElapsedKey = "pipeline.step_ms"
)

// SegmentAttributes describes the segment a span works on.
func SegmentAttributes(name string, sizeBytes int64, sessionID string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(SegmentNameKey, name),
		attribute.Int64(SegmentSizeKey, sizeBytes),
	}
	if sessionID != "" {
		attrs = append(attrs, attribute.String(SessionIDKey, sessionID))
	}
	return attrs
}

// PinAttributes records the pinning result.
func PinAttributes(cid string, duplicate bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(PinCIDKey, cid),
		attribute.Bool(PinDuplicateKey, duplicate),
	}
}

// TxAttributes records the submission result. Empty values are omitted.
func TxAttributes(hash string, block uint64, feeModel, endpoint string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 4)
	if hash != "" {
		attrs = append(attrs, attribute.String(TxHashKey, hash))
	}
	if block > 0 {
		attrs = append(attrs, attribute.Int64(TxBlockKey, int64(block)))
	}
	if feeModel != "" {
		attrs = append(attrs, attribute.String(TxFeeModelKey, feeModel))
	}
	if endpoint != "" {
		attrs = append(attrs, attribute.String(TxEndpointKey, endpoint))
	}
	return attrs
}

// StepAttributes marks the completion of one pipeline step.
func StepAttributes(step string, elapsedMS int64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(StepKey, step),
		attribute.Int64(StepElapsedKey, elapsedMS),
	}
}

// ErrorAttributes classifies a failure on a span.
func ErrorAttributes(class string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorClassKey, class),
	}
}
