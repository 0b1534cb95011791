// SPDX-License-Identifier: MIT

package log

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestContextWithSessionID(t *testing.T) {
	tests := []struct {
		name string
		ctx  context.Context
		id   string
		want string
	}{
		{name: "nil context", ctx: nil, id: "sess-1", want: "sess-1"},
		{name: "background context", ctx: context.Background(), id: "sess-2", want: "sess-2"},
		{name: "empty id", ctx: context.Background(), id: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := ContextWithSessionID(tt.ctx, tt.id)
			if got := SessionIDFromContext(ctx); got != tt.want {
				t.Errorf("SessionIDFromContext() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSegmentFromContextEmpty(t *testing.T) {
	if got := SegmentFromContext(nil); got != "" { //nolint:staticcheck // nil context is part of the contract
		t.Errorf("SegmentFromContext(nil) = %q", got)
	}
	ctx := context.WithValue(context.Background(), segmentKey, 42)
	if got := SegmentFromContext(ctx); got != "" {
		t.Errorf("wrong type should yield empty string, got %q", got)
	}
}

func TestWithContext(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := ContextWithSessionID(context.Background(), "sess-9")
	ctx = ContextWithSegment(ctx, "segment_004.mp4")

	l := WithContext(ctx, base)
	l.Info().Msg("hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if entry[FieldSessionID] != "sess-9" {
		t.Errorf("session_id = %v", entry[FieldSessionID])
	}
	if entry[FieldSegment] != "segment_004.mp4" {
		t.Errorf("segment = %v", entry[FieldSegment])
	}
}

func TestWithContextNoFields(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)
	l := WithContext(context.Background(), base)
	l.Info().Msg("plain")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if _, ok := entry[FieldSessionID]; ok {
		t.Error("unexpected session_id field")
	}
}
