// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestNewProviderDisabledInstallsNoop(t *testing.T) {
	provider, err := NewProvider(context.Background(), Config{ServiceName: "camanchor", ExporterType: "grpc"})
	require.NoError(t, err)
	assert.False(t, provider.Enabled())
	assert.Empty(t, provider.InstanceID())
	assert.NoError(t, provider.Shutdown(context.Background()))

	_, span := Tracer("camanchor/pipeline").Start(context.Background(), "segment.process")
	assert.False(t, span.IsRecording())
	span.End()
}

func TestNewProviderRejectsUnknownExporter(t *testing.T) {
	_, err := NewProvider(context.Background(), Config{Enabled: true, ServiceName: "camanchor", ExporterType: "zipkin"})
	require.ErrorIs(t, err, ErrUnsupportedExporter)
	assert.Contains(t, err.Error(), "grpc, http")
}

func TestNewProviderHTTPExporter(t *testing.T) {
	t.Cleanup(func() { otel.SetTracerProvider(noop.NewTracerProvider()) })

	// The exporter connects lazily, so construction succeeds without a collector.
	provider, err := NewProvider(context.Background(), Config{
		Enabled:      true,
		ServiceName:  "camanchor",
		ExporterType: "http",
		Endpoint:     "127.0.0.1:4318",
		InstanceID:   "cam-01",
		SamplingRate: 1,
	})
	require.NoError(t, err)
	assert.True(t, provider.Enabled())
	assert.Equal(t, "cam-01", provider.InstanceID())

	_, span := Tracer("camanchor/pipeline").Start(context.Background(), "segment.process")
	assert.True(t, span.IsRecording())
	span.End()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = provider.Shutdown(ctx)
}

func TestNewProviderGeneratesInstanceID(t *testing.T) {
	t.Cleanup(func() { otel.SetTracerProvider(noop.NewTracerProvider()) })

	provider, err := NewProvider(context.Background(), Config{
		Enabled: true, ServiceName: "camanchor", ExporterType: "grpc", Endpoint: "127.0.0.1:4317",
	})
	require.NoError(t, err)
	assert.Len(t, provider.InstanceID(), 36)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = provider.Shutdown(ctx)
}

func TestSampler(t *testing.T) {
	traceID := trace.TraceID{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 1}
	root := sdktrace.SamplingParameters{ParentContext: context.Background(), TraceID: traceID, Name: "segment.process"}

	assert.Equal(t, sdktrace.RecordAndSample, Sampler(1).ShouldSample(root).Decision)
	assert.Equal(t, sdktrace.Drop, Sampler(0).ShouldSample(root).Decision)
	assert.Equal(t, sdktrace.Drop, Sampler(-3).ShouldSample(root).Decision)

	// A sampled parent wins over a zero rate.
	parent := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     trace.SpanID{1},
		TraceFlags: trace.FlagsSampled,
	})
	child := root
	child.ParentContext = trace.ContextWithSpanContext(context.Background(), parent)
	assert.Equal(t, sdktrace.RecordAndSample, Sampler(0).ShouldSample(child).Decision)
}
