package telemetry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opentaqwa/opentaqwa/internal/telemetry"
)

func TestInit_Disabled(t *testing.T) {
	ctx := context.Background()

	provider, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    "test-service",
		ServiceVersion: "1.0.0",
		Environment:    "test",
		OTLPEndpoint:   "localhost:4317",
		Enabled:        false,
	})

	require.NoError(t, err)
	assert.NotNil(t, provider)
	assert.NotNil(t, provider.Tracer)
	assert.NotNil(t, provider.Meter)

	// Globals stay no-op when disabled.
	assert.Nil(t, provider.TracerProvider)
	assert.Nil(t, provider.MeterProvider)

	// Shutdown should not error
	err = provider.Shutdown(ctx)
	assert.NoError(t, err)
}

func TestProvider_Shutdown_NilProviders(t *testing.T) {
	provider := &telemetry.Provider{}
	err := provider.Shutdown(context.Background())
	assert.NoError(t, err)
}

func TestInstruments(t *testing.T) {
	providerMetrics, engineMetrics, err := telemetry.Instruments()
	require.NoError(t, err)
	assert.NotNil(t, providerMetrics)
	assert.NotNil(t, engineMetrics)

	// Should not panic
	providerMetrics.RecordRequest("aladhan", "timings", 120*time.Millisecond, nil)
	providerMetrics.RecordRequest("aladhan", "timings", time.Second, errors.New("timeout"))
	engineMetrics.RecordRefresh("manual", 300*time.Millisecond, nil)
	engineMetrics.RecordSuperseded("manual")
}

func TestMetrics_NilReceivers(t *testing.T) {
	var providerMetrics *telemetry.ProviderMetrics
	var engineMetrics *telemetry.EngineMetrics

	assert.NotPanics(t, func() {
		providerMetrics.RecordRequest("aladhan", "timings", time.Second, nil)
		engineMetrics.RecordRefresh("start", time.Second, nil)
		engineMetrics.RecordSuperseded("start")
	})
}

func TestSampler(t *testing.T) {
	tests := []struct {
		ratio float64
		want  string
	}{
		{0, "ParentBased{root:AlwaysOnSampler"},
		{1, "ParentBased{root:AlwaysOnSampler"},
		{0.25, "ParentBased{root:TraceIDRatioBased{0.25}"},
	}

	for _, tt := range tests {
		assert.Contains(t, telemetry.Sampler(tt.ratio).Description(), tt.want)
	}
}

func TestInit_EnabledExportsLazily(t *testing.T) {
	// gRPC exporters connect lazily, so Init succeeds without a collector.
	ctx := context.Background()
	provider, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    "opentaqwa-test",
		ServiceVersion: "test",
		Environment:    "test",
		OTLPEndpoint:   "127.0.0.1:1",
		Enabled:        true,
		ExportInterval: time.Hour,
	})
	require.NoError(t, err)
	require.NotNil(t, provider.TracerProvider)
	require.NotNil(t, provider.MeterProvider)

	_, span := provider.Tracer.Start(ctx, "refresh")
	assert.True(t, span.SpanContext().IsSampled())
	span.End()

	shutdownCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	// Flushing to an unreachable collector may fail; shutdown must still return.
	_ = provider.Shutdown(shutdownCtx)
}
