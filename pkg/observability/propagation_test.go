package observability_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sumatoshi-tech/srcforge/pkg/observability"
)

func sampledContext(t *testing.T) (context.Context, trace.SpanContext) {
	t.Helper()

	traceID, err := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	require.NoError(t, err)

	spanID, err := trace.SpanIDFromHex("0102030405060708")
	require.NoError(t, err)

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})

	return trace.ContextWithSpanContext(context.Background(), sc), sc
}

func TestInjectEnv_CarriesTraceParent(t *testing.T) {
	t.Parallel()

	ctx, _ := sampledContext(t)

	env := observability.InjectEnv(ctx)
	require.Len(t, env, 1)
	assert.Equal(t, "TRACEPARENT=00-0102030405060708090a0b0c0d0e0f10-0102030405060708-01", env[0])
}

func TestInjectEnv_NoSpan(t *testing.T) {
	t.Parallel()

	assert.Empty(t, observability.InjectEnv(context.Background()))
}

func TestExtractEnv_RoundTrip(t *testing.T) {
	t.Parallel()

	ctx, sc := sampledContext(t)

	vars := make(map[string]string)
	for _, kv := range observability.InjectEnv(ctx) {
		k, v, _ := strings.Cut(kv, "=")
		vars[k] = v
	}

	got := trace.SpanContextFromContext(observability.ExtractEnv(context.Background(), func(k string) string {
		return vars[k]
	}))

	assert.True(t, got.IsRemote())
	assert.Equal(t, sc.TraceID(), got.TraceID())
	assert.Equal(t, sc.SpanID(), got.SpanID())
	assert.True(t, got.IsSampled())
}

func TestExtractEnv_EmptyKeepsContext(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	got := observability.ExtractEnv(ctx, func(string) string { return "" })

	assert.Equal(t, ctx, got)
}
