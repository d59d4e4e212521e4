package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	options "github.com/kart-io/compliance-rag/pkg/options/tracing"
)

func TestNewProvider_Disabled(t *testing.T) {
	p, err := NewProvider(context.Background(), options.NewOptions(), "test")
	require.NoError(t, err)
	assert.False(t, p.Enabled())
	assert.NotNil(t, p.Tracer("test"))
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNewProvider_Stdout(t *testing.T) {
	opts := options.NewOptions()
	opts.Enabled = true
	opts.ExporterType = options.ExporterStdout

	p, err := NewProvider(context.Background(), opts, "test")
	require.NoError(t, err)
	assert.True(t, p.Enabled())

	ctx, span := p.Tracer("test").Start(context.Background(), "op")
	assert.NotEmpty(t, TraceIDFromContext(ctx))
	span.End()
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNewProvider_InvalidOptions(t *testing.T) {
	opts := options.NewOptions()
	opts.Enabled = true
	opts.ExporterType = "kafka"

	_, err := NewProvider(context.Background(), opts, "test")
	assert.Error(t, err)
}

func TestTraceIDFromContext_NoSpan(t *testing.T) {
	assert.Empty(t, TraceIDFromContext(context.Background()))
	// 没有 span 时是空操作
	RecordError(context.Background(), assert.AnError)
}
