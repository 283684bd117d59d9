package tracing

import (
	"testing"

	"github.com/opentracing/opentracing-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitTracerDisabled(t *testing.T) {
	tracer, closeFn, err := InitTracer(Config{}, nil)

	require.NoError(t, err)
	assert.Equal(t, opentracing.GlobalTracer(), tracer)
	closeFn()
}

func TestInitTracerWithAgent(t *testing.T) {
	prev := opentracing.GlobalTracer()
	t.Cleanup(func() { opentracing.SetGlobalTracer(prev) })

	tracer, closeFn, err := InitTracer(Config{Host: "127.0.0.1", Port: 6831}, nil)

	require.NoError(t, err)
	require.NotNil(t, tracer)
	assert.Equal(t, tracer, opentracing.GlobalTracer())
	span := tracer.StartSpan("check")
	span.Finish()
	closeFn()
}
