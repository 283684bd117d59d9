// Package tracing wires a Jaeger tracer as the global opentracing tracer.
package tracing

import (
	"fmt"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	jcfg "github.com/uber/jaeger-client-go/config"
	"github.com/uber/jaeger-lib/metrics"
	"go.uber.org/zap"
)

// Config locates the Jaeger agent.
type Config struct {
	ServiceName string
	Host        string
	Port        int
}

// Enabled reports whether an agent is configured.
func (c Config) Enabled() bool {
	return c.Host != "" && c.Port > 0
}

// InitTracer installs a Jaeger tracer globally. Without an agent the no-op tracer stays
// in place. The returned func flushes and closes the tracer.
func InitTracer(conf Config, logger *zap.Logger) (opentracing.Tracer, func(), error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !conf.Enabled() {
		return opentracing.GlobalTracer(), func() {}, nil
	}
	if conf.ServiceName == "" {
		conf.ServiceName = "investbot"
	}

	cfg := &jcfg.Configuration{
		ServiceName: conf.ServiceName,
		Sampler: &jcfg.SamplerConfig{
			Type:  "const",
			Param: 1,
		},
		Reporter: &jcfg.ReporterConfig{
			LogSpans:           false,
			LocalAgentHostPort: fmt.Sprintf("%s:%d", conf.Host, conf.Port),
		},
	}

	tracer, closer, err := cfg.NewTracer(jcfg.Metrics(metrics.NullFactory))
	if err != nil {
		return nil, nil, errors.Wrap(err, "create jaeger tracer")
	}

	opentracing.SetGlobalTracer(tracer)
	return tracer, func() {
		if err := closer.Close(); err != nil {
			logger.Error("failed to close jaeger tracer", zap.Error(err))
		}
	}, nil
}
