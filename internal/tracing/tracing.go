package tracing

import (
	"fmt"
	"io"

	opentracing "github.com/opentracing/opentracing-go"
	"github.com/uber/jaeger-client-go"
	jaegerConfig "github.com/uber/jaeger-client-go/config"
)

type Config struct {
	ServiceName       string  `mapstructure:"service_name"`
	SamplerRate       float64 `mapstructure:"sampler_rate"`
	SamplerType       string  `mapstructure:"sample_type"`
	AgentAddress      string  `mapstructure:"agent_address"`
	CollectorEndpoint string  `mapstructure:"collector_endpoint"`
	LogSpans          bool    `mapstructure:"log_spans"`
}

// New returns an instance of opentracing Tracer based on Jaeger instance
func New(config Config, log jaeger.Logger) (opentracing.Tracer, io.Closer, error) {
	cfg := &jaegerConfig.Configuration{
		ServiceName: config.ServiceName,
		Sampler: &jaegerConfig.SamplerConfig{
			Type:  config.SamplerType,
			Param: config.SamplerRate,
		},
		Reporter: &jaegerConfig.ReporterConfig{
			LogSpans:           config.LogSpans,
			LocalAgentHostPort: config.AgentAddress,
			CollectorEndpoint:  config.CollectorEndpoint,
		},
	}
	tracer, closer, err := cfg.NewTracer(jaegerConfig.Logger(log))
	if err != nil {
		return nil, nil, fmt.Errorf("cannot init Jaeger tracer: %w", err)
	}
	return tracer, closer, nil
}
