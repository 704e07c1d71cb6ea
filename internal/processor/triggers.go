package processor

import (
	"context"
	"encoding/json"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	otLog "github.com/opentracing/opentracing-go/log"
)

// MessageProducer is used to publish messages
type MessageProducer interface {
	Publish([]byte) error
}

// NewPipelineTriggerProducer returns producer to publish pipeline trigger messages
func NewPipelineTriggerProducer(producer MessageProducer, tracer opentracing.Tracer) *pipelineTriggerProducer {
	return &pipelineTriggerProducer{producer, tracer}
}

type pipelineTriggerProducer struct {
	producer MessageProducer
	tracer   opentracing.Tracer
}

func (p *pipelineTriggerProducer) setupTracingSpan(ctx context.Context, name string) (opentracing.Span, context.Context) {
	span, ctx := opentracing.StartSpanFromContextWithTracer(ctx, p.tracer, name)
	ext.Component.Set(span, "pipelineTriggerProducer")
	return span, ctx
}

// SendRunOnce publishes a message requesting one dispatch run.
func (p *pipelineTriggerProducer) SendRunOnce(ctx context.Context) error {
	return p.send(ctx, "send-pipeline-run-once", NewPipelineRunOnceMessage())
}

// SendSweep publishes a message requesting a retention sweep.
func (p *pipelineTriggerProducer) SendSweep(ctx context.Context) error {
	return p.send(ctx, "send-pipeline-sweep", NewPipelineSweepMessage())
}

func (p *pipelineTriggerProducer) send(ctx context.Context, spanName string, message *MessageEnvelope) error {
	span, _ := p.setupTracingSpan(ctx, spanName)
	defer span.Finish()
	carrier := opentracing.TextMapCarrier{}
	if err := span.Tracer().Inject(span.Context(), opentracing.TextMap, carrier); err != nil {
		return err
	}
	message.Metadata = carrier
	msgbytes, err := json.Marshal(message)
	if err != nil {
		span.LogFields(
			otLog.Error(err),
		)
		return err
	}
	err = p.producer.Publish(msgbytes)
	if err != nil {
		span.LogFields(
			otLog.Error(err),
		)
		return err
	}
	span.LogKV("event", "sent pipeline trigger message")
	return nil
}
