// Package messaging decodes pipeline trigger messages from the queue and
// invokes the Dispatcher. A single consumer worker keeps runs serialized, so
// no two runs ever execute concurrently against the store.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pinapelz/rasis/internal/logger"
	"github.com/pinapelz/rasis/internal/processor"
)

// Runner executes pipeline operations triggered through messaging.
type Runner interface {
	Run(ctx context.Context) (processor.RunReport, error)
	Sweep(ctx context.Context) (int64, error)
}

// Handler for consumer
type pipelineProcessor struct {
	runner Runner
	logger logger.Logger
}

// NewPipelineProcessor creates processor for messaging pipeline operations
func NewPipelineProcessor(runner Runner, logger logger.Logger) *pipelineProcessor {
	return &pipelineProcessor{
		runner: runner,
		logger: logger,
	}
}

// Process is a gateway for message consumption - handles incoming data and calls related handlers
// It uses json.RawMessage to delay the unmarshalling of message content - Type is unmarshalled first.
func (p *pipelineProcessor) Process(data []byte) error {
	var msg json.RawMessage
	message := processor.MessageEnvelope{Msg: &msg}
	if err := json.Unmarshal(data, &message); err != nil {
		return err
	}
	switch message.Type {
	case processor.PipelineRunOnce:
		report, err := p.runner.Run(context.Background())
		if err != nil {
			p.logger.Error("Run failed after publishing ", report.Published, " entries: ", err)
			return err
		}
		return nil
	case processor.PipelineSweep:
		deleted, err := p.runner.Sweep(context.Background())
		if err != nil {
			p.logger.Error("Retention sweep failed: ", err)
			return err
		}
		p.logger.Info("Retention sweep removed ", deleted, " records")
		return nil
	default:
		p.logger.Error("Undefined message type: ", message.Type)
		return fmt.Errorf("undefined message type: %v", message.Type)
	}
}
