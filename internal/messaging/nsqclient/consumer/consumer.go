package consumer

import (
	"fmt"

	"github.com/pinapelz/rasis/internal/logger"

	"github.com/nsqio/go-nsq"
)

// MessageConsumerConfig defines NSQ consume configuration. Workers is capped
// at 1 for the pipeline trigger channel: the store expects a single writer,
// concurrent runs would publish the same pending entries twice.
type MessageConsumerConfig struct {
	NSQLookup string `mapstructure:"nsqlookup"`
	Topic     string `mapstructure:"topic"`
	Channel   string `mapstructure:"channel"`
	Prefetch  int    `mapstructure:"prefetch"`
	Workers   int    `mapstructure:"workers"`
	Attempts  uint16 `mapstructure:"attempts"`
}

// MessageProcessor handles one decoded message body.
type MessageProcessor interface {
	Process([]byte) error
}

type messageHandler struct {
	processor MessageProcessor
	logger    logger.Logger
}

// HandleMessage implements the nsq.Handler interface.
func (h *messageHandler) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		// Returning nil will automatically send a FIN command to NSQ to mark the message as processed.
		return nil
	}

	h.logger.Debug("Message body received: ", string(m.Body))
	err := h.processor.Process(m.Body)
	if err != nil {
		h.logger.Error("Failure processing message ", string(m.Body), ": ", err)
		// Returning a non-nil error will automatically send a REQ command to NSQ to re-queue a message.
		return err
	}
	return nil
}

// MessageConsumer subscribes to the trigger topic through nsqlookupd.
type MessageConsumer struct {
	consumer       *nsq.Consumer
	nsqLookupdHost string
	logger         logger.Logger
	handler        *messageHandler
}

func (c *MessageConsumer) Start() error {
	// Use nsqlookupd to discover nsqd instances.
	// Could be a load balanced service, so use single connection.
	// It peridically calls nsqlookupd to refresh.
	return c.consumer.ConnectToNSQLookupd(c.nsqLookupdHost)
}

func (c *MessageConsumer) Stop() {
	c.consumer.Stop()
}

// New creates a consumer bound to the given message processor.
func New(config *MessageConsumerConfig, processor MessageProcessor, log logger.Logger) (*MessageConsumer, error) {
	if config.Workers > 1 {
		return nil, fmt.Errorf("consume workers must be 1, got %d: runs are serialized through a single handler", config.Workers)
	}
	NSQConsumerConfig := nsq.NewConfig()
	NSQConsumerConfig.MaxInFlight = config.Prefetch
	NSQConsumerConfig.MaxAttempts = config.Attempts
	consumer, err := nsq.NewConsumer(config.Topic, config.Channel, NSQConsumerConfig)
	if err != nil {
		return nil, err
	}
	handler := &messageHandler{
		processor,
		log,
	}
	// One handler goroutine, so triggers execute strictly one at a time.
	consumer.AddHandler(handler)

	return &MessageConsumer{consumer: consumer, nsqLookupdHost: config.NSQLookup, handler: handler, logger: log}, nil
}
