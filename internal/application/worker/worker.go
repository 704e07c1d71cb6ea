package worker

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/pinapelz/rasis/internal/logger"
)

// MessageConsumer is the messaging subscription the worker supervises.
type MessageConsumer interface {
	Start() error
	Stop()
}

type worker struct {
	consumer MessageConsumer
	logger   logger.Logger
}

// New creates a worker around the consumer.
func New(consumer MessageConsumer, log logger.Logger) *worker {
	return &worker{consumer: consumer, logger: log}
}

// Start launches the consumer and blocks until a termination signal.
func (w *worker) Start() error {
	if err := w.consumer.Start(); err != nil {
		return err
	}
	w.logger.Info("Started consumer")
	// Kill signal handling
	done := make(chan struct{})
	signalChan := make(chan os.Signal, 1)
	go func() {
		<-signalChan
		close(done)
	}()
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)
	w.logger.Info("Started worker, terminate with 'kill <pid>'")
	<-done
	// Block, wait for signal above, make it stop if terminating
	w.Stop()
	return nil
}

func (w *worker) Stop() {
	w.consumer.Stop()
	w.logger.Info("Stopped consumer")
}
