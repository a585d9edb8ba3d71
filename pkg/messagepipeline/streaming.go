package messagepipeline

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// StreamingService consumes messages, transforms them individually and hands each
// result straight to a StreamProcessor.
//
// With a single worker (the default) messages are handled strictly one at a time
// in the order the consumer delivered them.
type StreamingService[T any] struct {
	numWorkers  int
	consumer    MessageConsumer
	transformer MessageTransformer[T]
	processor   StreamProcessor[T]
	logger      zerolog.Logger
	wg          sync.WaitGroup
}

// StreamingServiceConfig holds configuration for a StreamingService.
type StreamingServiceConfig struct {
	// NumWorkers is the number of concurrent workers. Values above one give up
	// arrival ordering. Defaults to 1.
	NumWorkers int
}

// NewStreamingService creates a new StreamingService.
func NewStreamingService[T any](
	cfg StreamingServiceConfig,
	consumer MessageConsumer,
	transformer MessageTransformer[T],
	processor StreamProcessor[T],
	logger zerolog.Logger,
) (*StreamingService[T], error) {
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = 1
	}
	if consumer == nil {
		return nil, errors.New("consumer cannot be nil")
	}
	if transformer == nil {
		return nil, errors.New("transformer cannot be nil")
	}
	if processor == nil {
		return nil, errors.New("processor cannot be nil")
	}

	return &StreamingService[T]{
		numWorkers:  cfg.NumWorkers,
		consumer:    consumer,
		transformer: transformer,
		processor:   processor,
		logger:      logger.With().Str("service", "StreamingService").Logger(),
	}, nil
}

// Start starts the consumer and then the processing workers. If the consumer
// fails to start no worker is launched and the consumer's error is returned.
func (s *StreamingService[T]) Start(ctx context.Context) error {
	s.logger.Debug().Msg("Starting streaming service...")

	if err := s.consumer.Start(ctx); err != nil {
		return err
	}

	s.wg.Add(s.numWorkers)
	for i := 0; i < s.numWorkers; i++ {
		go s.worker(ctx, i)
	}

	s.logger.Debug().Int("worker_count", s.numWorkers).Msg("Streaming service started.")
	return nil
}

// Stop stops the consumer first so no new messages arrive, then waits for the
// workers to finish what is already buffered.
func (s *StreamingService[T]) Stop(ctx context.Context) error {
	s.logger.Debug().Msg("Stopping streaming service...")

	if err := s.consumer.Stop(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Error during consumer stop, continuing shutdown.")
	}

	workerDone := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(workerDone)
	}()

	select {
	case <-workerDone:
		s.logger.Debug().Msg("Streaming service stopped.")
		return nil
	case <-ctx.Done():
		s.logger.Error().Err(ctx.Err()).Msg("Timeout waiting for processing workers to finish.")
		return ctx.Err()
	}
}

// worker drains the consumer channel until it is closed. Cancelling ctx does not
// stop it on its own; the consumer closes the channel when it stops, which lets
// already delivered messages finish.
func (s *StreamingService[T]) worker(ctx context.Context, workerID int) {
	defer s.wg.Done()
	for msg := range s.consumer.Messages() {
		s.processConsumedMessage(ctx, msg)
	}
	s.logger.Debug().Int("worker_id", workerID).Msg("Consumer channel closed, worker exiting.")
}

func (s *StreamingService[T]) processConsumedMessage(ctx context.Context, msg Message) {
	payload, skip, err := s.transformer(ctx, &msg)
	if err != nil {
		s.logger.Error().Err(err).Str("msg_id", msg.ID).Msg("Failed to transform message.")
		nack(msg)
		return
	}
	if skip {
		ack(msg)
		return
	}

	if err := s.processor(ctx, msg, payload); err != nil {
		s.logger.Error().Err(err).Str("msg_id", msg.ID).Msg("Processor failed to handle message.")
		nack(msg)
		return
	}
	ack(msg)
}

func ack(msg Message) {
	if msg.Ack != nil {
		msg.Ack()
	}
}

func nack(msg Message) {
	if msg.Nack != nil {
		msg.Nack()
	}
}
