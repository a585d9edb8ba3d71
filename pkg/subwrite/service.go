package subwrite

import (
	"context"
	"errors"
	"fmt"

	"github.com/illmade-knight/go-subwrite/pkg/filesink"
	"github.com/illmade-knight/go-subwrite/pkg/messagepipeline"
	"github.com/illmade-knight/go-subwrite/pkg/prefixfilter"
	"github.com/rs/zerolog"
)

// Service is the subscriber-filter-writer: consumer -> prefix filter -> file.
type Service struct {
	cfg       *Config
	consumer  messagepipeline.MessageConsumer
	pipeline  *messagepipeline.StreamingService[prefixfilter.Record]
	forwarder messagepipeline.SimplePublisher
	logger    zerolog.Logger
}

// NewService assembles the pipeline around consumer. forwarder may be nil.
func NewService(
	cfg *Config,
	consumer messagepipeline.MessageConsumer,
	forwarder messagepipeline.SimplePublisher,
	logger zerolog.Logger,
) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	appender, err := filesink.NewAppender(cfg.OutputFile)
	if err != nil {
		return nil, err
	}

	transformer := prefixfilter.NewTransformer(cfg.TargetPrefix, logger)
	if cfg.MaxPayloadBytes > 0 {
		transformer = messagepipeline.WithPayloadValidation(transformer, 0, cfg.MaxPayloadBytes, logger)
	}

	// One worker keeps handling sequential and in arrival order.
	pipeline, err := messagepipeline.NewStreamingService(
		messagepipeline.StreamingServiceConfig{NumWorkers: 1},
		consumer,
		transformer,
		NewMatchProcessor(appender, forwarder, logger),
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	return &Service{
		cfg:       cfg,
		consumer:  consumer,
		pipeline:  pipeline,
		forwarder: forwarder,
		logger:    logger.With().Str("component", "SubwriteService").Logger(),
	}, nil
}

// Start connects and begins processing. A connection failure is returned as is.
func (s *Service) Start(ctx context.Context) error {
	s.logger.Info().
		Str("output_file", s.cfg.OutputFile).
		Str("target_prefix", s.cfg.TargetPrefix).
		Str("topic", s.cfg.MQTT.Topic).
		Bool("forwarding", s.forwarder != nil).
		Msg("Starting subscriber; matching data will be appended to the output file.")
	return s.pipeline.Start(ctx)
}

// Done is closed once the subscription has ended, whether through Stop or
// because the consumer gave up on its own.
func (s *Service) Done() <-chan struct{} {
	return s.consumer.Done()
}

// Stop disconnects from the broker, finishes buffered messages and flushes the forwarder.
func (s *Service) Stop(ctx context.Context) error {
	err := s.pipeline.Stop(ctx)
	if s.forwarder != nil {
		if ferr := s.forwarder.Stop(ctx); ferr != nil {
			s.logger.Warn().Err(ferr).Msg("Failed to flush forwarder.")
			err = errors.Join(err, ferr)
		}
	}
	s.logger.Info().Msg("Subscriber terminated.")
	return err
}
