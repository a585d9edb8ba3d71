package messagepipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/rs/zerolog"
)

// SimplePublisher publishes single payloads without client-side batching.
type SimplePublisher interface {
	Publish(ctx context.Context, payload []byte, attributes map[string]string) error
	// Stop flushes pending messages, bounded by ctx.
	Stop(ctx context.Context) error
}

// GoogleSimplePublisherConfig configures a GoogleSimplePublisher.
type GoogleSimplePublisherConfig struct {
	TopicID string
	// TopicExistsTimeout bounds the existence check made by the constructor.
	TopicExistsTimeout time.Duration
	// ResultTimeout bounds how long a publish result is awaited for logging.
	ResultTimeout time.Duration
}

// NewGoogleSimplePublisherDefaults returns a config for topicID with default timeouts.
func NewGoogleSimplePublisherDefaults(topicID string) *GoogleSimplePublisherConfig {
	return &GoogleSimplePublisherConfig{
		TopicID:            topicID,
		TopicExistsTimeout: 15 * time.Second,
		ResultTimeout:      30 * time.Second,
	}
}

// GoogleSimplePublisher publishes directly to a Pub/Sub topic.
type GoogleSimplePublisher struct {
	topic         *pubsub.Topic
	resultTimeout time.Duration
	logger        zerolog.Logger
	pending       sync.WaitGroup
}

// NewGoogleSimplePublisher creates a publisher after verifying that the topic exists.
func NewGoogleSimplePublisher(ctx context.Context, cfg *GoogleSimplePublisherConfig, client *pubsub.Client, logger zerolog.Logger) (*GoogleSimplePublisher, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client cannot be nil")
	}
	if cfg == nil || cfg.TopicID == "" {
		return nil, fmt.Errorf("pubsub topic id is required")
	}
	topic := client.Topic(cfg.TopicID)

	existsCtx, cancel := context.WithTimeout(ctx, cfg.TopicExistsTimeout)
	defer cancel()
	exists, err := topic.Exists(existsCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to check for topic %s: %w", cfg.TopicID, err)
	}
	if !exists {
		return nil, fmt.Errorf("pubsub topic %s does not exist", cfg.TopicID)
	}

	return &GoogleSimplePublisher{
		topic:         topic,
		resultTimeout: cfg.ResultTimeout,
		logger:        logger.With().Str("component", "GoogleSimplePublisher").Str("topic_id", cfg.TopicID).Logger(),
	}, nil
}

// Publish queues a message and returns immediately. The outcome is logged
// asynchronously; Stop waits for outstanding outcomes.
func (p *GoogleSimplePublisher) Publish(ctx context.Context, payload []byte, attributes map[string]string) error {
	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       payload,
		Attributes: attributes,
	})

	p.pending.Add(1)
	go func() {
		defer p.pending.Done()
		// Detached from ctx so a short-lived caller context does not abort the wait.
		getCtx, cancel := context.WithTimeout(context.Background(), p.resultTimeout)
		defer cancel()

		msgID, err := result.Get(getCtx)
		if err != nil {
			p.logger.Error().Err(err).Msg("Failed to forward message.")
			return
		}
		p.logger.Debug().Str("published_msg_id", msgID).Msg("Message forwarded.")
	}()

	return nil
}

// Stop flushes pending messages for the topic, respecting the context's deadline.
func (p *GoogleSimplePublisher) Stop(ctx context.Context) error {
	stopDone := make(chan struct{})
	go func() {
		p.topic.Stop()
		p.pending.Wait()
		close(stopDone)
	}()

	select {
	case <-stopDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
