// Command subwrite subscribes to one MQTT topic and appends the data of every
// "<prefix>@<data>" message whose prefix matches TARGET_PREFIX to a file.
package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/illmade-knight/go-subwrite/pkg/messagepipeline"
	"github.com/illmade-knight/go-subwrite/pkg/microservice"
	"github.com/illmade-knight/go-subwrite/pkg/mqttconverter"
	"github.com/illmade-knight/go-subwrite/pkg/subwrite"
	"github.com/rs/zerolog"
)

const (
	exitOK      = 0
	exitConfig  = 1
	exitStartup = 2
	exitRuntime = 3
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Stdout)
	stop()
	os.Exit(code)
}

// run executes the subscriber until ctx is cancelled or the subscription ends on
// its own, and returns the process exit code. consumerOpts are passed to the
// MQTT consumer.
func run(ctx context.Context, out io.Writer, consumerOpts ...mqttconverter.ConsumerOption) int {
	// .env may carry the logging settings too, so it is read before the logger is built.
	dotEnvErr := subwrite.LoadDotEnv()

	logger, err := microservice.NewLogger(out, os.Getenv(subwrite.EnvLogLevel), os.Getenv(subwrite.EnvLogFormat))
	if err != nil {
		logger = zerolog.New(out).With().Timestamp().Logger()
		logger.Error().Err(err).Msg("Invalid logging configuration.")
		return exitConfig
	}

	if dotEnvErr != nil {
		logger.Error().Err(dotEnvErr).Msg("Failed to load .env file.")
		return exitConfig
	}

	cfg, err := subwrite.LoadConfig(logger)
	if err != nil {
		event := logger.Error().Err(err)
		var cfgErr *subwrite.ConfigError
		if errors.As(err, &cfgErr) {
			event = event.Strs("missing", cfgErr.Missing).Strs("invalid", cfgErr.Invalid)
		}
		event.Msg("Missing configuration. Required: MQTT_BROKER, MQTT_TOPIC, MQTT_USERNAME, MQTT_PASSWORD, TARGET_PREFIX.")
		return exitConfig
	}

	consumer, err := mqttconverter.NewMqttConsumer(cfg.MQTT, logger, consumerOpts...)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create MQTT consumer.")
		return exitStartup
	}

	var forwarder messagepipeline.SimplePublisher
	if cfg.Forward.Enabled() {
		client, err := pubsub.NewClient(ctx, cfg.Forward.ProjectID)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to create Pub/Sub client.")
			return exitStartup
		}
		defer func() { _ = client.Close() }()

		publisher, err := messagepipeline.NewGoogleSimplePublisher(ctx, messagepipeline.NewGoogleSimplePublisherDefaults(cfg.Forward.TopicID), client, logger)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to create Pub/Sub forwarder.")
			return exitStartup
		}
		forwarder = publisher
	}

	service, err := subwrite.NewService(cfg, consumer, forwarder, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create service.")
		return exitStartup
	}

	if cfg.HTTPPort != "" {
		health := microservice.NewBaseServer(logger, cfg.HTTPPort, func() bool {
			return consumer.State() == mqttconverter.StateSubscribed && consumer.IsConnected()
		})
		if err := health.Start(); err != nil {
			logger.Error().Err(err).Msg("Failed to start health server.")
			return exitStartup
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = health.Shutdown(shutdownCtx)
		}()
	}

	if err := service.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to start subscriber.")
		return exitStartup
	}

	code := exitOK
	select {
	case <-ctx.Done():
	case <-service.Done():
	}
	// The consumer also stops itself on cancellation, so either case can win the race.
	if ctx.Err() != nil {
		logger.Info().Msg("Interrupt received, disconnecting from broker...")
	} else {
		logger.Error().Msg("Subscriber stopped without an interrupt.")
		code = exitRuntime
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := service.Stop(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Shutdown did not complete cleanly.")
	}
	return code
}
