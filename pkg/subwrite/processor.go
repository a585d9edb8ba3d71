package subwrite

import (
	"context"
	"fmt"

	"github.com/illmade-knight/go-subwrite/pkg/filesink"
	"github.com/illmade-knight/go-subwrite/pkg/messagepipeline"
	"github.com/illmade-knight/go-subwrite/pkg/prefixfilter"
	"github.com/rs/zerolog"
)

// NewMatchProcessor appends the data of each matched record to the output file
// and, when forwarder is not nil, also publishes it. A failed write is returned
// for the pipeline to log; the line is not retried.
func NewMatchProcessor(
	appender *filesink.Appender,
	forwarder messagepipeline.SimplePublisher,
	logger zerolog.Logger,
) messagepipeline.StreamProcessor[prefixfilter.Record] {
	logger = logger.With().Str("component", "MatchProcessor").Str("output_file", appender.Path()).Logger()

	return func(ctx context.Context, original messagepipeline.Message, record *prefixfilter.Record) error {
		writeErr := appender.AppendLine(record.Data)
		if writeErr == nil {
			logger.Info().Str("msg_id", original.ID).Msg("Successfully written to output file.")
		}

		if forwarder != nil {
			attrs := map[string]string{"prefix": record.Prefix}
			if topic, ok := original.Attributes[messagepipeline.AttrMQTTTopic]; ok {
				attrs[messagepipeline.AttrMQTTTopic] = topic
			}
			if err := forwarder.Publish(ctx, []byte(record.Data), attrs); err != nil {
				logger.Error().Err(err).Str("msg_id", original.ID).Msg("Failed to forward matched data.")
			}
		}

		if writeErr != nil {
			return fmt.Errorf("error writing to file: %w", writeErr)
		}
		return nil
	}
}
