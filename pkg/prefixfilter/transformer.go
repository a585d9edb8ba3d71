package prefixfilter

import (
	"context"

	"github.com/illmade-knight/go-subwrite/pkg/messagepipeline"
	"github.com/rs/zerolog"
)

// NewTransformer returns a pipeline transformer that yields a Record only for
// payloads whose prefix equals targetPrefix exactly. Undecodable, malformed and
// non-matching payloads are logged and skipped.
func NewTransformer(targetPrefix string, logger zerolog.Logger) messagepipeline.MessageTransformer[Record] {
	logger = logger.With().Str("component", "PrefixFilter").Logger()

	return func(_ context.Context, msg *messagepipeline.Message) (*Record, bool, error) {
		text, err := Decode(msg.Payload)
		if err != nil {
			logger.Error().Err(err).Str("msg_id", msg.ID).Msg("Error processing message.")
			return nil, true, nil
		}
		logger.Info().Str("msg_id", msg.ID).Str("payload", text).Msg("Raw message received.")

		record, err := Split(text)
		if err != nil {
			logger.Warn().Str("msg_id", msg.ID).Str("payload", text).Msg("Message format error (missing '@').")
			return nil, true, nil
		}

		if record.Prefix != targetPrefix {
			logger.Info().Str("msg_id", msg.ID).Str("prefix", record.Prefix).Msg("No match.")
			return nil, true, nil
		}

		logger.Info().Str("msg_id", msg.ID).Str("data", record.Data).Msg("Match found.")
		return &record, false, nil
	}
}
