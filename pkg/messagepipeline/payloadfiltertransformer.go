package messagepipeline

import (
	"context"

	"github.com/rs/zerolog"
)

// WithPayloadValidation wraps a MessageTransformer so that messages whose payload
// size falls outside [minSize, maxSize] are skipped before the inner transformer
// runs. A maxSize of zero or less disables the upper bound.
func WithPayloadValidation[T any](
	inner MessageTransformer[T],
	minSize int,
	maxSize int,
	logger zerolog.Logger,
) MessageTransformer[T] {
	return func(ctx context.Context, msg *Message) (*T, bool, error) {
		size := len(msg.Payload)
		if size < minSize || (maxSize > 0 && size > maxSize) {
			logger.Warn().
				Str("msg_id", msg.ID).
				Int("payload_size", size).
				Int("max_size", maxSize).
				Msg("Rejecting message due to invalid payload size.")
			return nil, true, nil
		}
		return inner(ctx, msg)
	}
}
