package messagepipeline

import (
	"context"
)

// ====================================================================================
// This file defines the stage contracts of a streaming pipeline: a consumer feeding
// messages, a transformer turning them into typed records, and a processor acting on
// each record.
// ====================================================================================

// --- Stage 1: Consumer ---

// MessageConsumer defines the interface for a message source (e.g., an MQTT subscription).
type MessageConsumer interface {
	// Messages returns a read-only channel from which pipeline workers receive messages.
	// The channel is closed once the consumer has stopped.
	Messages() <-chan Message
	// Start connects to the source and begins delivering messages.
	Start(ctx context.Context) error
	// Stop ceases consumption and releases the connection to the source.
	Stop(ctx context.Context) error
	// Done returns a channel that is closed when the consumer has completely shut down.
	Done() <-chan struct{}
}

// --- Stage 2: Transformer ---

// MessageTransformer turns a raw Message into a typed payload of type T.
//
// Returning skip=true drops the message without calling the processor. Transformers
// that filter messages (bad encoding, no match) should log the reason themselves and
// return skip rather than an error; an error is reserved for unexpected failures.
type MessageTransformer[T any] func(ctx context.Context, msg *Message) (payload *T, skip bool, err error)

// --- Stage 3: Processor ---

// StreamProcessor handles transformed payloads one by one. A returned error is
// logged by the service and the message is Nacked; it never stops the pipeline.
type StreamProcessor[T any] func(ctx context.Context, original Message, payload *T) error
