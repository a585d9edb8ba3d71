package messagepipeline_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/illmade-knight/go-subwrite/pkg/messagepipeline"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type streamTestPayload struct {
	Data string
}

// newTestStreamingService builds a service whose transformer skips "skip" and
// fails on "transform_error".
func newTestStreamingService(
	t *testing.T,
	processor messagepipeline.StreamProcessor[streamTestPayload],
) (*messagepipeline.StreamingService[streamTestPayload], *MockMessageConsumer) {
	t.Helper()
	consumer := NewMockMessageConsumer(10)
	t.Cleanup(consumer.Close)

	transformer := func(_ context.Context, msg *messagepipeline.Message) (*streamTestPayload, bool, error) {
		switch string(msg.Payload) {
		case "skip":
			return nil, true, nil
		case "transform_error":
			return nil, false, errors.New("transformation failed")
		}
		return &streamTestPayload{Data: string(msg.Payload)}, false, nil
	}

	service, err := messagepipeline.NewStreamingService[streamTestPayload](
		messagepipeline.StreamingServiceConfig{}, consumer, transformer, processor, zerolog.Nop())
	require.NoError(t, err)
	return service, consumer
}

func newTestMessage(id, payload string, ack, nack func()) messagepipeline.Message {
	return messagepipeline.Message{
		MessageData: messagepipeline.MessageData{ID: id, Payload: []byte(payload)},
		Ack:         ack,
		Nack:        nack,
	}
}

func TestNewStreamingService_Validation(t *testing.T) {
	consumer := NewMockMessageConsumer(1)
	transformer := func(context.Context, *messagepipeline.Message) (*streamTestPayload, bool, error) { return nil, true, nil }
	processor := func(context.Context, messagepipeline.Message, *streamTestPayload) error { return nil }

	_, err := messagepipeline.NewStreamingService[streamTestPayload](messagepipeline.StreamingServiceConfig{}, nil, transformer, processor, zerolog.Nop())
	assert.Error(t, err)
	_, err = messagepipeline.NewStreamingService[streamTestPayload](messagepipeline.StreamingServiceConfig{}, consumer, nil, processor, zerolog.Nop())
	assert.Error(t, err)
	_, err = messagepipeline.NewStreamingService[streamTestPayload](messagepipeline.StreamingServiceConfig{}, consumer, transformer, nil, zerolog.Nop())
	assert.Error(t, err)
}

func TestStreamingService_Lifecycle(t *testing.T) {
	service, consumer := newTestStreamingService(t, func(context.Context, messagepipeline.Message, *streamTestPayload) error {
		return nil
	})

	require.NoError(t, service.Start(context.Background()))
	assert.Equal(t, 1, consumer.StartCount())

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	require.NoError(t, service.Stop(stopCtx))
	assert.Equal(t, 1, consumer.StopCount())
}

func TestStreamingService_StartError(t *testing.T) {
	service, consumer := newTestStreamingService(t, func(context.Context, messagepipeline.Message, *streamTestPayload) error {
		return nil
	})
	consumer.startErr = errors.New("connect refused")

	err := service.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect refused")
}

func TestStreamingService_PreservesArrivalOrder(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	service, consumer := newTestStreamingService(t, func(_ context.Context, _ messagepipeline.Message, p *streamTestPayload) error {
		mu.Lock()
		seen = append(seen, p.Data)
		mu.Unlock()
		return nil
	})
	require.NoError(t, service.Start(context.Background()))

	expected := []string{"one", "two", "three", "four", "five"}
	for i, p := range expected {
		consumer.Push(newTestMessage(string(rune('a'+i)), p, nil, nil))
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	require.NoError(t, service.Stop(stopCtx))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, expected, seen)
}

func TestStreamingService_AckNack(t *testing.T) {
	testCases := []struct {
		name       string
		payload    string
		procErr    error
		expectAck  bool
		expectProc bool
	}{
		{name: "processed", payload: "original", expectAck: true, expectProc: true},
		{name: "skipped", payload: "skip", expectAck: true},
		{name: "transformer error", payload: "transform_error", expectAck: false},
		{name: "processor error", payload: "process_me", procErr: errors.New("disk full"), expectAck: false, expectProc: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var processed atomic.Bool
			service, consumer := newTestStreamingService(t, func(context.Context, messagepipeline.Message, *streamTestPayload) error {
				processed.Store(true)
				return tc.procErr
			})
			require.NoError(t, service.Start(context.Background()))

			var acked, nacked atomic.Bool
			consumer.Push(newTestMessage("m1", tc.payload, func() { acked.Store(true) }, func() { nacked.Store(true) }))

			require.Eventually(t, func() bool {
				return acked.Load() || nacked.Load()
			}, time.Second, 10*time.Millisecond)
			assert.Equal(t, tc.expectAck, acked.Load())
			assert.Equal(t, !tc.expectAck, nacked.Load())
			assert.Equal(t, tc.expectProc, processed.Load())

			stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
			defer stopCancel()
			require.NoError(t, service.Stop(stopCtx))
		})
	}
}

func TestStreamingService_NilAckHandlers(t *testing.T) {
	var processed atomic.Int32
	service, consumer := newTestStreamingService(t, func(context.Context, messagepipeline.Message, *streamTestPayload) error {
		processed.Add(1)
		return errors.New("still fine")
	})
	require.NoError(t, service.Start(context.Background()))

	consumer.Push(newTestMessage("m1", "first", nil, nil))
	consumer.Push(newTestMessage("m2", "second", nil, nil))

	require.Eventually(t, func() bool { return processed.Load() == 2 }, time.Second, 10*time.Millisecond)
	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	require.NoError(t, service.Stop(stopCtx))
}
