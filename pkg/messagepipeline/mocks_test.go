package messagepipeline_test

import (
	"context"
	"sync"

	"github.com/illmade-knight/go-subwrite/pkg/messagepipeline"
)

// MockMessageConsumer is an in-memory MessageConsumer used to drive services in tests.
type MockMessageConsumer struct {
	msgChan    chan messagepipeline.Message
	doneChan   chan struct{}
	startErr   error
	mu         sync.Mutex
	startCount int
	stopCount  int
	closeOnce  sync.Once
}

func NewMockMessageConsumer(bufferSize int) *MockMessageConsumer {
	return &MockMessageConsumer{
		msgChan:  make(chan messagepipeline.Message, bufferSize),
		doneChan: make(chan struct{}),
	}
}

func (m *MockMessageConsumer) Push(msg messagepipeline.Message) { m.msgChan <- msg }

func (m *MockMessageConsumer) Close() {
	m.closeOnce.Do(func() {
		close(m.msgChan)
		close(m.doneChan)
	})
}

func (m *MockMessageConsumer) Messages() <-chan messagepipeline.Message { return m.msgChan }

func (m *MockMessageConsumer) Start(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startCount++
	return m.startErr
}

func (m *MockMessageConsumer) Stop(_ context.Context) error {
	m.mu.Lock()
	m.stopCount++
	m.mu.Unlock()
	m.Close()
	return nil
}

func (m *MockMessageConsumer) Done() <-chan struct{} { return m.doneChan }

func (m *MockMessageConsumer) StartCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startCount
}

func (m *MockMessageConsumer) StopCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopCount
}
