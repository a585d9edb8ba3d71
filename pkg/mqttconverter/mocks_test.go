package mqttconverter_test

import (
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// --- Mocks for the Paho MQTT client ---

type mockToken struct {
	err      error
	timedOut bool
}

func (m *mockToken) Wait() bool                       { return !m.timedOut }
func (m *mockToken) WaitTimeout(_ time.Duration) bool { return !m.timedOut }
func (m *mockToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	if !m.timedOut {
		close(ch)
	}
	return ch
}
func (m *mockToken) Error() error { return m.err }

// mockConnectToken carries a CONNACK return code like *mqtt.ConnectToken.
type mockConnectToken struct {
	mockToken
	code byte
}

func (m *mockConnectToken) ReturnCode() byte { return m.code }

type mockMqttMessage struct {
	topic     string
	payload   []byte
	messageID uint16
}

func (m *mockMqttMessage) Topic() string     { return m.topic }
func (m *mockMqttMessage) Payload() []byte   { return m.payload }
func (m *mockMqttMessage) MessageID() uint16 { return m.messageID }
func (m *mockMqttMessage) Duplicate() bool   { return false }
func (m *mockMqttMessage) Qos() byte         { return 0 }
func (m *mockMqttMessage) Retained() bool    { return false }
func (m *mockMqttMessage) Ack()              {}

// mockMqttClient records calls and runs the OnConnect handler synchronously on
// a successful Connect, the way Paho would after a CONNACK.
type mockMqttClient struct {
	mu sync.Mutex

	opts         *mqtt.ClientOptions
	connectToken mqtt.Token
	subscribeErr error

	connected        bool
	connectCalls     int
	disconnectCalled bool
	subscribedTopic  string
	subscribedQoS    byte
	unsubscribed     []string
	messageHandler   mqtt.MessageHandler
}

func newMockMqttClient() *mockMqttClient {
	return &mockMqttClient{connectToken: &mockToken{}}
}

// factory returns a ClientFactory that hands out this mock and captures the options.
func (m *mockMqttClient) factory(opts *mqtt.ClientOptions) mqtt.Client {
	m.mu.Lock()
	m.opts = opts
	m.mu.Unlock()
	return m
}

func (m *mockMqttClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}
func (m *mockMqttClient) IsConnectionOpen() bool { return m.IsConnected() }

func (m *mockMqttClient) Connect() mqtt.Token {
	m.mu.Lock()
	m.connectCalls++
	tok := m.connectToken
	ok := tok.WaitTimeout(0) && tok.Error() == nil
	m.connected = ok
	opts := m.opts
	m.mu.Unlock()

	if ok && opts != nil && opts.OnConnect != nil {
		opts.OnConnect(m)
	}
	return tok
}

func (m *mockMqttClient) Disconnect(_ uint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	m.disconnectCalled = true
}

func (m *mockMqttClient) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subscribeErr != nil {
		return &mockToken{err: m.subscribeErr}
	}
	m.subscribedTopic = topic
	m.subscribedQoS = qos
	m.messageHandler = callback
	return &mockToken{}
}

func (m *mockMqttClient) Unsubscribe(topics ...string) mqtt.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unsubscribed = append(m.unsubscribed, topics...)
	return &mockToken{}
}

func (m *mockMqttClient) handler() mqtt.MessageHandler {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.messageHandler
}

// Stubs for the rest of the interface.
func (m *mockMqttClient) Publish(string, byte, bool, interface{}) mqtt.Token { return &mockToken{} }
func (m *mockMqttClient) SubscribeMultiple(map[string]byte, mqtt.MessageHandler) mqtt.Token {
	return &mockToken{}
}
func (m *mockMqttClient) AddRoute(string, mqtt.MessageHandler) {}
func (m *mockMqttClient) OptionsReader() mqtt.ClientOptionsReader {
	return mqtt.ClientOptionsReader{}
}
