package mqttconverter

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/illmade-knight/go-subwrite/pkg/messagepipeline"
	"github.com/rs/zerolog"
)

var (
	// ErrConnectFailed is returned by Start when the broker session could not be established.
	ErrConnectFailed = errors.New("mqtt connect failed")
	// ErrAlreadyStarted is returned by Start on a consumer that was started before.
	ErrAlreadyStarted = errors.New("mqtt consumer already started")
)

const (
	subscribeTimeout   = 5 * time.Second
	unsubscribeTimeout = 2 * time.Second
	disconnectQuiesce  = 250 // milliseconds
	messageBufferSize  = 100
)

// ClientFactory creates the Paho client from assembled options. Tests replace
// it to avoid a real broker.
type ClientFactory func(opts *mqtt.ClientOptions) mqtt.Client

// ConsumerOption customises an MqttConsumer.
type ConsumerOption func(*MqttConsumer)

// WithClientFactory overrides how the Paho client is created.
func WithClientFactory(f ClientFactory) ConsumerOption {
	return func(c *MqttConsumer) { c.newClient = f }
}

// MqttConsumer implements messagepipeline.MessageConsumer for a single MQTT topic.
// It connects once; reconnecting after a dropped connection is left to Paho.
type MqttConsumer struct {
	cfg       *MQTTClientConfig
	logger    zerolog.Logger
	newClient ClientFactory

	// clientMu guards client, which Start assigns while readiness checks may read it.
	clientMu sync.RWMutex
	client   mqtt.Client

	outputChan chan messagepipeline.Message
	doneChan   chan struct{}
	stopping   chan struct{}
	state      atomic.Int32

	// mu guards closed so the Paho callback never sends on a closed channel.
	mu       sync.RWMutex
	closed   bool
	stopOnce sync.Once
}

// NewMqttConsumer creates a consumer. It does not connect until Start is called.
func NewMqttConsumer(cfg *MQTTClientConfig, logger zerolog.Logger, opts ...ConsumerOption) (*MqttConsumer, error) {
	if cfg == nil {
		return nil, errors.New("MQTT client config is required")
	}
	if cfg.Host == "" {
		return nil, errors.New("MQTT broker host is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("MQTT topic is required")
	}
	if cfg.QoS > 2 {
		return nil, fmt.Errorf("invalid MQTT QoS %d", cfg.QoS)
	}

	c := &MqttConsumer{
		cfg:        cfg,
		logger:     logger.With().Str("component", "MqttConsumer").Logger(),
		newClient:  mqtt.NewClient,
		outputChan: make(chan messagepipeline.Message, messageBufferSize),
		doneChan:   make(chan struct{}),
		stopping:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Messages returns the channel of received messages, closed once the consumer stops.
func (c *MqttConsumer) Messages() <-chan messagepipeline.Message {
	return c.outputChan
}

// State reports where the consumer is in its lifecycle.
func (c *MqttConsumer) State() ConsumerState {
	return ConsumerState(c.state.Load())
}

// IsConnected returns the connection status of the underlying Paho client.
func (c *MqttConsumer) IsConnected() bool {
	client := c.currentClient()
	return client != nil && client.IsConnected()
}

func (c *MqttConsumer) currentClient() mqtt.Client {
	c.clientMu.RLock()
	defer c.clientMu.RUnlock()
	return c.client
}

// Start connects to the broker, waiting at most ConnectTimeout. The subscription
// is issued from the on-connect handler once the session is up. A failed
// connection is returned as ErrConnectFailed and is not retried.
//
// Cancelling ctx stops the consumer.
func (c *MqttConsumer) Start(ctx context.Context) error {
	if !c.state.CompareAndSwap(int32(StateUnconnected), int32(StateConnecting)) {
		return ErrAlreadyStarted
	}

	opts, err := c.createMqttOptions(ctx)
	if err != nil {
		c.setState(StateUnconnected)
		return err
	}
	client := c.newClient(opts)
	c.clientMu.Lock()
	c.client = client
	c.clientMu.Unlock()

	c.logger.Info().Str("broker", c.cfg.BrokerURL()).Msg("Connecting to MQTT broker...")
	token := client.Connect()
	if !token.WaitTimeout(c.cfg.ConnectTimeout) {
		client.Disconnect(0)
		c.setState(StateUnconnected)
		c.logger.Error().Dur("timeout", c.cfg.ConnectTimeout).Msg("Timed out connecting to MQTT broker.")
		return fmt.Errorf("%w: timed out after %s", ErrConnectFailed, c.cfg.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		c.setState(StateUnconnected)
		event := c.logger.Error().Err(err)
		if code, ok := returnCode(token); ok {
			event = event.Uint8("return_code", code)
		}
		event.Msg("Failed to connect to MQTT broker.")
		return fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}

	go func() {
		select {
		case <-ctx.Done():
			c.logger.Info().Msg("Shutdown signal received, stopping consumer.")
			_ = c.Stop(context.Background())
		case <-c.stopping:
		}
	}()

	return nil
}

// Stop unsubscribes, disconnects and closes the Messages channel. It is safe to
// call more than once.
func (c *MqttConsumer) Stop(_ context.Context) error {
	c.stopOnce.Do(func() {
		c.setState(StateDisconnecting)
		close(c.stopping)

		if client := c.currentClient(); client != nil && client.IsConnected() {
			c.logger.Info().Msg("Disconnecting from broker...")
			if token := client.Unsubscribe(c.cfg.Topic); token.WaitTimeout(unsubscribeTimeout) && token.Error() != nil {
				c.logger.Warn().Err(token.Error()).Str("topic", c.cfg.Topic).Msg("Failed to unsubscribe from MQTT topic.")
			}
			client.Disconnect(disconnectQuiesce)
		}

		c.mu.Lock()
		c.closed = true
		close(c.outputChan)
		c.mu.Unlock()

		c.setState(StateTerminated)
		close(c.doneChan)
		c.logger.Info().Msg("MqttConsumer stopped.")
	})
	return nil
}

// Done returns a channel that is closed when the consumer has fully stopped.
func (c *MqttConsumer) Done() <-chan struct{} {
	return c.doneChan
}

func (c *MqttConsumer) setState(s ConsumerState) {
	c.state.Store(int32(s))
}

// onConnect subscribes to the configured topic. Paho runs it on its own
// goroutine after every successful (re)connection.
func (c *MqttConsumer) onConnect(ctx context.Context) mqtt.OnConnectHandler {
	return func(client mqtt.Client) {
		c.logger.Info().Str("broker", c.cfg.BrokerURL()).Msg("Successfully connected to MQTT broker.")
		token := client.Subscribe(c.cfg.Topic, c.cfg.QoS, c.handleIncomingMessage(ctx))
		if !token.WaitTimeout(subscribeTimeout) {
			c.logger.Error().Str("topic", c.cfg.Topic).Msg("Timed out subscribing to MQTT topic.")
			return
		}
		if err := token.Error(); err != nil {
			c.logger.Error().Err(err).Str("topic", c.cfg.Topic).Msg("Failed to subscribe to MQTT topic.")
			return
		}
		if c.state.CompareAndSwap(int32(StateConnecting), int32(StateSubscribed)) {
			c.logger.Info().Str("topic", c.cfg.Topic).Msg("Subscribed to topic.")
		}
	}
}

// handleIncomingMessage copies each MQTT publish into a pipeline Message.
func (c *MqttConsumer) handleIncomingMessage(ctx context.Context) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		payload := make([]byte, len(msg.Payload()))
		copy(payload, msg.Payload())

		consumed := messagepipeline.Message{
			MessageData: messagepipeline.MessageData{
				ID:          strconv.Itoa(int(msg.MessageID())),
				Payload:     payload,
				PublishTime: time.Now().UTC(),
			},
			Attributes: map[string]string{messagepipeline.AttrMQTTTopic: msg.Topic()},
			// Acknowledgement is handled by Paho at the protocol level.
			Ack:  func() {},
			Nack: func() {},
		}

		c.mu.RLock()
		defer c.mu.RUnlock()
		if c.closed {
			c.logger.Warn().Str("topic", msg.Topic()).Msg("Consumer stopped, dropping MQTT message.")
			return
		}
		select {
		case c.outputChan <- consumed:
		case <-c.stopping:
			c.logger.Warn().Str("topic", msg.Topic()).Msg("Consumer is shutting down, dropping MQTT message.")
		case <-ctx.Done():
			c.logger.Warn().Str("topic", msg.Topic()).Msg("Consumer is shutting down, dropping MQTT message.")
		}
	}
}

// createMqttOptions assembles the Paho client options from the config.
func (c *MqttConsumer) createMqttOptions(ctx context.Context) (*mqtt.ClientOptions, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(c.cfg.BrokerURL())
	opts.SetClientID(c.cfg.ClientIDPrefix + uuid.NewString()[:8])
	opts.SetUsername(c.cfg.Username)
	opts.SetPassword(c.cfg.Password)
	opts.SetKeepAlive(c.cfg.KeepAlive)
	opts.SetConnectTimeout(c.cfg.ConnectTimeout)
	opts.SetOrderMatters(true)
	opts.SetOnConnectHandler(c.onConnect(ctx))
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.logger.Error().Err(err).Msg("Lost MQTT connection.")
	})

	if c.cfg.UseTLS {
		tlsConfig, err := newTLSConfig(c.cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
		opts.SetTLSConfig(tlsConfig)
	}
	return opts, nil
}

// connackToken is satisfied by *mqtt.ConnectToken.
type connackToken interface {
	ReturnCode() byte
}

// returnCode extracts the CONNACK code when the token carries one.
func returnCode(token mqtt.Token) (uint8, bool) {
	ct, ok := token.(connackToken)
	if !ok {
		return 0, false
	}
	return ct.ReturnCode(), true
}
