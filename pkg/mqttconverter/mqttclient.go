package mqttconverter

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// MQTTClientConfig holds the connection and subscription settings for the Paho client.
type MQTTClientConfig struct {
	// Host and Port of the broker. BrokerURL derives the dial URL from them.
	Host string
	Port int
	// UseTLS selects ssl:// instead of tcp://.
	UseTLS bool
	// Topic is the single topic filter this consumer subscribes to.
	Topic string
	// QoS is the subscription quality of service (0, 1 or 2).
	QoS byte
	// ClientIDPrefix is a prefix for the MQTT client ID. A random suffix is
	// appended since brokers require unique client IDs.
	ClientIDPrefix string
	Username       string
	Password       string
	// KeepAlive is the interval at which the client pings the broker.
	KeepAlive time.Duration
	// ConnectTimeout bounds the initial connection attempt.
	ConnectTimeout time.Duration
	// CACertFile is an optional CA bundle for verifying the broker's certificate.
	CACertFile string
	// ClientCertFile and ClientKeyFile enable mTLS when both are set.
	ClientCertFile string
	ClientKeyFile  string
	// InsecureSkipVerify skips TLS certificate verification. Not for production.
	InsecureSkipVerify bool
}

// DefaultPort is the standard unencrypted MQTT port.
const DefaultPort = 1883

// Env keys for the operational MQTT settings.
const (
	MqttTLS                   = "MQTT_TLS"
	MqttSkipVerify            = "MQTT_INSECURE_SKIP_VERIFY"
	MqttKeepAliveSeconds      = "MQTT_KEEP_ALIVE_SECONDS"
	MqttConnectTimeoutSeconds = "MQTT_CONNECT_TIMEOUT_SECONDS"
	MqttClientIDPrefix        = "MQTT_CLIENT_ID_PREFIX"
	MqttCACertFile            = "MQTT_CA_CERT_FILE"
	MqttClientCertFile        = "MQTT_CLIENT_CERT_FILE"
	MqttClientKeyFile         = "MQTT_CLIENT_KEY_FILE"
)

// LoadMQTTClientConfigWithEnv loads the operational MQTT settings (timeouts, TLS,
// client id) from the environment, applying defaults for anything unset or
// unparsable. Broker address, topic and credentials are left for the caller.
// Unparsable values are reported on logger.
func LoadMQTTClientConfigWithEnv(logger zerolog.Logger) *MQTTClientConfig {
	cfg := &MQTTClientConfig{
		Port:           DefaultPort,
		KeepAlive:      60 * time.Second,
		ConnectTimeout: 10 * time.Second,
		ClientIDPrefix: "subwrite-",
		CACertFile:     os.Getenv(MqttCACertFile),
		ClientCertFile: os.Getenv(MqttClientCertFile),
		ClientKeyFile:  os.Getenv(MqttClientKeyFile),
	}
	cfg.UseTLS = os.Getenv(MqttTLS) == "true"
	cfg.InsecureSkipVerify = os.Getenv(MqttSkipVerify) == "true"
	if prefix := os.Getenv(MqttClientIDPrefix); prefix != "" {
		cfg.ClientIDPrefix = prefix
	}

	if ka := os.Getenv(MqttKeepAliveSeconds); ka != "" {
		if s, err := parseSeconds(ka); err == nil {
			cfg.KeepAlive = s
		} else {
			logger.Warn().Err(err).Str("key", MqttKeepAliveSeconds).Msg("Invalid MQTT keep-alive, using default.")
		}
	}
	if ct := os.Getenv(MqttConnectTimeoutSeconds); ct != "" {
		if s, err := parseSeconds(ct); err == nil {
			cfg.ConnectTimeout = s
		} else {
			logger.Warn().Err(err).Str("key", MqttConnectTimeoutSeconds).Msg("Invalid MQTT connect timeout, using default.")
		}
	}

	return cfg
}

func parseSeconds(v string) (time.Duration, error) {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("must be positive, got %d", n)
	}
	return time.Duration(n) * time.Second, nil
}

// BrokerURL returns the URL Paho dials, e.g. "tcp://broker.local:1883".
func (c *MQTTClientConfig) BrokerURL() string {
	scheme := "tcp"
	if c.UseTLS {
		scheme = "ssl"
	}
	return scheme + "://" + net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// newTLSConfig builds the client TLS settings from the configured files.
func newTLSConfig(cfg *MQTTClientConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}
	if cfg.CACertFile != "" {
		caCert, err := os.ReadFile(cfg.CACertFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA cert file %s: %w", cfg.CACertFile, err)
		}
		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to append CA cert from %s", cfg.CACertFile)
		}
		tlsConfig.RootCAs = caCertPool
	}
	if cfg.ClientCertFile != "" && cfg.ClientKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.ClientCertFile, cfg.ClientKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate/key pair: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}
