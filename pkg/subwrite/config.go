// Package subwrite wires an MQTT subscription to a prefix filter and an
// append-only output file.
package subwrite

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/illmade-knight/go-subwrite/pkg/mqttconverter"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Environment keys.
const (
	EnvBroker       = "MQTT_BROKER"
	EnvPort         = "MQTT_PORT"
	EnvTopic        = "MQTT_TOPIC"
	EnvUsername     = "MQTT_USERNAME"
	EnvPassword     = "MQTT_PASSWORD"
	EnvTargetPrefix = "TARGET_PREFIX"

	EnvQoS             = "MQTT_QOS"
	EnvOutputFile      = "OUTPUT_FILE"
	EnvMaxPayloadBytes = "MAX_PAYLOAD_BYTES"
	EnvForwardProject  = "FORWARD_PUBSUB_PROJECT_ID"
	EnvForwardTopic    = "FORWARD_PUBSUB_TOPIC_ID"
	EnvHTTPPort        = "HTTP_PORT"
	EnvLogLevel        = "LOG_LEVEL"
	EnvLogFormat       = "LOG_FORMAT"
)

// DefaultOutputFile is written in the working directory unless OUTPUT_FILE is set.
const DefaultOutputFile = "matched_data.txt"

// ForwardConfig selects an optional Pub/Sub topic that receives every match.
type ForwardConfig struct {
	ProjectID string
	TopicID   string
}

// Enabled reports whether forwarding is configured.
func (f ForwardConfig) Enabled() bool {
	return f.ProjectID != "" && f.TopicID != ""
}

// Config is built once at startup and not modified afterwards.
type Config struct {
	MQTT            *mqttconverter.MQTTClientConfig
	TargetPrefix    string
	OutputFile      string
	MaxPayloadBytes int
	Forward         ForwardConfig
	HTTPPort        string
}

// ConfigError lists every required key that is missing and every key whose
// value could not be used.
type ConfigError struct {
	Missing []string
	Invalid []string
}

func (e *ConfigError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing configuration: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "invalid configuration: "+strings.Join(e.Invalid, ", "))
	}
	return strings.Join(parts, "; ")
}

// LoadDotEnv loads KEY=VALUE pairs from the given files (".env" when none are
// given) into the environment. Variables already set win. Missing files are ignored.
func LoadDotEnv(filenames ...string) error {
	if len(filenames) == 0 {
		filenames = []string{".env"}
	}
	for _, name := range filenames {
		if err := godotenv.Load(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", name, err)
		}
	}
	return nil
}

// LoadConfig reads the configuration from the environment. It returns a
// *ConfigError naming all problems at once rather than stopping at the first.
// Optional settings that fail to parse fall back to defaults with a warning on logger.
func LoadConfig(logger zerolog.Logger) (*Config, error) {
	mqttCfg := mqttconverter.LoadMQTTClientConfigWithEnv(logger)
	cfgErr := &ConfigError{}

	required := func(key string) string {
		v := os.Getenv(key)
		if v == "" {
			cfgErr.Missing = append(cfgErr.Missing, key)
		}
		return v
	}
	mqttCfg.Host = required(EnvBroker)
	mqttCfg.Topic = required(EnvTopic)
	mqttCfg.Username = required(EnvUsername)
	mqttCfg.Password = required(EnvPassword)
	targetPrefix := required(EnvTargetPrefix)

	if v := os.Getenv(EnvPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port < 1 || port > 65535 {
			cfgErr.Invalid = append(cfgErr.Invalid, EnvPort)
		} else {
			mqttCfg.Port = port
		}
	}
	if v := os.Getenv(EnvQoS); v != "" {
		qos, err := strconv.Atoi(v)
		if err != nil || qos < 0 || qos > 2 {
			cfgErr.Invalid = append(cfgErr.Invalid, EnvQoS)
		} else {
			mqttCfg.QoS = byte(qos)
		}
	}

	cfg := &Config{
		MQTT:         mqttCfg,
		TargetPrefix: targetPrefix,
		OutputFile:   DefaultOutputFile,
		Forward: ForwardConfig{
			ProjectID: os.Getenv(EnvForwardProject),
			TopicID:   os.Getenv(EnvForwardTopic),
		},
		HTTPPort: os.Getenv(EnvHTTPPort),
	}
	if v := os.Getenv(EnvOutputFile); v != "" {
		cfg.OutputFile = v
	}
	if v := os.Getenv(EnvMaxPayloadBytes); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			cfgErr.Invalid = append(cfgErr.Invalid, EnvMaxPayloadBytes)
		} else {
			cfg.MaxPayloadBytes = n
		}
	}

	if len(cfgErr.Missing) > 0 || len(cfgErr.Invalid) > 0 {
		return nil, cfgErr
	}
	return cfg, nil
}
