package messagepipeline

import (
	"time"
)

// Attribute keys set by consumers on Message.Attributes.
const (
	// AttrMQTTTopic holds the topic a message was published on.
	AttrMQTTTopic = "mqtt_topic"
)

// Message is the internal representation of an event flowing through the
// pipeline. It lives for the duration of a single processing call.
type Message struct {
	// MessageData contains the core payload.
	MessageData

	// Attributes holds metadata from the message broker (e.g., the MQTT topic).
	Attributes map[string]string

	// Ack signals that processing finished, successfully or by filtering.
	Ack func()

	// Nack signals that processing failed. For sources without redelivery this
	// is a no-op.
	Nack func()
}

// MessageData holds the essential payload of a message.
type MessageData struct {
	// ID is the identifier assigned by the source broker.
	ID string `json:"id"`

	// Payload is the raw byte content of the message.
	Payload []byte `json:"payload"`

	// PublishTime is the time the message was received from the broker.
	PublishTime time.Time `json:"publishTime"`
}
