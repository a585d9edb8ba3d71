package mqttconverter

// ConsumerState is the lifecycle position of an MqttConsumer.
type ConsumerState int32

const (
	StateUnconnected ConsumerState = iota
	StateConnecting
	StateSubscribed
	StateDisconnecting
	StateTerminated
)

func (s ConsumerState) String() string {
	switch s {
	case StateUnconnected:
		return "unconnected"
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateDisconnecting:
		return "disconnecting"
	case StateTerminated:
		return "terminated"
	}
	return "unknown"
}
