package messagequeue

// MessageQueue defines the interface for publishing messages to downstream
// consumers. The webhook reconciler publishes conversion events through it
// as a best-effort side effect.
type MessageQueue interface {
	Publish(queueName string, body []byte) error
	Close() error
}
