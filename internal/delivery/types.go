package delivery

import (
	"context"
	"fmt"
	"time"
)

// Store is the durable FIFO behind the queue. *mailbox.Mailbox satisfies it.
type Store interface {
	AppendUnique(payload string) (bool, error)
	Front() (string, bool)
	RemoveFront() (string, error)
	Items() []string
	Len() int
	Clear() error
}

// Publisher sends one payload to the device data topic.
// It must return only after the transport accepted or rejected the payload.
type Publisher interface {
	Publish(ctx context.Context, payload []byte) error
}

// Link reports transport connectivity. The connection manager implements it.
type Link interface {
	IsConnected() bool
	ConnectedAt() time.Time
}

// DeadLetterSink durably records payloads the queue gave up on.
type DeadLetterSink interface {
	DeadLetter(ctx context.Context, payload string, attempts int, reason string) error
}

// Observer receives queue events. Calls are made synchronously from the
// worker or the enqueueing goroutine and must not block.
type Observer interface {
	OnDeliveryEvent(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

// OnDeliveryEvent calls f(e).
func (f ObserverFunc) OnDeliveryEvent(e Event) { f(e) }

// Logger defines the logging interface used by the queue.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// TimeoutPolicy selects what happens to a payload whose ack timed out.
type TimeoutPolicy string

// Timeout policies.
const (
	PolicyRetry    TimeoutPolicy = "retry"
	PolicyFallback TimeoutPolicy = "fallback"
)

// ParseTimeoutPolicy converts a config string into a TimeoutPolicy.
func ParseTimeoutPolicy(s string) (TimeoutPolicy, error) {
	switch TimeoutPolicy(s) {
	case PolicyRetry, PolicyFallback:
		return TimeoutPolicy(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPolicy, s)
	}
}

// EventType names a queue event.
type EventType string

// Queue events.
const (
	EventEnqueued      EventType = "enqueued"
	EventDuplicate     EventType = "duplicate"
	EventPublished     EventType = "published"
	EventPublishFailed EventType = "publish_failed"
	EventAcknowledged  EventType = "acknowledged"
	EventAckTimeout    EventType = "ack_timeout"
	EventDeadLettered  EventType = "dead_lettered"
	EventAbandoned     EventType = "abandoned"
)

// Event describes something that happened to a payload.
type Event struct {
	Type     EventType
	Payload  string
	Attempts int
	Pending  int
	Err      error
	At       time.Time
}

// Pending is a queued payload with its in-memory delivery metadata.
type Pending struct {
	Payload    string
	EnqueuedAt time.Time
	Attempts   int
}

// Stats is a point-in-time view of the queue.
type Stats struct {
	Pending      int
	Awaiting     bool
	HeadAttempts int
}
