package delivery

import "errors"

var (
	// ErrAckTimeout is attached to events for payloads that were not
	// acknowledged within the ack timeout.
	ErrAckTimeout = errors.New("delivery: ack timeout")

	// ErrAlreadyRunning is returned when Start is called twice.
	ErrAlreadyRunning = errors.New("delivery: queue already running")

	// ErrInvalidPolicy is returned for an unknown timeout policy name.
	ErrInvalidPolicy = errors.New("delivery: invalid timeout policy")
)
