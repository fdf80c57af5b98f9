package connection

import "errors"

var (
	// ErrNotConnected is returned by Publish while no session is up.
	ErrNotConnected = errors.New("connection: not connected")

	// ErrPublishFailed wraps a transport error from a publish.
	ErrPublishFailed = errors.New("connection: publish failed")

	// ErrConnectFailed is returned by Run when the retry policy gives up.
	ErrConnectFailed = errors.New("connection: connect failed")

	// ErrSubscribeFailed is logged when a topic could not be subscribed
	// within the configured attempts. The session is kept.
	ErrSubscribeFailed = errors.New("connection: subscribe failed")

	// ErrAlreadyRunning is returned when Run is called while another Run is active.
	ErrAlreadyRunning = errors.New("connection: manager already running")
)
