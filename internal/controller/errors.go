package controller

import "errors"

// Controller errors.
var (
	// ErrDecodeFailed wraps the protocol error of a frame that could not be applied.
	ErrDecodeFailed = errors.New("controller: frame could not be decoded")

	// ErrNoSerial is returned by RequestSettings before a serial is known.
	ErrNoSerial = errors.New("controller: device serial is not set")
)
