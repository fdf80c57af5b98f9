package protocol

import "errors"

// Domain-specific errors for frame encoding and decoding.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrMalformedFrame is returned when a line does not start with '*' and end with '#'.
	ErrMalformedFrame = errors.New("protocol: malformed frame")

	// ErrMissingSection is returned when a section required by the machine type is absent.
	ErrMissingSection = errors.New("protocol: missing section")

	// ErrTruncatedSection is returned when fewer tokens follow a marker than its layout needs.
	ErrTruncatedSection = errors.New("protocol: truncated section")

	// ErrInvalidField is returned when a field value cannot be parsed or formatted.
	ErrInvalidField = errors.New("protocol: invalid field value")

	// ErrUnknownMachineType is returned for machine types without a layout.
	ErrUnknownMachineType = errors.New("protocol: unknown machine type")

	// ErrInvalidToken is returned when a free-text token would break framing.
	// The frame format has no escaping, so ',', '*' and '#' cannot be carried.
	ErrInvalidToken = errors.New("protocol: token contains a reserved character")

	// ErrInvalidLayout is returned when a layout table is inconsistent.
	ErrInvalidLayout = errors.New("protocol: invalid layout")
)
