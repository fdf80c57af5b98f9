package settings

import "errors"

// ErrUnknownMode is returned when a mode name is not a known therapy mode.
var ErrUnknownMode = errors.New("settings: unknown mode")
