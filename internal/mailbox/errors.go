package mailbox

import "errors"

var (
	// ErrPersistenceCorrupt describes a mailbox file that could not be parsed.
	// Load recovers from it by quarantining the file; it only appears in logs.
	ErrPersistenceCorrupt = errors.New("mailbox: persisted file is corrupt")

	// ErrEmpty is returned by RemoveFront on an empty mailbox.
	ErrEmpty = errors.New("mailbox: empty")
)
