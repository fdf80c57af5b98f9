package mailbox

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/MehulMathur2411/Cpap-Bipap/internal/infrastructure/atomicfile"
)

const (
	filePerm      os.FileMode = 0o600
	corruptSuffix             = ".corrupt"
)

// Logger defines the logging interface used by the mailbox.
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

// Mailbox is a durable FIFO of payload strings backed by one JSON file.
//
// The in-memory list always matches the last successful write: if
// persisting a mutation fails, the mutation is not applied.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Mailbox struct {
	path   string
	logger Logger

	mu    sync.Mutex
	items []string
}

// Open creates a mailbox for path and loads its content.
func Open(path string, logger Logger) (*Mailbox, error) {
	if logger == nil {
		logger = noopLogger{}
	}
	m := &Mailbox{path: path, logger: logger}
	if _, err := m.Load(); err != nil {
		return nil, err
	}
	return m, nil
}

// Path returns the backing file path.
func (m *Mailbox) Path() string {
	return m.path
}

// Load reads the file and replaces the in-memory list with its content.
//
//   - Missing or blank file: empty list, and "[]" is written back.
//   - Unparseable file: moved to "<path>.corrupt", empty list written.
//     If the move fails the file is overwritten anyway.
//   - null elements are skipped.
//   - A single JSON value that is not an array: treated as a one-item list.
//
// Only I/O failures are returned as errors.
func (m *Mailbox) Load() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return m.resetLocked()
	case err != nil:
		return nil, fmt.Errorf("reading mailbox: %w", err)
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return m.resetLocked()
	}

	items, err := parse(data)
	if err != nil {
		corrupt := fmt.Errorf("%w: %v", ErrPersistenceCorrupt, err)
		if qerr := m.quarantineLocked(); qerr != nil {
			m.logger.Warn("mailbox file corrupt and could not be quarantined, starting empty",
				"path", m.path,
				"error", corrupt,
				"quarantine_error", qerr,
			)
			return m.resetLocked()
		}
		m.logger.Warn("mailbox file corrupt, starting empty",
			"path", m.path,
			"quarantine", m.path+corruptSuffix,
			"error", corrupt,
		)
		return m.resetLocked()
	}

	m.items = items
	m.logger.Debug("mailbox loaded", "path", m.path, "pending", len(items))
	return clone(items), nil
}

// parse accepts a JSON array or a single JSON value. Non-string elements
// are kept as their compact JSON text; null elements are dropped.
func parse(data []byte) ([]string, error) {
	var raw json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	var elems []json.RawMessage
	if len(raw) > 0 && raw[0] == '[' {
		if err := json.Unmarshal(raw, &elems); err != nil {
			return nil, err
		}
	} else {
		elems = []json.RawMessage{raw}
	}

	items := make([]string, 0, len(elems))
	for _, e := range elems {
		if bytes.Equal(bytes.TrimSpace(e), []byte("null")) {
			continue
		}
		var s string
		if err := json.Unmarshal(e, &s); err == nil {
			items = append(items, s)
			continue
		}
		var buf bytes.Buffer
		if err := json.Compact(&buf, e); err != nil {
			return nil, err
		}
		items = append(items, buf.String())
	}
	return items, nil
}

func (m *Mailbox) quarantineLocked() error {
	if err := os.Rename(m.path, m.path+corruptSuffix); err != nil {
		return fmt.Errorf("quarantining corrupt mailbox: %w", err)
	}
	return nil
}

func (m *Mailbox) resetLocked() ([]string, error) {
	if err := m.writeLocked(nil); err != nil {
		return nil, err
	}
	m.items = nil
	return []string{}, nil
}

// Save replaces the whole mailbox with items.
func (m *Mailbox) Save(items []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	items = clone(items)
	if err := m.writeLocked(items); err != nil {
		return err
	}
	m.items = items
	return nil
}

func (m *Mailbox) writeLocked(items []string) error {
	if items == nil {
		items = []string{}
	}
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding mailbox: %w", err)
	}
	if err := atomicfile.WriteFile(m.path, append(data, '\n'), filePerm); err != nil {
		return fmt.Errorf("writing mailbox: %w", err)
	}
	return nil
}

// Append adds payload at the tail and persists.
func (m *Mailbox) Append(payload string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := append(clone(m.items), payload)
	if err := m.writeLocked(next); err != nil {
		return err
	}
	m.items = next
	return nil
}

// AppendUnique appends payload unless an identical string is already
// queued. It reports whether the payload was added.
func (m *Mailbox) AppendUnique(payload string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, item := range m.items {
		if item == payload {
			return false, nil
		}
	}

	next := append(clone(m.items), payload)
	if err := m.writeLocked(next); err != nil {
		return false, err
	}
	m.items = next
	return true, nil
}

// Front returns the head of the mailbox without removing it.
func (m *Mailbox) Front() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.items) == 0 {
		return "", false
	}
	return m.items[0], true
}

// RemoveFront removes and returns the head, persisting the result.
func (m *Mailbox) RemoveFront() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.items) == 0 {
		return "", ErrEmpty
	}

	head := m.items[0]
	next := clone(m.items[1:])
	if err := m.writeLocked(next); err != nil {
		return "", err
	}
	m.items = next
	return head, nil
}

// Contains reports whether an identical payload is queued.
func (m *Mailbox) Contains(payload string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, item := range m.items {
		if item == payload {
			return true
		}
	}
	return false
}

// Len returns the number of queued payloads.
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Items returns a copy of the queued payloads in FIFO order.
func (m *Mailbox) Items() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return clone(m.items)
}

// Clear removes every payload and persists the empty list.
func (m *Mailbox) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := m.resetLocked()
	return err
}

func clone(items []string) []string {
	out := make([]string, len(items))
	copy(out, items)
	return out
}
