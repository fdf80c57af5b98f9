package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/MehulMathur2411/Cpap-Bipap/internal/infrastructure/atomicfile"
	"github.com/MehulMathur2411/Cpap-Bipap/internal/protocol"
)

const filePerm os.FileMode = 0o600

// Logger defines the logging interface used by the store.
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

// Store reads and writes the settings file.
//
// Thread Safety:
//   - All methods are safe for concurrent use. Read-modify-write
//     operations hold the lock across the whole cycle.
type Store struct {
	path   string
	logger Logger
	mu     sync.Mutex
}

// Open returns a store for path. The file is not required to exist.
func Open(path string, logger Logger) (*Store, error) {
	if path == "" {
		return nil, errors.New("settings: path is required")
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Store{path: path, logger: logger}, nil
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Load returns the stored bundle merged over the defaults.
//
// A missing file yields the defaults. An unreadable or malformed file is
// logged and also yields the defaults; it is replaced on the next write.
func (s *Store) Load() (protocol.Bundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// SaveMode replaces the stored values of one mode with values, keeping
// any field of that mode not present in values. It returns the full
// bundle as written.
func (s *Store) SaveMode(mode protocol.Mode, values protocol.Fields) (protocol.Bundle, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
	return s.ApplyUpdate(protocol.Bundle{mode: values})
}

// ApplyUpdate overlays a partial bundle onto the stored one and writes
// the result. It returns the full bundle as written.
func (s *Store) ApplyUpdate(partial protocol.Bundle) (protocol.Bundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.load()
	if err != nil {
		return nil, err
	}

	next := current.Merge(partial)
	if err := s.write(next); err != nil {
		return nil, err
	}
	return next, nil
}

// ResetMode restores the factory values of one mode.
func (s *Store) ResetMode(mode protocol.Mode) (protocol.Bundle, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
	return s.ApplyUpdate(protocol.Bundle{mode: protocol.Defaults()[mode]})
}

// Save writes b as the complete stored bundle.
func (s *Store) Save(b protocol.Bundle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(b)
}

func (s *Store) load() (protocol.Bundle, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return protocol.Defaults(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading settings %s: %w", s.path, err)
	}

	var stored protocol.Bundle
	if err := json.Unmarshal(data, &stored); err != nil {
		s.logger.Warn("settings file unreadable, using defaults",
			"path", s.path,
			"error", err,
		)
		return protocol.Defaults(), nil
	}

	return stored.WithDefaults(), nil
}

func (s *Store) write(b protocol.Bundle) error {
	data, err := json.MarshalIndent(b, "", "    ")
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}
	data = append(data, '\n')

	if err := atomicfile.WriteFile(s.path, data, filePerm); err != nil {
		return fmt.Errorf("writing settings %s: %w", s.path, err)
	}
	s.logger.Debug("settings saved", "path", s.path)
	return nil
}
