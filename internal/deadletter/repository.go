package deadletter

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Page size limits for List.
const (
	defaultLimit = 50
	maxLimit     = 200
)

// timeLayout is fixed-width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrNotFound is returned when no dead letter has the requested ID.
var ErrNotFound = errors.New("deadletter: not found")

// Entry is a payload the delivery queue stopped retrying.
type Entry struct {
	ID        string    `json:"id"`
	Payload   string    `json:"payload"`
	Attempts  int       `json:"attempts"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// ListResult contains a page of dead letters, most recent first.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// SQLiteRepository stores dead letters in the dead_letters table.
// It satisfies delivery.DeadLetterSink.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new dead-letter repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// DeadLetter records a payload the queue gave up on.
func (r *SQLiteRepository) DeadLetter(ctx context.Context, payload string, attempts int, reason string) error {
	_, err := r.Create(ctx, Entry{Payload: payload, Attempts: attempts, Reason: reason})
	return err
}

// Create inserts an entry. The ID and CreatedAt are generated if empty.
func (r *SQLiteRepository) Create(ctx context.Context, e Entry) (Entry, error) {
	if e.ID == "" {
		e.ID = "dl-" + uuid.NewString()[:8]
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO dead_letters (id, payload, attempts, reason, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.Payload, e.Attempts, e.Reason,
		e.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return Entry{}, fmt.Errorf("inserting dead letter: %w", err)
	}
	return e, nil
}

// Get returns one entry by ID.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (Entry, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, payload, attempts, reason, created_at FROM dead_letters WHERE id = ?`, id)

	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e, err
}

// List returns a page of entries, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, limit, offset int) (*ListResult, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if offset < 0 {
		offset = 0
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM dead_letters").Scan(&total); err != nil {
		return nil, fmt.Errorf("counting dead letters: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, payload, attempts, reason, created_at FROM dead_letters
		 ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("querying dead letters: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating dead letters: %w", err)
	}

	return &ListResult{Entries: entries, Total: total, Limit: limit, Offset: offset}, nil
}

// Delete removes an entry, typically after it was resent.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM dead_letters WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting dead letter: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting dead letter: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var e Entry
	var createdAt string
	if err := row.Scan(&e.ID, &e.Payload, &e.Attempts, &e.Reason, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, err
		}
		return Entry{}, fmt.Errorf("scanning dead letter: %w", err)
	}

	t, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return Entry{}, fmt.Errorf("parsing dead letter timestamp %q: %w", createdAt, err)
	}
	e.CreatedAt = t
	return e, nil
}
