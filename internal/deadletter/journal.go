package deadletter

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MehulMathur2411/Cpap-Bipap/internal/delivery"
)

const defaultJournalBuffer = 256

// Logger defines the logging interface used by the journal.
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

// Record is one journaled delivery event.
type Record struct {
	ID        string             `json:"id"`
	Type      delivery.EventType `json:"type"`
	Payload   string             `json:"payload"`
	Attempts  int                `json:"attempts"`
	Pending   int                `json:"pending"`
	Error     string             `json:"error,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
}

// Journal writes delivery events to the delivery_events table.
//
// OnDeliveryEvent never blocks the queue: events are buffered and written
// by Run. When the buffer is full the event is counted and dropped.
type Journal struct {
	db      *sql.DB
	logger  Logger
	events  chan delivery.Event
	dropped atomic.Int64
}

// NewJournal creates a journal with room for buffer pending events.
func NewJournal(db *sql.DB, buffer int, logger Logger) *Journal {
	if buffer <= 0 {
		buffer = defaultJournalBuffer
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Journal{
		db:     db,
		logger: logger,
		events: make(chan delivery.Event, buffer),
	}
}

// OnDeliveryEvent implements delivery.Observer.
func (j *Journal) OnDeliveryEvent(e delivery.Event) {
	select {
	case j.events <- e:
	default:
		j.dropped.Add(1)
	}
}

// Dropped returns how many events were discarded because the buffer was full.
func (j *Journal) Dropped() int64 {
	return j.dropped.Load()
}

// Run writes buffered events until ctx is cancelled, then flushes what
// is still buffered.
func (j *Journal) Run(ctx context.Context) {
	for {
		select {
		case e := <-j.events:
			j.write(ctx, e)
		case <-ctx.Done():
			j.flush()
			return
		}
	}
}

func (j *Journal) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case e := <-j.events:
			j.write(ctx, e)
		default:
			return
		}
	}
}

func (j *Journal) write(ctx context.Context, e delivery.Event) {
	if err := j.Append(ctx, e); err != nil {
		j.logger.Warn("journal write failed", "event", string(e.Type), "error", err)
	}
}

// Append writes one event synchronously.
func (j *Journal) Append(ctx context.Context, e delivery.Event) error {
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}

	var errText any
	if e.Err != nil {
		errText = e.Err.Error()
	}

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO delivery_events (id, event_type, payload, attempts, pending, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		"ev-"+uuid.NewString()[:8], string(e.Type), e.Payload, e.Attempts, e.Pending, errText,
		at.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting delivery event: %w", err)
	}
	return nil
}

// Recent returns up to limit events, most recent first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	rows, err := j.db.QueryContext(ctx,
		`SELECT id, event_type, payload, attempts, pending, error, created_at
		 FROM delivery_events ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying delivery events: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var r Record
		var eventType, createdAt string
		var errText sql.NullString
		if err := rows.Scan(&r.ID, &eventType, &r.Payload, &r.Attempts, &r.Pending, &errText, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning delivery event: %w", err)
		}
		r.Type = delivery.EventType(eventType)
		if errText.Valid {
			r.Error = errText.String
		}
		t, err := time.Parse(timeLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing delivery event timestamp %q: %w", createdAt, err)
		}
		r.CreatedAt = t
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating delivery events: %w", err)
	}
	return records, nil
}
