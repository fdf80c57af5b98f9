package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Default queue settings.
const (
	DefaultAckTimeout      = 10 * time.Second
	DefaultPendingSendHold = 5 * time.Second
	DefaultPollInterval    = 500 * time.Millisecond
	DefaultMaxAttempts     = 3
)

// Options configures a Queue.
type Options struct {
	Store     Store
	Publisher Publisher
	Link      Link

	// DeadLetters records payloads dropped after timeouts. Optional.
	DeadLetters DeadLetterSink

	AckTimeout      time.Duration
	PendingSendHold time.Duration
	PollInterval    time.Duration
	Policy          TimeoutPolicy

	// MaxAttempts caps ack timeouts under PolicyRetry. 0 retries forever.
	MaxAttempts int

	Logger Logger
}

// meta is the in-memory delivery metadata of one payload.
type meta struct {
	enqueuedAt time.Time
	attempts   int
}

// Queue delivers payloads one at a time, in order, over a Link.
//
// Thread Safety:
//   - Enqueue, Ack, NotifyConnectivity and the accessors are safe for
//     concurrent use and never wait on an in-flight publish.
type Queue struct {
	opts   Options
	logger Logger
	now    func() time.Time

	mu       sync.Mutex
	meta     map[string]*meta
	awaiting bool

	obsMu     sync.RWMutex
	observers []Observer

	wake     chan struct{}
	acks     chan struct{}
	linkDown chan struct{}

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a queue over opts.Store. Payloads already in the store are
// picked up as pending. Zero durations take their defaults.
func New(opts Options) *Queue {
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = DefaultAckTimeout
	}
	if opts.PendingSendHold < 0 {
		opts.PendingSendHold = 0
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Policy == "" {
		opts.Policy = PolicyRetry
	}
	if opts.MaxAttempts < 0 {
		opts.MaxAttempts = 0
	}

	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	q := &Queue{
		opts:     opts,
		logger:   logger,
		now:      time.Now,
		meta:     make(map[string]*meta),
		wake:     make(chan struct{}, 1),
		acks:     make(chan struct{}, 1),
		linkDown: make(chan struct{}, 1),
	}

	loadedAt := q.now()
	for _, p := range opts.Store.Items() {
		q.meta[p] = &meta{enqueuedAt: loadedAt}
	}
	return q
}

// AddObserver registers an observer for queue events.
func (q *Queue) AddObserver(o Observer) {
	q.obsMu.Lock()
	defer q.obsMu.Unlock()
	q.observers = append(q.observers, o)
}

// Enqueue persists payload at the tail unless an identical payload is
// already queued. It reports whether the payload was added. Payloads are
// not validated here.
func (q *Queue) Enqueue(payload string) (bool, error) {
	q.mu.Lock()
	added, err := q.opts.Store.AppendUnique(payload)
	if err != nil {
		q.mu.Unlock()
		return false, fmt.Errorf("persisting payload: %w", err)
	}
	if added {
		q.meta[payload] = &meta{enqueuedAt: q.now()}
	}
	pending := q.opts.Store.Len()
	q.mu.Unlock()

	if !added {
		q.logger.Debug("duplicate payload ignored", "pending", pending)
		q.emit(Event{Type: EventDuplicate, Payload: payload, Pending: pending})
		return false, nil
	}

	q.logger.Info("payload queued", "pending", pending)
	q.emit(Event{Type: EventEnqueued, Payload: payload, Pending: pending})
	q.signal(q.wake)
	return true, nil
}

// Ack signals that the device acknowledged the in-flight payload.
// Acks received while nothing is in flight are discarded.
func (q *Queue) Ack() {
	q.signal(q.acks)
}

// NotifyConnectivity tells the queue the link went up or down. A drop
// abandons the current ack wait; a reconnect wakes the worker.
func (q *Queue) NotifyConnectivity(connected bool) {
	if connected {
		q.signal(q.wake)
		return
	}
	q.signal(q.linkDown)
}

// Pending returns the queued payloads in delivery order.
func (q *Queue) Pending() []Pending {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.opts.Store.Items()
	out := make([]Pending, 0, len(items))
	for _, p := range items {
		entry := Pending{Payload: p}
		if m, ok := q.meta[p]; ok {
			entry.EnqueuedAt = m.enqueuedAt
			entry.Attempts = m.attempts
		}
		out = append(out, entry)
	}
	return out
}

// Len returns the number of queued payloads.
func (q *Queue) Len() int {
	return q.opts.Store.Len()
}

// Stats returns a snapshot of the queue state.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := Stats{Pending: q.opts.Store.Len(), Awaiting: q.awaiting}
	if head, ok := q.opts.Store.Front(); ok {
		if m, ok := q.meta[head]; ok {
			s.HeadAttempts = m.attempts
		}
	}
	return s
}

// Clear drops every queued payload.
func (q *Queue) Clear() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.opts.Store.Clear(); err != nil {
		return fmt.Errorf("clearing mailbox: %w", err)
	}
	q.meta = make(map[string]*meta)
	return nil
}

// Start launches the worker. It runs until ctx is cancelled or Stop is called.
func (q *Queue) Start(ctx context.Context) error {
	q.runMu.Lock()
	defer q.runMu.Unlock()

	if q.done != nil {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.done = make(chan struct{})

	go q.run(ctx, q.done)
	return nil
}

// Stop cancels the worker and waits for it to finish or abandon the
// current publish.
func (q *Queue) Stop() {
	q.runMu.Lock()
	cancel, done := q.cancel, q.done
	q.cancel, q.done = nil, nil
	q.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (q *Queue) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(q.opts.PollInterval)
	defer ticker.Stop()

	q.logger.Info("delivery worker started", "pending", q.Len(), "policy", string(q.opts.Policy))

	for {
		q.deliverHead(ctx)

		select {
		case <-ctx.Done():
			q.logger.Info("delivery worker stopped", "pending", q.Len())
			return
		case <-q.wake:
		case <-ticker.C:
		}
	}
}

// deliverHead publishes the head payload if the link allows it and waits
// for the outcome.
func (q *Queue) deliverHead(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	head, ok := q.opts.Store.Front()
	if !ok || !q.opts.Link.IsConnected() {
		return
	}
	if q.now().Sub(q.opts.Link.ConnectedAt()) < q.opts.PendingSendHold {
		return
	}

	drain(q.acks)
	drain(q.linkDown)

	q.setAwaiting(true)
	defer q.setAwaiting(false)

	if err := q.opts.Publisher.Publish(ctx, []byte(head)); err != nil {
		// The payload never left the mailbox, so it stays at the head.
		q.logger.Warn("publish failed, will retry", "error", err, "pending", q.Len())
		q.emit(Event{Type: EventPublishFailed, Payload: head, Attempts: q.attempts(head), Pending: q.Len(), Err: err})
		return
	}

	q.logger.Debug("payload published, awaiting ack", "timeout", q.opts.AckTimeout)
	q.emit(Event{Type: EventPublished, Payload: head, Attempts: q.attempts(head), Pending: q.Len()})

	timer := time.NewTimer(q.opts.AckTimeout)
	defer timer.Stop()

	select {
	case <-q.acks:
		q.acknowledge(head)
	case <-timer.C:
		q.timeout(ctx, head)
	case <-q.linkDown:
		q.logger.Warn("link lost while awaiting ack, will resend", "pending", q.Len())
		q.emit(Event{Type: EventAbandoned, Payload: head, Attempts: q.attempts(head), Pending: q.Len()})
	case <-ctx.Done():
		q.emit(Event{Type: EventAbandoned, Payload: head, Attempts: q.attempts(head), Pending: q.Len(), Err: ctx.Err()})
	}
}

func (q *Queue) acknowledge(head string) {
	attempts, removed, err := q.removeHead(head)
	if err != nil {
		q.logger.Error("removing acknowledged payload", "error", err)
		return
	}
	if !removed {
		q.logger.Debug("ack for a payload no longer queued")
		return
	}

	pending := q.Len()
	q.logger.Info("payload acknowledged", "pending", pending)
	q.emit(Event{Type: EventAcknowledged, Payload: head, Attempts: attempts, Pending: pending})
}

func (q *Queue) timeout(ctx context.Context, head string) {
	q.mu.Lock()
	m, ok := q.meta[head]
	if !ok {
		m = &meta{enqueuedAt: q.now()}
		q.meta[head] = m
	}
	m.attempts++
	attempts := m.attempts
	q.mu.Unlock()

	q.logger.Warn("no ack within timeout",
		"timeout", q.opts.AckTimeout,
		"attempts", attempts,
		"policy", string(q.opts.Policy),
	)
	q.emit(Event{Type: EventAckTimeout, Payload: head, Attempts: attempts, Pending: q.Len(), Err: ErrAckTimeout})

	giveUp := q.opts.Policy == PolicyFallback ||
		(q.opts.MaxAttempts > 0 && attempts >= q.opts.MaxAttempts)
	if !giveUp {
		return
	}

	reason := fmt.Sprintf("no ack after %d attempt(s)", attempts)
	if _, removed, err := q.removeHead(head); err != nil {
		q.logger.Error("removing timed-out payload", "error", err)
		return
	} else if !removed {
		return
	}

	if q.opts.DeadLetters != nil {
		if err := q.opts.DeadLetters.DeadLetter(ctx, head, attempts, reason); err != nil {
			q.logger.Error("recording dead letter", "error", err)
		}
	}

	q.logger.Warn("payload dead-lettered", "attempts", attempts, "pending", q.Len())
	q.emit(Event{
		Type:     EventDeadLettered,
		Payload:  head,
		Attempts: attempts,
		Pending:  q.Len(),
		Err:      fmt.Errorf("%w: %s", ErrAckTimeout, reason),
	})
}

// removeHead pops the store head if it is still head. Clear may have
// emptied the mailbox while the worker was waiting.
func (q *Queue) removeHead(head string) (attempts int, removed bool, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	current, ok := q.opts.Store.Front()
	if !ok || current != head {
		return 0, false, nil
	}
	if _, err := q.opts.Store.RemoveFront(); err != nil {
		return 0, false, err
	}
	if m, ok := q.meta[head]; ok {
		attempts = m.attempts
		delete(q.meta, head)
	}
	return attempts, true, nil
}

func (q *Queue) attempts(payload string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if m, ok := q.meta[payload]; ok {
		return m.attempts
	}
	return 0
}

func (q *Queue) setAwaiting(v bool) {
	q.mu.Lock()
	q.awaiting = v
	q.mu.Unlock()
}

func (q *Queue) emit(e Event) {
	if e.At.IsZero() {
		e.At = q.now()
	}

	q.obsMu.RLock()
	observers := make([]Observer, len(q.observers))
	copy(observers, q.observers)
	q.obsMu.RUnlock()

	for _, o := range observers {
		o.OnDeliveryEvent(e)
	}
}

// signal performs a non-blocking send on a one-slot channel.
func (q *Queue) signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func drain(ch chan struct{}) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

// IsAckTimeout reports whether err describes an ack timeout.
func IsAckTimeout(err error) bool {
	return errors.Is(err, ErrAckTimeout)
}
