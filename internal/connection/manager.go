package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MehulMathur2411/Cpap-Bipap/internal/protocol"
)

// Default settings.
const (
	defaultRetryDelay        = time.Second
	defaultSubscribeAttempts = 3
	defaultSubscribePause    = time.Second
)

// Transport is a single broker session. *mqtt.Client implements it.
type Transport interface {
	Bind(onMessage func(topic string, payload []byte), onLost func(err error))
	Connect(ctx context.Context) (sessionPresent bool, err error)
	Subscribe(ctx context.Context, topic string, qos byte) error
	Publish(ctx context.Context, topic string, payload []byte, qos byte) error
	Disconnect()
}

// Observer is told about connectivity changes and inbound device data.
// Calls are made synchronously and must not block.
type Observer interface {
	OnConnectivityChanged(connected bool)
	OnMessageReceived(env protocol.Envelope)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	Connectivity func(connected bool)
	Message      func(env protocol.Envelope)
}

// OnConnectivityChanged implements Observer.
func (f ObserverFuncs) OnConnectivityChanged(connected bool) {
	if f.Connectivity != nil {
		f.Connectivity(connected)
	}
}

// OnMessageReceived implements Observer.
func (f ObserverFuncs) OnMessageReceived(env protocol.Envelope) {
	if f.Message != nil {
		f.Message(env)
	}
}

// Logger defines the logging interface used by the manager.
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

// State is the manager's view of the session.
type State int

// Session states.
const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Options configures a Manager.
type Options struct {
	Transport Transport

	// DataTopic carries outbound envelopes and inbound device data.
	DataTopic string

	// AckTopic carries {"acknowledgment": 1}. It may equal DataTopic.
	AckTopic string

	QoS byte

	// Retry decides the pause between failed connects.
	// Defaults to FixedDelay{Delay: 1s} with unlimited attempts.
	Retry RetryPolicy

	SubscribeAttempts int
	SubscribePause    time.Duration

	Logger Logger
}

// Manager owns one Transport and keeps it connected.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Transport calls are serialized by opMu.
type Manager struct {
	transport Transport
	dataTopic string
	ackTopic  string
	qos       byte
	retry     RetryPolicy

	subscribeAttempts int
	subscribePause    time.Duration

	logger Logger

	mu          sync.RWMutex
	state       State
	connectedAt time.Time
	running     bool

	// opMu keeps a single publish or subscribe in flight.
	opMu sync.Mutex

	lastMu        sync.Mutex
	lastPublished string

	obsMu      sync.RWMutex
	observers  []Observer
	ackHandler func()

	lost chan error
}

// NewManager creates a manager. Zero-valued options take defaults.
func NewManager(opts Options) *Manager {
	if opts.Retry == nil {
		opts.Retry = FixedDelay{Delay: defaultRetryDelay}
	}
	if opts.SubscribeAttempts <= 0 {
		opts.SubscribeAttempts = defaultSubscribeAttempts
	}
	if opts.SubscribePause <= 0 {
		opts.SubscribePause = defaultSubscribePause
	}
	if opts.AckTopic == "" {
		opts.AckTopic = opts.DataTopic
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}

	return &Manager{
		transport:         opts.Transport,
		dataTopic:         opts.DataTopic,
		ackTopic:          opts.AckTopic,
		qos:               opts.QoS,
		retry:             opts.Retry,
		subscribeAttempts: opts.SubscribeAttempts,
		subscribePause:    opts.SubscribePause,
		logger:            opts.Logger,
		lost:              make(chan error, 1),
	}
}

// AddObserver registers an observer.
func (m *Manager) AddObserver(o Observer) {
	m.obsMu.Lock()
	defer m.obsMu.Unlock()
	m.observers = append(m.observers, o)
}

// SetAckHandler sets the function called for each acknowledgment.
func (m *Manager) SetAckHandler(fn func()) {
	m.obsMu.Lock()
	defer m.obsMu.Unlock()
	m.ackHandler = fn
}

// State returns the current session state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// IsConnected reports whether a session is up.
func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

// ConnectedAt returns when the current session was established.
// It is the zero time while disconnected.
func (m *Manager) ConnectedAt() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connectedAt
}

// Run connects and keeps the session alive until ctx is cancelled.
//
// It returns nil on cancellation and ErrConnectFailed when the retry
// policy gives up.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	m.running = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
	}()

	m.transport.Bind(m.handleMessage, m.handleLost)
	defer m.shutdown()

	for {
		// A lost signal left over from the previous session is stale.
		select {
		case <-m.lost:
		default:
		}

		sessionPresent, err := m.connectWithRetry(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		if err := m.onConnected(ctx, sessionPresent); err != nil {
			m.logger.Warn("connection lost before session was ready", "error", err)
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case err := <-m.lost:
			m.onDisconnected(err)
		}
	}
}

// connectWithRetry makes connect attempts until one succeeds, ctx ends
// or the retry policy stops.
func (m *Manager) connectWithRetry(ctx context.Context) (bool, error) {
	for attempt := 1; ; attempt++ {
		m.setState(StateConnecting)

		m.opMu.Lock()
		sessionPresent, err := m.transport.Connect(ctx)
		m.opMu.Unlock()
		if err == nil {
			return sessionPresent, nil
		}

		m.setState(StateDisconnected)
		if ctx.Err() != nil {
			return false, ctx.Err()
		}

		delay, ok := m.retry.Next(attempt)
		if !ok {
			return false, fmt.Errorf("%w: after %d attempts: %w", ErrConnectFailed, attempt, err)
		}

		m.logger.Warn("connect failed, retrying",
			"attempt", attempt,
			"delay", delay.String(),
			"error", err,
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false, ctx.Err()
		case <-timer.C:
		}
	}
}

// onConnected publishes the new session to the rest of the process. It
// returns the loss reason instead when the session already dropped
// between Connect returning and this call.
func (m *Manager) onConnected(ctx context.Context, sessionPresent bool) error {
	m.mu.Lock()
	select {
	case err := <-m.lost:
		m.state = StateDisconnected
		m.mu.Unlock()
		return err
	default:
	}
	m.state = StateConnected
	m.connectedAt = time.Now()
	m.mu.Unlock()

	m.logger.Info("connected to broker", "session_present", sessionPresent)

	if !sessionPresent {
		m.subscribeAll(ctx)
	}

	m.notifyConnectivity(true)
	return nil
}

// onDisconnected records a lost session.
func (m *Manager) onDisconnected(err error) {
	m.setState(StateDisconnected)
	m.logger.Warn("connection lost", "error", err)
	m.notifyConnectivity(false)
}

// shutdown closes the transport when Run exits.
func (m *Manager) shutdown() {
	wasConnected := m.IsConnected()

	m.opMu.Lock()
	m.transport.Disconnect()
	m.opMu.Unlock()

	m.setState(StateDisconnected)
	if wasConnected {
		m.notifyConnectivity(false)
	}
}

// topics returns the distinct topics to subscribe.
func (m *Manager) topics() []string {
	if m.ackTopic == m.dataTopic {
		return []string{m.dataTopic}
	}
	return []string{m.dataTopic, m.ackTopic}
}

func (m *Manager) subscribeAll(ctx context.Context) {
	for _, topic := range m.topics() {
		if err := m.subscribe(ctx, topic); err != nil {
			m.logger.Error("subscription abandoned", "topic", topic, "error", err)
		}
	}
}

// subscribe tries a topic up to subscribeAttempts times.
func (m *Manager) subscribe(ctx context.Context, topic string) error {
	var lastErr error
	for attempt := 1; attempt <= m.subscribeAttempts; attempt++ {
		m.opMu.Lock()
		err := m.transport.Subscribe(ctx, topic, m.qos)
		m.opMu.Unlock()
		if err == nil {
			m.logger.Debug("subscribed", "topic", topic)
			return nil
		}
		lastErr = err

		m.logger.Warn("subscribe failed", "topic", topic, "attempt", attempt, "error", err)
		if attempt == m.subscribeAttempts {
			break
		}

		timer := time.NewTimer(m.subscribePause)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, topic, ctx.Err())
		case <-timer.C:
		}
	}
	return fmt.Errorf("%w: %s after %d attempts: %w", ErrSubscribeFailed, topic, m.subscribeAttempts, lastErr)
}

// Publish sends payload to the data topic.
func (m *Manager) Publish(ctx context.Context, payload []byte) error {
	if !m.IsConnected() {
		return ErrNotConnected
	}

	m.opMu.Lock()
	defer m.opMu.Unlock()

	// Recorded before the call so a fast echo is recognized.
	m.lastMu.Lock()
	m.lastPublished = string(payload)
	m.lastMu.Unlock()

	if err := m.transport.Publish(ctx, m.dataTopic, payload, m.qos); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// handleLost is bound to the transport. The state drops immediately so
// nothing publishes into a dead session. Run notifies observers.
func (m *Manager) handleLost(err error) {
	if err == nil {
		err = errors.New("connection closed")
	}
	m.setState(StateDisconnected)

	select {
	case m.lost <- err:
	default:
	}
}

// handleMessage routes inbound traffic.
func (m *Manager) handleMessage(topic string, payload []byte) {
	msg, err := protocol.ParseMessage(payload)
	if err != nil {
		m.logger.Debug("dropping unparseable message", "topic", topic, "error", err)
		return
	}

	switch msg.Kind {
	case protocol.KindAck:
		if topic != m.ackTopic {
			m.logger.Debug("ignoring ack on non-ack topic", "topic", topic)
			return
		}
		m.obsMu.RLock()
		handler := m.ackHandler
		m.obsMu.RUnlock()
		if handler != nil {
			handler()
		}

	case protocol.KindDeviceData:
		if m.isEcho(payload) {
			return
		}
		m.obsMu.RLock()
		observers := append([]Observer(nil), m.observers...)
		m.obsMu.RUnlock()
		for _, o := range observers {
			o.OnMessageReceived(msg.Envelope)
		}

	default:
		m.logger.Debug("ignoring message", "topic", topic, "kind", msg.Kind.String())
	}
}

// isEcho reports whether payload is our own last publish coming back on
// a topic we also subscribe to.
func (m *Manager) isEcho(payload []byte) bool {
	m.lastMu.Lock()
	defer m.lastMu.Unlock()
	return m.lastPublished != "" && string(payload) == m.lastPublished
}

func (m *Manager) notifyConnectivity(connected bool) {
	m.obsMu.RLock()
	observers := append([]Observer(nil), m.observers...)
	m.obsMu.RUnlock()
	for _, o := range observers {
		o.OnConnectivityChanged(connected)
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = s
	if s != StateConnected {
		m.connectedAt = time.Time{}
	}
}
