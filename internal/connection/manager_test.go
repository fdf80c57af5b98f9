package connection

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/MehulMathur2411/Cpap-Bipap/internal/protocol"
)

type connectResult struct {
	sessionPresent bool
	err            error
	// lostBeforeReturn fires the lost handler while Connect is still
	// returning, as paho can when the broker drops a fresh session.
	lostBeforeReturn error
}

// mockTransport scripts connect outcomes and records every call.
type mockTransport struct {
	mu sync.Mutex

	connects       []connectResult
	connectCalls   int
	subscribes     []string
	subFailures    int
	published      []string
	publishTopics  []string
	publishErr     error
	publishDelay   time.Duration
	disconnects    int
	inFlight       int
	maxInFlight    int
	onMessage      func(topic string, payload []byte)
	onLost         func(err error)
	sessionDefault bool
}

func (m *mockTransport) Bind(onMessage func(string, []byte), onLost func(error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onMessage = onMessage
	m.onLost = onLost
}

func (m *mockTransport) Connect(context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectCalls++
	if len(m.connects) == 0 {
		return m.sessionDefault, nil
	}
	r := m.connects[0]
	m.connects = m.connects[1:]
	if r.lostBeforeReturn != nil && m.onLost != nil {
		m.onLost(r.lostBeforeReturn)
	}
	return r.sessionPresent, r.err
}

func (m *mockTransport) Subscribe(_ context.Context, topic string, _ byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribes = append(m.subscribes, topic)
	if m.subFailures > 0 {
		m.subFailures--
		return errors.New("suback refused")
	}
	return nil
}

func (m *mockTransport) Publish(_ context.Context, topic string, payload []byte, _ byte) error {
	m.mu.Lock()
	m.inFlight++
	if m.inFlight > m.maxInFlight {
		m.maxInFlight = m.inFlight
	}
	delay := m.publishDelay
	m.mu.Unlock()

	time.Sleep(delay)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight--
	if m.publishErr != nil {
		return m.publishErr
	}
	m.publishTopics = append(m.publishTopics, topic)
	m.published = append(m.published, string(payload))
	return nil
}

func (m *mockTransport) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnects++
}

func (m *mockTransport) deliver(topic, payload string) {
	m.mu.Lock()
	fn := m.onMessage
	m.mu.Unlock()
	fn(topic, []byte(payload))
}

func (m *mockTransport) drop(err error) {
	m.mu.Lock()
	fn := m.onLost
	m.mu.Unlock()
	fn(err)
}

func (m *mockTransport) subscribeCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.subscribes...)
}

func (m *mockTransport) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectCalls
}

// recordingObserver captures observer callbacks.
type recordingObserver struct {
	mu           sync.Mutex
	connectivity []bool
	envelopes    []protocol.Envelope
}

func (o *recordingObserver) OnConnectivityChanged(connected bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.connectivity = append(o.connectivity, connected)
}

func (o *recordingObserver) OnMessageReceived(env protocol.Envelope) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.envelopes = append(o.envelopes, env)
}

func (o *recordingObserver) changes() []bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]bool(nil), o.connectivity...)
}

func (o *recordingObserver) received() []protocol.Envelope {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]protocol.Envelope(nil), o.envelopes...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// startManager runs a manager in the background and stops it on cleanup.
func startManager(t *testing.T, transport *mockTransport, opts Options) (*Manager, *recordingObserver, chan error) {
	t.Helper()

	opts.Transport = transport
	if opts.DataTopic == "" {
		opts.DataTopic = "esp32/data1"
		opts.AckTopic = "esp32/data"
	}
	if opts.Retry == nil {
		opts.Retry = FixedDelay{Delay: 10 * time.Millisecond}
	}
	if opts.SubscribePause == 0 {
		opts.SubscribePause = 5 * time.Millisecond
	}
	m := NewManager(opts)
	obs := &recordingObserver{}
	m.AddObserver(obs)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			t.Error("Run() did not return after cancel")
		}
	})
	return m, obs, done
}

func countTrue(values []bool) int {
	n := 0
	for _, v := range values {
		if v {
			n++
		}
	}
	return n
}

func TestManager_FreshSessionSubscribesBothTopics(t *testing.T) {
	transport := &mockTransport{}
	m, obs, _ := startManager(t, transport, Options{})

	waitFor(t, "connected notification", func() bool { return countTrue(obs.changes()) == 1 })

	if m.State() != StateConnected {
		t.Errorf("State() = %v, want connected", m.State())
	}
	if m.ConnectedAt().IsZero() {
		t.Error("ConnectedAt() is zero while connected")
	}
	if got := transport.subscribeCalls(); !reflect.DeepEqual(got, []string{"esp32/data1", "esp32/data"}) {
		t.Errorf("subscribes = %v, want [esp32/data1 esp32/data]", got)
	}
}

func TestManager_ResubscribeDependsOnSessionPresent(t *testing.T) {
	tests := []struct {
		name           string
		sessionPresent bool
		wantSubscribes int
	}{
		{"fresh session resubscribes once", false, 1},
		{"resumed session does not resubscribe", true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := &mockTransport{
				connects: []connectResult{{sessionPresent: false}, {sessionPresent: tt.sessionPresent}},
			}
			_, obs, _ := startManager(t, transport, Options{DataTopic: "esp32/data", AckTopic: "esp32/data"})

			waitFor(t, "first session", func() bool { return countTrue(obs.changes()) == 1 })
			before := len(transport.subscribeCalls())
			if before != 1 {
				t.Fatalf("initial subscribes = %d, want 1 for a shared topic", before)
			}

			transport.drop(errors.New("keepalive timeout"))
			waitFor(t, "second session", func() bool { return countTrue(obs.changes()) == 2 })

			if got := len(transport.subscribeCalls()) - before; got != tt.wantSubscribes {
				t.Errorf("resubscribe calls = %d, want %d", got, tt.wantSubscribes)
			}
		})
	}
}

func TestManager_InterruptionNotifiesAndReconnects(t *testing.T) {
	transport := &mockTransport{}
	_, obs, _ := startManager(t, transport, Options{})

	waitFor(t, "connected", func() bool { return countTrue(obs.changes()) == 1 })
	transport.drop(errors.New("network unreachable"))

	waitFor(t, "reconnected", func() bool { return countTrue(obs.changes()) == 2 })
	if got := obs.changes(); !reflect.DeepEqual(got[:3], []bool{true, false, true}) {
		t.Errorf("connectivity changes = %v, want [true false true]", got)
	}
	if transport.calls() != 2 {
		t.Errorf("connect calls = %d, want 2", transport.calls())
	}
}

func TestManager_LossDuringConnectIsNotOverwritten(t *testing.T) {
	transport := &mockTransport{
		connects: []connectResult{{lostBeforeReturn: errors.New("broker closed connection")}, {}},
	}
	m, obs, _ := startManager(t, transport, Options{})

	waitFor(t, "connected", func() bool { return countTrue(obs.changes()) == 1 })

	if transport.calls() != 2 {
		t.Errorf("connect calls = %d, want 2", transport.calls())
	}
	if got := obs.changes(); !reflect.DeepEqual(got, []bool{true}) {
		t.Errorf("connectivity changes = %v, want [true]", got)
	}
	// Only the surviving session subscribes.
	if got := transport.subscribeCalls(); !reflect.DeepEqual(got, []string{"esp32/data1", "esp32/data"}) {
		t.Errorf("subscribes = %v, want [esp32/data1 esp32/data]", got)
	}
	if m.State() != StateConnected {
		t.Errorf("State() = %v, want connected", m.State())
	}
}

func TestManager_ConnectRetries(t *testing.T) {
	refused := errors.New("connection refused")
	transport := &mockTransport{
		connects: []connectResult{{err: refused}, {err: refused}, {}},
	}
	m, obs, _ := startManager(t, transport, Options{})

	waitFor(t, "connected", func() bool { return countTrue(obs.changes()) == 1 })
	if transport.calls() != 3 {
		t.Errorf("connect calls = %d, want 3", transport.calls())
	}
	if !m.IsConnected() {
		t.Error("IsConnected() = false after successful retry")
	}
}

func TestManager_RetryPolicyExhausted(t *testing.T) {
	refused := errors.New("connection refused")
	transport := &mockTransport{
		connects: []connectResult{{err: refused}, {err: refused}, {err: refused}},
	}
	_, _, done := startManager(t, transport, Options{
		Retry: FixedDelay{Delay: time.Millisecond, MaxAttempts: 2},
	})

	select {
	case err := <-done:
		if !errors.Is(err, ErrConnectFailed) {
			t.Errorf("Run() error = %v, want ErrConnectFailed", err)
		}
		if !errors.Is(err, refused) {
			t.Errorf("Run() error = %v, want wrapped transport error", err)
		}
		done <- err // let cleanup observe the exit
	case <-time.After(3 * time.Second):
		t.Fatal("Run() did not give up")
	}
	if transport.calls() != 2 {
		t.Errorf("connect calls = %d, want 2", transport.calls())
	}
}

func TestManager_CancelDuringRetry(t *testing.T) {
	transport := &mockTransport{
		connects: []connectResult{{err: errors.New("refused")}},
	}
	m := NewManager(Options{
		Transport: transport,
		DataTopic: "esp32/data1",
		Retry:     FixedDelay{Delay: time.Hour},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	waitFor(t, "first attempt", func() bool { return transport.calls() == 1 })
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v, want nil on cancel", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
	if m.State() != StateDisconnected {
		t.Errorf("State() = %v, want disconnected", m.State())
	}
}

func TestManager_SubscribeRetries(t *testing.T) {
	tests := []struct {
		name      string
		failures  int
		wantCalls int
	}{
		{"succeeds on third attempt", 2, 3},
		{"gives up after three attempts", 10, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := &mockTransport{subFailures: tt.failures}
			m, obs, _ := startManager(t, transport, Options{DataTopic: "esp32/data", AckTopic: "esp32/data"})

			waitFor(t, "connected", func() bool { return countTrue(obs.changes()) == 1 })
			if got := len(transport.subscribeCalls()); got != tt.wantCalls {
				t.Errorf("subscribe calls = %d, want %d", got, tt.wantCalls)
			}
			if !m.IsConnected() {
				t.Error("subscription failure must not tear down the connection")
			}
		})
	}
}

func TestManager_PublishBeforeConnect(t *testing.T) {
	m := NewManager(Options{Transport: &mockTransport{}, DataTopic: "esp32/data1"})

	if err := m.Publish(context.Background(), []byte("x")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() error = %v, want ErrNotConnected", err)
	}
}

func TestManager_Publish(t *testing.T) {
	transport := &mockTransport{}
	m, obs, _ := startManager(t, transport, Options{})
	waitFor(t, "connected", func() bool { return countTrue(obs.changes()) == 1 })

	if err := m.Publish(context.Background(), []byte(`{"device_status":1}`)); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	transport.mu.Lock()
	topics := append([]string(nil), transport.publishTopics...)
	transport.publishErr = errors.New("write: broken pipe")
	transport.mu.Unlock()

	if !reflect.DeepEqual(topics, []string{"esp32/data1"}) {
		t.Errorf("publish topics = %v, want [esp32/data1]", topics)
	}

	if err := m.Publish(context.Background(), []byte("y")); !errors.Is(err, ErrPublishFailed) {
		t.Errorf("Publish() error = %v, want ErrPublishFailed", err)
	}
}

func TestManager_OneRequestInFlight(t *testing.T) {
	transport := &mockTransport{publishDelay: 10 * time.Millisecond}
	m, obs, _ := startManager(t, transport, Options{})
	waitFor(t, "connected", func() bool { return countTrue(obs.changes()) == 1 })

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.Publish(context.Background(), []byte("frame")); err != nil {
				t.Errorf("Publish() error = %v", err)
			}
		}()
	}
	wg.Wait()

	transport.mu.Lock()
	defer transport.mu.Unlock()
	if transport.maxInFlight != 1 {
		t.Errorf("max concurrent publishes = %d, want 1", transport.maxInFlight)
	}
}

func TestManager_Routing(t *testing.T) {
	transport := &mockTransport{}
	m, obs, _ := startManager(t, transport, Options{})
	waitFor(t, "connected", func() bool { return countTrue(obs.changes()) == 1 })

	var mu sync.Mutex
	acks := 0
	m.SetAckHandler(func() {
		mu.Lock()
		acks++
		mu.Unlock()
	})

	transport.deliver("esp32/data", `{"acknowledgment": 1}`)
	transport.deliver("esp32/data1", `{"acknowledgment": 1}`)
	transport.deliver("esp32/data", `{"acknowledgment": 0}`)
	transport.deliver("esp32/data", `{"device_status":1,"device_data":"*S,180326,1430,G,8.0,2#"}`)
	transport.deliver("esp32/data", `*S,180326,1430,G,9.0,1#`)
	transport.deliver("esp32/data", `garbage`)

	mu.Lock()
	if acks != 1 {
		t.Errorf("acks = %d, want 1 (only on the ack topic)", acks)
	}
	mu.Unlock()

	got := obs.received()
	if len(got) != 2 {
		t.Fatalf("received %d envelopes, want 2", len(got))
	}
	if got[0].DeviceData != "*S,180326,1430,G,8.0,2#" || got[0].DeviceStatus != 1 {
		t.Errorf("envelope[0] = %+v", got[0])
	}
	if got[1].DeviceData != "*S,180326,1430,G,9.0,1#" {
		t.Errorf("envelope[1] = %+v", got[1])
	}
}

func TestManager_IgnoresOwnEcho(t *testing.T) {
	transport := &mockTransport{}
	m, obs, _ := startManager(t, transport, Options{})
	waitFor(t, "connected", func() bool { return countTrue(obs.changes()) == 1 })

	own := `{"device_status":1,"device_data":"*S,180326,1430,G,8.0,2#"}`
	if err := m.Publish(context.Background(), []byte(own)); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	transport.deliver("esp32/data1", own)
	if got := obs.received(); len(got) != 0 {
		t.Errorf("echo delivered to observers: %+v", got)
	}

	transport.deliver("esp32/data1", `{"device_status":1,"device_data":"*S,180326,1431,G,7.0,1#"}`)
	if got := obs.received(); len(got) != 1 {
		t.Errorf("received %d envelopes, want 1 after a new frame", len(got))
	}
}

func TestManager_ShutdownDisconnects(t *testing.T) {
	transport := &mockTransport{}
	m := NewManager(Options{Transport: transport, DataTopic: "esp32/data1"})
	obs := &recordingObserver{}
	m.AddObserver(obs)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	waitFor(t, "connected", func() bool { return m.IsConnected() })
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() error = %v, want nil", err)
	}

	transport.mu.Lock()
	disconnects := transport.disconnects
	transport.mu.Unlock()
	if disconnects != 1 {
		t.Errorf("disconnects = %d, want 1", disconnects)
	}
	if got := obs.changes(); !reflect.DeepEqual(got, []bool{true, false}) {
		t.Errorf("connectivity changes = %v, want [true false]", got)
	}
	if !m.ConnectedAt().IsZero() {
		t.Error("ConnectedAt() not reset after shutdown")
	}
}

func TestManager_RunTwice(t *testing.T) {
	transport := &mockTransport{}
	m, obs, _ := startManager(t, transport, Options{})
	waitFor(t, "connected", func() bool { return countTrue(obs.changes()) == 1 })

	if err := m.Run(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Run() error = %v, want ErrAlreadyRunning", err)
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		StateDisconnected: "disconnected",
		StateConnecting:   "connecting",
		StateConnected:    "connected",
		State(9):          "state(9)",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}
