package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MehulMathur2411/Cpap-Bipap/internal/protocol"
)

// Store persists the settings bundle. *settings.Store satisfies it.
type Store interface {
	Load() (protocol.Bundle, error)
	SaveMode(mode protocol.Mode, values protocol.Fields) (protocol.Bundle, error)
	ApplyUpdate(partial protocol.Bundle) (protocol.Bundle, error)
}

// Queue accepts envelopes for acknowledged delivery. *delivery.Queue satisfies it.
type Queue interface {
	Enqueue(payload string) (bool, error)
}

// Publisher sends a payload without queueing. *connection.Manager satisfies it.
type Publisher interface {
	Publish(ctx context.Context, payload []byte) error
}

// Notifier is told about outcomes the UI should show.
type Notifier interface {
	SettingsApplied(b protocol.Bundle)
	DecodeFailed(frame string, err error)
	ConnectivityChanged(connected bool)
}

// Logger defines the logging interface used by the controller.
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

type noopNotifier struct{}

func (noopNotifier) SettingsApplied(protocol.Bundle) {}
func (noopNotifier) DecodeFailed(string, error)      {}
func (noopNotifier) ConnectivityChanged(bool)        {}

// Notifiers fans every notification out to each member in order.
type Notifiers []Notifier

// SettingsApplied implements Notifier.
func (ns Notifiers) SettingsApplied(b protocol.Bundle) {
	for _, n := range ns {
		n.SettingsApplied(b)
	}
}

// DecodeFailed implements Notifier.
func (ns Notifiers) DecodeFailed(frame string, err error) {
	for _, n := range ns {
		n.DecodeFailed(frame, err)
	}
}

// ConnectivityChanged implements Notifier.
func (ns Notifiers) ConnectivityChanged(connected bool) {
	for _, n := range ns {
		n.ConnectivityChanged(connected)
	}
}

// Options configures a Controller.
type Options struct {
	Store     Store
	Queue     Queue
	Publisher Publisher
	Codec     *protocol.Codec
	Machine   protocol.MachineType
	Serial    string

	// ResendSuppression drops an identical resubmission of a mode within
	// this window. 0 disables it.
	ResendSuppression time.Duration

	Notifier Notifier
	Logger   Logger

	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// Controller turns settings edits into queued frames and device frames
// into stored settings.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Controller struct {
	store     Store
	queue     Queue
	publisher Publisher
	codec     *protocol.Codec
	machine   protocol.MachineType
	window    time.Duration
	notifier  Notifier
	logger    Logger
	now       func() time.Time

	mu     sync.Mutex
	serial string
	recent map[string]time.Time
}

// New validates opts and creates a Controller.
func New(opts Options) (*Controller, error) {
	if opts.Store == nil || opts.Queue == nil {
		return nil, errors.New("controller: store and queue are required")
	}
	if opts.Codec == nil {
		opts.Codec = protocol.DefaultCodec()
	}
	if _, err := opts.Codec.Layout(opts.Machine); err != nil {
		return nil, err
	}
	if opts.Notifier == nil {
		opts.Notifier = noopNotifier{}
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Controller{
		store:     opts.Store,
		queue:     opts.Queue,
		publisher: opts.Publisher,
		codec:     opts.Codec,
		machine:   opts.Machine,
		window:    opts.ResendSuppression,
		notifier:  opts.Notifier,
		logger:    opts.Logger,
		now:       opts.Now,
		serial:    opts.Serial,
		recent:    make(map[string]time.Time),
	}, nil
}

// Serial returns the device serial currently written into frames.
func (c *Controller) Serial() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serial
}

// SetSerial changes the device serial written into frames.
func (c *Controller) SetSerial(serial string) {
	c.mu.Lock()
	c.serial = serial
	c.mu.Unlock()
}

// SubmitMode saves values for mode and queues the full bundle with mode
// announced as active. It reports false when nothing was queued, either
// because the same values were submitted within the suppression window
// or because an identical payload is already pending.
//
// The merged bundle is encoded before anything is saved, so values the
// codec rejects never reach the store.
func (c *Controller) SubmitMode(ctx context.Context, mode protocol.Mode, values protocol.Fields) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	activeMode, err := c.activeMode(mode)
	if err != nil {
		return false, err
	}

	key, err := submissionKey(mode, values)
	if err != nil {
		return false, err
	}
	if c.suppressed(key) {
		c.logger.Info("skipping repeated submission", "mode", mode)
		return false, nil
	}

	current, err := c.store.Load()
	if err != nil {
		return false, fmt.Errorf("loading settings: %w", err)
	}
	payload, err := c.encode(current.Merge(protocol.Bundle{mode: values}), activeMode)
	if err != nil {
		return false, err
	}

	if _, err := c.store.SaveMode(mode, values); err != nil {
		return false, fmt.Errorf("saving %s settings: %w", mode, err)
	}

	queued, err := c.queue.Enqueue(payload)
	if err != nil {
		return false, fmt.Errorf("queueing settings: %w", err)
	}
	c.remember(key)

	c.logger.Info("settings submitted", "mode", mode, "queued", queued)
	return queued, nil
}

// activeMode returns the mode to announce in the frame header. The device
// settings page is not a therapy mode and announces nothing. Unknown modes
// pass through so the store can reject them.
func (c *Controller) activeMode(mode protocol.Mode) (protocol.Mode, error) {
	if mode == protocol.ModeSettings || !mode.Valid() {
		return "", nil
	}
	if _, ok := protocol.ModeString(c.machine, mode); !ok {
		return "", fmt.Errorf("%w: mode %s is not available on %s", protocol.ErrInvalidField, mode, c.machine)
	}
	return mode, nil
}

// SyncAll queues the full stored bundle without announcing a mode.
func (c *Controller) SyncAll(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	bundle, err := c.store.Load()
	if err != nil {
		return false, fmt.Errorf("loading settings: %w", err)
	}
	return c.enqueue(bundle, "")
}

func (c *Controller) enqueue(bundle protocol.Bundle, activeMode protocol.Mode) (bool, error) {
	payload, err := c.encode(bundle, activeMode)
	if err != nil {
		return false, err
	}

	queued, err := c.queue.Enqueue(payload)
	if err != nil {
		return false, fmt.Errorf("queueing settings: %w", err)
	}
	return queued, nil
}

// encode turns bundle into the envelope payload the queue stores.
func (c *Controller) encode(bundle protocol.Bundle, activeMode protocol.Mode) (string, error) {
	frame, err := c.codec.Encode(bundle, protocol.EncodeRequest{
		Machine:    c.machine,
		Serial:     c.Serial(),
		ActiveMode: activeMode,
		Time:       c.now(),
	})
	if err != nil {
		return "", fmt.Errorf("encoding settings: %w", err)
	}
	return protocol.NewEnvelope(frame).Marshal()
}

// ApplyFrame decodes a frame reported by the device and merges it into
// the store. On a decode error the store is untouched and the Notifier
// receives the reason.
func (c *Controller) ApplyFrame(line string) (protocol.Bundle, error) {
	decoded, err := c.codec.Decode(line, c.machine)
	if err != nil {
		c.logger.Warn("discarding device frame", "error", err)
		c.notifier.DecodeFailed(line, err)
		return nil, fmt.Errorf("%w: %w", ErrDecodeFailed, err)
	}

	bundle, err := c.store.ApplyUpdate(decoded.Bundle)
	if err != nil {
		return nil, fmt.Errorf("storing device settings: %w", err)
	}

	if decoded.Serial != "" && decoded.Serial != c.Serial() {
		c.logger.Info("device serial updated", "serial", decoded.Serial)
		c.SetSerial(decoded.Serial)
	}

	c.notifier.SettingsApplied(bundle)
	return bundle, nil
}

// RequestSettings asks the device to publish its current settings. The
// request is sent directly and is not queued for acknowledgement.
func (c *Controller) RequestSettings(ctx context.Context) error {
	if c.publisher == nil {
		return errors.New("controller: no publisher configured")
	}
	serial := c.Serial()
	if serial == "" {
		return ErrNoSerial
	}

	data, err := json.Marshal(protocol.NewSettingsRequest(serial, c.machine))
	if err != nil {
		return fmt.Errorf("marshalling settings request: %w", err)
	}
	return c.publisher.Publish(ctx, data)
}

// OnConnectivityChanged implements connection.Observer.
func (c *Controller) OnConnectivityChanged(connected bool) {
	c.notifier.ConnectivityChanged(connected)
}

// OnMessageReceived implements connection.Observer.
func (c *Controller) OnMessageReceived(env protocol.Envelope) {
	if _, err := c.ApplyFrame(env.DeviceData); err != nil {
		c.logger.Debug("device data not applied", "error", err)
	}
}

// suppressed reports whether key was queued within the window. Expired
// entries are pruned on every call.
func (c *Controller) suppressed(key string) bool {
	if c.window <= 0 {
		return false
	}

	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	for k, at := range c.recent {
		if now.Sub(at) > c.window {
			delete(c.recent, k)
		}
	}

	last, ok := c.recent[key]
	return ok && now.Sub(last) < c.window
}

// remember starts the suppression window for key. Only submissions that
// reached the queue are remembered, so a failed attempt can be retried.
func (c *Controller) remember(key string) {
	if c.window <= 0 {
		return
	}
	now := c.now()
	c.mu.Lock()
	c.recent[key] = now
	c.mu.Unlock()
}

// submissionKey identifies a submission by mode and values. JSON object
// keys are sorted, so equal maps give equal keys.
func submissionKey(mode protocol.Mode, values protocol.Fields) (string, error) {
	data, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("encoding %s values: %w", mode, err)
	}
	return string(mode) + ":" + string(data), nil
}
