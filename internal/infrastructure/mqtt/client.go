package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/MehulMathur2411/Cpap-Bipap/internal/infrastructure/config"
)

// Client wraps paho.mqtt.golang as a single-session transport.
//
// The client never reconnects on its own. A lost connection is reported
// through the bound lost handler and the owner decides when to call
// Connect again. Every inbound message, including those delivered for a
// resumed persistent session before any Subscribe call, is passed to the
// bound message handler.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	client  pahomqtt.Client
	options *pahomqtt.ClientOptions
	cfg     config.MQTTConfig

	// connected tracks current connection state.
	connected bool
	connMu    sync.RWMutex

	// Handlers bound by the connection owner.
	onMessage MessageHandler
	onLost    func(err error)
	handlerMu sync.RWMutex

	// logger for error/panic logging (optional, set via SetLogger).
	logger   Logger
	loggerMu sync.RWMutex
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// MessageHandler is the callback signature for received messages.
//
// Handlers run on the paho router goroutine and must not block for
// extended periods.
type MessageHandler func(topic string, payload []byte)

// New builds a client from config without connecting.
//
// It fails only when the TLS material named in cfg cannot be loaded.
func New(cfg config.MQTTConfig) (*Client, error) {
	opts, err := buildClientOptions(cfg)
	if err != nil {
		return nil, err
	}

	c := &Client{
		options: opts,
		cfg:     cfg,
	}

	opts.SetDefaultPublishHandler(c.handleMessage)
	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.setConnected(true)
	})
	opts.SetConnectionLostHandler(c.handleConnectionLost)

	c.client = pahomqtt.NewClient(opts)
	return c, nil
}

// Bind installs the inbound message and connection-lost handlers.
// Either may be nil.
func (c *Client) Bind(onMessage func(topic string, payload []byte), onLost func(err error)) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.onMessage = onMessage
	c.onLost = onLost
}

// Connect performs one connection attempt.
//
// It reports whether the broker resumed a persistent session. When it
// did, subscriptions from the previous session are still in place.
func (c *Client) Connect(ctx context.Context) (bool, error) {
	token := c.client.Connect()
	if err := waitToken(ctx, token, durationOr(c.cfg.ConnectTimeout, defaultConnectTimeout)); err != nil {
		return false, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, c.cfg.BrokerURL(), err)
	}

	c.setConnected(true)

	sessionPresent := false
	if ct, ok := token.(*pahomqtt.ConnectToken); ok {
		sessionPresent = ct.SessionPresent()
	}
	return sessionPresent, nil
}

// handleConnectionLost is called by paho when the connection drops.
func (c *Client) handleConnectionLost(_ pahomqtt.Client, err error) {
	c.setConnected(false)

	c.handlerMu.RLock()
	onLost := c.onLost
	c.handlerMu.RUnlock()

	if onLost != nil {
		onLost(err)
	}
}

// handleMessage dispatches an inbound message to the bound handler.
// Panics in the handler are recovered so a bad payload cannot take the
// router goroutine down.
func (c *Client) handleMessage(_ pahomqtt.Client, msg pahomqtt.Message) {
	c.handlerMu.RLock()
	handler := c.onMessage
	c.handlerMu.RUnlock()

	if handler == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Error("MQTT handler panic recovered",
					"topic", msg.Topic(),
					"panic", r,
				)
			}
		}
	}()

	handler(msg.Topic(), msg.Payload())
}

// Disconnect closes the connection gracefully.
// Pending operations get up to one second to complete.
func (c *Client) Disconnect() {
	if c.client.IsConnected() {
		c.client.Disconnect(defaultDisconnectQuiesce)
	}
	c.setConnected(false)
}

// HealthCheck verifies the MQTT connection is active.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("health check cancelled: %w", err)
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	return nil
}

// IsConnected returns true if currently connected to the broker.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && c.client.IsConnectionOpen()
}

// SetLogger sets the logger for error and panic logging.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	defer c.loggerMu.Unlock()
	c.logger = logger
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

func (c *Client) setConnected(v bool) {
	c.connMu.Lock()
	c.connected = v
	c.connMu.Unlock()
}

// waitToken blocks until the token completes, the context ends or the
// timeout elapses.
func waitToken(ctx context.Context, token pahomqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrTimeout
	}
}
