package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/MehulMathur2411/Cpap-Bipap/internal/connection"
	"github.com/MehulMathur2411/Cpap-Bipap/internal/deadletter"
	"github.com/MehulMathur2411/Cpap-Bipap/internal/delivery"
	"github.com/MehulMathur2411/Cpap-Bipap/internal/infrastructure/config"
	"github.com/MehulMathur2411/Cpap-Bipap/internal/infrastructure/logging"
	"github.com/MehulMathur2411/Cpap-Bipap/internal/protocol"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// SettingsService is the controller surface the API drives.
// *controller.Controller satisfies it.
type SettingsService interface {
	SubmitMode(ctx context.Context, mode protocol.Mode, values protocol.Fields) (bool, error)
	SyncAll(ctx context.Context) (bool, error)
	ApplyFrame(line string) (protocol.Bundle, error)
	RequestSettings(ctx context.Context) error
	Serial() string
}

// SettingsReader reads the stored bundle. *settings.Store satisfies it.
type SettingsReader interface {
	Load() (protocol.Bundle, error)
}

// QueueService exposes the delivery queue. *delivery.Queue satisfies it.
type QueueService interface {
	Enqueue(payload string) (bool, error)
	Stats() delivery.Stats
	Pending() []delivery.Pending
	Clear() error
}

// LinkStatus reports the broker session. *connection.Manager satisfies it.
type LinkStatus interface {
	State() connection.State
	ConnectedAt() time.Time
}

// DeadLetterStore reads and removes dead letters.
// *deadletter.SQLiteRepository satisfies it.
type DeadLetterStore interface {
	List(ctx context.Context, limit, offset int) (*deadletter.ListResult, error)
	Get(ctx context.Context, id string) (deadletter.Entry, error)
	Delete(ctx context.Context, id string) error
}

// EventLog reads the delivery journal. *deadletter.Journal satisfies it.
type EventLog interface {
	Recent(ctx context.Context, limit int) ([]deadletter.Record, error)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config      config.APIConfig
	WS          config.WebSocketConfig
	Logger      *logging.Logger
	Controller  SettingsService
	Settings    SettingsReader
	Queue       QueueService
	Link        LinkStatus
	DeadLetters DeadLetterStore
	Journal     EventLog
	Machine     protocol.MachineType
	Version     string
}

// Server is the local control API.
//
// It implements controller.Notifier and delivery.Observer, relaying what
// it hears to WebSocket clients. The server is created with New() and
// started with Start().
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
type Server struct {
	cfg         config.APIConfig
	wsCfg       config.WebSocketConfig
	logger      *logging.Logger
	controller  SettingsService
	settings    SettingsReader
	queue       QueueService
	link        LinkStatus
	deadLetters DeadLetterStore
	journal     EventLog
	machine     protocol.MachineType
	version     string
	startedAt   time.Time
	hub         *Hub

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	cancel   context.CancelFunc
}

// New creates a new API server with the given dependencies.
// The server is not started until Start() is called, but it relays
// events to the hub from the moment it is created.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Controller == nil || deps.Settings == nil {
		return nil, fmt.Errorf("controller and settings are required")
	}
	if deps.Queue == nil || deps.Link == nil {
		return nil, fmt.Errorf("queue and link are required")
	}

	return &Server{
		cfg:         deps.Config,
		wsCfg:       deps.WS,
		logger:      deps.Logger,
		controller:  deps.Controller,
		settings:    deps.Settings,
		queue:       deps.Queue,
		link:        deps.Link,
		deadLetters: deps.DeadLetters,
		journal:     deps.Journal,
		machine:     deps.Machine,
		version:     deps.Version,
		startedAt:   time.Now(),
		hub:         NewHub(deps.WS, deps.Logger),
	}, nil
}

// Start binds the listener and serves in the background. Binding errors
// such as a port in use are returned here. The server can be stopped
// with Close().
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return fmt.Errorf("api server already started")
	}

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	// Internal context so Close() can stop the hub independently of ctx.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

	s.listener = ln
	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	srv := s.server
	go func() {
		var serveErr error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", ln.Addr().String(),
				"cert", s.cfg.TLS.CertFile,
			)
			serveErr = srv.ServeTLS(ln, s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", ln.Addr().String())
			serveErr = srv.Serve(ln)
		}
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", serveErr)
		}
	}()

	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server.
// It waits up to 10 seconds for in-flight requests to complete.
func (s *Server) Close() error {
	s.mu.Lock()
	srv := s.server
	cancel := s.cancel
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	// Stop the hub, which disconnects WebSocket clients
	if cancel != nil {
		cancel()
	}

	ctx, done := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer done()

	s.logger.Info("API server shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
