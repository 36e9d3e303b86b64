package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/conductor/internal/conductor"
	"github.com/nerrad567/conductor/internal/infrastructure/config"
	"github.com/nerrad567/conductor/internal/infrastructure/logging"
	"github.com/nerrad567/conductor/internal/infrastructure/metrics"
	"github.com/nerrad567/conductor/internal/store"
	"github.com/nerrad567/conductor/internal/timeline"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Store persists the timeline and serves the command log.
// *store.Store satisfies it.
type Store interface {
	ReplaceTimeline(ctx context.Context, objects []timeline.Object) error
	ReplaceMappings(ctx context.Context, mappings timeline.Mappings) error
	Commands(ctx context.Context, filter store.CommandFilter) ([]store.CommandLogEntry, error)
}

// HealthChecker is implemented by every infrastructure client.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config    config.APIConfig
	WS        config.WebSocketConfig
	Logger    *logging.Logger
	Conductor *conductor.Conductor
	Store     Store            // optional: timeline edits are not persisted without it
	Metrics   *metrics.Metrics // optional: /metrics returns 404 without it
	Checks    map[string]HealthChecker
	Version   string
}

// Server is the HTTP API server of the conductor.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	logger    *logging.Logger
	conductor *conductor.Conductor
	store     Store
	metrics   *metrics.Metrics
	checks    map[string]HealthChecker
	version   string
	hub       *Hub
	started   time.Time

	mu          sync.Mutex
	server      *http.Server
	addr        net.Addr
	cancel      context.CancelFunc // cancels background goroutines on Close()
	unsubscribe func()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Conductor == nil {
		return nil, fmt.Errorf("conductor is required")
	}

	return &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		logger:    deps.Logger,
		conductor: deps.Conductor,
		store:     deps.Store,
		metrics:   deps.Metrics,
		checks:    deps.Checks,
		version:   deps.Version,
		hub:       NewHub(deps.WS, deps.Logger),
		started:   time.Now(),
	}, nil
}

// Handler returns the fully wired router. Start uses it; tests may mount
// it on an httptest server.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start relays conductor events to the WebSocket hub and begins listening
// for HTTP connections in a background goroutine. The server can be
// stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return fmt.Errorf("api server already started")
	}

	srvCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go s.hub.Run(srvCtx)
	s.unsubscribe = s.relayEvents()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	srvAddr := s.server.Addr
	ln, err := net.Listen("tcp", srvAddr)
	if err != nil {
		cancel()
		s.unsubscribe()
		s.server = nil
		return fmt.Errorf("listening on %s: %w", srvAddr, err)
	}
	s.addr = ln.Addr()
	srv := s.server

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.addr.String(),
				"cert", s.cfg.TLS.CertFile,
			)
			err = srv.ServeTLS(ln, s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.addr.String())
			err = srv.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the listening address once started.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	s.mu.Lock()
	srv := s.server
	cancel := s.cancel
	unsubscribe := s.unsubscribe
	s.server = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	if unsubscribe != nil {
		unsubscribe()
	}
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

// HealthCheck verifies the API server is running and responsive.
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
