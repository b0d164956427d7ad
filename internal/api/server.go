package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/tagtrace/tagtrace-core/internal/audit"
	"github.com/tagtrace/tagtrace-core/internal/calibration"
	"github.com/tagtrace/tagtrace-core/internal/event"
	"github.com/tagtrace/tagtrace-core/internal/infrastructure/config"
	"github.com/tagtrace/tagtrace-core/internal/infrastructure/logging"
	"github.com/tagtrace/tagtrace-core/internal/ingest"
	"github.com/tagtrace/tagtrace-core/internal/inventory"
	"github.com/tagtrace/tagtrace-core/internal/registry"
	"github.com/tagtrace/tagtrace-core/internal/telemetry"
)

// gracefulShutdownTimeout is how long Close() waits for in-flight
// requests before forcing connections closed.
const gracefulShutdownTimeout = 10 * time.Second

// Deps contains the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger

	Registry    *registry.Service
	Pipeline    *ingest.Pipeline
	Calibration *calibration.Engine
	Events      event.Repository
	Health      *event.HealthEngine
	Telemetry   telemetry.Repository
	Inventory   *inventory.Service
	Audit       audit.Repository

	// ExternalHub allows injecting a pre-built WebSocket hub. When nil,
	// the server creates and runs its own.
	ExternalHub *Hub

	Version string
}

// Server is the TagTrace HTTP API server.
type Server struct {
	cfg    config.APIConfig
	wsCfg  config.WebSocketConfig
	secCfg config.SecurityConfig
	logger *logging.Logger

	registry    *registry.Service
	pipeline    *ingest.Pipeline
	calibration *calibration.Engine
	events      event.Repository
	health      *event.HealthEngine
	telemetry   telemetry.Repository
	inventory   *inventory.Service
	audit       audit.Repository

	version string

	hub         *Hub
	externalHub bool

	server *http.Server
	cancel context.CancelFunc

	tickets   map[string]ticketEntry
	ticketsMu sync.Mutex
}

// New creates an API server from its dependencies.
//
// Parameters:
//   - deps: All required services and configuration sections
//
// Returns:
//   - *Server: The constructed server (call Start to begin listening)
//   - error: If a required dependency is missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, errors.New("api: logger is required")
	}
	if deps.Registry == nil {
		return nil, errors.New("api: registry service is required")
	}
	if deps.Pipeline == nil {
		return nil, errors.New("api: ingestion pipeline is required")
	}
	if deps.Calibration == nil {
		return nil, errors.New("api: calibration engine is required")
	}
	if deps.Events == nil {
		return nil, errors.New("api: event repository is required")
	}
	if deps.Health == nil {
		return nil, errors.New("api: health engine is required")
	}
	if deps.Telemetry == nil {
		return nil, errors.New("api: telemetry repository is required")
	}
	if deps.Inventory == nil {
		return nil, errors.New("api: inventory service is required")
	}
	if deps.Audit == nil {
		return nil, errors.New("api: audit repository is required")
	}

	s := &Server{
		cfg:         deps.Config,
		wsCfg:       deps.WS,
		secCfg:      deps.Security,
		logger:      deps.Logger.With("component", "api"),
		registry:    deps.Registry,
		pipeline:    deps.Pipeline,
		calibration: deps.Calibration,
		events:      deps.Events,
		health:      deps.Health,
		telemetry:   deps.Telemetry,
		inventory:   deps.Inventory,
		audit:       deps.Audit,
		version:     deps.Version,
		tickets:     make(map[string]ticketEntry),
	}

	if deps.ExternalHub != nil {
		s.hub = deps.ExternalHub
		s.externalHub = true
	}

	return s, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub and launches the HTTP listener in a
// background goroutine. The server can be stopped with Close().
//
// Parameters:
//   - ctx: Context for cancellation (not used for listener lifetime)
//
// Returns:
//   - error: If the server fails to start (port in use, etc.)
func (s *Server) Start(ctx context.Context) error {
	// Internal context so Close() can stop background goroutines
	// independently of the parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	// Create WebSocket hub (unless one was injected externally)
	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
		go s.hub.Run(srvCtx)
	}

	// Periodic ticket cleanup to prevent memory leaks
	go s.cleanTicketsLoop(srvCtx)

	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// NotifyEvent broadcasts a detection event to WebSocket clients. It is
// safe to call before Start; broadcasts are dropped until the hub runs.
// Satisfies the ingestion pipeline's Notifier.
func (s *Server) NotifyEvent(evt *event.Event) {
	if s.hub == nil || evt == nil {
		return
	}
	s.hub.Broadcast("event."+evt.Type, evt)
	s.hub.Broadcast("events", evt)
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	// Cancel background goroutines (hub, ticket cleanup)
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
//
// Parameters:
//   - ctx: Context for timeout/cancellation (unused; the check is local)
//
// Returns:
//   - error: If the server has not been started
func (s *Server) HealthCheck(_ context.Context) error {
	if s.server == nil {
		return errors.New("api: server not started")
	}
	return nil
}
