package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/macroforge-core/internal/background"
	"github.com/nerrad567/macroforge-core/internal/controller"
	"github.com/nerrad567/macroforge-core/internal/events"
	"github.com/nerrad567/macroforge-core/internal/infrastructure/config"
	"github.com/nerrad567/macroforge-core/internal/infrastructure/logging"
	"github.com/nerrad567/macroforge-core/internal/macro"
	"github.com/nerrad567/macroforge-core/internal/queue"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// eventBufferSize is the bus subscription buffer feeding the WebSocket hub.
const eventBufferSize = 256

// RunHistory reads persisted runs. *macro.SQLiteRepository satisfies it.
type RunHistory interface {
	GetRun(ctx context.Context, id string) (*macro.RunResult, error)
	ListRuns(ctx context.Context, limit int) ([]macro.RunResult, error)
}

// QueueHistory reads persisted queues. *queue.SQLiteStore satisfies it.
type QueueHistory interface {
	Get(ctx context.Context, id string) (*queue.Progress, error)
	List(ctx context.Context, limit int) ([]queue.Progress, error)
}

// ConnectionStatus reports broker connectivity. *mqtt.Client satisfies it.
type ConnectionStatus interface {
	IsConnected() bool
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	WS         config.WebSocketConfig
	Security   config.SecurityConfig
	Logger     *logging.Logger
	Engine     *macro.Engine
	Registry   *macro.Registry
	Scheduler  *background.Scheduler
	Sequencer  *queue.Sequencer
	Controller *controller.Controller
	Bus        *events.Bus

	// Optional.
	Runs    RunHistory
	Queues  QueueHistory
	MQTT    ConnectionStatus
	DB      *sql.DB
	Version string
}

// Server is the HTTP API server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg        config.APIConfig
	wsCfg      config.WebSocketConfig
	secCfg     config.SecurityConfig
	logger     *logging.Logger
	engine     *macro.Engine
	registry   *macro.Registry
	scheduler  *background.Scheduler
	sequencer  *queue.Sequencer
	controller *controller.Controller
	bus        *events.Bus
	runs       RunHistory
	queues     QueueHistory
	mqtt       ConnectionStatus
	db         *sql.DB
	version    string
	startTime  time.Time

	tickets *ticketStore
	hub     *Hub
	server  *http.Server
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Engine == nil || deps.Registry == nil {
		return nil, fmt.Errorf("engine and script registry are required")
	}
	if deps.Scheduler == nil || deps.Sequencer == nil || deps.Controller == nil {
		return nil, fmt.Errorf("scheduler, sequencer and controller are required")
	}

	return &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		secCfg:     deps.Security,
		logger:     deps.Logger,
		engine:     deps.Engine,
		registry:   deps.Registry,
		scheduler:  deps.Scheduler,
		sequencer:  deps.Sequencer,
		controller: deps.Controller,
		bus:        deps.Bus,
		runs:       deps.Runs,
		queues:     deps.Queues,
		mqtt:       deps.MQTT,
		db:         deps.DB,
		version:    deps.Version,
		startTime:  time.Now(),
		tickets:    newTicketStore(),
		hub:        NewHub(deps.WS, deps.Logger),
	}, nil
}

// Handler returns the router without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub, relays bus events to it, and launches the
// HTTP listener in a background goroutine. The listener is bound before
// Start returns so address errors surface here. The server can be stopped
// with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	s.startBackground(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("listening on %s: %w", s.server.Addr, err)
	}

	s.logger.Info("API server starting", "address", ln.Addr().String(), "auth", s.authEnabled())
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// startBackground runs the hub, the event relay and ticket cleanup until
// ctx ends.
func (s *Server) startBackground(ctx context.Context) {
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.hub.Run(ctx)
	}()
	go func() {
		defer s.wg.Done()
		s.cleanTicketsLoop(ctx)
	}()

	if s.bus == nil {
		return
	}
	ch, unsubscribe := s.bus.Subscribe(eventBufferSize)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer unsubscribe()
		s.relayEvents(ctx, ch)
	}()
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	defer s.wg.Wait()

	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
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

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
