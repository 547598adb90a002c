package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/navigator/internal/api/middleware"
	"github.com/GriffinCanCode/AgentOS/navigator/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/navigator/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/navigator/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/navigator/internal/navigation"
)

// Deps are the collaborators the server is built around.
type Deps struct {
	Config     *config.Config
	Logger     *logging.Logger
	Controller *navigation.Controller
	Metrics    *monitoring.Metrics
	// Gatherer backs /metrics. Defaults to the global registry.
	Gatherer prometheus.Gatherer
	// Inspector is optional.
	Inspector Inspector
	Engine    string
}

// Server wraps the HTTP server and dependencies
type Server struct {
	router  *gin.Engine
	hub     *Hub
	detach  func()
	cancel  context.CancelFunc
	logger  *logging.Logger
	config  *config.Config
	metrics *monitoring.Metrics

	mu         sync.Mutex
	httpServer *http.Server
}

// New creates a new server instance
func New(deps Deps) (*Server, error) {
	if deps.Controller == nil {
		return nil, errors.New("server: controller is required")
	}
	cfg := deps.Config
	if cfg == nil {
		cfg = config.Default()
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.AccessLog(logger.Component("http")))
	if deps.Metrics != nil {
		router.Use(monitoring.Middleware(deps.Metrics))
	}
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		rl := middleware.DefaultRateLimitConfig()
		rl.RequestsPerSecond = cfg.RateLimit.RequestsPerSecond
		rl.Burst = cfg.RateLimit.Burst
		router.Use(middleware.RateLimit(rl))
	}

	base, cancel := context.WithCancel(context.Background())
	handlers := NewHandlers(base, deps.Controller, deps.Inspector, deps.Engine, logger.Logger)
	hub := NewHub(logger.Logger, deps.Metrics)
	detach := hub.Attach(deps.Controller)

	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)
	router.GET("/status", handlers.Status)

	// Navigation
	router.POST("/navigate", handlers.Navigate)
	router.POST("/back", handlers.Back)
	router.POST("/forward", handlers.Forward)
	router.POST("/refresh", handlers.Refresh)
	router.POST("/stop", handlers.Stop)

	// Event stream
	router.GET("/events", hub.HandleConnection)

	// Metrics
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	if deps.Metrics != nil {
		router.GET("/metrics/json", func(c *gin.Context) {
			c.JSON(http.StatusOK, deps.Metrics.Snapshot())
		})
	}

	levels := gin.WrapH(logger.LevelHandler())
	router.GET("/log/level", levels)
	router.PUT("/log/level", levels)

	logger.Info("Server initialized", zap.String("engine", deps.Engine))

	return &Server{
		router:  router,
		hub:     hub,
		detach:  detach,
		cancel:  cancel,
		logger:  logger,
		config:  cfg,
		metrics: deps.Metrics,
	}, nil
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub returns the event hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Run serves on the configured address until Shutdown is called.
func (s *Server) Run() error {
	addr := net.JoinHostPort(s.config.Server.Host, s.config.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown is called.
func (s *Server) Serve(ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()

	s.logger.Info("Starting HTTP server", zap.String("addr", ln.Addr().String()))
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, drops event clients and cancels async
// navigations.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")
	s.detach()
	s.cancel()
	s.hub.Close()

	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}
	s.logger.Sync()
	return err
}
