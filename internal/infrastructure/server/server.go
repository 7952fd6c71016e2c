package server

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apihttp "github.com/pawnfiddle/backend/internal/api/http"
	"github.com/pawnfiddle/backend/internal/api/middleware"
	"github.com/pawnfiddle/backend/internal/api/ws"
	"github.com/pawnfiddle/backend/internal/domain/sandbox"
	"github.com/pawnfiddle/backend/internal/domain/session"
	"github.com/pawnfiddle/backend/internal/domain/verify"
	"github.com/pawnfiddle/backend/internal/infrastructure/config"
	"github.com/pawnfiddle/backend/internal/infrastructure/logging"
	"github.com/pawnfiddle/backend/internal/infrastructure/monitoring"
	"github.com/pawnfiddle/backend/internal/infrastructure/tracing"
	"github.com/pawnfiddle/backend/internal/storage"
)

// Server wires the whole backend together: storage, sandbox runtime,
// verification gate, session registry, and the HTTP/websocket surface.
type Server struct {
	router   *gin.Engine
	config   *config.Config
	logger   *logging.Logger
	metrics  *monitoring.Metrics
	store    storage.Store
	runtime  sandbox.Runtime
	registry *session.Registry
}

// New builds a server from configuration.
func New(cfg *config.Config) (*Server, error) {
	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		OutputPaths: []string{"stdout"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	logger.Info("initializing backend",
		zap.String("port", cfg.Server.Port),
		zap.String("storage", cfg.Storage.Backend),
		zap.String("sandbox", cfg.Sandbox.Runtime),
	)

	metrics := monitoring.NewMetrics()
	tracer := tracing.New("backend", logger.Logger)

	store, err := newStore(cfg)
	if err != nil {
		return nil, err
	}

	runtime, err := newRuntime(cfg, logger)
	if err != nil {
		return nil, err
	}

	gate := verify.NewGate(verify.Config{
		Secret:    cfg.Verify.Secret,
		SiteKey:   cfg.Verify.SiteKey,
		VerifyURL: cfg.Verify.VerifyURL,
		WaitLimit: cfg.Verify.WaitLimit,
	}, logger.Named("verify"), metrics)
	if cfg.Verify.Secret == "" {
		logger.Warn("verification secret unset, tokens accepted without provider check")
	}

	hub := ws.NewHub(logger.Logger.Named("ws"), metrics)
	registry := session.NewRegistry(session.Deps{
		Store:        store,
		Runtime:      runtime,
		Gate:         gate,
		Notifier:     hub,
		Logger:       logger.Logger.Named("session"),
		Metrics:      metrics,
		RunTimeout:   cfg.Sandbox.RunTimeout,
		ShareBaseURL: cfg.Share.BaseURL,
	})

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(tracer))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(cfg.Server.CORSOrigins))
	if cfg.RateLimit.Enabled {
		logger.Info("rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst))
	}

	handlers := apihttp.NewHandlers(store, logger.Logger.Named("http"))
	wsHandler := ws.NewHandler(hub, registry, gate, logger.Logger.Named("ws"), metrics)

	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)
	router.GET("/download/:id", handlers.Download)
	router.GET("/ws", wsHandler.HandleConnection)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	logger.Info("server initialized")

	return &Server{
		router:   router,
		config:   cfg,
		logger:   logger,
		metrics:  metrics,
		store:    store,
		runtime:  runtime,
		registry: registry,
	}, nil
}

func newStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Backend {
	case "fs":
		return storage.NewFS(cfg.Storage.Root)
	case "redis":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return storage.NewRedis(ctx, cfg.Storage.RedisURL)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

func newRuntime(cfg *config.Config, logger *logging.Logger) (sandbox.Runtime, error) {
	switch cfg.Sandbox.Runtime {
	case "containerd":
		return sandbox.NewContainerd(sandbox.ContainerdConfig{
			Address:        cfg.Sandbox.Address,
			Namespace:      cfg.Sandbox.Namespace,
			Image:          cfg.Sandbox.Image,
			Interpreter:    cfg.Sandbox.Interpreter,
			StartupTimeout: cfg.Sandbox.StartupTimeout,
		}, logger.Named("sandbox"))
	case "process":
		return sandbox.NewProcess(sandbox.ProcessConfig{
			Interpreter:    cfg.Sandbox.Interpreter,
			StartupTimeout: cfg.Sandbox.StartupTimeout,
		}, logger.Named("sandbox")), nil
	default:
		return nil, fmt.Errorf("unknown sandbox runtime %q", cfg.Sandbox.Runtime)
	}
}

// Run starts the HTTP server and blocks.
func (s *Server) Run() error {
	addr := s.config.Server.Host + ":" + s.config.Server.Port
	s.logger.Info("starting HTTP server", zap.String("addr", addr))
	return s.router.Run(addr)
}

// Close releases server resources: the session registry, the sandbox
// runtime connection, and the store if it holds one.
func (s *Server) Close() error {
	s.logger.Info("shutting down")

	s.registry.Close()

	if err := s.runtime.Close(); err != nil {
		s.logger.Error("failed to close sandbox runtime", zap.Error(err))
	}
	if closer, ok := s.store.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			s.logger.Error("failed to close store", zap.Error(err))
		}
	}

	_ = s.logger.Sync()
	return nil
}
