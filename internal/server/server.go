package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/vela-pay/vela_pay/internal/config"
	"github.com/vela-pay/vela_pay/internal/observability"
	"github.com/vela-pay/vela_pay/internal/provider"
	"github.com/vela-pay/vela_pay/internal/routes"
)

// Server wraps the Fiber application, shared dependencies and the background
// workers.
type Server struct {
	app     *fiber.App
	cfg     config.Config
	logger  *slog.Logger
	runtime routes.Runtime
}

// New instantiates the HTTP server and delegates route wiring to routes.Setup.
func New(cfg config.Config, db *pgxpool.Pool, cache *redis.Client, logger *slog.Logger, metrics *observability.Metrics) (*Server, error) {
	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	})

	runtime, err := routes.Setup(app, routes.Deps{
		Cfg:     cfg,
		DB:      db,
		Cache:   cache,
		Logger:  logger,
		Metrics: metrics,
	})
	if err != nil {
		return nil, err
	}

	return &Server{app: app, cfg: cfg, logger: logger, runtime: runtime}, nil
}

// StartBackground launches the polling reconciler and the provider health
// loop. Both stop when ctx is cancelled.
func (s *Server) StartBackground(ctx context.Context) {
	go s.runtime.Reconciler.Run(ctx)
	go provider.RunHealthLoop(ctx, s.runtime.Performance, provider.DefaultHealthInterval, s.logger)
}

// Listen starts the HTTP server.
func (s *Server) Listen() error {
	return s.app.Listen(s.cfg.Address())
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}
