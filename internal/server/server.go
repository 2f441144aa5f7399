package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/helix-pay/helix_custody/internal/config"
	"github.com/helix-pay/helix_custody/internal/routes"
	"github.com/helix-pay/helix_custody/internal/withdrawal"
)

// Server wraps the Fiber application, shared dependencies and the withdrawal
// engine whose queue runs alongside the listener.
type Server struct {
	app         *fiber.App
	cfg         config.Config
	withdrawals *withdrawal.Service
}

// New instantiates the HTTP server and delegates route wiring to routes.Setup.
func New(cfg config.Config, db *pgxpool.Pool, cache *redis.Client, logger *slog.Logger) (*Server, error) {
	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	})

	withdrawals, err := routes.Setup(app, routes.Deps{Cfg: cfg, DB: db, Cache: cache, Logger: logger})
	if err != nil {
		return nil, err
	}

	return &Server{app: app, cfg: cfg, withdrawals: withdrawals}, nil
}

// Withdrawals exposes the withdrawal engine; its queue consumer is started
// from main.
func (s *Server) Withdrawals() *withdrawal.Service {
	return s.withdrawals
}

// Listen starts the HTTP server.
func (s *Server) Listen() error {
	return s.app.Listen(s.cfg.Address())
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}
