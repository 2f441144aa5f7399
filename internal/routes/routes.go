package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/helix-pay/helix_custody/internal/broadcast"
	"github.com/helix-pay/helix_custody/internal/config"
	"github.com/helix-pay/helix_custody/internal/fees"
	"github.com/helix-pay/helix_custody/internal/ledger"
	"github.com/helix-pay/helix_custody/internal/middleware"
	"github.com/helix-pay/helix_custody/internal/notification"
	"github.com/helix-pay/helix_custody/internal/reconcile"
	"github.com/helix-pay/helix_custody/internal/wallet"
	"github.com/helix-pay/helix_custody/internal/withdrawal"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
}

// Setup configures middlewares and all application routes, and returns the
// withdrawal service so the caller can start its queue.
func Setup(app *fiber.App, d Deps) (*withdrawal.Service, error) {
	// Enforce DB/Redis presence outside of dev, even though main also checks.
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return nil, fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return nil, fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}

	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	if d.Cache != nil {
		app.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}

	// Health
	RegisterHealthRoutes(app, d)

	// Services and handlers
	var store ledger.Store
	if d.DB != nil {
		store = ledger.NewPostgresStore(d.DB)
	} else {
		store = ledger.NewInMemory()
	}

	var walletRepo wallet.Repository
	if d.DB != nil {
		walletRepo = wallet.NewPostgresRepository(d.DB)
	} else {
		walletRepo = wallet.NewMemoryRepository()
	}
	walletSvc := wallet.NewService(walletRepo, store)

	notifier := notification.NewLoggerNotifier(d.Logger)
	reconciler := reconcile.New(store, d.Logger)
	oracle := fees.NewHTTPOracle(d.Cfg.FeeEndpoints)

	explorer := broadcast.NewBlockCypher(d.Cfg.BlockCypherToken, d.Cfg.Network)
	builder := broadcast.NewPipeline(broadcast.NewHTTPSigner(d.Cfg.SignerURL), explorer)

	withdrawalSvc := withdrawal.NewService(store, walletSvc, oracle, builder, explorer,
		notifier, reconciler, d.Logger, withdrawal.Config{
			MaxAttempts:               d.Cfg.WithdrawalMaxAttempts,
			ConsolidationPollInterval: d.Cfg.ConsolidationPollInterval,
			ConsolidationPollLimit:    d.Cfg.ConsolidationPollLimit,
			MaxConsolidationFeeRate:   d.Cfg.MaxConsolidationFeeRate,
		})

	walletHandler := wallet.NewHandler(walletSvc)
	withdrawalHandler := withdrawal.NewHandler(withdrawalSvc)

	// API routes
	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	protected := api.Group("", middleware.APIKey(d.Cfg.APITokenHash))
	RegisterWalletRoutes(protected, walletHandler)
	RegisterWithdrawalRoutes(protected, withdrawalHandler)

	return withdrawalSvc, nil
}
