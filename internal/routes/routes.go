package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/vela-pay/vela_pay/internal/card"
	"github.com/vela-pay/vela_pay/internal/config"
	"github.com/vela-pay/vela_pay/internal/ledger"
	"github.com/vela-pay/vela_pay/internal/logging"
	"github.com/vela-pay/vela_pay/internal/middleware"
	"github.com/vela-pay/vela_pay/internal/notification"
	"github.com/vela-pay/vela_pay/internal/observability"
	"github.com/vela-pay/vela_pay/internal/provider"
	"github.com/vela-pay/vela_pay/internal/reconciler"
	"github.com/vela-pay/vela_pay/internal/wallet"
	"github.com/vela-pay/vela_pay/internal/webhook"
)

// Deps aggregates shared dependencies required to wire routes. Issuers may be
// injected with real provider connectors; when empty, static issuers are
// built from the configured provider names.
type Deps struct {
	Cfg     config.Config
	DB      *pgxpool.Pool
	Cache   *redis.Client
	Logger  *slog.Logger
	Metrics *observability.Metrics
	Issuers []provider.Issuer
}

// Runtime carries the background workers the caller starts after the routes
// are wired.
type Runtime struct {
	Reconciler  *reconciler.Reconciler
	Performance provider.PerformanceStore
}

// Setup configures middlewares and all application routes, and returns the
// background runtime.
func Setup(app *fiber.App, d Deps) (Runtime, error) {
	if !isDev(d.Cfg.AppEnv) {
		if d.DB == nil {
			return Runtime{}, fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return Runtime{}, fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(d.Logger))
	if d.Cache != nil {
		app.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}

	RegisterHealthRoutes(app, d)
	RegisterMetricsRoute(app, d.Metrics)

	var ledgerBackend ledger.Ledger
	if d.DB != nil {
		ledgerBackend = ledger.NewPostgresLedger(d.DB)
	} else {
		ledgerBackend = ledger.NewInMemory()
	}

	issuers := d.Issuers
	if len(issuers) == 0 {
		for _, name := range d.Cfg.Providers {
			issuers = append(issuers, provider.NewStaticIssuer(name))
		}
	}
	perf := provider.NewMemoryPerformanceStore(provider.DefaultEMAAlpha, provider.DefaultFailureThreshold)
	router := provider.NewRouter(issuers, perf, d.Logger, provider.RouterOptions{Metrics: d.Metrics})
	directory := provider.StaticDirectory{Defaults: d.Cfg.Providers}

	var walletRepo wallet.Repository
	var cardRepo card.Repository
	if d.DB != nil {
		walletRepo = wallet.NewPostgresRepository(d.DB)
		cardRepo = card.NewPostgresRepository(d.DB)
	} else {
		walletRepo = wallet.NewMemoryRepository()
		cardRepo = card.NewMemoryRepository()
	}

	notifier := notification.NewLoggerNotifier(d.Logger)
	waiter := webhook.NewWaiter()

	walletSvc := wallet.NewService(walletRepo, ledgerBackend, router, directory, notifier, d.Logger)
	cardSvc := card.NewService(cardRepo, walletSvc, ledgerBackend, router, directory, waiter, notifier, d.Logger, card.ServiceOptions{
		FundRate:     d.Cfg.FundRate,
		AwaitTimeout: d.Cfg.CardAwaitTimeout,
	})

	verifiers := make(map[string]webhook.Verifier, len(d.Cfg.WebhookSecrets))
	sources := make(map[string]webhook.SourceConfig, len(d.Cfg.WebhookSecrets))
	for source, secret := range d.Cfg.WebhookSecrets {
		verifiers[source] = webhook.NewVerifier(secret)
		sources[source] = webhook.SourceConfig{
			Secret:       secret,
			AckOnFailure: contains(d.Cfg.AckSources, source),
		}
	}

	var limiter webhook.RateLimiter
	var dedup webhook.DedupStore
	if d.Cache != nil {
		limiter = webhook.NewRedisRateLimiter(d.Cache, d.Cfg.WebhookRateLimit, d.Cfg.WebhookRateWindow)
		dedup = webhook.NewRedisDedup(d.Cache, webhook.DefaultDedupTTL)
	} else {
		limiter = webhook.NewMemoryRateLimiter(d.Cfg.WebhookRateLimit, d.Cfg.WebhookRateWindow)
	}

	webhookLogger := logging.Component(d.Logger, "webhook")
	gateway := webhook.NewGateway(verifiers, limiter, dedup, webhookLogger, d.Metrics)
	eventRouter := webhook.NewRouter(cardSvc, ledgerBackend, waiter, notifier, webhookLogger, d.Metrics)
	webhookHandler := webhook.NewHandler(gateway, eventRouter, sources)

	walletHandler := wallet.NewHandler(walletSvc)
	cardHandler := card.NewHandler(cardSvc)

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	RegisterWalletRoutes(api, walletHandler)
	RegisterCardRoutes(api, cardHandler)
	RegisterWebhookRoutes(app, webhookHandler)

	rec := reconciler.New(ledgerBackend, router, logging.Component(d.Logger, "reconciler"), reconciler.Options{
		Interval:  d.Cfg.ReconcileInterval,
		Providers: d.Cfg.PollProviders,
		Notifier:  notifier,
		Metrics:   d.Metrics,
	})

	return Runtime{Reconciler: rec, Performance: perf}, nil
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}

func isDev(env string) bool {
	switch strings.ToLower(env) {
	case "dev", "development", "local":
		return true
	default:
		return false
	}
}
