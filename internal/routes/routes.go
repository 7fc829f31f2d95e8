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

	"github.com/pezkuwi/pezkuwi_wallet/internal/auth"
	"github.com/pezkuwi/pezkuwi_wallet/internal/chain"
	"github.com/pezkuwi/pezkuwi_wallet/internal/config"
	"github.com/pezkuwi/pezkuwi_wallet/internal/identity"
	"github.com/pezkuwi/pezkuwi_wallet/internal/keys"
	"github.com/pezkuwi/pezkuwi_wallet/internal/kyc"
	"github.com/pezkuwi/pezkuwi_wallet/internal/ledger"
	"github.com/pezkuwi/pezkuwi_wallet/internal/metrics"
	"github.com/pezkuwi/pezkuwi_wallet/internal/middleware"
	"github.com/pezkuwi/pezkuwi_wallet/internal/notification"
	"github.com/pezkuwi/pezkuwi_wallet/internal/payments"
	"github.com/pezkuwi/pezkuwi_wallet/internal/securestore"
	"github.com/pezkuwi/pezkuwi_wallet/internal/wallet"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg     config.Config
	DB      *pgxpool.Pool
	Cache   *redis.Client
	Store   securestore.Storage
	Chain   chain.Client
	// Ledger overrides the transaction journal, which is otherwise Postgres
	// when DB is set and in-memory without it.
	Ledger  ledger.Ledger
	Metrics *metrics.Metrics
	Logger  *slog.Logger
	// AccessLog enables the plain-text fiber access log.
	AccessLog bool
}

// Services are the long-lived domain services built by Setup. The caller owns
// their background work: tracker resumption, the KYC watcher and Close.
type Services struct {
	Keys     *keys.Manager
	Wallet   *wallet.Service
	KYC      *kyc.Service
	Identity *identity.Service
	Auth     *auth.Service
	Payments *payments.Service
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) (*Services, error) {
	// Outside dev, Postgres and Redis are mandatory.
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return nil, fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return nil, fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}
	if d.Store == nil || d.Chain == nil {
		return nil, fmt.Errorf("secret store and chain client are required")
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Metrics == nil {
		d.Metrics = metrics.New()
	}

	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	if d.AccessLog {
		// Plain text access log in desired format: [HH:MM:SS] 200 -  145ms METHOD /path
		app.Use(logger.New(logger.Config{
			Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
			TimeFormat: "15:04:05",
			TimeZone:   "Local",
		}))
	}
	app.Use(middleware.Audit(d.Logger))
	if d.Cache != nil {
		app.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger, "/api/v1/auth/"))
	}

	// Health and metrics
	RegisterHealthRoutes(app, d)

	// Services and handlers
	svcs := buildServices(d)

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": middleware.RequestIDFrom(c),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	// Public routes
	authHandler := auth.NewHandler(svcs.Identity, svcs.Auth)
	RegisterAuthRoutes(api, authHandler, middleware.LoginRateLimit(d.Cache, d.Cfg.LoginRateLimit))

	// Protected routes
	protected := api.Group("", middleware.SessionAuth(svcs.Auth))
	RegisterProfileRoutes(protected, authHandler)
	RegisterWalletRoutes(protected, wallet.NewHandler(svcs.Wallet))
	RegisterKYCRoutes(protected, kyc.NewHandler(svcs.KYC))
	RegisterPaymentRoutes(protected, payments.NewHandler(svcs.Payments))

	return svcs, nil
}

func buildServices(d Deps) *Services {
	journal := d.Ledger
	switch {
	case journal != nil:
	case d.DB != nil:
		journal = ledger.NewPostgresLedger(d.DB)
	default:
		journal = ledger.NewInMemory()
	}

	var identityRepo identity.Repository
	if d.DB != nil {
		identityRepo = identity.NewPostgresRepository(d.DB)
	} else {
		identityRepo = identity.NewMemoryRepository()
	}

	var sessions auth.SessionStore
	if d.Cache != nil {
		sessions = auth.NewRedisSessionStore(d.Cache)
	} else {
		sessions = auth.NewMemorySessionStore()
	}

	notifier := notification.NewLoggerNotifier(d.Logger)
	km := keys.NewManager(d.Store, d.Cfg.SS58Prefix, d.Logger)
	walletSvc := wallet.NewService(km, d.Chain, journal, notifier, d.Metrics, d.Logger, wallet.Config{
		SS58Prefix:        d.Cfg.SS58Prefix,
		GovernanceAssetID: d.Cfg.GovernanceAssetID,
		Decimals:          d.Cfg.TokenDecimals,
		PollInterval:      d.Cfg.TxPollInterval,
		SubmitTimeout:     d.Cfg.ChainTimeout,
	})
	identitySvc := identity.NewService(identityRepo)

	return &Services{
		Keys:     km,
		Wallet:   walletSvc,
		KYC:      kyc.NewService(d.Store, km, d.Chain, notifier, d.Metrics, d.Logger),
		Identity: identitySvc,
		Auth: auth.NewService(identitySvc, walletSvc, sessions, auth.Config{
			Secret: []byte(d.Cfg.SessionSecret),
			TTL:    d.Cfg.SessionTTL,
		}, d.Logger),
		Payments: payments.NewService(walletSvc, payments.Config{
			SS58Prefix: d.Cfg.SS58Prefix,
			Decimals:   d.Cfg.TokenDecimals,
		}, d.Logger),
	}
}
