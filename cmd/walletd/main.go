package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/term"

	"github.com/pezkuwi/pezkuwi_wallet/internal/chain"
	"github.com/pezkuwi/pezkuwi_wallet/internal/config"
	"github.com/pezkuwi/pezkuwi_wallet/internal/infra"
	"github.com/pezkuwi/pezkuwi_wallet/internal/logging"
	"github.com/pezkuwi/pezkuwi_wallet/internal/metrics"
	"github.com/pezkuwi/pezkuwi_wallet/internal/routes"
	"github.com/pezkuwi/pezkuwi_wallet/internal/securestore"
	"github.com/pezkuwi/pezkuwi_wallet/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel)

	ctx := context.Background()

	var db *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		db, err = infra.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("connect postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := infra.Migrate(ctx, db); err != nil {
			logger.Error("migrate postgres", "error", err)
			os.Exit(1)
		}
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory ledger and accounts")
	}

	var cache *redis.Client
	if cfg.RedisURL != "" {
		cache, err = infra.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error("connect redis", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := cache.Close(); err != nil {
				logger.Warn("close redis", "error", err)
			}
		}()
	} else {
		logger.Warn("REDIS_URL not set, sessions are kept in memory and idempotency is disabled")
	}

	store, err := openStore(cfg, logger)
	if err != nil {
		logger.Error("open secret store", "backend", cfg.StoreBackend, "error", err)
		os.Exit(1)
	}

	srv, err := server.New(routes.Deps{
		Cfg:       cfg,
		DB:        db,
		Cache:     cache,
		Store:     store,
		Chain:     chain.NewRPCClient(cfg.ChainRPCURL, cfg.ChainTimeout),
		Metrics:   metrics.New(),
		Logger:    logger,
		AccessLog: cfg.IsDev(),
	})
	if err != nil {
		logger.Error("build server", "error", err)
		os.Exit(1)
	}
	srv.Start(ctx)

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Listen()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-srvErrCh:
		if err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("server exited cleanly")
}

// openStore selects the SecretStore backend named by STORE_BACKEND.
func openStore(cfg config.Config, logger *slog.Logger) (securestore.Storage, error) {
	switch cfg.StoreBackend {
	case config.StoreMemory:
		logger.Warn("secret store is in memory, keys are lost on exit")
		return securestore.NewMemoryStore(), nil
	case config.StoreKeyring:
		passphrase, err := storePassphrase(cfg)
		if err != nil {
			return nil, err
		}
		logger.Info("opening keyring", "service", cfg.AppName, "passphrase", logging.Redacted(passphrase))
		return securestore.OpenKeyring(securestore.KeyringConfig{
			ServiceName: cfg.AppName,
			FileDir:     filepath.Dir(cfg.StorePath),
			Passphrase:  passphrase,
		})
	default:
		passphrase, err := storePassphrase(cfg)
		if err != nil {
			return nil, err
		}
		logger.Info("opening file store", "path", cfg.StorePath, "passphrase", logging.Redacted(passphrase))
		if err := os.MkdirAll(filepath.Dir(cfg.StorePath), 0o700); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
		pass := []byte(passphrase)
		defer clear(pass)
		return securestore.OpenFileStore(cfg.StorePath, pass, securestore.FileOptions{ScryptN: cfg.StoreScryptN})
	}
}

// storePassphrase returns STORE_PASSPHRASE, prompting on the terminal when it
// is unset and stdin is interactive.
func storePassphrase(cfg config.Config) (string, error) {
	if cfg.StorePassphrase != "" {
		return cfg.StorePassphrase, nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("STORE_PASSPHRASE is required when stdin is not a terminal")
	}
	fmt.Fprint(os.Stderr, "Secret store passphrase: ")
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read passphrase: %w", err)
	}
	if len(raw) == 0 {
		return "", errors.New("empty passphrase")
	}
	return string(raw), nil
}
