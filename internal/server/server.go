package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/pezkuwi/pezkuwi_wallet/internal/apperr"
	"github.com/pezkuwi/pezkuwi_wallet/internal/config"
	"github.com/pezkuwi/pezkuwi_wallet/internal/keys"
	"github.com/pezkuwi/pezkuwi_wallet/internal/kyc"
	"github.com/pezkuwi/pezkuwi_wallet/internal/routes"
)

// Server wraps the Fiber application, the domain services and their
// background workers.
type Server struct {
	app    *fiber.App
	cfg    config.Config
	svcs   *routes.Services
	logger *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New instantiates the HTTP server and delegates route wiring to routes.Setup.
func New(deps routes.Deps) (*Server, error) {
	app := fiber.New(fiber.Config{
		AppName:      deps.Cfg.AppName,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	})
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	svcs, err := routes.Setup(app, deps)
	if err != nil {
		return nil, err
	}

	return &Server{app: app, cfg: deps.Cfg, svcs: svcs, logger: deps.Logger}, nil
}

// App exposes the underlying Fiber app, mainly for tests.
func (s *Server) App() *fiber.App { return s.app }

// Services returns the wired domain services.
func (s *Server) Services() *routes.Services { return s.svcs }

// Start restores the stored wallet, resumes tracking of pending transfers
// and launches the KYC watcher. It returns once the background work is
// running.
func (s *Server) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.restoreWallet(ctx)
	if n, err := s.svcs.Wallet.ResumeTracking(ctx); err != nil {
		s.logger.Warn("resume transfer tracking", "error", err)
	} else if n > 0 {
		s.logger.Info("resumed transfer tracking", "pending", n)
	}

	watcher := kyc.NewWatcher(s.svcs.KYC, s.cfg.KYCPollInterval, s.logger)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("kyc watcher stopped", "error", err)
		}
	}()
}

func (s *Server) restoreWallet(ctx context.Context) {
	address, err := s.svcs.Wallet.LoadWallet(ctx)
	switch {
	case err == nil:
		s.logger.Info("wallet restored", "address", address)
	case errors.Is(err, keys.ErrNoWalletFound):
		s.logger.Info("no wallet on this device yet")
	case errors.Is(err, keys.ErrCorruptedSecret):
		s.logger.Error("stored wallet secret failed its integrity check", "kind", apperr.KindOf(err), "error", err)
	default:
		s.logger.Warn("restore wallet", "error", err)
	}
}

// Listen starts the HTTP server.
func (s *Server) Listen() error {
	return s.app.Listen(s.cfg.Address())
}

// Shutdown gracefully stops the HTTP server, then the background workers.
func (s *Server) Shutdown(ctx context.Context) error {
	httpErr := s.app.ShutdownWithContext(ctx)
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	return errors.Join(httpErr, s.svcs.Wallet.Close(ctx))
}
