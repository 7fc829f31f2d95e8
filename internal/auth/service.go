// Package auth issues device sessions for identity accounts and ties each
// account to the device wallet.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/pezkuwi/pezkuwi_wallet/internal/apperr"
	"github.com/pezkuwi/pezkuwi_wallet/internal/identity"
	"github.com/pezkuwi/pezkuwi_wallet/internal/keys"
)

var (
	ErrNoSession      = apperr.Unauthenticated("no_session", "not logged in")
	ErrSessionExpired = apperr.Unauthenticated("session_expired", "session expired")
	ErrInvalidToken   = apperr.Unauthenticated("invalid_token", "invalid session token")
)

const defaultSessionTTL = 720 * time.Hour

// Wallets is the part of the wallet service sessions depend on.
type Wallets interface {
	CreateOrImportWallet(ctx context.Context, mnemonic string) (string, error)
	LoadWallet(ctx context.Context) (string, error)
}

// Config controls token signing and session lifetime.
type Config struct {
	Secret []byte
	TTL    time.Duration
}

// Service runs registration, login and session checks.
type Service struct {
	ids     *identity.Service
	wallets Wallets
	store   SessionStore
	secret  []byte
	ttl     time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

func NewService(ids *identity.Service, wallets Wallets, store SessionStore, cfg Config, logger *slog.Logger) *Service {
	if cfg.TTL <= 0 {
		cfg.TTL = defaultSessionTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		ids:     ids,
		wallets: wallets,
		store:   store,
		secret:  cfg.Secret,
		ttl:     cfg.TTL,
		logger:  logger.With("component", "auth"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Register creates the account, then a fresh device wallet for it. A wallet
// failure, including a wallet already on the device, is reported on the
// session and does not undo the registration.
func (s *Service) Register(ctx context.Context, creds identity.Credentials) (Session, error) {
	user, err := s.ids.Register(ctx, creds)
	if err != nil {
		return Session{}, err
	}

	var walletErr error
	address, err := s.wallets.CreateOrImportWallet(ctx, "")
	if err == nil {
		err = s.ids.BindWallet(ctx, user.ID, address)
	}
	switch {
	case errors.Is(err, keys.ErrWalletExists):
		s.logger.Info("device already holds another account's wallet", "user_id", user.ID)
		walletErr, address = err, ""
	case err != nil:
		s.logger.Warn("wallet provisioning failed", "user_id", user.ID, "error", err)
		walletErr, address = err, ""
	}

	return s.issue(ctx, user, address, walletErr)
}

// Login verifies the password and loads the existing device wallet. It never
// creates one.
func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	user, err := s.ids.Authenticate(ctx, email, password)
	if err != nil {
		return Session{}, err
	}

	address, walletErr := s.wallets.LoadWallet(ctx)
	switch {
	case walletErr != nil:
		s.logger.Warn("wallet load failed", "user_id", user.ID, "error", walletErr)
		address = ""
	case user.WalletAddress == "":
		if err := s.ids.BindWallet(ctx, user.ID, address); err != nil {
			return Session{}, err
		}
	case user.WalletAddress != address:
		walletErr = errors.New("device wallet does not match the account's wallet")
		s.logger.Warn("wallet mismatch", "user_id", user.ID, "bound", user.WalletAddress, "device", address)
	}

	return s.issue(ctx, user, address, walletErr)
}

// CurrentSession returns the device session. An expired session is deleted
// and reported as ErrNoSession.
func (s *Service) CurrentSession(ctx context.Context) (Session, error) {
	sess, err := s.store.Current(ctx)
	if err != nil {
		return Session{}, err
	}
	if sess.Expired(s.now()) {
		s.purge(ctx, sess.ID)
		return Session{}, ErrNoSession
	}
	return sess, nil
}

// Authorize validates a bearer token and returns its live session.
func (s *Service) Authorize(ctx context.Context, token string) (Session, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if errors.Is(err, jwt.ErrTokenExpired) {
		if claims.ID != "" {
			s.purge(ctx, claims.ID)
		}
		return Session{}, ErrSessionExpired
	}
	if err != nil {
		return Session{}, apperr.Wrap(ErrInvalidToken, err)
	}

	sess, err := s.store.Get(ctx, claims.ID)
	if errors.Is(err, ErrNoSession) {
		return Session{}, ErrInvalidToken
	}
	if err != nil {
		return Session{}, err
	}
	if sess.UserID != claims.Subject || sess.Token != token {
		return Session{}, ErrInvalidToken
	}
	if sess.Expired(s.now()) {
		s.purge(ctx, sess.ID)
		return Session{}, ErrSessionExpired
	}
	return sess, nil
}

// Logout ends the current session.
func (s *Service) Logout(ctx context.Context) error {
	sess, err := s.store.Current(ctx)
	if errors.Is(err, ErrNoSession) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.store.Delete(ctx, sess.ID)
}

// ResetPassword accepts a reset request. There is no mail delivery, so it
// only validates the address and always reports success for it.
func (s *Service) ResetPassword(ctx context.Context, email string) error {
	if _, err := identity.ParseEmail(email); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "password reset requested")
	return nil
}

func (s *Service) issue(ctx context.Context, user identity.User, address string, walletErr error) (Session, error) {
	now := s.now()
	sess := Session{
		ID:            uuid.NewString(),
		UserID:        user.ID,
		Email:         user.Email,
		Name:          user.Name,
		WalletAddress: address,
		IssuedAt:      now,
		ExpiresAt:     now.Add(s.ttl),
	}
	if walletErr != nil {
		sess.WalletError = walletErr.Error()
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   sess.UserID,
		ID:        sess.ID,
		IssuedAt:  jwt.NewNumericDate(sess.IssuedAt),
		ExpiresAt: jwt.NewNumericDate(sess.ExpiresAt),
	}).SignedString(s.secret)
	if err != nil {
		return Session{}, err
	}
	sess.Token = token

	if err := s.store.Save(ctx, sess, s.ttl); err != nil {
		return Session{}, err
	}
	s.logger.Info("session issued", "user_id", user.ID, "session_id", sess.ID, "wallet", address != "")
	return sess, nil
}

func (s *Service) purge(ctx context.Context, id string) {
	if err := s.store.Delete(ctx, id); err != nil {
		s.logger.Warn("expired session purge failed", "session_id", id, "error", err)
		return
	}
	s.logger.Info("expired session purged", "session_id", id)
}
