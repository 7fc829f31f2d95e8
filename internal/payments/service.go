// Package payments builds and settles merchant payment requests shared as QR
// codes between two wallets.
package payments

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pezkuwi/pezkuwi_wallet/internal/amount"
	"github.com/pezkuwi/pezkuwi_wallet/internal/apperr"
	"github.com/pezkuwi/pezkuwi_wallet/internal/keys"
	"github.com/pezkuwi/pezkuwi_wallet/internal/ledger"
	"github.com/pezkuwi/pezkuwi_wallet/internal/qrimage"
	"github.com/pezkuwi/pezkuwi_wallet/internal/wallet"
)

var (
	// ErrInvalidRequest covers undecodable or malformed payment requests.
	ErrInvalidRequest = apperr.Validation("invalid_payment_request", "invalid payment request")
	// ErrRequestExpired rejects requests older than the configured max age.
	ErrRequestExpired = apperr.Validation("payment_request_expired", "payment request expired")
	// ErrSelfPayment rejects paying a request issued by the active wallet.
	ErrSelfPayment = apperr.Validation("self_payment", "cannot pay your own payment request")
)

const maxNoteLength = 140

// Request is the JSON document carried by a payment QR code. Amount is a
// display string; Timestamp is milliseconds since the Unix epoch.
type Request struct {
	Merchant  string `json:"merchant"`
	Amount    string `json:"amount"`
	Token     string `json:"token"`
	Note      string `json:"note"`
	Timestamp int64  `json:"timestamp"`
}

// Payload encodes the request for a QR code.
func (r Request) Payload() string {
	raw, _ := json.Marshal(r)
	return string(raw)
}

// IssuedAt converts Timestamp to a time.
func (r Request) IssuedAt() time.Time {
	return time.UnixMilli(r.Timestamp).UTC()
}

// Parsed is a validated request with its amount in subunits.
type Parsed struct {
	Request
	Value     amount.Amount `json:"-"`
	TokenKind ledger.Token  `json:"-"`
}

// CreateInput describes a new request. An empty Merchant means the active wallet.
type CreateInput struct {
	Merchant string
	Amount   string
	Token    string
	Note     string
}

// Config carries the network parameters requests are validated against.
type Config struct {
	SS58Prefix uint16
	Decimals   uint8
	// MaxAge rejects older requests when set.
	MaxAge time.Duration
}

// Service creates, decodes and pays payment requests.
type Service struct {
	wallets *wallet.Service
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time
}

// NewService constructs a payment service.
func NewService(wallets *wallet.Service, cfg Config, logger *slog.Logger) *Service {
	if cfg.Decimals == 0 {
		cfg.Decimals = amount.NativeDecimals
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{wallets: wallets, cfg: cfg, logger: logger.With("component", "payments"), now: time.Now}
}

// CreateRequest validates input and stamps it with the current time.
func (s *Service) CreateRequest(in CreateInput) (Request, error) {
	merchant := strings.TrimSpace(in.Merchant)
	if merchant == "" {
		addr, err := s.wallets.Address()
		if err != nil {
			return Request{}, err
		}
		merchant = addr
	}
	req := Request{
		Merchant:  merchant,
		Amount:    strings.TrimSpace(in.Amount),
		Token:     strings.TrimSpace(in.Token),
		Note:      strings.TrimSpace(in.Note),
		Timestamp: s.now().UnixMilli(),
	}
	parsed, err := s.validate(req)
	if err != nil {
		return Request{}, err
	}
	return parsed.Request, nil
}

// ParseRequest decodes a scanned payload and validates every field.
func (s *Service) ParseRequest(payload string) (Parsed, error) {
	var req Request
	dec := json.NewDecoder(strings.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return Parsed{}, apperr.Wrap(ErrInvalidRequest, err)
	}
	parsed, err := s.validate(req)
	if err != nil {
		return Parsed{}, err
	}
	if s.cfg.MaxAge > 0 && s.now().Sub(req.IssuedAt()) > s.cfg.MaxAge {
		return Parsed{}, ErrRequestExpired
	}
	return parsed, nil
}

// Pay settles a scanned request from the active wallet.
func (s *Service) Pay(ctx context.Context, payload string) (ledger.Transaction, error) {
	parsed, err := s.ParseRequest(payload)
	if err != nil {
		return ledger.Transaction{}, err
	}
	if self, err := s.wallets.Address(); err == nil && self == parsed.Merchant {
		return ledger.Transaction{}, ErrSelfPayment
	}
	tx, err := s.wallets.Send(ctx, wallet.SendInput{To: parsed.Merchant, Amount: parsed.Value, Token: parsed.TokenKind})
	if err != nil {
		return tx, err
	}
	s.logger.Info("payment request paid", "merchant", parsed.Merchant, "token", parsed.Token, "amount", parsed.Amount, "tx_id", tx.ID)
	return tx, nil
}

// RequestQR renders a request payload as a PNG.
func (s *Service) RequestQR(payload string, size int) ([]byte, error) {
	if _, err := s.ParseRequest(payload); err != nil {
		return nil, err
	}
	return qrimage.Encode(payload, size)
}

func (s *Service) validate(req Request) (Parsed, error) {
	if err := keys.ValidateAddress(req.Merchant, s.cfg.SS58Prefix); err != nil {
		return Parsed{}, apperr.Wrapf(ErrInvalidRequest, err, "merchant")
	}
	token, ok := ledger.ParseToken(req.Token)
	if !ok {
		return Parsed{}, apperr.Wrapf(ErrInvalidRequest, nil, "token %q", req.Token)
	}
	value, err := amount.ParseToSubunits(req.Amount, s.cfg.Decimals)
	if err != nil {
		return Parsed{}, apperr.Wrapf(ErrInvalidRequest, err, "amount")
	}
	if value.IsZero() {
		return Parsed{}, apperr.Wrapf(ErrInvalidRequest, nil, "amount must be positive")
	}
	if utf8.RuneCountInString(req.Note) > maxNoteLength {
		return Parsed{}, apperr.Wrapf(ErrInvalidRequest, nil, "note longer than %d characters", maxNoteLength)
	}
	if req.Timestamp <= 0 {
		return Parsed{}, apperr.Wrapf(ErrInvalidRequest, nil, "missing timestamp")
	}
	req.Token = token.Symbol()
	return Parsed{Request: req, Value: value, TokenKind: token}, nil
}
