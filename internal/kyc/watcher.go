package kyc

import (
	"context"
	"log/slog"
	"time"
)

// Watcher polls for approval in the background while a commitment is pending.
type Watcher struct {
	service  *Service
	interval time.Duration
	logger   *slog.Logger
}

// NewWatcher builds a watcher polling every interval.
func NewWatcher(service *Service, interval time.Duration, logger *slog.Logger) *Watcher {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{service: service, interval: interval, logger: logger.With("component", "kyc_watcher")}
}

// Run blocks until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *Watcher) tick(ctx context.Context) {
	st, err := w.service.Current(ctx)
	if err != nil {
		w.logger.Warn("kyc status unreadable", "error", err)
		return
	}
	if st.State != Submitted {
		return
	}
	res, err := w.service.PollApproval(ctx)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Warn("kyc approval poll failed", "error", err)
		}
		return
	}
	if res.Approved {
		w.logger.Info("kyc approval observed", "citizen_id", res.Credential.CitizenID)
	}
}
