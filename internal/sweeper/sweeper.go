package sweeper

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/TanvirMahmudTushar/IOTrix-Nerd-Herd/internal/ledger"
	"github.com/TanvirMahmudTushar/IOTrix-Nerd-Herd/internal/models"
	"github.com/TanvirMahmudTushar/IOTrix-Nerd-Herd/internal/observability"
)

// Sweeper expires stale pending rides on a fixed cadence. It owns its
// own clock and store handle so tests can drive it deterministically.
// Each expiry goes through the same AtomicTransition as claims, so a
// simultaneous claim and sweep on one ride cannot both succeed.
type Sweeper struct {
	Store    ledger.Store
	Interval time.Duration
	Window   time.Duration
	Logger   *slog.Logger
	Now      func() time.Time
}

func New(store ledger.Store, interval, window time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		Store:    store,
		Interval: interval,
		Window:   window,
		Logger:   logger,
		Now:      time.Now,
	}
}

// Run ticks until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	t := time.NewTicker(s.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Tick()
		}
	}
}

// Tick performs one sweep pass. Individual failures are logged and
// skipped so one malformed ride cannot stall the scan. Re-running on an
// already-expired ride is a no-op.
func (s *Sweeper) Tick() int {
	pending, err := s.Store.RidesByStatus(models.RidePending)
	if err != nil {
		s.Logger.Error("sweep scan failed", "error", err)
		return 0
	}
	now := s.Now()
	expired := 0
	for _, r := range pending {
		if now.Sub(r.RequestedAt) <= s.Window {
			continue
		}
		err := s.Store.AtomicTransition(r.ID, models.RidePending, models.RideExpired, nil)
		var se *ledger.StatusError
		switch {
		case errors.As(err, &se):
			// lost the race to a claim (or an earlier sweep); nothing to do
		case errors.Is(err, ledger.ErrNotFound):
		case err != nil:
			s.Logger.Error("sweep expire failed", "ride_id", r.ID, "error", err)
		default:
			expired++
			observability.RidesExpired.Inc()
			s.Logger.Info("ride expired", "ride_id", r.ID, "age", now.Sub(r.RequestedAt))
		}
	}
	return expired
}
