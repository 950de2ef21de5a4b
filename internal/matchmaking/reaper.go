package matchmaking

import (
	"context"
	"time"

	"github.com/sijeecodes/SaveTheShip/internal/store"
	"github.com/sirupsen/logrus"
)

// Reaper periodically deletes lobbies whose expiry has passed.
type Reaper struct {
	store    store.LobbyStore
	interval time.Duration
	log      *logrus.Logger
	now      func() time.Time
}

// NewReaper returns a Reaper that sweeps s every interval (one minute if zero).
func NewReaper(s store.LobbyStore, interval time.Duration, log *logrus.Logger) *Reaper {
	if interval <= 0 {
		interval = time.Minute
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Reaper{store: s, interval: interval, log: log, now: time.Now}
}

// Run sweeps until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep runs a single purge and returns how many lobbies were removed.
func (r *Reaper) Sweep(ctx context.Context) int {
	n, err := r.store.PurgeExpired(ctx, r.now())
	if err != nil {
		r.log.WithError(err).Warn("failed to purge expired lobbies")
		return n
	}
	if n > 0 {
		r.log.WithField("count", n).Info("purged expired lobbies")
	}
	return n
}
