package registry

import (
	"context"
	"log/slog"
	"time"

	"github.com/flowshift/mt5bridge/internal/logging"
)

var reaperLog = logging.ForComponent(logging.CompReaper)

// Reaper periodically evicts sessions idle past the configured threshold.
// A single reaper runs per process.
type Reaper struct {
	registry *Registry
	interval time.Duration
	idleMax  time.Duration
}

// NewReaper builds a Reaper bound to registry. interval and idleMax are
// taken from the Registry's Config (ReaperInterval and IdleTimeout).
func NewReaper(registry *Registry) *Reaper {
	return &Reaper{
		registry: registry,
		interval: registry.cfg.ReaperInterval,
		idleMax:  registry.cfg.IdleTimeout,
	}
}

// Run blocks, evicting idle sessions on a ticker until ctx is canceled.
// The first sweep runs immediately, before the ticker's first tick.
func (r *Reaper) Run(ctx context.Context) {
	r.sweep()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

func (r *Reaper) sweep() {
	ids := r.registry.CleanupOldSessions(r.idleMax)
	if len(ids) > 0 {
		reaperLog.Info("reaper_sweep", slog.Int("evicted", len(ids)))
	}
}
