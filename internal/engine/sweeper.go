package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/mattjoyce/herald/internal/events"
	"github.com/mattjoyce/herald/internal/log"
	"github.com/mattjoyce/herald/internal/queue"
)

// sweeper evicts terminal items past the retention window, bounding queue
// memory growth.
type sweeper struct {
	store     queue.Store
	hub       *events.Hub
	retention time.Duration
	logger    *slog.Logger
}

func newSweeper(store queue.Store, hub *events.Hub, retention time.Duration) *sweeper {
	return &sweeper{
		store:     store,
		hub:       hub,
		retention: retention,
		logger:    log.WithComponent("sweeper"),
	}
}

// tick evicts sent/failed items whose ready time predates now minus the
// retention window. Pending and cancelled items are untouched.
func (s *sweeper) tick(ctx context.Context, now time.Time) {
	cutoff := now.Add(-s.retention)

	evicted, err := s.store.Cleanup(ctx, cutoff)
	if err != nil {
		s.logger.Error("cleanup failed", "error", err.Error())
		return
	}
	if evicted == 0 {
		return
	}

	s.hub.Publish(events.TypeQueueCleanup, map[string]any{
		"evicted": evicted,
		"cutoff":  cutoff.Format(time.RFC3339),
	})
	s.logger.Info("queue cleanup", "evicted", evicted, "cutoff", cutoff.Format(time.RFC3339))
}
