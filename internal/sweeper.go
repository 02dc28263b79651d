package internal

import (
	"context"
	"time"

	"go.uber.org/zap"

	"roomrelay/internal/history"
)

// Sweeper prunes expired history entries on a fixed period. It is purely
// time-triggered and stops deterministically when its context is cancelled
// during shutdown.
type Sweeper struct {
	logger   *zap.Logger
	history  *history.Log
	rooms    *Directory
	interval time.Duration
	window   time.Duration
}

func NewSweeper(logger *zap.Logger, hist *history.Log, rooms *Directory, interval, window time.Duration) *Sweeper {
	return &Sweeper{
		logger:   logger.Named("sweeper"),
		history:  hist,
		rooms:    rooms,
		interval: interval,
		window:   window,
	}
}

// Run executes a sweep every interval until ctx is cancelled.
func (sw *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			sw.sweep(now)
		}
	}
}

// sweep prunes entries older than the retention window, then garbage-collects
// log entries of rooms that ended up empty and have no subscribers left. The
// prune itself keeps empty entries; dropping them only once no connection is
// subscribed keeps an actively watched room's (empty) history slot alive.
func (sw *Sweeper) sweep(now time.Time) {
	removed := sw.history.PruneAt(now, sw.window)

	active := make(map[string]struct{})
	for _, roomID := range sw.rooms.RoomIDs() {
		active[roomID] = struct{}{}
	}
	dropped := sw.history.DropEmptyExcept(active)

	if removed > 0 || dropped > 0 {
		sw.logger.Info("sweep complete",
			zap.Int("expiredMessages", removed),
			zap.Int("collectedRooms", dropped))
	}
}
