package blocklist

import (
	"context"
	"log/slog"
	"time"

	"github.com/johngiannone/genau-tribunal-dashboard-sub003/internal/metrics"
)

// Sweeper periodically removes expired block records. Lazy deletion only
// reaps records that a request happens to touch; the sweeper catches the
// rest so the blocks table does not accumulate dead rows.
type Sweeper struct {
	store    Store
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
}

// NewSweeper creates a new expired-block sweeper.
func NewSweeper(store Store, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &Sweeper{
		store:    store,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Start begins the sweep loop. Call in a goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// Stop signals the sweeper to stop.
func (s *Sweeper) Stop() {
	select {
	case s.stop <- struct{}{}:
	default:
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	count, err := s.store.DeleteExpired(ctx, time.Now())
	if err != nil {
		s.logger.Warn("failed to sweep expired block records", "error", err)
		return
	}
	if count > 0 {
		metrics.ExpiredBlocksDeleted.WithLabelValues("sweep").Add(float64(count))
		s.logger.Info("swept expired block records", "count", count)
	}
}
