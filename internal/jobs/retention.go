package jobs

import (
	"context"
	"log/slog"
	"os"
	"time"

	"vidfetch/internal/metrics"
	"vidfetch/internal/store"
)

// SweepStats captures what one retention pass removed.
type SweepStats struct {
	JobsDeleted  int `json:"jobsDeleted"`
	FilesDeleted int `json:"filesDeleted"`
}

// Sweeper periodically reclaims terminal jobs older than the retention
// window, along with their on-disk artifacts. It runs more often than
// the window itself so the backlog stays bounded. Live jobs are never
// eligible: eligibility requires a terminal status, so a download that
// has been running past the window keeps its state.
type Sweeper struct {
	store    *store.Store
	bus      *Broadcaster
	logger   *slog.Logger
	interval time.Duration
	maxAge   time.Duration
}

// NewSweeper constructs a sweeper over the given store.
func NewSweeper(st *store.Store, bus *Broadcaster, interval, maxAge time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if maxAge <= 0 {
		maxAge = 30 * time.Minute
	}
	return &Sweeper{store: st, bus: bus, logger: logger, interval: interval, maxAge: maxAge}
}

// Start runs the sweep loop until the context is cancelled. Callers
// typically run this in its own goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		s.Sweep()
	}
}

// Sweep performs one retention pass. Artifacts are removed before
// their records; a file that is already gone counts as removed.
func (s *Sweeper) Sweep() SweepStats {
	var stats SweepStats

	removed := s.store.CleanupOlderThan(s.maxAge, func(path string) error {
		err := os.Remove(path)
		if err == nil || os.IsNotExist(err) {
			return nil
		}
		return err
	})

	for _, rec := range removed {
		stats.JobsDeleted++
		if rec.FilePath != nil {
			stats.FilesDeleted++
		}
		// Any stream still attached to an evicted job is done.
		s.bus.CloseJob(rec.ID)
	}

	if stats.JobsDeleted > 0 {
		metrics.RecordEvictions(int64(stats.JobsDeleted))
		s.logger.Info("retention sweep removed jobs",
			"jobs", stats.JobsDeleted, "files", stats.FilesDeleted, "maxAge", s.maxAge)
	}
	return stats
}
