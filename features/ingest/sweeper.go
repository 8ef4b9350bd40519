package ingest

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"studyrag/internal/metrics"
)

// Sweeper periodically evicts terminal status records older than ttl.
type Sweeper struct {
	tracker Tracker
	ttl     time.Duration
	cron    *cron.Cron
	running atomic.Bool
	now     func() time.Time
}

func NewSweeper(tracker Tracker, ttl time.Duration) *Sweeper {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return &Sweeper{
		tracker: tracker,
		ttl:     ttl,
		cron:    cron.New(cron.WithParser(parser)),
		now:     time.Now,
	}
}

func (s *Sweeper) Schedule(spec string) error {
	_, err := s.cron.AddFunc(spec, func() { s.Sweep(context.Background()) })
	if err != nil {
		slog.Error("schedule status sweep failed", "spec", spec, "error", err)
		return err
	}
	slog.Info("status sweep scheduled", "spec", spec, "ttl", s.ttl)
	return nil
}

func (s *Sweeper) Start() { s.cron.Start() }

func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// Sweep runs one eviction pass. Overlapping runs are skipped.
func (s *Sweeper) Sweep(ctx context.Context) int {
	if !s.running.CompareAndSwap(false, true) {
		slog.InfoContext(ctx, "status sweep skipped: still running")
		return 0
	}
	defer s.running.Store(false)

	n, err := s.tracker.DeleteBefore(ctx, s.now().Add(-s.ttl))
	if err != nil {
		slog.ErrorContext(ctx, "status sweep failed", "error", err)
		return 0
	}
	if n > 0 {
		metrics.StatusRecordsSwept.Add(float64(n))
		slog.InfoContext(ctx, "status records swept", "count", n)
	}
	return n
}
