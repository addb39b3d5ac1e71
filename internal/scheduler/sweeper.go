package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mantelhq/triage/pkg/schema"
)

const tickInterval = 60 * time.Second

// DefaultCronExpression sweeps once a day at 03:00.
const DefaultCronExpression = "0 3 * * *"

// DefaultRetention is how long run-log events are kept.
const DefaultRetention = 7 * 24 * time.Hour

// MaintenanceStore is the store surface the sweeper needs.
type MaintenanceStore interface {
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Vacuum(ctx context.Context) error
}

// Sweeper prunes old run-log events on a cron schedule and vacuums the
// database afterwards.
type Sweeper struct {
	store     MaintenanceStore
	parser    cron.Parser
	cronExpr  string
	retention time.Duration
	logger    *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	nextRun time.Time
}

// NewSweeper creates a Sweeper. Empty cronExpr and non-positive retention fall
// back to the defaults.
func NewSweeper(s MaintenanceStore, cronExpr string, retention time.Duration, logger *slog.Logger) (*Sweeper, error) {
	if cronExpr == "" {
		cronExpr = DefaultCronExpression
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	if logger == nil {
		logger = slog.Default()
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(cronExpr); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeConfig, "parse cron expression %q: %s", cronExpr, err.Error()).WithCause(err)
	}

	return &Sweeper{
		store:     s,
		parser:    parser,
		cronExpr:  cronExpr,
		retention: retention,
		logger:    logger,
	}, nil
}

// Start launches the background sweep loop.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return schema.NewError(schema.ErrCodeConflict, "sweeper already started")
	}

	sweepCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.nextRun = s.next(time.Now().UTC())
	s.mu.Unlock()

	go s.loop(sweepCtx)
	s.logger.Info("maintenance sweeper started",
		slog.String("cron", s.cronExpr),
		slog.Duration("retention", s.retention))
	return nil
}

// Stop gracefully shuts down the sweeper.
func (s *Sweeper) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("maintenance sweeper stopped")
	return nil
}

func (s *Sweeper) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now().UTC()
			s.mu.Lock()
			due := !now.Before(s.nextRun)
			if due {
				s.nextRun = s.next(now)
			}
			s.mu.Unlock()
			if due {
				s.Sweep(ctx)
			}
		}
	}
}

// Sweep prunes events older than the retention window and vacuums. Callers may
// invoke it directly outside the schedule.
func (s *Sweeper) Sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.retention)

	pruned, err := s.store.PruneBefore(ctx, cutoff)
	if err != nil {
		s.logger.Error("event prune failed", slog.String("error", err.Error()))
		return
	}
	if pruned == 0 {
		return
	}

	if err := s.store.Vacuum(ctx); err != nil {
		s.logger.Error("vacuum failed", slog.String("error", err.Error()))
		return
	}

	s.logger.Info("maintenance sweep completed", slog.Int64("pruned", pruned))
}

// next computes the next scheduled run after from.
func (s *Sweeper) next(from time.Time) time.Time {
	schedule, err := s.parser.Parse(s.cronExpr)
	if err != nil {
		// Validated at construction; unreachable.
		return from.Add(24 * time.Hour)
	}
	return schedule.Next(from)
}
