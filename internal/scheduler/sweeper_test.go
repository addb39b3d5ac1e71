package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mantelhq/triage/pkg/schema"
)

type fakeMaintenanceStore struct {
	mu       sync.Mutex
	pruned   int64
	pruneErr error
	prunes   int
	vacuums  int
	cutoffs  []time.Time
}

func (f *fakeMaintenanceStore) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prunes++
	f.cutoffs = append(f.cutoffs, cutoff)
	return f.pruned, f.pruneErr
}

func (f *fakeMaintenanceStore) Vacuum(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vacuums++
	return nil
}

func TestNewSweeperRejectsBadCron(t *testing.T) {
	_, err := NewSweeper(&fakeMaintenanceStore{}, "not a cron", 0, nil)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeConfig, schema.CodeOf(err))
}

func TestSweepPrunesAndVacuums(t *testing.T) {
	fs := &fakeMaintenanceStore{pruned: 12}
	s, err := NewSweeper(fs, "", 24*time.Hour, nil)
	require.NoError(t, err)

	s.Sweep(context.Background())

	assert.Equal(t, 1, fs.prunes)
	assert.Equal(t, 1, fs.vacuums)
	require.Len(t, fs.cutoffs, 1)
	assert.WithinDuration(t, time.Now().UTC().Add(-24*time.Hour), fs.cutoffs[0], time.Minute)
}

func TestSweepSkipsVacuumWhenNothingPruned(t *testing.T) {
	fs := &fakeMaintenanceStore{pruned: 0}
	s, err := NewSweeper(fs, "", 0, nil)
	require.NoError(t, err)

	s.Sweep(context.Background())

	assert.Equal(t, 1, fs.prunes)
	assert.Zero(t, fs.vacuums)
}

func TestSweeperStartStop(t *testing.T) {
	s, err := NewSweeper(&fakeMaintenanceStore{}, "", 0, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	require.Error(t, s.Start(ctx), "double start is rejected")
	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop(), "stop is idempotent")

	// Restartable after a clean stop.
	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.Stop())
}

func TestNextFollowsCronSchedule(t *testing.T) {
	s, err := NewSweeper(&fakeMaintenanceStore{}, "0 3 * * *", 0, nil)
	require.NoError(t, err)

	from := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	next := s.next(from)
	assert.Equal(t, time.Date(2026, 9, 2, 3, 0, 0, 0, time.UTC), next)
}
