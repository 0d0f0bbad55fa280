// SPDX-License-Identifier: MIT

package reconcile

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/voxmill/settled/internal/ledger"
	"github.com/voxmill/settled/internal/store"
	"github.com/voxmill/settled/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestReconciler(t *testing.T) (*Reconciler, *store.Store, *ledger.Ledger) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	l, err := ledger.New(s.DB())
	require.NoError(t, err)

	return New(s, l, 2*time.Hour, zerolog.Nop()), s, l
}

func seedStuckTask(t *testing.T, s *store.Store, l *ledger.Ledger, id, jobID string, age time.Duration, prefund int64) {
	t.Helper()
	ctx := context.Background()
	userID := "user-1"

	task := &store.Task{
		ID:         id,
		UserID:     &userID,
		Kind:       types.KindDownload,
		Engine:     types.EngineMediaDownloader,
		TargetType: types.TargetMedia,
		TargetID:   "media-1",
		JobID:      &jobID,
		Status:     types.StatusRunning,
		UpdatedAt:  time.Now().Add(-age),
	}
	require.NoError(t, s.CreateTask(ctx, task))

	if prefund > 0 {
		_, err := l.AddOnce(ctx, userID, 500, ledger.TxRecharge, "test", "seed:"+jobID, nil)
		require.NoError(t, err)
		_, err = l.ChargeOnce(ctx, userID, prefund, ledger.TxDownloadUsage, "job", jobID, nil)
		require.NoError(t, err)
	}
}

func TestSweepFailsStuckTaskAndRefunds(t *testing.T) {
	r, s, l := newTestReconciler(t)
	ctx := context.Background()

	seedStuckTask(t, s, l, "t-stuck", "job_1", 3*time.Hour, 120)

	balanceBefore, err := l.Balance(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, int64(380), balanceBefore)

	require.NoError(t, r.Sweep(ctx))

	task, err := s.TaskByID(ctx, "t-stuck")
	require.NoError(t, err)
	require.Equal(t, types.StatusFailed, task.Status)
	require.Contains(t, *task.Error, "timeout")
	require.NotNil(t, task.FinishedAt)

	balance, err := l.Balance(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, int64(500), balance, "prefund must come back")

	events, err := s.JobEventsByJobID(ctx, "job_1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, store.EventSourceReconciler, events[0].Source)
}

func TestSweepIsIdempotent(t *testing.T) {
	r, s, l := newTestReconciler(t)
	ctx := context.Background()

	seedStuckTask(t, s, l, "t-stuck", "job_1", 3*time.Hour, 120)

	require.NoError(t, r.Sweep(ctx))
	require.NoError(t, r.Sweep(ctx))

	balance, err := l.Balance(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, int64(500), balance, "a second sweep must not refund again")

	events, err := s.JobEventsByJobID(ctx, "job_1")
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestSweepLeavesFreshTasksAlone(t *testing.T) {
	r, s, l := newTestReconciler(t)
	ctx := context.Background()

	seedStuckTask(t, s, l, "t-fresh", "job_1", time.Minute, 0)

	require.NoError(t, r.Sweep(ctx))

	task, err := s.TaskByID(ctx, "t-fresh")
	require.NoError(t, err)
	require.Equal(t, types.StatusRunning, task.Status)
}

func TestStartStopSchedule(t *testing.T) {
	r, _, _ := newTestReconciler(t)

	require.Error(t, r.Start("not a schedule"))
	require.NoError(t, r.Start("@every 1h"))
	r.Stop()
}
