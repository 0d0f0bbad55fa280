// SPDX-License-Identifier: MIT

// Package reconcile sweeps tasks abandoned by their workers. A worker
// that dies mid-job never posts a terminal callback; the sweeper is the
// second writer that closes those tasks out and releases their prefunds.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/voxmill/settled/internal/ledger"
	"github.com/voxmill/settled/internal/metrics"
	"github.com/voxmill/settled/internal/store"
	"github.com/voxmill/settled/internal/types"
)

// Reconciler periodically fails tasks stuck in a non-terminal status
// past the configured timeout.
type Reconciler struct {
	store   *store.Store
	ledger  *ledger.Ledger
	logger  zerolog.Logger
	timeout time.Duration
	cron    *cron.Cron
	now     func() time.Time
}

// New builds a Reconciler. timeout is how long a task may go without a
// status update before it is considered abandoned.
func New(s *store.Store, l *ledger.Ledger, timeout time.Duration, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		store:   s,
		ledger:  l,
		logger:  logger,
		timeout: timeout,
		now:     time.Now,
	}
}

// Start schedules periodic sweeps using a cron spec (e.g. "@every 1m").
func (r *Reconciler) Start(schedule string) error {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := r.Sweep(ctx); err != nil {
			r.logger.Error().Err(err).Msg("reconciler sweep failed")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule reconciler %q: %w", schedule, err)
	}
	c.Start()
	r.cron = c
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (r *Reconciler) Stop() {
	if r.cron != nil {
		<-r.cron.Stop().Done()
	}
}

// Sweep fails every task stuck past the timeout, records a reconciler
// JobEvent and refunds the prefund exactly once. Per-task errors are
// logged and skipped so one broken row cannot stall the sweep.
func (r *Reconciler) Sweep(ctx context.Context) error {
	metrics.IncReconcilerSweep()

	cutoff := r.now().Add(-r.timeout)
	stuck, err := r.store.ListStuckTasks(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("list stuck tasks: %w", err)
	}

	for i := range stuck {
		task := &stuck[i]
		if err := r.timeOut(ctx, task); err != nil {
			r.logger.Error().Err(err).Str("task_id", task.ID).Msg("task timeout failed")
		}
	}
	return nil
}

func (r *Reconciler) timeOut(ctx context.Context, task *store.Task) error {
	msg := fmt.Sprintf("timeout: no callback received within %s", r.timeout)

	applied, err := r.store.UpdateTaskStatus(ctx, task.ID, types.StatusFailed, task.Progress, &msg)
	if err != nil {
		return fmt.Errorf("fail task %s: %w", task.ID, err)
	}
	if !applied {
		// A callback terminalized the task between listing and here.
		return nil
	}
	metrics.IncTaskTimedOut()

	jobID := task.ID
	if task.JobID != nil {
		jobID = *task.JobID
	}
	if _, err := r.store.RecordJobEvent(ctx, &store.JobEvent{
		EventKey: "reconciler:" + jobID + ":timeout",
		JobID:    jobID,
		Source:   store.EventSourceReconciler,
		Status:   string(types.StatusFailed),
	}); err != nil {
		r.logger.Error().Err(err).Str("task_id", task.ID).Msg("reconciler event not recorded")
	}

	r.refundPrefund(ctx, task)

	r.logger.Warn().
		Str("event", "reconciler.timed_out").
		Str("task_id", task.ID).
		Str("job_id", jobID).
		Str("kind", task.Kind.String()).
		Msg("stuck task force-failed")
	return nil
}

// refundPrefund releases the prefund of an abandoned task under the
// settle ref, the same idempotency discipline the callback handlers use.
func (r *Reconciler) refundPrefund(ctx context.Context, task *store.Task) {
	if task.UserID == nil || task.JobID == nil {
		return
	}
	var usage ledger.TxType
	switch task.Kind.Family() {
	case types.FamilyDownload:
		usage = ledger.TxDownloadUsage
	case types.FamilyASR:
		usage = ledger.TxASRUsage
	default:
		return
	}
	userID, jobID := *task.UserID, *task.JobID

	prefund, err := r.ledger.FindByTypeAndRef(ctx, userID, usage, jobID)
	if err != nil {
		metrics.IncSettlementFailure("internal")
		r.logger.Error().Err(err).Str("job_id", jobID).Msg("prefund lookup failed, refund skipped")
		return
	}
	if prefund == nil || prefund.Delta >= 0 {
		return
	}

	applied, err := r.ledger.AddOnce(ctx, userID, -prefund.Delta, ledger.TxRefund, "job", jobID+":settle",
		map[string]any{"trigger": "timeout", "prefund": prefund.Delta})
	if err != nil {
		metrics.IncSettlementFailure("internal")
		r.logger.Error().Err(err).Str("job_id", jobID).Msg("timeout refund failed")
		return
	}
	if applied {
		metrics.IncSettlement("refund")
		metrics.IncRefund("timeout")
	}
}
