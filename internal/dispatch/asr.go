// SPDX-License-Identifier: MIT

package dispatch

import (
	"context"
	"fmt"

	"github.com/voxmill/settled/internal/ledger"
	"github.com/voxmill/settled/internal/store"
	"github.com/voxmill/settled/internal/types"
)

const asrErrPrefix = "asr-pipeline: "

// handleASR persists transcription artifacts and releases the asr_usage
// prefund on failure. Completion does not settle: ASR is prefunded at its
// final cost by the confirming action, so the prefund lookup here is
// audit only.
func (r *Router) handleASR(ctx context.Context, task *store.Task, p *Payload) error {
	status := p.TaskStatus()

	if !status.IsTerminal() {
		if _, err := r.store.UpdateTaskStatus(ctx, task.ID, status, p.progressOrDefault(task.Progress), p.errorPtr()); err != nil {
			return fmt.Errorf("update asr task %s: %w", task.ID, err)
		}
		return nil
	}

	if status != types.StatusCompleted {
		msg := asrErrPrefix + p.Status
		if p.Error != "" {
			msg = asrErrPrefix + p.Error
		}
		if err := r.store.FailASR(ctx, task.TargetID, msg); err != nil {
			return fmt.Errorf("fail asr %s: %w", task.TargetID, err)
		}
		if _, err := r.store.UpdateTaskStatus(ctx, task.ID, status, task.Progress, &msg); err != nil {
			return fmt.Errorf("fail asr task %s: %w", task.ID, err)
		}
		r.refundPrefund(ctx, task, ledger.TxASRUsage, string(status))
		return nil
	}

	// A completed transcription without a vtt artifact is a contract
	// violation by the worker, not a billing event.
	var out Outputs
	if p.Outputs != nil {
		out = *p.Outputs
	}
	if out.VTT == nil || out.VTT.Key == "" {
		return fmt.Errorf("%w: completed asr callback without vtt output key", ErrBadPayload)
	}

	if err := r.store.CompleteASR(ctx, task.TargetID, out.VTT.Key, keyPtr(out.Words)); err != nil {
		return fmt.Errorf("complete asr %s: %w", task.TargetID, err)
	}
	if _, err := r.store.UpdateTaskStatus(ctx, task.ID, types.StatusCompleted, 100, nil); err != nil {
		return fmt.Errorf("complete asr task %s: %w", task.ID, err)
	}

	if task.UserID != nil && task.JobID != nil {
		prefund, err := r.ledger.FindByTypeAndRef(ctx, *task.UserID, ledger.TxASRUsage, *task.JobID)
		if err != nil {
			r.logger.Error().Err(err).Str("job_id", *task.JobID).Msg("asr prefund audit lookup failed")
		} else if prefund == nil {
			r.logger.Error().
				Str("event", "asr.prefund_missing").
				Str("job_id", *task.JobID).
				Str("user_id", *task.UserID).
				Msg("completed asr job has no prefund transaction")
		}
	}
	return nil
}
