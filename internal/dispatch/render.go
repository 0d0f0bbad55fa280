// SPDX-License-Identifier: MIT

package dispatch

import (
	"context"
	"fmt"

	"github.com/voxmill/settled/internal/store"
	"github.com/voxmill/settled/internal/types"
)

// handleRender is purely state-reflecting: rendering is not separately
// metered, so no billing happens here.
func (r *Router) handleRender(ctx context.Context, task *store.Task, p *Payload) error {
	status := p.TaskStatus()

	if !status.IsTerminal() {
		if _, err := r.store.UpdateTaskStatus(ctx, task.ID, status, p.progressOrDefault(task.Progress), p.errorPtr()); err != nil {
			return fmt.Errorf("update render task %s: %w", task.ID, err)
		}
		return nil
	}

	if status != types.StatusCompleted {
		msg := string(task.Engine) + ": " + p.Status
		if p.Error != "" {
			msg = string(task.Engine) + ": " + p.Error
		}
		if err := r.store.FailRender(ctx, task.TargetID, msg); err != nil {
			return fmt.Errorf("fail render %s: %w", task.TargetID, err)
		}
		if _, err := r.store.UpdateTaskStatus(ctx, task.ID, status, task.Progress, &msg); err != nil {
			return fmt.Errorf("fail render task %s: %w", task.ID, err)
		}
		return nil
	}

	if key := keyPtr(outputRef(p)); key != nil {
		if err := r.store.CompleteRender(ctx, task.TargetID, *key); err != nil {
			return fmt.Errorf("complete render %s: %w", task.TargetID, err)
		}
	} else {
		r.logger.Warn().Str("job_id", p.JobID).Msg("completed render callback carried no output key")
	}
	if _, err := r.store.UpdateTaskStatus(ctx, task.ID, types.StatusCompleted, 100, nil); err != nil {
		return fmt.Errorf("complete render task %s: %w", task.ID, err)
	}
	return nil
}

// outputRef picks the rendered artifact slot from the payload.
func outputRef(p *Payload) *OutputRef {
	if p.Outputs == nil {
		return nil
	}
	return p.Outputs.Video
}
