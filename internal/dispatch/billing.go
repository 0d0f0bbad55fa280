// SPDX-License-Identifier: MIT

package dispatch

import (
	"context"
	"errors"

	"github.com/voxmill/settled/internal/ledger"
	"github.com/voxmill/settled/internal/metrics"
	"github.com/voxmill/settled/internal/store"
)

// settleRef derives the settlement ref id for a job. It is distinct from
// the prefund ref (the bare job id) so the prefund and its reconciliation
// stay separately idempotent; refunds and settlements share it, so a job
// is never both refunded and settled.
func settleRef(jobID string) string { return jobID + ":settle" }

// refundPrefund credits back the full prefunded amount for the task's
// job, exactly once. A missing prefund (system jobs, free tiers) is a
// no-op. Billing failures are logged and swallowed: a ledger hiccup must
// never make the worker believe the callback was rejected.
func (r *Router) refundPrefund(ctx context.Context, task *store.Task, usage ledger.TxType, trigger string) {
	if task.UserID == nil || task.JobID == nil || usage == "" {
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
	amount := -prefund.Delta

	applied, err := r.ledger.AddOnce(ctx, userID, amount, ledger.TxRefund, "job", settleRef(jobID),
		map[string]any{"trigger": trigger, "prefund": prefund.Delta})
	if err != nil {
		metrics.IncSettlementFailure("internal")
		r.logger.Error().Err(err).Str("job_id", jobID).Int64("amount", amount).Msg("refund failed")
		return
	}
	if applied {
		metrics.IncSettlement("refund")
		metrics.IncRefund(trigger)
		r.logger.Info().
			Str("event", "settlement.refunded").
			Str("job_id", jobID).
			Str("user_id", userID).
			Str("trigger", trigger).
			Int64("amount", amount).
			Msg("prefund refunded")
	}
}

// settleUsage reconciles the prefund against the final cost on confirmed
// completion. Replays recompute the same delta and the ledger's conflict
// key absorbs the duplicate, so the net balance change happens once.
func (r *Router) settleUsage(ctx context.Context, task *store.Task, usage ledger.TxType, final int64, rule string) {
	if task.UserID == nil || task.JobID == nil || usage == "" {
		return
	}
	userID, jobID := *task.UserID, *task.JobID

	prefund, err := r.ledger.FindByTypeAndRef(ctx, userID, usage, jobID)
	if err != nil {
		metrics.IncSettlementFailure("internal")
		r.logger.Error().Err(err).Str("job_id", jobID).Msg("prefund lookup failed, settlement skipped")
		return
	}
	var prefunded int64
	if prefund != nil && prefund.Delta < 0 {
		prefunded = -prefund.Delta
	}

	delta := final - prefunded
	meta := map[string]any{"final": final, "prefunded": prefunded, "rule": rule}

	logger := r.logger.With().
		Str("job_id", jobID).
		Str("user_id", userID).
		Int64("final", final).
		Int64("prefunded", prefunded).
		Int64("delta", delta).
		Logger()

	switch {
	case delta > 0:
		applied, err := r.ledger.SpendOnce(ctx, userID, delta, usage, "job", settleRef(jobID), meta)
		switch {
		case errors.Is(err, ledger.ErrInsufficientFunds):
			// The media update already happened and stands; the shortfall
			// is logged for operations to chase, not surfaced to the worker.
			metrics.IncSettlementFailure("insufficient_funds")
			logger.Error().Str("event", "settlement.insufficient_funds").Msg("settlement top-up failed")
		case err != nil:
			metrics.IncSettlementFailure("internal")
			logger.Error().Err(err).Msg("settlement charge failed")
		case applied:
			metrics.IncSettlement("charge")
			logger.Info().Str("event", "settlement.applied").Msg("shortfall charged")
		}
	case delta < 0:
		applied, err := r.ledger.AddOnce(ctx, userID, -delta, ledger.TxRefund, "job", settleRef(jobID), meta)
		switch {
		case err != nil:
			metrics.IncSettlementFailure("internal")
			logger.Error().Err(err).Msg("settlement refund failed")
		case applied:
			metrics.IncSettlement("refund")
			logger.Info().Str("event", "settlement.applied").Msg("overage refunded")
		}
	default:
		metrics.IncSettlement("noop")
		logger.Debug().Str("event", "settlement.noop").Msg("final cost equals prefund")
	}
}
