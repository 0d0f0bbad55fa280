// SPDX-License-Identifier: MIT

package dispatch

import (
	"context"
	"fmt"

	"github.com/voxmill/settled/internal/metrics"
)

// systemKinds are untracked job shapes the platform emits outside the
// task lifecycle. They are observed and counted, never persisted.
var systemKinds = map[string]bool{
	"proxy-health": true,
	"cache-warm":   true,
}

// handleSystem deals with callbacks whose job id owns no task. Recognized
// system pings are acknowledged without touching task, media or ledger
// rows; anything else is an unknown target.
func (r *Router) handleSystem(ctx context.Context, p *Payload) error {
	kind := ""
	if p.Metadata != nil {
		kind = p.Metadata.Kind
	}
	if !systemKinds[kind] {
		metrics.IncCallback(p.Engine, "rejected")
		return fmt.Errorf("%w: job %s", ErrUnknownTarget, p.JobID)
	}

	metrics.IncCallback(p.Engine, "system")
	r.logger.Info().
		Str("event", "callback.system").
		Str("job_id", p.JobID).
		Str("system_kind", kind).
		Str("status", p.Status).
		Msg("system job callback acknowledged")
	return nil
}
