// SPDX-License-Identifier: MIT

// Package dispatch routes verified worker callbacks to engine-specific
// handlers and reconciles their outcomes into task, media and ledger
// state.
//
// Handlers are idempotent rather than deduplicated at the router: workers
// retry non-2xx responses and platforms redeliver, so every handler must
// tolerate replays anyway. JobEvents are still recorded append-only for
// audit, with duplicate deliveries counted but not suppressed.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/voxmill/settled/internal/ledger"
	"github.com/voxmill/settled/internal/metrics"
	"github.com/voxmill/settled/internal/pricing"
	"github.com/voxmill/settled/internal/probe"
	"github.com/voxmill/settled/internal/store"
	"github.com/voxmill/settled/internal/types"
)

// Sentinel errors the HTTP layer maps to response codes.
var (
	// ErrBadPayload maps to 400: malformed body or a contract violation
	// by the worker (e.g. a completed ASR callback without a vtt output).
	ErrBadPayload = errors.New("bad callback payload")
	// ErrUnknownTarget maps to 404: no task owns the job id and the
	// payload is not a recognized system-job shape.
	ErrUnknownTarget = errors.New("unknown callback target")
)

type routeKey struct {
	engine types.Engine
	kind   types.TaskKind
}

type handlerFunc func(ctx context.Context, task *store.Task, p *Payload) error

// Router classifies callbacks by (engine, kind) and dispatches through an
// explicit table, so adding a kind is a compile-time-checked addition.
type Router struct {
	store     *store.Store
	ledger    *ledger.Ledger
	pricing   pricing.Calculator
	prober    *probe.Prober
	presigner probe.Presigner
	client    *http.Client
	logger    zerolog.Logger
	table     map[routeKey]handlerFunc
}

// Options carries the router's collaborators.
type Options struct {
	Store     *store.Store
	Ledger    *ledger.Ledger
	Pricing   pricing.Calculator
	Prober    *probe.Prober
	Presigner probe.Presigner // for fetching raw metadata artifacts
	Client    *http.Client    // outbound client for metadata fetches
	Logger    zerolog.Logger
}

// New builds a Router with the full dispatch table.
func New(opts Options) *Router {
	r := &Router{
		store:     opts.Store,
		ledger:    opts.Ledger,
		pricing:   opts.Pricing,
		prober:    opts.Prober,
		presigner: opts.Presigner,
		client:    opts.Client,
		logger:    opts.Logger,
	}
	if r.client == nil {
		r.client = http.DefaultClient
	}

	// The download engine is multi-purpose: only KindDownload mutates
	// media download fields, everything else it runs is status-only.
	r.table = map[routeKey]handlerFunc{
		{types.EngineMediaDownloader, types.KindDownload}:          r.handleDownload,
		{types.EngineMediaDownloader, types.KindMetadataRefresh}:   r.handleSideJob,
		{types.EngineMediaDownloader, types.KindCommentsDownload}:  r.handleSideJob,
		{types.EngineMediaDownloader, types.KindChannelSync}:       r.handleSideJob,
		{types.EngineMediaDownloader, types.KindThreadAssetIngest}: r.handleSideJob,
		{types.EngineASRPipeline, types.KindASR}:                   r.handleASR,
		{types.EngineRendererRemotion, types.KindRenderComments}:   r.handleRender,
		{types.EngineRendererRemotion, types.KindRenderThread}:     r.handleRender,
		{types.EngineBurnerFFmpeg, types.KindRenderSubtitles}:      r.handleRender,
	}
	return r
}

// Dispatch processes one verified callback end to end. The returned error
// is nil for every accepted case, including no-ops for stale or duplicate
// deliveries; only validation failures and internal errors propagate.
func (r *Router) Dispatch(ctx context.Context, p *Payload) error {
	start := time.Now()
	defer func() { metrics.ObserveCallbackDuration(time.Since(start).Seconds()) }()

	if err := p.Validate(); err != nil {
		metrics.IncCallback(p.Engine, "rejected")
		return err
	}

	task, err := r.store.TaskByJobID(ctx, p.JobID)
	if err != nil {
		metrics.IncCallback(p.Engine, "error")
		return fmt.Errorf("lookup task for job %s: %w", p.JobID, err)
	}
	if task == nil {
		return r.handleSystem(ctx, p)
	}

	logger := r.logger.With().
		Str("job_id", p.JobID).
		Str("kind", task.Kind.String()).
		Str("engine", task.Engine.String()).
		Str("status", p.Status).
		Logger()

	if target := p.Target(); target != "" && target != task.TargetID {
		logger.Warn().
			Str("event", "callback.target_mismatch").
			Str("payload_target", target).
			Str("task_target", task.TargetID).
			Msg("callback names a different target than the task")
	}

	inserted, err := r.store.RecordJobEvent(ctx, &store.JobEvent{
		EventKey: p.EventKey(),
		JobID:    p.JobID,
		Source:   store.EventSourceCallback,
		Status:   p.Status,
		EventSeq: p.EventSeq,
	})
	if err != nil {
		metrics.IncCallback(string(task.Engine), "error")
		return fmt.Errorf("record job event: %w", err)
	}
	if !inserted {
		metrics.IncDuplicateEvent()
		logger.Debug().Str("event", "callback.duplicate").Msg("event key already recorded")
	}

	stale, err := r.isStale(ctx, task, p)
	if err != nil {
		metrics.IncCallback(string(task.Engine), "error")
		return err
	}
	if stale {
		metrics.IncCallback(string(task.Engine), "stale")
		metrics.IncStaleCallback(task.Kind.String())
		logger.Info().Str("event", "callback.stale").Msg("job superseded, skipping state mutation")
		// The superseded attempt still cost the user its prefund; a
		// terminal outcome for it releases that money exactly once.
		if p.TaskStatus().IsTerminal() {
			r.refundPrefund(ctx, task, usageType(task.Kind), "stale")
		}
		return nil
	}

	// Once a task is terminal its billing has been resolved under the
	// settle ref, either by the handler that terminalized it or by a
	// reconciler timeout. A later delivery carrying a different status
	// may neither flip the outcome nor re-open settlement.
	if task.Status.IsTerminal() && task.Status != p.TaskStatus() {
		metrics.IncCallback(string(task.Engine), "superseded")
		logger.Info().
			Str("event", "callback.conflicting_terminal").
			Str("task_status", task.Status.String()).
			Msg("task already terminal with a different outcome, skipping")
		return nil
	}

	handler, ok := r.table[routeKey{task.Engine, task.Kind}]
	if !ok {
		logger.Warn().Str("event", "callback.unrouted").Msg("no handler for engine/kind, recording status only")
		handler = r.handleSideJob
	}

	if err := handler(ctx, task, p); err != nil {
		metrics.IncCallback(string(task.Engine), "error")
		return err
	}
	metrics.IncCallback(string(task.Engine), "accepted")
	logger.Info().Str("event", "callback.accepted").Msg("callback processed")
	return nil
}

// isStale reports whether the callback references a job that has been
// superseded as the authoritative job for its target. Kinds with no job
// family (side jobs) are never stale.
func (r *Router) isStale(ctx context.Context, task *store.Task, p *Payload) (bool, error) {
	family := task.Kind.Family()
	if family == types.FamilyNone || task.JobID == nil {
		return false, nil
	}
	media, err := r.store.MediaByID(ctx, task.TargetID)
	if err != nil {
		return false, fmt.Errorf("load target %s: %w", task.TargetID, err)
	}
	if media == nil {
		return false, nil
	}
	auth := media.AuthoritativeJobID(family)
	return auth != "" && auth != *task.JobID, nil
}

// handleSideJob records a status transition for jobs that share an engine
// with a primary kind but must not touch its media fields.
func (r *Router) handleSideJob(ctx context.Context, task *store.Task, p *Payload) error {
	_, err := r.store.UpdateTaskStatus(ctx, task.ID, p.TaskStatus(), p.progressOrDefault(task.Progress), p.errorPtr())
	if err != nil {
		return fmt.Errorf("update side job %s: %w", task.ID, err)
	}
	return nil
}

// usageType maps a task kind to the ledger type its prefund was taken
// under. Render kinds are not separately metered.
func usageType(kind types.TaskKind) ledger.TxType {
	switch kind.Family() {
	case types.FamilyDownload:
		return ledger.TxDownloadUsage
	case types.FamilyASR:
		return ledger.TxASRUsage
	default:
		return ""
	}
}
