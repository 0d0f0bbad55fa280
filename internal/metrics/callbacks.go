// SPDX-License-Identifier: MIT

// Package metrics exposes Prometheus collectors for the callback and
// settlement pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	callbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settled_callbacks_total",
		Help: "Worker callbacks received by engine and outcome",
	}, []string{"engine", "outcome"}) // outcome=accepted|stale|rejected|system|error

	callbackDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "settled_callback_duration_seconds",
		Help:    "Time spent handling one worker callback",
		Buckets: prometheus.DefBuckets,
	})

	staleCallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settled_stale_callbacks_total",
		Help: "Callbacks referencing a superseded job id, by task kind",
	}, []string{"kind"})

	duplicateEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settled_duplicate_events_total",
		Help: "Callback deliveries whose event key was already recorded",
	})

	probeResultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settled_probe_results_total",
		Help: "Object storage probe verdicts",
	}, []string{"state"}) // state=exists|missing|unknown

	settlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settled_settlements_total",
		Help: "Ledger settlements by direction",
	}, []string{"direction"}) // direction=charge|refund|noop

	settlementFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settled_settlement_failures_total",
		Help: "Settlement attempts that failed, by reason",
	}, []string{"reason"}) // reason=insufficient_funds|internal

	refundsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settled_refunds_total",
		Help: "Full prefund refunds issued, by trigger",
	}, []string{"trigger"}) // trigger=failed|canceled|stale|missing_artifact|metadata_only|timeout

	tasksTimedOutTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settled_tasks_timed_out_total",
		Help: "Tasks force-failed by the reconciler after the task timeout",
	})

	reconcilerSweepsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settled_reconciler_sweeps_total",
		Help: "Reconciler sweep executions",
	})
)

func IncCallback(engine, outcome string)  { callbacksTotal.WithLabelValues(engine, outcome).Inc() }
func ObserveCallbackDuration(sec float64) { callbackDuration.Observe(sec) }
func IncStaleCallback(kind string)        { staleCallbacksTotal.WithLabelValues(kind).Inc() }
func IncDuplicateEvent()                  { duplicateEventsTotal.Inc() }
func RecordProbeResult(state string)      { probeResultsTotal.WithLabelValues(state).Inc() }
func IncSettlement(direction string)      { settlementsTotal.WithLabelValues(direction).Inc() }
func IncSettlementFailure(reason string)  { settlementFailuresTotal.WithLabelValues(reason).Inc() }
func IncRefund(trigger string)            { refundsTotal.WithLabelValues(trigger).Inc() }
func IncTaskTimedOut()                    { tasksTimedOutTotal.Inc() }
func IncReconcilerSweep()                 { reconcilerSweepsTotal.Inc() }
