// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	segmentsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camanchor_segments_processed_total",
		Help: "Segments handled by the orchestrator by outcome",
	}, []string{"outcome"}) // outcome=anchored|pin_failed|submit_failed|transient|skipped

	stepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "camanchor_pipeline_step_duration_seconds",
		Help:    "Duration of individual pipeline steps",
		Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"step"}) // step=stability|probe|pin|submit|persist|retention

	watcherBatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camanchor_watcher_batches_total",
		Help: "Watcher notifications by handling result",
	}, []string{"result"}) // result=queued|dropped|halted|too_few|list_error

	retentionEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "camanchor_retention_evictions_total",
		Help: "Segment files deleted by the retention manager",
	})

	ledgerRecords = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "camanchor_ledger_records",
		Help: "Aggregate counters derived from the segment ledger",
	}, []string{"kind"}) // kind=uploaded|tx
)

// RecordSegmentOutcome counts one orchestrator outcome.
func RecordSegmentOutcome(outcome string) {
	segmentsProcessed.WithLabelValues(outcome).Inc()
}

// ObserveStep records the duration of a pipeline step.
func ObserveStep(step string, d time.Duration) {
	stepDuration.WithLabelValues(step).Observe(d.Seconds())
}

// RecordWatcherBatch counts a watcher notification result.
func RecordWatcherBatch(result string) {
	watcherBatches.WithLabelValues(result).Inc()
}

// AddRetentionEvictions counts deleted segment files.
func AddRetentionEvictions(n int) {
	retentionEvictions.Add(float64(n))
}

// SetLedgerCounts publishes the derived uploaded/tx counters.
func SetLedgerCounts(uploaded, tx int) {
	ledgerRecords.WithLabelValues("uploaded").Set(float64(uploaded))
	ledgerRecords.WithLabelValues("tx").Set(float64(tx))
}
