// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	recorderSessions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camanchor_recorder_sessions_total",
		Help: "Recording session lifecycle events",
	}, []string{"event"}) // event=started|stopped|halted|exited|rejected_low_balance

	recorderActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "camanchor_recorder_active",
		Help: "Whether a recording session is active (1) or not (0)",
	})

	procTerminate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camanchor_proc_terminate_total",
		Help: "Signals sent to recorder process groups by signal and result",
	}, []string{"signal", "result"})

	procWait = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camanchor_proc_wait_total",
		Help: "Recorder process wait results",
	}, []string{"result"})
)

// RecordSessionEvent counts a recording session lifecycle event.
func RecordSessionEvent(event string) {
	recorderSessions.WithLabelValues(event).Inc()
}

// SetRecorderActive publishes whether a session is running.
func SetRecorderActive(active bool) {
	if active {
		recorderActive.Set(1)
		return
	}
	recorderActive.Set(0)
}

// IncProcTerminate counts a signal delivery attempt.
func IncProcTerminate(signal, result string) {
	procTerminate.WithLabelValues(signal, result).Inc()
}

// IncProcWait counts a process wait outcome.
func IncProcWait(result string) {
	procWait.WithLabelValues(result).Inc()
}
