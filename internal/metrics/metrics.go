// Package metrics exposes Prometheus collectors for valuation runs.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "reserve_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	runsTotal          *prometheus.CounterVec
	runDuration        *prometheus.HistogramVec
	pageDuration       prometheus.Histogram
	groupsValuated     prometheus.Counter
	decidedTransitions prometheus.Counter
	resultRowsWritten  prometheus.Counter
)

// Init creates the collectors and registers them with reg (the default
// registerer when nil). Calls after the first are no-ops.
func Init(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}

		runsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "runs_total",
				Help: "Total valuation runs by result",
			},
			[]string{"result"},
		)
		runDuration = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "run_duration_seconds",
				Help:    "Valuation run duration in seconds",
				Buckets: []float64{1, 5, 15, 60, 300, 900, 1800, 3600},
			},
			[]string{"result"},
		)
		pageDuration = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "page_duration_seconds",
				Help:    "Time to valuate and persist one page of claim groups",
				Buckets: prometheus.DefBuckets,
			},
		)
		groupsValuated = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "claim_groups_valuated_total",
				Help: "Total claim groups valuated",
			},
		)
		decidedTransitions = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "decided_transitions_total",
				Help: "Total prior open claim groups transitioned to decided",
			},
		)
		resultRowsWritten = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "result_rows_written_total",
				Help: "Total result rows bulk-inserted",
			},
		)

		reg.MustRegister(runsTotal, runDuration, pageDuration, groupsValuated, decidedTransitions, resultRowsWritten)
	})
}

// ObserveRun records a finished run.
func ObserveRun(elapsed time.Duration, err error) {
	if runsTotal == nil {
		return
	}
	result := resultSuccess
	if err != nil {
		result = resultError
	}
	runsTotal.WithLabelValues(result).Inc()
	runDuration.WithLabelValues(result).Observe(elapsed.Seconds())
}

// ObservePage records one processed page.
func ObservePage(elapsed time.Duration, groups, written int64) {
	if pageDuration == nil {
		return
	}
	pageDuration.Observe(elapsed.Seconds())
	groupsValuated.Add(float64(groups))
	resultRowsWritten.Add(float64(written))
}

// ObserveDecided records the decided transitions written at the end of a run.
func ObserveDecided(rows, written int64) {
	if decidedTransitions == nil {
		return
	}
	decidedTransitions.Add(float64(rows))
	resultRowsWritten.Add(float64(written))
}
