// Package metrics: prometheus-метрики зеркалирования.
//
//   - risksync_ticks_total{result}:             тики цикла сверки (ok|master_unavailable|panic)
//   - risksync_events_total{kind}:              события мастера (new|closed|modified|skipped)
//   - risksync_dispatch_total{op,result}:       операции на slave (open|modify|close × outcome)
//   - risksync_tracked_positions:               размер ReconciliationState после тика
//   - risksync_tick_duration_seconds:           длительность тика
//   - risksync_state_save_failures_total:       неудачные сохранения стейта
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	Ticks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "risksync_ticks_total",
			Help: "Reconciliation ticks by result",
		},
		[]string{"result"},
	)

	Events = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "risksync_events_total",
			Help: "Master position lifecycle events",
		},
		[]string{"kind"},
	)

	Dispatch = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "risksync_dispatch_total",
			Help: "Slave operations by op and outcome",
		},
		[]string{"op", "result"},
	)

	TrackedPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "risksync_tracked_positions",
			Help: "Master positions tracked in reconciliation state",
		},
	)

	TickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "risksync_tick_duration_seconds",
			Help:    "Duration of one reconciliation tick",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)

	StateSaveFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "risksync_state_save_failures_total",
			Help: "Failed attempts to persist reconciliation state",
		},
	)
)

func init() {
	prometheus.MustRegister(
		Ticks,
		Events,
		Dispatch,
		TrackedPositions,
		TickDuration,
		StateSaveFailures,
	)
}
