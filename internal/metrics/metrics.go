package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JMAFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenki_jma_fetches_total",
			Help: "Total JMA hourly page fetches by outcome",
		},
		[]string{"station", "outcome"},
	)

	JMAFetchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tenki_jma_fetch_latency_seconds",
			Help:    "JMA hourly page fetch latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"station"},
	)

	CalmWithSpeedHours = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenki_calm_with_speed_hours_total",
			Help: "Hours reported calm with a nonzero wind speed",
		},
		[]string{"station"},
	)

	HistoryRowsBuilt = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tenki_history_rows_built_total",
			Help: "Total complete daily rows added to the history table",
		},
	)

	HistoryDatesSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tenki_history_dates_skipped_total",
			Help: "Dates dropped because at least one station was unavailable",
		},
	)

	TrainingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenki_trainings_total",
			Help: "Total model trainings by target",
		},
		[]string{"target"},
	)

	ForecastRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenki_forecast_runs_total",
			Help: "Total forecast runs by outcome",
		},
		[]string{"outcome"},
	)

	ForecastRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tenki_forecast_run_duration_seconds",
			Help:    "Wall time of a full fetch, predict and render cycle",
			Buckets: prometheus.DefBuckets,
		},
	)
)
