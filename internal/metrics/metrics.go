// Package metrics exposes Prometheus collectors for chat turns, history
// windowing and the daily summary batch.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "health_agent"

// Outcome labels.
const (
	OutcomeOK           = "ok"
	OutcomeEmptyInput   = "empty_input"
	OutcomeGeneration   = "generation_error"
	OutcomeNotPersisted = "not_persisted"

	OutcomeCreated  = "created"
	OutcomeExisting = "skipped_existing"
	OutcomeNoData   = "skipped_empty"
	OutcomeFailed   = "failed"
)

// LatencyBuckets covers fast local completions up to slow reasoning models.
var LatencyBuckets = []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30, 60, 120}

var (
	// Turns counts handled chat turns by outcome.
	Turns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Chat turns handled, by outcome",
		},
		[]string{"outcome"},
	)

	// WindowMessages counts messages kept in or dropped from the model context.
	WindowMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "window_messages_total",
			Help:      "Messages kept or dropped by history windowing",
		},
		[]string{"mode", "result"},
	)

	// LLMLatency tracks language model call latency.
	LLMLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_latency_seconds",
			Help:      "Language model call latency in seconds",
			Buckets:   LatencyBuckets,
		},
		[]string{"purpose"},
	)

	// Summaries counts per-user outcomes of the daily batch.
	Summaries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "daily_summaries_total",
			Help:      "Daily summary outcomes per user",
		},
		[]string{"outcome"},
	)

	// BatchDuration tracks how long a full daily batch takes.
	BatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "daily_batch_duration_seconds",
			Help:      "Duration of the daily summary batch in seconds",
			Buckets:   LatencyBuckets,
		},
	)

	// LastBatch records the unix time of the last completed batch.
	LastBatch = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "daily_batch_last_completed_timestamp",
			Help:      "Unix time of the last completed daily summary batch",
		},
	)
)

func RecordTurn(outcome string) { Turns.WithLabelValues(outcome).Inc() }

func RecordWindow(mode string, kept, dropped int) {
	WindowMessages.WithLabelValues(mode, "kept").Add(float64(kept))
	WindowMessages.WithLabelValues(mode, "dropped").Add(float64(dropped))
}

func RecordLLM(purpose string, started time.Time) {
	LLMLatency.WithLabelValues(purpose).Observe(time.Since(started).Seconds())
}

func RecordSummary(outcome string) { Summaries.WithLabelValues(outcome).Inc() }

func RecordBatch(started time.Time) {
	BatchDuration.Observe(time.Since(started).Seconds())
	LastBatch.SetToCurrentTime()
}

// Handler serves the default registry.
func Handler() http.Handler { return promhttp.Handler() }
