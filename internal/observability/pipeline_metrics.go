package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	answersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_answers_total",
			Help: "Total number of answered questions by outcome.",
		},
		[]string{"outcome"},
	)
	answerDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "askdb_answer_duration_seconds",
			Help:    "End-to-end latency of a question run.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 40, 60},
		},
	)
	stageDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "askdb_stage_duration_seconds",
			Help:    "Latency of individual pipeline stages.",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"stage"},
	)
	validationRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_validation_rejections_total",
			Help: "Candidate queries rejected by the validator, by reason.",
		},
		[]string{"reason"},
	)
	completionRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_completion_requests_total",
			Help: "Text completion calls by provider and result.",
		},
		[]string{"provider", "result"},
	)
	queryRowsReturned = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "askdb_query_rows_returned",
			Help:    "Rows returned per executed query after the row cap.",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 500},
		},
	)
	queryTruncatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "askdb_query_truncated_total",
			Help: "Executed queries whose result hit the row cap.",
		},
	)
	queryFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_query_failures_total",
			Help: "Executed queries that failed, by kind.",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(
		answersTotal,
		answerDurationSeconds,
		stageDurationSeconds,
		validationRejectionsTotal,
		completionRequestsTotal,
		queryRowsReturned,
		queryTruncatedTotal,
		queryFailuresTotal,
	)
}

func ObserveAnswer(outcome string, elapsed time.Duration) {
	answersTotal.WithLabelValues(outcome).Inc()
	answerDurationSeconds.Observe(elapsed.Seconds())
}

func ObserveStage(stage string, elapsed time.Duration) {
	stageDurationSeconds.WithLabelValues(stage).Observe(elapsed.Seconds())
}

func IncrementValidationRejection(reason string) {
	validationRejectionsTotal.WithLabelValues(reason).Inc()
}

func IncrementCompletion(provider string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	completionRequestsTotal.WithLabelValues(provider, result).Inc()
}

func ObserveQueryRows(rows int, truncated bool) {
	queryRowsReturned.Observe(float64(rows))
	if truncated {
		queryTruncatedTotal.Inc()
	}
}

func IncrementQueryFailure(timeout bool) {
	kind := "error"
	if timeout {
		kind = "timeout"
	}
	queryFailuresTotal.WithLabelValues(kind).Inc()
}
