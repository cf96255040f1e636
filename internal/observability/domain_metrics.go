package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Ask outcomes, one per pipeline stage that can end a request.
const (
	AskOutcomeSuccess         = "success"
	AskOutcomeGenerationError = "generation_failed"
	AskOutcomeUnsafe          = "unsafe_sql"
	AskOutcomeExecutionError  = "execution_failed"
)

var (
	datasetsIngestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querylens_datasets_ingested_total",
			Help: "Total number of dataset uploads by source format and result.",
		},
		[]string{"format", "result"},
	)
	datasetRowsIngestedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "querylens_dataset_rows_ingested_total",
			Help: "Total number of rows loaded into dataset tables.",
		},
	)
	datasetsDeletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "querylens_datasets_deleted_total",
			Help: "Total number of datasets deleted.",
		},
	)
	asksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querylens_asks_total",
			Help: "Total number of natural-language questions by outcome.",
		},
		[]string{"outcome"},
	)
	generationLatencyMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "querylens_generation_latency_ms",
			Help:    "Latency of SQL generation calls in milliseconds.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2000, 5000, 10000, 20000},
		},
	)
	executionLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "querylens_execution_latency_ms",
			Help:    "Latency of warehouse query execution in milliseconds.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 300, 1000, 3000, 10000},
		},
		[]string{"mode"},
	)
	unsafeSQLTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "querylens_unsafe_sql_total",
			Help: "Total number of statements rejected by the SQL guard.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		datasetsIngestedTotal,
		datasetRowsIngestedTotal,
		datasetsDeletedTotal,
		asksTotal,
		generationLatencyMs,
		executionLatencyMs,
		unsafeSQLTotal,
	)
}

func ObserveDatasetIngest(format string, rows int64, err error) {
	result := "success"
	if err != nil {
		result = "failed"
	}
	datasetsIngestedTotal.WithLabelValues(format, result).Inc()
	if err == nil && rows > 0 {
		datasetRowsIngestedTotal.Add(float64(rows))
	}
}

func IncrementDatasetDeleted() {
	datasetsDeletedTotal.Inc()
}

func ObserveAsk(outcome string) {
	asksTotal.WithLabelValues(outcome).Inc()
	if outcome == AskOutcomeUnsafe {
		unsafeSQLTotal.Inc()
	}
}

func ObserveGenerationLatency(elapsed time.Duration) {
	generationLatencyMs.Observe(float64(elapsed.Milliseconds()))
}

// ObserveExecutionLatency records warehouse time; mode is "ask", "replay" or
// "report".
func ObserveExecutionLatency(mode string, elapsed time.Duration) {
	executionLatencyMs.WithLabelValues(mode).Observe(float64(elapsed) / float64(time.Millisecond))
}
