package maintenance

import "github.com/prometheus/client_golang/prometheus"

var (
	reconcileRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querylens_reconcile_runs_total",
			Help: "Total number of warehouse reconcile runs by status.",
		},
		[]string{"status"},
	)
	orphanTablesDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "querylens_orphan_tables_dropped_total",
			Help: "Total number of warehouse tables dropped because no dataset owned them.",
		},
	)
	missingTablesGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "querylens_dataset_tables_missing",
			Help: "Datasets whose warehouse table was absent at the last reconcile.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		reconcileRunsTotal,
		orphanTablesDroppedTotal,
		missingTablesGauge,
	)
}
