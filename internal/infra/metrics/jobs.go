package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(indexJobsFinishedTotal, indexJobsResumedTotal, documentsProcessedTotal) }

var indexJobsFinishedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "index_jobs_finished_total",
		Help: "Total number of indexing jobs that reached a terminal status.",
	},
	[]string{"status"}, // 'complete', 'failed', 'cancelled'
)

var indexJobsResumedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "index_jobs_resumed_total",
		Help: "Total number of in-progress jobs re-invoked after a restart.",
	},
)

var documentsProcessedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "index_documents_processed_total",
		Help: "Total documents the orchestrator finished, labeled by outcome.",
	},
	[]string{"status"}, // 'ready', 'failed'
)

func IncJobFinished(status string) {
	indexJobsFinishedTotal.WithLabelValues(norm(status)).Inc()
}

func IncJobResumed() { indexJobsResumedTotal.Inc() }

func IncDocumentProcessed(status string) {
	documentsProcessedTotal.WithLabelValues(norm(status)).Inc()
}
