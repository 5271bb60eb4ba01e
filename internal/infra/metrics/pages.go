package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(pagesRenderedTotal, pagesAnalyzedTotal, pageAnalysisFailuresTotal) }

var (
	pagesRenderedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "index_pages_rendered_total",
			Help: "Total pages rendered and persisted.",
		},
	)

	pagesAnalyzedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "index_pages_analyzed_total",
			Help: "Total pages with a persisted analysis result.",
		},
	)

	pageAnalysisFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "index_page_analysis_failures_total",
			Help: "Analysis calls that failed and left the page unanalyzed.",
		},
		[]string{"reason"}, // 'timeout', 'malformed', 'error'
	)
)

func IncPageRendered()  { pagesRenderedTotal.Inc() }
func IncPageAnalyzed()  { pagesAnalyzedTotal.Inc() }
func IncPageAnalysisFailure(reason string) {
	pageAnalysisFailuresTotal.WithLabelValues(norm(reason)).Inc()
}
