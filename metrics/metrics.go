package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	// AnalysisOutcomeTotal counts analysis results by outcome:
	// accepted, irrelevant, invalid_category, error.
	AnalysisOutcomeTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "civicreport",
		Subsystem: "intake",
		Name:      "analysis_outcome_total",
		Help:      "Total number of image analysis calls, labeled by outcome.",
	}, []string{"outcome"})

	// AnalysisDurationSeconds is the wall time of an analysis call.
	AnalysisDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "civicreport",
		Subsystem: "intake",
		Name:      "analysis_duration_seconds",
		Help:      "Time to obtain an analysis result from the analysis service.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
	})

	// SubmissionsTotal counts submit attempts by result: ok, error, rejected.
	SubmissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "civicreport",
		Subsystem: "intake",
		Name:      "submissions_total",
		Help:      "Total number of issue submissions, labeled by result.",
	}, []string{"result"})

	// VotesTotal counts vote attempts by result: ok, error, blocked.
	VotesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "civicreport",
		Subsystem: "intake",
		Name:      "votes_total",
		Help:      "Total number of vote attempts, labeled by result.",
	}, []string{"result"})

	// ActiveDrafts is the current number of registered draft pipelines.
	ActiveDrafts = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "civicreport",
		Subsystem: "intake",
		Name:      "active_drafts",
		Help:      "Current number of in-memory draft pipelines.",
	})
)

// Register registers intake metrics with the default Prometheus registry.
// Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			AnalysisOutcomeTotal,
			AnalysisDurationSeconds,
			SubmissionsTotal,
			VotesTotal,
			ActiveDrafts,
		)
	})
}
