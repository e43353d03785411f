package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce          sync.Once
	apiRequestsTotal      *prometheus.CounterVec
	apiLatencySeconds     *prometheus.HistogramVec
	apiErrorsTotal        *prometheus.CounterVec
	questionsServedTotal  *prometheus.CounterVec
	answersRecordedTotal  *prometheus.CounterVec
	phaseTransitionsTotal *prometheus.CounterVec
	casConflictsTotal     *prometheus.CounterVec
	completionsTotal      *prometheus.CounterVec
	reportCacheTotal      *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors used by the API.
func RegisterMetrics() {
	registerOnce.Do(func() {
		apiRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "assessment_requests_total",
			Help: "Total number of assessment API requests served.",
		}, []string{"method", "route", "status"})

		apiLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "assessment_latency_seconds",
			Help:    "Latency distribution for assessment API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		apiErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "assessment_errors_total",
			Help: "Total number of error responses returned by assessment endpoints.",
		}, []string{"method", "route", "status"})

		questionsServedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "assessment_questions_served_total",
			Help: "Questions served to learners, by subject.",
		}, []string{"subject"})

		answersRecordedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "assessment_answers_recorded_total",
			Help: "Answers recorded, by subject.",
		}, []string{"subject"})

		phaseTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "assessment_phase_transitions_total",
			Help: "Applied session transitions, by kind.",
		}, []string{"transition"})

		casConflictsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "assessment_version_conflicts_total",
			Help: "Optimistic update conflicts, by operation.",
		}, []string{"operation"})

		completionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "assessment_completions_total",
			Help: "Completed assessments, by remediation plan outcome.",
		}, []string{"plan"})

		reportCacheTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "assessment_report_cache_total",
			Help: "Placement report cache lookups, by result.",
		}, []string{"result"})

		prometheus.MustRegister(
			apiRequestsTotal,
			apiLatencySeconds,
			apiErrorsTotal,
			questionsServedTotal,
			answersRecordedTotal,
			phaseTransitionsTotal,
			casConflictsTotal,
			completionsTotal,
			reportCacheTotal,
		)
	})
}

// APIRequests exposes the counter for assessment API requests.
func APIRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return apiRequestsTotal
}

// APILatency exposes the latency histogram for assessment API requests.
func APILatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return apiLatencySeconds
}

// APIErrors exposes the counter for assessment API error responses.
func APIErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return apiErrorsTotal
}

// QuestionsServed counts served questions.
func QuestionsServed() *prometheus.CounterVec {
	RegisterMetrics()
	return questionsServedTotal
}

// AnswersRecorded counts recorded answers.
func AnswersRecorded() *prometheus.CounterVec {
	RegisterMetrics()
	return answersRecordedTotal
}

// PhaseTransitions counts applied state machine transitions.
func PhaseTransitions() *prometheus.CounterVec {
	RegisterMetrics()
	return phaseTransitionsTotal
}

// VersionConflicts counts lost optimistic updates.
func VersionConflicts() *prometheus.CounterVec {
	RegisterMetrics()
	return casConflictsTotal
}

// Completions counts completed assessments.
func Completions() *prometheus.CounterVec {
	RegisterMetrics()
	return completionsTotal
}

// ReportCache counts report cache hits and misses.
func ReportCache() *prometheus.CounterVec {
	RegisterMetrics()
	return reportCacheTotal
}
