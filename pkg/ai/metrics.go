package ai

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	generationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "adeline",
		Subsystem: "ai",
		Name:      "plan_generation_duration_seconds",
		Help:      "Duration of remediation plan generation requests",
	}, []string{"provider", "model"})

	generationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "adeline",
		Subsystem: "ai",
		Name:      "plan_generation_failures_total",
		Help:      "Number of remediation plan generation failures",
	}, []string{"provider", "model"})
)
