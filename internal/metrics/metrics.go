// Package metrics exposes the pipeline's Prometheus instrumentation.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WorkflowsStarted counts admitted workflow instances.
	WorkflowsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "soundbuttons",
		Name:      "workflows_started_total",
		Help:      "Workflow instances admitted for execution.",
	})

	// WorkflowsFinished counts finished instances by outcome.
	WorkflowsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "soundbuttons",
		Name:      "workflows_finished_total",
		Help:      "Workflow instances finished, labeled by outcome.",
	}, []string{"outcome"})

	stepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "soundbuttons",
		Name:      "step_duration_seconds",
		Help:      "Wall-clock duration of workflow steps.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"step"})
)

// ObserveStep records one step execution.
func ObserveStep(step string, d time.Duration) {
	stepDuration.WithLabelValues(step).Observe(d.Seconds())
}
