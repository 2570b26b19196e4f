package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeIssued labels evaluations that produced a decision.
	OutcomeIssued = "issued"
	// OutcomeRefused labels evaluations that ended in a governed refusal.
	OutcomeRefused = "refused"
	// OutcomeCached labels evaluations answered from the topic snapshot.
	OutcomeCached = "cached"
)

var (
	evaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "verdict",
			Name:      "evaluations_total",
			Help:      "Total evaluations handled, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	evaluationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "verdict",
			Name:      "evaluation_seconds",
			Help:      "End-to-end evaluation latency in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30},
		},
	)

	generationAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "verdict",
			Name:      "generation_attempts_total",
			Help:      "Engine generation attempts, partitioned by result.",
		},
		[]string{"result"},
	)

	snapshotEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "verdict",
			Name:      "snapshot_events_total",
			Help:      "Snapshot cache events: hit, miss, stale, locked, store, invalidate.",
		},
		[]string{"event"},
	)
)

// Register attaches the gateway collectors to the supplied registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		evaluationsTotal,
		evaluationSeconds,
		generationAttemptsTotal,
		snapshotEventsTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveEvaluation records one evaluation's duration and outcome label.
func ObserveEvaluation(duration time.Duration, outcome string) {
	evaluationsTotal.WithLabelValues(outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	evaluationSeconds.Observe(duration.Seconds())
}

// CountGenerationAttempt records one engine call by result label
// (ok, rejected, error).
func CountGenerationAttempt(result string) {
	generationAttemptsTotal.WithLabelValues(result).Inc()
}

// CountSnapshotEvent records one snapshot cache event.
func CountSnapshotEvent(event string) {
	snapshotEventsTotal.WithLabelValues(event).Inc()
}
