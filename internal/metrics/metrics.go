// Package metrics exposes the runtime's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// PredictionsTotal counts winning predictions per policy.
	PredictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "converse_predictions_total",
			Help: "Winning next-action predictions, by policy",
		},
		[]string{"policy"},
	)

	// FallbackOverridesTotal counts listen/listen stalls replaced with the
	// fallback distribution.
	FallbackOverridesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "converse_fallback_overrides_total",
			Help: "Predictions overridden by the fallback policy after a listen/listen stall",
		},
	)

	// RejectionZeroingsTotal counts predictions where a just-rejected
	// action was suppressed.
	RejectionZeroingsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "converse_rejection_zeroings_total",
			Help: "Predictions with a just-rejected action zeroed out",
		},
	)

	// StoriesEvaluatedTotal counts evaluated conversations by outcome.
	StoriesEvaluatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "converse_stories_evaluated_total",
			Help: "Evaluated conversations, by outcome (passed/failed)",
		},
		[]string{"outcome"},
	)
)

// Register adds all collectors to the given registry (the default one when
// nil). Call it once from the binary that serves /metrics.
func Register(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		PredictionsTotal,
		FallbackOverridesTotal,
		RejectionZeroingsTotal,
		StoriesEvaluatedTotal,
	)
}
