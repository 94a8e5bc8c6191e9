// Package metrics exposes Prometheus counters for the challenge lifecycle.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts challenge lifecycle activity.
type Metrics struct {
	ChallengesCreated   prometheus.Counter
	TeardownsDispatched *prometheus.CounterVec
	SagaBranchFailures  *prometheus.CounterVec
	WinnerPayouts       prometheus.Counter
}

// New registers the challenge metrics on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ChallengesCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "rally_challenges_created_total",
			Help: "Challenges successfully created.",
		}),
		TeardownsDispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rally_challenge_teardowns_dispatched_total",
			Help: "Teardown sagas dispatched, by outcome.",
		}, []string{"outcome"}),
		SagaBranchFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rally_challenge_saga_branch_failures_total",
			Help: "Teardown saga branches that settled with a failure, by branch.",
		}, []string{"branch"}),
		WinnerPayouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "rally_challenge_winner_payouts_total",
			Help: "Winner payouts applied by the teardown saga.",
		}),
	}
}

// NewNop returns metrics backed by an isolated registry, for tests and
// callers that do not export metrics.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
