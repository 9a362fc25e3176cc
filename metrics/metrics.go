package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics covers the distribution engine's observable events. Capacity
// exhaustion is counted rather than treated as an error.
type Metrics struct {
	MatchesCreated *prometheus.CounterVec // initiator=deliverer|sender
	PartyActions   *prometheus.CounterVec // role, action
	MatchesSealed  prometheus.Counter
	Rebalanced     prometheus.Counter
	Redistributed  *prometheus.CounterVec // outcome=reassigned|rejected
	CapacityMisses prometheus.Counter
	NotifyFailures prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		MatchesCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parcelbroker_matches_created_total",
				Help: "Responses created by the matching pipeline, by initiating side",
			},
			[]string{"initiator"},
		),
		PartyActions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parcelbroker_party_actions_total",
				Help: "Accept/reject actions applied to responses",
			},
			[]string{"role", "action"},
		),
		MatchesSealed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parcelbroker_matches_sealed_total",
			Help: "Responses that reached full dual acceptance",
		}),
		Rebalanced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parcelbroker_responses_rebalanced_total",
			Help: "Excess responses moved off an over-capacity deliverer",
		}),
		Redistributed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parcelbroker_responses_redistributed_total",
				Help: "Declined or excess matches re-routed, by outcome",
			},
			[]string{"outcome"},
		),
		CapacityMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parcelbroker_capacity_misses_total",
			Help: "Matching attempts that found every compatible deliverer at capacity",
		}),
		NotifyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parcelbroker_notify_failures_total",
			Help: "Notification deliveries that exhausted their retries",
		}),
	}
	return m
}

// Register attaches all collectors to the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) {
	reg.MustRegister(
		m.MatchesCreated,
		m.PartyActions,
		m.MatchesSealed,
		m.Rebalanced,
		m.Redistributed,
		m.CapacityMisses,
		m.NotifyFailures,
	)
}
