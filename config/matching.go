package config

import "time"

type DistributionStrategy string

const (
	StrategyRoundRobin  DistributionStrategy = "round_robin"
	StrategyLeastLoaded DistributionStrategy = "least_loaded"
	StrategyRandom      DistributionStrategy = "random"
)

// Matching holds every operator switch of the distribution engine. All
// fields are read per-operation so changes take effect without a restart.
type Matching struct {
	// Enabled is the master switch; when off no automatic matching,
	// rebalancing or redistribution happens at all.
	Enabled bool `json:"enabled"`

	// MaxDelivererCapacity bounds a deliverer's simultaneously active
	// (pending/partial) responses.
	MaxDelivererCapacity int `json:"max_deliverer_capacity"`

	// CapacityEnabled gates the capacity/fairness logic; when off the
	// first structurally compatible match wins.
	CapacityEnabled bool `json:"capacity_enabled"`

	Strategy DistributionStrategy `json:"distribution_strategy"`

	// RebalancingEnabled turns off the post-acceptance overload
	// correction when false.
	RebalancingEnabled bool `json:"rebalancing_enabled"`

	// RedistributionEnabled turns off re-routing of declined matches,
	// leaving manual intervention as the only recovery path.
	RedistributionEnabled bool `json:"redistribution_enabled"`

	// AutoRejectNoAlternative controls what happens to an excess response
	// when no alternative deliverer exists: reject it outright, or leave
	// it pending for an operator.
	AutoRejectNoAlternative bool `json:"auto_reject_no_alternative"`

	// FairnessIndexTTL is the time-to-live of the shared rotating index.
	FairnessIndexTTL time.Duration `json:"fairness_index_ttl"`
}
