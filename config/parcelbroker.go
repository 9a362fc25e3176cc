package config

import (
	"time"
)

type ParcelBroker struct {
	AppVersion         string   `json:"app_version"`
	DatabaseConnString string   `json:"database_conn_string"`
	RedisConnString    string   `json:"redis_conn_string"`
	ApiListen          string   `json:"api_listen"`
	Hostname           string   `json:"hostname"`
	Matching           Matching `json:"matching"`
	Jaeger             Jaeger   `json:"jaeger"`
	Logging            Logging  `json:"logging"`
}

func (cfg *ParcelBroker) Load(filename string) error {
	return load(cfg, filename)
}

func (cfg *ParcelBroker) Save(filename string) error {
	return save(cfg, filename)
}

func NewParcelBroker(appVersion string) *ParcelBroker {
	return &ParcelBroker{
		AppVersion:         appVersion,
		DatabaseConnString: "sqlite=parcelbroker.db",
		RedisConnString:    "",
		ApiListen:          ":3014",
		Hostname:           "http://localhost:3014",

		Matching: Matching{
			Enabled:                 true,
			MaxDelivererCapacity:    3,
			CapacityEnabled:         true,
			Strategy:                StrategyRoundRobin,
			RebalancingEnabled:      true,
			RedistributionEnabled:   true,
			AutoRejectNoAlternative: true,
			FairnessIndexTTL:        24 * time.Hour,
		},

		Jaeger: Jaeger{
			EnableTracing: false,
			ProviderUrl:   "http://localhost:14268/api/traces",
			SamplerRatio:  1,
		},

		Logging: Logging{
			ApiEndpointLogging: false,
		},
	}
}
