package config

type Logging struct {
	ApiEndpointLogging bool `json:"api_endpoint_logging"`
}
