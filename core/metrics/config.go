package metrics

import "github.com/kilianp07/vetdispatch/core/factory"

// Config defines settings for metrics sinks.
type Config struct {
	Sinks []factory.ModuleConfig `json:"sinks"`
	// PrometheusPort exposes /metrics on its own listener when set.
	PrometheusPort string `json:"prometheus_port"`
}
