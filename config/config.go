package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/vetdispatch/core/dispatch"
	"github.com/kilianp07/vetdispatch/core/metrics"
	"github.com/kilianp07/vetdispatch/core/policy"
	"github.com/kilianp07/vetdispatch/infra/mqtt"
	"github.com/kilianp07/vetdispatch/infra/natsbus"
	"github.com/kilianp07/vetdispatch/infra/realtime"
)

type Config struct {
	HTTP     HTTPConfig      `json:"http"`
	Dispatch dispatch.Config `json:"dispatch"`
	Policy   policy.Config   `json:"policy"`
	Store    StoreConfig     `json:"store"`
	MQTT     mqtt.Config     `json:"mqtt"`
	NATS     natsbus.Config  `json:"nats"`
	Realtime realtime.Config `json:"realtime"`
	Metrics  metrics.Config  `json:"metrics"`
	Logging  LoggingConfig   `json:"logging"`
	Sentry   SentryConfig    `json:"sentry"`
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides
	if err := k.Load(env.Provider("K_", ".", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "k_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults applies the defaults of every section.
func (c *Config) SetDefaults() {
	c.HTTP.SetDefaults()
	c.Dispatch.SetDefaults()
	c.Policy.SetDefaults()
	c.Store.SetDefaults()
	c.MQTT.SetDefaults()
	c.NATS.SetDefaults()
	c.Realtime.SetDefaults()
	c.Logging.SetDefaults()
}

// Validate checks every section and prefixes errors with the section name.
func (c Config) Validate() error {
	checks := []struct {
		name string
		err  error
	}{
		{"http", c.HTTP.Validate()},
		{"dispatch", c.Dispatch.Validate()},
		{"policy", c.Policy.Validate()},
		{"store", c.Store.Validate()},
		{"mqtt", c.MQTT.Validate()},
		{"nats", c.NATS.Validate()},
		{"realtime", c.Realtime.Validate()},
		{"logging", c.Logging.Validate()},
	}
	for _, ch := range checks {
		if ch.err != nil {
			return fmt.Errorf("%s: %w", ch.name, ch.err)
		}
	}
	return nil
}
