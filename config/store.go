package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kilianp07/vetdispatch/core/model"
)

// StoreConfig selects where requests, providers and appointments live.
type StoreConfig struct {
	// Backend is "memory" or "sqlite".
	Backend string `json:"backend"`
	Path    string `json:"path"`
	// SeedFile optionally lists providers and appointments loaded at startup.
	SeedFile string `json:"seed_file"`
}

// SetDefaults applies sane defaults.
func (c *StoreConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "memory"
	}
	if c.Backend == "sqlite" && c.Path == "" {
		c.Path = "vetdispatch.db"
	}
}

// Validate checks the backend name.
func (c StoreConfig) Validate() error {
	switch c.Backend {
	case "memory", "sqlite":
		return nil
	default:
		return fmt.Errorf("unknown backend %s", c.Backend)
	}
}

// Seed is the content of a seed file.
type Seed struct {
	Providers    []model.Provider  `yaml:"providers"`
	Appointments []SeedAppointment `yaml:"appointments"`
}

// SeedAppointment is an appointment entry of a seed file. Seeded
// appointments start as scheduled.
type SeedAppointment struct {
	ID          string         `yaml:"id"`
	ProviderID  string         `yaml:"provider_id"`
	RequesterID string         `yaml:"requester_id"`
	Modality    model.Modality `yaml:"modality"`
	StartsAt    time.Time      `yaml:"starts_at"`
}

// LoadSeed reads a YAML seed file.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed: %w", err)
	}
	var s Seed
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}
	seen := make(map[string]bool, len(s.Providers))
	for i, p := range s.Providers {
		if p.ID == "" {
			return nil, fmt.Errorf("seed provider %d has no id", i)
		}
		if seen[p.ID] {
			return nil, fmt.Errorf("seed provider %s listed twice", p.ID)
		}
		seen[p.ID] = true
	}
	for i, a := range s.Appointments {
		if a.ID == "" || !seen[a.ProviderID] {
			return nil, fmt.Errorf("seed appointment %d needs an id and a seeded provider", i)
		}
	}
	return &s, nil
}
