package policy

import (
	"fmt"
	"time"

	"github.com/kilianp07/vetdispatch/core/model"
)

// Config defines the provider cancellation windows.
type Config struct {
	HardLimitMinutes  int `json:"hard_limit_minutes"`
	ClinicWindowHours int `json:"clinic_window_hours"`
	HomeWindowHours   int `json:"home_window_hours"`
	TeleWindowHours   int `json:"tele_window_hours"`
}

// SetDefaults applies the production windows.
func (c *Config) SetDefaults() {
	if c.HardLimitMinutes == 0 {
		c.HardLimitMinutes = 60
	}
	if c.ClinicWindowHours == 0 {
		c.ClinicWindowHours = 6
	}
	if c.HomeWindowHours == 0 {
		c.HomeWindowHours = 12
	}
	if c.TeleWindowHours == 0 {
		c.TeleWindowHours = 4
	}
}

// Validate checks that every window lies above the hard limit.
func (c Config) Validate() error {
	if c.HardLimitMinutes <= 0 {
		return fmt.Errorf("hard_limit_minutes must be positive")
	}
	for _, m := range []model.Modality{model.ModalityInClinic, model.ModalityHomeVisit, model.ModalityTele} {
		if c.Window(m) < c.HardLimit() {
			return fmt.Errorf("%s window shorter than hard limit", m)
		}
	}
	return nil
}

// HardLimit is the lead time under which self-service cancellation is refused.
func (c Config) HardLimit() time.Duration {
	return time.Duration(c.HardLimitMinutes) * time.Minute
}

// Window returns the on-time cancellation window for the modality.
func (c Config) Window(m model.Modality) time.Duration {
	switch m {
	case model.ModalityInClinic:
		return time.Duration(c.ClinicWindowHours) * time.Hour
	case model.ModalityTele:
		return time.Duration(c.TeleWindowHours) * time.Hour
	default:
		return time.Duration(c.HomeWindowHours) * time.Hour
	}
}
