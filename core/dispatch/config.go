package dispatch

import (
	"fmt"
	"time"
)

// Config defines dispatch-related settings.
type Config struct {
	// OfferTTLSeconds bounds how long a candidate may hold an offer.
	OfferTTLSeconds int `json:"offer_ttl_seconds"`
	// AverageSpeedKmh drives the ETA shown to candidates.
	AverageSpeedKmh float64 `json:"average_speed_kmh"`
	// ExpiryMaxRetries is the number of retries of a failed expiry callback
	// before the failure is reported to monitoring.
	ExpiryMaxRetries     int `json:"expiry_max_retries"`
	ExpiryRetryBackoffMs int `json:"expiry_retry_backoff_ms"`
	NotifyTimeoutMs      int `json:"notify_timeout_ms"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.OfferTTLSeconds == 0 {
		c.OfferTTLSeconds = 60
	}
	if c.AverageSpeedKmh == 0 {
		c.AverageSpeedKmh = 30
	}
	if c.ExpiryMaxRetries == 0 {
		c.ExpiryMaxRetries = 3
	}
	if c.ExpiryRetryBackoffMs == 0 {
		c.ExpiryRetryBackoffMs = 200
	}
	if c.NotifyTimeoutMs == 0 {
		c.NotifyTimeoutMs = 2000
	}
}

// Validate checks the settings.
func (c Config) Validate() error {
	if c.OfferTTLSeconds <= 0 {
		return fmt.Errorf("offer_ttl_seconds must be positive")
	}
	if c.AverageSpeedKmh <= 0 {
		return fmt.Errorf("average_speed_kmh must be positive")
	}
	if c.ExpiryMaxRetries < 0 || c.ExpiryRetryBackoffMs < 0 {
		return fmt.Errorf("expiry retry settings must not be negative")
	}
	return nil
}

func (c Config) OfferTTL() time.Duration {
	return time.Duration(c.OfferTTLSeconds) * time.Second
}

func (c Config) retryBackoff(attempt int) time.Duration {
	return time.Duration(c.ExpiryRetryBackoffMs) * time.Millisecond << attempt
}

func (c Config) notifyTimeout() time.Duration {
	return time.Duration(c.NotifyTimeoutMs) * time.Millisecond
}
