package config

import "fmt"

// HTTPConfig configures the request-response surface.
type HTTPConfig struct {
	Address string `json:"address"`
	// JWTSecret signs and verifies HS256 actor tokens.
	JWTSecret          string `json:"jwt_secret"`
	ReadTimeoutSeconds int    `json:"read_timeout_seconds"`
}

// SetDefaults applies sane defaults.
func (c *HTTPConfig) SetDefaults() {
	if c.Address == "" {
		c.Address = ":8080"
	}
	if c.ReadTimeoutSeconds == 0 {
		c.ReadTimeoutSeconds = 10
	}
}

// Validate checks mandatory fields.
func (c HTTPConfig) Validate() error {
	if len(c.JWTSecret) < 16 {
		return fmt.Errorf("jwt_secret must be at least 16 characters")
	}
	if c.ReadTimeoutSeconds < 0 {
		return fmt.Errorf("read_timeout_seconds must not be negative")
	}
	return nil
}
