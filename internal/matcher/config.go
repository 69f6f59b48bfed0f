package matcher

import "fmt"

// Config holds the matching policy knobs.
type Config struct {
	// DateWindowDays is the inclusive calendar-day window, in either
	// direction, within which an amount-equal ledger transaction counts
	// as a probable match. Exact matches always require the same day.
	DateWindowDays int `json:"date_window_days"`
}

// DefaultConfig returns the standard matching policy: a 3-day probable
// window.
func DefaultConfig() *Config {
	return &Config{DateWindowDays: 3}
}

// Validate checks the matching configuration.
func (c *Config) Validate() error {
	if c.DateWindowDays < 0 {
		return fmt.Errorf("date window cannot be negative, got %d", c.DateWindowDays)
	}
	return nil
}

// Clone returns a copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}
