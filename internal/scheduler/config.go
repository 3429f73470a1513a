package scheduler

import (
	"time"
)

// Config holds fallbacks for jobs whose pipeline settings omit a value.
type Config struct {
	DefaultTimeout time.Duration
	Location       *time.Location
}

func DefaultConfig() Config {
	return Config{
		DefaultTimeout: 5 * time.Minute,
		Location:       time.UTC,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = defaults.DefaultTimeout
	}
	if c.Location == nil {
		c.Location = defaults.Location
	}
	return c
}
