package config

import (
	"errors"
	"testing"
	"time"

	"github.com/clustersim/clusterd/internal/types"
)

func validConfig() Config {
	c := Default()
	c.ID = "node1"
	return c
}

func TestValidate_Defaults(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestValidate_Violations(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing id", func(c *Config) { c.ID = "" }},
		{"port zero", func(c *Config) { c.Port = 0 }},
		{"port too high", func(c *Config) { c.Port = 70000 }},
		{"zero period", func(c *Config) { c.Detector.Period = 0 }},
		{"zero suspect threshold", func(c *Config) { c.Detector.SuspectThreshold = 0 }},
		{"dead equals suspect", func(c *Config) {
			c.Detector.SuspectThreshold = 5 * time.Second
			c.Detector.DeadThreshold = 5 * time.Second
		}},
		{"dead below suspect", func(c *Config) {
			c.Detector.SuspectThreshold = 10 * time.Second
			c.Detector.DeadThreshold = 5 * time.Second
		}},
		{"negative retention", func(c *Config) { c.Detector.DeadRetention = -time.Second }},
		{"inverted election range", func(c *Config) {
			c.Timing.ElectionTimeoutMin = 300 * time.Millisecond
			c.Timing.ElectionTimeoutMax = 150 * time.Millisecond
		}},
		{"zero heartbeat", func(c *Config) { c.Timing.HeartbeatInterval = 0 }},
		{"bad strategy", func(c *Config) { c.Strategy = types.Strategy("random_fit") }},
		{"zero reschedule", func(c *Config) { c.RescheduleInterval = 0 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := validConfig()
			tc.mutate(&c)
			err := c.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}
