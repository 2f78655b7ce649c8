package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/clustersim/clusterd/internal/types"
)

// ErrInvalidConfig is returned when startup configuration fails
// validation. It is the only process-fatal error condition.
var ErrInvalidConfig = errors.New("invalid config")

// DetectorConfig holds failure detector timing parameters.
type DetectorConfig struct {
	// Period is how often the detector sweeps the registry.
	Period time.Duration
	// SuspectThreshold is how long without a heartbeat before a node
	// moves alive -> suspect.
	SuspectThreshold time.Duration
	// DeadThreshold is how long without a heartbeat before a node
	// moves suspect -> dead. Must exceed SuspectThreshold.
	DeadThreshold time.Duration
	// DeadRetention is how long a dead node stays listed before the
	// registry evicts it.
	DeadRetention time.Duration
}

// TimingConfig holds election and replication heartbeat timing.
type TimingConfig struct {
	ElectionTimeoutMin time.Duration
	ElectionTimeoutMax time.Duration
	HeartbeatInterval  time.Duration
}

// Config is the full startup configuration for a clusterd node.
type Config struct {
	ID       types.NodeID
	Addr     string // advertised address for peers
	Port     int
	Peers    map[types.NodeID]string
	DBPath   string // bolt file; empty means in-memory stores
	Strategy types.Strategy
	// RescheduleInterval is how often the leader retries placement of
	// pending pods.
	RescheduleInterval time.Duration

	Detector DetectorConfig
	Timing   TimingConfig
}

// Default returns the configuration used when no flags override it.
func Default() Config {
	return Config{
		Port:               5001,
		Strategy:           types.BestFit,
		RescheduleInterval: 15 * time.Second,
		Detector: DetectorConfig{
			Period:           1 * time.Second,
			SuspectThreshold: 5 * time.Second,
			DeadThreshold:    15 * time.Second,
			DeadRetention:    60 * time.Second,
		},
		Timing: TimingConfig{
			ElectionTimeoutMin: 150 * time.Millisecond,
			ElectionTimeoutMax: 300 * time.Millisecond,
			HeartbeatInterval:  50 * time.Millisecond,
		},
	}
}

// Validate checks the configuration and returns ErrInvalidConfig (wrapped
// with detail) on the first violation found.
func (c Config) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("%w: node id is required", ErrInvalidConfig)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, c.Port)
	}
	d := c.Detector
	if d.Period <= 0 {
		return fmt.Errorf("%w: detector period must be positive, got %v", ErrInvalidConfig, d.Period)
	}
	if d.SuspectThreshold <= 0 {
		return fmt.Errorf("%w: suspect threshold must be positive, got %v", ErrInvalidConfig, d.SuspectThreshold)
	}
	if d.DeadThreshold <= d.SuspectThreshold {
		return fmt.Errorf("%w: dead threshold %v must exceed suspect threshold %v",
			ErrInvalidConfig, d.DeadThreshold, d.SuspectThreshold)
	}
	if d.DeadRetention < 0 {
		return fmt.Errorf("%w: dead retention must not be negative, got %v", ErrInvalidConfig, d.DeadRetention)
	}
	t := c.Timing
	if t.ElectionTimeoutMin <= 0 || t.ElectionTimeoutMax <= t.ElectionTimeoutMin {
		return fmt.Errorf("%w: election timeout range [%v, %v] is not increasing",
			ErrInvalidConfig, t.ElectionTimeoutMin, t.ElectionTimeoutMax)
	}
	if t.HeartbeatInterval <= 0 {
		return fmt.Errorf("%w: heartbeat interval must be positive, got %v", ErrInvalidConfig, t.HeartbeatInterval)
	}
	if !c.Strategy.Valid() {
		return fmt.Errorf("%w: unknown strategy %q", ErrInvalidConfig, c.Strategy)
	}
	if c.RescheduleInterval <= 0 {
		return fmt.Errorf("%w: reschedule interval must be positive, got %v", ErrInvalidConfig, c.RescheduleInterval)
	}
	return nil
}
