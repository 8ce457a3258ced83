package sim

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidConfig marks a simulation configuration that cannot run.
var ErrInvalidConfig = errors.New("invalid simulation config")

// Config groups the engine parameters.
type Config struct {
	Horizon          int64   `yaml:"horizon"`            // seconds; departures after it are not admitted
	WalkingSpeedKmph float64 `yaml:"walking_speed_kmph"` // converts walk distances into delays
	MaxWalkKm        float64 `yaml:"max_walk_km"`        // per-leg walking limit
	MaxTotalWalkKm   float64 `yaml:"max_total_walk_km"`  // combined walking limit (0 = disabled)
	SnapshotInterval int64   `yaml:"snapshot_interval"`  // seconds between availability snapshots (0 = disabled)
	StartHour        int     `yaml:"start_hour"`         // wall-clock hour at simulated t=0
	TraceTransitions bool    `yaml:"trace_transitions"`  // keep a global transition trace
}

// DefaultConfig returns the configuration used when no overrides are given:
// one simulated day starting at 06:00 with hourly snapshots.
func DefaultConfig() Config {
	return Config{
		Horizon:          24 * 3600,
		WalkingSpeedKmph: 5.0,
		MaxWalkKm:        1.0,
		MaxTotalWalkKm:   2.0,
		SnapshotInterval: 3600,
		StartHour:        6,
	}
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.Horizon <= 0 {
		return fmt.Errorf("%w: horizon must be positive, got %d", ErrInvalidConfig, c.Horizon)
	}
	if err := validateFinitePositive("walking_speed_kmph", c.WalkingSpeedKmph); err != nil {
		return err
	}
	if err := validateFinitePositive("max_walk_km", c.MaxWalkKm); err != nil {
		return err
	}
	if c.MaxTotalWalkKm < 0 || math.IsNaN(c.MaxTotalWalkKm) {
		return fmt.Errorf("%w: max_total_walk_km must be non-negative, got %f", ErrInvalidConfig, c.MaxTotalWalkKm)
	}
	if c.SnapshotInterval < 0 {
		return fmt.Errorf("%w: snapshot_interval must be non-negative, got %d", ErrInvalidConfig, c.SnapshotInterval)
	}
	if c.StartHour < 0 || c.StartHour > 23 {
		return fmt.Errorf("%w: start_hour must be in [0, 23], got %d", ErrInvalidConfig, c.StartHour)
	}
	return nil
}

// HourOfDay maps a simulated timestamp onto the wall-clock hour.
func (c Config) HourOfDay(clock int64) int {
	return int((int64(c.StartHour) + clock/3600) % 24)
}

func validateFinitePositive(name string, val float64) error {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return fmt.Errorf("%w: %s must be a finite number, got %f", ErrInvalidConfig, name, val)
	}
	if val <= 0 {
		return fmt.Errorf("%w: %s must be positive, got %f", ErrInvalidConfig, name, val)
	}
	return nil
}
