package throttler

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig is wrapped by every configuration validation failure.
var ErrInvalidConfig = errors.New("invalid throttler configuration")

// Config holds the allocation knobs. All values are percentages in [0,100]
// and stay fixed for the lifetime of a Strategy.
type Config struct {
	// OnDemandReservationPercent is the share of the free budget kept for
	// on-demand tasks.
	OnDemandReservationPercent int `yaml:"on_demand_reservation_percent" json:"on_demand_reservation_percent"`
	// ReservationPercent is held back from the provider quota entirely.
	ReservationPercent int `yaml:"reservation_percent" json:"reservation_percent"`
	// AggressiveThrottlingPercent is the quota usage at which remote calls
	// start being spread over the rest of the window.
	AggressiveThrottlingPercent int `yaml:"aggressive_throttling_percent" json:"aggressive_throttling_percent"`
}

// DefaultConfig mirrors the values the service ships with.
func DefaultConfig() Config {
	return Config{
		OnDemandReservationPercent:  50,
		ReservationPercent:          10,
		AggressiveThrottlingPercent: 90,
	}
}

func (c Config) Validate() error {
	for _, f := range []struct {
		name  string
		value int
	}{
		{"on_demand_reservation_percent", c.OnDemandReservationPercent},
		{"reservation_percent", c.ReservationPercent},
		{"aggressive_throttling_percent", c.AggressiveThrottlingPercent},
	} {
		if f.value < 0 || f.value > 100 {
			return fmt.Errorf("%w: %s must be between 0 and 100, got %d", ErrInvalidConfig, f.name, f.value)
		}
	}
	return nil
}
