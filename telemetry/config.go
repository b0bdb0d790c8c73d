// Package telemetry turns noisy, irregularly-timed raw sensor counters into
// a stable stream of speed, cumulative distance and cadence. It owns the
// decode→differentiate→filter→accumulate pipeline; transport, persistence
// and display are injected collaborators.
package telemetry

import "time"

// DefaultWheelCircumference is tuned to exercise-bike-scale wheel
// simulation (~13" equivalent, half of a 26" road wheel). It is NOT a real
// outdoor wheel size; consumers must take the value from Config, never
// assume it.
const DefaultWheelCircumference = 1.0525 // meters

// DistanceMode selects how cumulative distance is integrated.
type DistanceMode int

const (
	// DistanceFromRevolutions integrates confirmed wheel revolution deltas.
	// This is the default whenever the sensor exposes a wheel counter.
	DistanceFromRevolutions DistanceMode = iota
	// DistanceFromSpeed integrates smoothed speed × elapsed time on each
	// update tick, for sensors that report a vendor speed field with no
	// revolution counter.
	DistanceFromSpeed
)

// Config holds all pipeline tuning knobs. Every field is overridable; zero
// values are not meaningful — start from DefaultConfig.
type Config struct {
	// WheelCircumferenceM converts wheel revolutions to distance.
	WheelCircumferenceM float64

	// FilterCapacity bounds the speed history buffer (FIFO eviction).
	FilterCapacity int
	// UpdateInterval is the fixed cadence at which the speed filter
	// re-evaluates, independent of sample arrival rate.
	UpdateInterval time.Duration
	// MinSpeedThresholdKmh snaps smoothed speeds below it to exactly 0.
	MinSpeedThresholdKmh float64
	// MaxAccelerationKmhPerS bounds emitted speed increases per second.
	MaxAccelerationKmhPerS float64
	// MaxDecelerationKmhPerS bounds emitted speed decreases per second.
	// Intentionally looser than acceleration: coasting and braking are
	// physically faster than pedaling up.
	MaxDecelerationKmhPerS float64
	// SmoothingAlpha is the exponential smoothing weight for new data.
	SmoothingAlpha float64
	// OutlierStdThreshold drops history entries further than this many
	// standard deviations from the mean.
	OutlierStdThreshold float64
	// MaxPlausibleSpeedKmh discards single instantaneous readings above it
	// before they ever enter the filter history. Independent of the
	// standard-deviation guard.
	MaxPlausibleSpeedKmh float64

	// FilterEnabled selects smoothed (true) or raw instantaneous (false)
	// speed on the pipeline output.
	FilterEnabled bool
	// Mode selects the distance integration source.
	Mode DistanceMode
}

// DefaultConfig returns the tuning used by the service.
func DefaultConfig() Config {
	return Config{
		WheelCircumferenceM:    DefaultWheelCircumference,
		FilterCapacity:         10,
		UpdateInterval:         time.Second,
		MinSpeedThresholdKmh:   1.0,
		MaxAccelerationKmhPerS: 2.0,
		MaxDecelerationKmhPerS: 3.0,
		SmoothingAlpha:         0.15,
		OutlierStdThreshold:    3.0,
		MaxPlausibleSpeedKmh:   50.0,
		FilterEnabled:          true,
		Mode:                   DistanceFromRevolutions,
	}
}
