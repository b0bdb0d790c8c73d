package telemetry

import (
	"math"
	"sort"
	"time"

	"github.com/gammazero/deque"
)

// SpeedFilter converts a stream of bursty instantaneous speed estimates into
// a single display-safe smoothed value, re-evaluated once per fixed update
// interval regardless of how often samples arrive.
//
// The update step runs six stages: bounded history → standard-deviation
// outlier rejection → median → acceleration/deceleration rate limiting →
// exponential smoothing → snap-to-zero below the minimum threshold.
//
// Not safe for concurrent use; the owning pipeline serializes Ingest and
// Update behind one mutex.
type SpeedFilter struct {
	cfg Config

	history     deque.Deque[float64]
	lastInstant float64
	haveInstant bool

	smoothed   float64 // last smoothed value, before floor snapping
	lastUpdate time.Time
	primed     bool // true once the first update has run
}

// NewSpeedFilter returns a filter at standstill with empty history.
func NewSpeedFilter(cfg Config) *SpeedFilter {
	return &SpeedFilter{cfg: cfg}
}

// Ingest appends a usable instantaneous speed sample to the bounded history,
// evicting the oldest entry when full. Readings above the plausibility
// ceiling are discarded before they ever touch the history; sensor glitches
// are expected telemetry, not errors.
func (f *SpeedFilter) Ingest(speedKmh float64) {
	if speedKmh > f.cfg.MaxPlausibleSpeedKmh {
		return
	}

	f.lastInstant = speedKmh
	f.haveInstant = true

	f.history.PushBack(speedKmh)
	for f.history.Len() > f.cfg.FilterCapacity {
		f.history.PopFront()
	}
}

// Update re-evaluates the filter if a full update interval has elapsed since
// the previous emission and returns the emitted speed. Between ticks it
// returns the last emitted value unchanged.
func (f *SpeedFilter) Update(now time.Time) float64 {
	if f.primed && now.Sub(f.lastUpdate) < f.cfg.UpdateInterval {
		return f.Current()
	}

	estimate := f.robustEstimate()

	// Rate limiting needs a previous emission to limit against; the very
	// first update smooths directly from the zero baseline.
	if f.primed {
		estimate = f.rateLimit(estimate, now.Sub(f.lastUpdate).Seconds())
	}

	f.smoothed = f.cfg.SmoothingAlpha*estimate + (1-f.cfg.SmoothingAlpha)*f.smoothed
	f.lastUpdate = now
	f.primed = true

	return f.Current()
}

// Current returns the last emitted speed with the zero floor applied. Always
// >= 0; values below the configured threshold read as exactly 0 so idle
// sensor noise never shows a phantom speed.
func (f *SpeedFilter) Current() float64 {
	if f.smoothed < f.cfg.MinSpeedThresholdKmh {
		return 0
	}
	return f.smoothed
}

// robustEstimate reduces the history to one working value: the median of the
// entries surviving outlier rejection. With fewer than 3 entries the latest
// instantaneous sample stands in, or 0 before any sample has arrived.
func (f *SpeedFilter) robustEstimate() float64 {
	n := f.history.Len()
	if n < 3 {
		if f.haveInstant {
			return f.lastInstant
		}
		return 0
	}

	samples := make([]float64, n)
	for i := 0; i < n; i++ {
		samples[i] = f.history.At(i)
	}

	m := mean(samples)
	sd := sampleStddev(samples, m)

	kept := make([]float64, 0, n)
	for _, s := range samples {
		if math.Abs(s-m) <= f.cfg.OutlierStdThreshold*sd {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		// Rejection emptied the set; fall back to the unfiltered mean.
		return m
	}
	return medianFloat(kept)
}

// rateLimit bounds the change from the previous smoothed value to the
// configured acceleration (increasing) or deceleration (decreasing) rate
// over the elapsed interval.
func (f *SpeedFilter) rateLimit(estimate, elapsedSec float64) float64 {
	diff := estimate - f.smoothed
	maxUp := f.cfg.MaxAccelerationKmhPerS * elapsedSec
	maxDown := f.cfg.MaxDecelerationKmhPerS * elapsedSec

	switch {
	case diff > maxUp:
		return f.smoothed + maxUp
	case diff < -maxDown:
		return f.smoothed - maxDown
	default:
		return estimate
	}
}

func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// sampleStddev is the sample (n-1) standard deviation.
func sampleStddev(values []float64, mean float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var sum float64
	for _, v := range values {
		d := v - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)-1))
}

// medianFloat resists residual skew from near-threshold outliers better
// than the mean.
func medianFloat(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
