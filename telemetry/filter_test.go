package telemetry

import (
	"math"
	"testing"
	"time"
)

func TestFilterColdStart(t *testing.T) {
	f := NewSpeedFilter(DefaultConfig())
	now := time.Now()

	// One usable sample, first-ever update: conservative smoothing from the
	// zero baseline, no rate limiting to apply yet.
	f.Ingest(37.89)
	got := f.Update(now)

	want := 0.15 * 37.89 // ≈ 5.68
	if math.Abs(got-want) > 0.01 {
		t.Errorf("expected ≈%.2f km/h on first tick, got %.4f", want, got)
	}
}

func TestFilterNoSamplesEmitsZero(t *testing.T) {
	f := NewSpeedFilter(DefaultConfig())
	if got := f.Update(time.Now()); got != 0 {
		t.Errorf("expected 0 with no samples, got %.4f", got)
	}
}

func TestFilterFloorSnap(t *testing.T) {
	f := NewSpeedFilter(DefaultConfig())
	now := time.Now()

	// A constant sub-threshold stream must emit exactly 0.0, never a small
	// positive residual.
	for i := 0; i < 30; i++ {
		f.Ingest(0.3)
		now = now.Add(time.Second)
		if got := f.Update(now); got != 0.0 {
			t.Fatalf("tick %d: expected exactly 0.0, got %v", i, got)
		}
	}
}

func TestFilterAccelerationRateLimit(t *testing.T) {
	f := NewSpeedFilter(DefaultConfig())
	now := time.Now()

	// Previous emitted speed 10 km/h, robust estimate 30 km/h one second
	// later: the pre-smoothing value is capped at 10 + 2.0×1 = 12.
	f.smoothed = 10
	f.primed = true
	f.lastUpdate = now
	for i := 0; i < 3; i++ {
		f.Ingest(30)
	}

	got := f.Update(now.Add(time.Second))

	want := 0.15*12 + 0.85*10 // smoothing applied to the rate-limited 12
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("expected %.4f, got %.4f", want, got)
	}
}

func TestFilterDecelerationRateLimit(t *testing.T) {
	cfg := DefaultConfig()
	f := NewSpeedFilter(cfg)
	now := time.Now()

	// Deceleration bound is looser than acceleration: 10 → 0 over one
	// second is capped at 10 − 3.0×1 = 7 before smoothing.
	f.smoothed = 10
	f.primed = true
	f.lastUpdate = now
	for i := 0; i < 3; i++ {
		f.Ingest(0)
	}

	got := f.Update(now.Add(time.Second))

	want := 0.15*7 + 0.85*10
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("expected %.4f, got %.4f", want, got)
	}
}

func TestFilterRobustEstimateMedian(t *testing.T) {
	f := NewSpeedFilter(DefaultConfig())
	for _, v := range []float64{10, 10, 11, 9, 10, 200} {
		f.history.PushBack(v)
	}

	// The burst reading must not drag the estimate off the median.
	if got := f.robustEstimate(); got != 10 {
		t.Errorf("expected median 10, got %v", got)
	}
}

func TestFilterRobustEstimateFewSamples(t *testing.T) {
	f := NewSpeedFilter(DefaultConfig())
	f.Ingest(15)
	f.Ingest(20)

	if got := f.robustEstimate(); got != 20 {
		t.Errorf("expected latest instantaneous sample 20, got %v", got)
	}
}

func TestFilterPlausibilityCeiling(t *testing.T) {
	f := NewSpeedFilter(DefaultConfig())

	f.Ingest(60) // above the 50 km/h ceiling
	if f.history.Len() != 0 {
		t.Error("implausible reading must never enter the history")
	}

	f.Ingest(45)
	if f.history.Len() != 1 {
		t.Error("plausible reading must be kept")
	}
}

func TestFilterHistoryCapacity(t *testing.T) {
	cfg := DefaultConfig()
	f := NewSpeedFilter(cfg)

	for i := 0; i < 25; i++ {
		f.Ingest(float64(i % 40))
	}
	if f.history.Len() != cfg.FilterCapacity {
		t.Errorf("expected history bounded at %d, got %d", cfg.FilterCapacity, f.history.Len())
	}
}

func TestFilterHoldsBetweenTicks(t *testing.T) {
	f := NewSpeedFilter(DefaultConfig())
	now := time.Now()

	f.Ingest(20)
	first := f.Update(now)

	// New samples between ticks must not change the emitted value.
	f.Ingest(40)
	if got := f.Update(now.Add(300 * time.Millisecond)); got != first {
		t.Errorf("expected held value %.4f between ticks, got %.4f", first, got)
	}

	if got := f.Update(now.Add(time.Second)); got == first {
		t.Error("expected re-evaluation after a full interval")
	}
}

func TestFilterCurrentNonNegative(t *testing.T) {
	f := NewSpeedFilter(DefaultConfig())
	if f.Current() != 0 {
		t.Error("fresh filter must read 0")
	}

	f.smoothed = 0.4 // below floor
	if f.Current() != 0 {
		t.Error("sub-threshold value must read exactly 0 between ticks too")
	}
}

func TestMedianFloat(t *testing.T) {
	cases := []struct {
		in   []float64
		want float64
	}{
		{[]float64{9, 10, 10, 10, 11}, 10},
		{[]float64{1, 2, 3, 4}, 2.5},
		{[]float64{5}, 5},
	}
	for _, c := range cases {
		if got := medianFloat(c.in); got != c.want {
			t.Errorf("median(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}
