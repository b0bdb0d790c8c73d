package telemetry

import (
	"math"
	"testing"
)

func TestSpeedKmh(t *testing.T) {
	// 10 revolutions over 1024 ticks (1 s) at 1.0525 m circumference:
	// 10 × 1.0525 / 1.0 × 3.6 = 37.89 km/h
	got := SpeedKmh(Delta{Revs: 10, Ticks: 1024}, 1.0525)
	if math.Abs(got-37.89) > 0.001 {
		t.Errorf("expected 37.89 km/h, got %.4f", got)
	}
}

func TestSpeedKmhHalfSecond(t *testing.T) {
	// Same distance over half the time doubles the speed.
	got := SpeedKmh(Delta{Revs: 10, Ticks: 512}, 1.0525)
	if math.Abs(got-75.78) > 0.001 {
		t.Errorf("expected 75.78 km/h, got %.4f", got)
	}
}

func TestCadenceRPM(t *testing.T) {
	// 2 crank revolutions in 1024 ticks (1 s) = 120 RPM.
	got := CadenceRPM(Delta{Revs: 2, Ticks: 1024})
	if math.Abs(got-120) > 0.001 {
		t.Errorf("expected 120 RPM, got %.4f", got)
	}
}
