package telemetry

import "testing"

func TestWheelCounterWraparound(t *testing.T) {
	var c WheelCounter

	if _, ok := c.Update(4294967290, 0); ok {
		t.Fatal("first sample must only seed state")
	}

	d, ok := c.Update(5, 1024)
	if !ok {
		t.Fatal("second sample must produce a delta")
	}
	if d.Revs != 11 {
		t.Errorf("expected wraparound delta 11, got %d", d.Revs)
	}
	if !d.Usable() {
		t.Error("wraparound delta with positive time must be usable")
	}
}

func TestEventTimeRollover(t *testing.T) {
	var c WheelCounter
	c.Update(100, 65000)

	d, ok := c.Update(110, 100)
	if !ok {
		t.Fatal("expected a delta")
	}
	if d.Ticks != 636 {
		t.Errorf("expected time delta 636 (100 - 65000 + 65536), got %d", d.Ticks)
	}
}

func TestCrankCounterWraparound(t *testing.T) {
	var c CrankCounter
	c.Update(65530, 1000)

	d, ok := c.Update(4, 2024)
	if !ok {
		t.Fatal("expected a delta")
	}
	if d.Revs != 10 {
		t.Errorf("expected 16-bit wraparound delta 10, got %d", d.Revs)
	}
}

func TestDuplicateNotification(t *testing.T) {
	var c WheelCounter
	c.Update(1000, 5000)

	d, ok := c.Update(1000, 5000)
	if !ok {
		t.Fatal("expected a delta result")
	}
	if d.Moved() {
		t.Error("duplicate notification must not count as movement")
	}
	if d.Usable() {
		t.Error("duplicate notification must not be usable")
	}
}

func TestSpuriousBackwardJump(t *testing.T) {
	var c WheelCounter
	c.Update(1000, 5000)

	// A decrease of less than half the range is a backward jump, not a
	// wraparound; it must read as no movement.
	d, _ := c.Update(900, 6024)
	if d.Moved() {
		t.Errorf("backward jump must not count as movement, got delta %d", d.Revs)
	}
}

func TestZeroTimeDeltaUnusable(t *testing.T) {
	var c WheelCounter
	c.Update(1000, 5000)

	d, _ := c.Update(1010, 5000)
	if !d.Moved() {
		t.Error("revolutions advanced")
	}
	if d.Usable() {
		t.Error("zero time delta must not be usable")
	}
}
