package telemetry

// Hardware revolution counters are cumulative, fixed-width and wrap at their
// maximum value. Deltas are computed in the counter's native width so a
// genuine wraparound (max value back to a small count) produces the correct
// small positive delta via unsigned arithmetic. An apparent decrease larger
// than half the counter's range is indistinguishable from wraparound and is
// treated as movement; anything else that goes backward is a spurious
// notification and yields no movement.

// Delta is the result of differencing two consecutive counter samples.
type Delta struct {
	// Revs is the revolution delta, 0 when the sample carried no forward
	// movement (duplicate or out-of-order notification).
	Revs uint32
	// Ticks is the event-time delta in 1/1024 s units, already corrected
	// for 16-bit rollover.
	Ticks uint16
}

// Moved reports whether the sample advanced the revolution counter.
func (d Delta) Moved() bool { return d.Revs > 0 }

// Usable reports whether the delta carries kinematic information: forward
// movement over a positive time interval. An unusable delta means "no new
// datapoint this sample" — callers must preserve their previous estimate,
// not reset it to zero.
func (d Delta) Usable() bool { return d.Revs > 0 && d.Ticks > 0 }

// diff32 computes a 32-bit revolution delta with wraparound correction.
// Deltas of half the range or more are spurious backward jumps, not
// wraparound, and count as no movement.
func diff32(prev, cur uint32) uint32 {
	d := cur - prev
	if d >= 1<<31 {
		return 0
	}
	return d
}

// diff16 is diff32 for 16-bit crank counters.
func diff16(prev, cur uint16) uint16 {
	d := cur - prev
	if d >= 1<<15 {
		return 0
	}
	return d
}

// timeDelta16 computes the event-time delta. The counter is 16-bit in units
// of 1/1024 s regardless of the revolution counter's width; native uint16
// subtraction adds the 65536 modulus on rollover.
func timeDelta16(prev, cur uint16) uint16 {
	return cur - prev
}

// WheelCounter differences consecutive 32-bit wheel revolution samples for
// one sensor stream. Not safe for concurrent use; the owning pipeline
// serializes updates.
type WheelCounter struct {
	revs      uint32
	eventTime uint16
	seeded    bool
}

// Update records a new (revolutions, event time) sample and returns the
// delta against the previous one. The first sample only seeds state and
// returns ok=false.
func (c *WheelCounter) Update(revs uint32, eventTime uint16) (Delta, bool) {
	if !c.seeded {
		c.revs, c.eventTime, c.seeded = revs, eventTime, true
		return Delta{}, false
	}

	d := Delta{
		Revs:  diff32(c.revs, revs),
		Ticks: timeDelta16(c.eventTime, eventTime),
	}
	c.revs, c.eventTime = revs, eventTime
	return d, true
}

// CrankCounter differences consecutive 16-bit crank revolution samples for
// one sensor stream.
type CrankCounter struct {
	revs      uint16
	eventTime uint16
	seeded    bool
}

// Update records a new crank sample; see WheelCounter.Update.
func (c *CrankCounter) Update(revs uint16, eventTime uint16) (Delta, bool) {
	if !c.seeded {
		c.revs, c.eventTime, c.seeded = revs, eventTime, true
		return Delta{}, false
	}

	d := Delta{
		Revs:  uint32(diff16(c.revs, revs)),
		Ticks: timeDelta16(c.eventTime, eventTime),
	}
	c.revs, c.eventTime = revs, eventTime
	return d, true
}
