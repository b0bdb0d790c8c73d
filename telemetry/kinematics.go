package telemetry

// SpeedKmh converts a wheel revolution delta over event-time ticks (1/1024 s
// units) into instantaneous speed in km/h. Defined only for usable deltas;
// callers must not synthesize a zero speed from an unusable one.
func SpeedKmh(d Delta, circumferenceM float64) float64 {
	seconds := float64(d.Ticks) / 1024.0
	return float64(d.Revs) * circumferenceM / seconds * 3.6
}

// CadenceRPM converts a crank revolution delta over event-time ticks into
// revolutions per minute. Defined only for usable deltas.
func CadenceRPM(d Delta) float64 {
	minutes := float64(d.Ticks) / 1024.0 / 60.0
	return float64(d.Revs) / minutes
}
