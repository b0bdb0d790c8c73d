package telemetry

import (
	"time"

	log "github.com/sirupsen/logrus"
)

// BaselineStore persists the cumulative distance baseline across process
// restarts. Load runs once at accumulator construction; Save is called on
// confirmed increases above the last persisted value, not on every tick.
type BaselineStore interface {
	Load() (km float64, err error)
	Save(km float64) error
}

// DistanceAccumulator integrates distance into a monotonically
// non-decreasing total, seeded from an externally persisted baseline.
// Persistence failures are logged and never stall sample processing; only
// the durable checkpoint may lag the in-memory total.
//
// Not safe for concurrent use; the owning pipeline serializes access.
type DistanceAccumulator struct {
	store       BaselineStore
	totalM      float64
	persistedKm float64
}

// NewDistanceAccumulator seeds the total from the store's baseline. A load
// failure degrades to a zero baseline.
func NewDistanceAccumulator(store BaselineStore) *DistanceAccumulator {
	a := &DistanceAccumulator{store: store}
	if store == nil {
		return a
	}

	km, err := store.Load()
	if err != nil {
		log.Warnf("distance: could not load baseline, starting from zero: %v", err)
		return a
	}
	a.totalM = km * 1000
	a.persistedKm = km
	return a
}

// AddRevolutions integrates a confirmed wheel revolution delta. Callers pass
// only deltas that represent real forward movement; zero deltas are ignored.
func (a *DistanceAccumulator) AddRevolutions(revDelta uint32, circumferenceM float64) {
	if revDelta == 0 {
		return
	}
	a.add(float64(revDelta) * circumferenceM)
}

// AddSpeedInterval integrates smoothed speed over an elapsed interval, for
// the speed-only distance mode where no revolution counter exists.
func (a *DistanceAccumulator) AddSpeedInterval(speedKmh float64, elapsed time.Duration) {
	if speedKmh <= 0 || elapsed <= 0 {
		return
	}
	a.add(speedKmh / 3.6 * elapsed.Seconds())
}

// TotalKm returns the cumulative distance. Never decreases.
func (a *DistanceAccumulator) TotalKm() float64 {
	return a.totalM / 1000
}

func (a *DistanceAccumulator) add(incrementM float64) {
	if incrementM <= 0 {
		return
	}
	a.totalM += incrementM

	km := a.TotalKm()
	if a.store == nil || km <= a.persistedKm {
		return
	}
	if err := a.store.Save(km); err != nil {
		// Keep persistedKm unchanged so the next increase retries the write.
		log.Warnf("distance: baseline save failed: %v", err)
		return
	}
	a.persistedKm = km
}
