package telemetry

import (
	"sync"
	"time"

	"cycling-telemetry/ble"
)

// Sample is the pipeline's output: the only speed safe for display and
// recording, alongside the derived cadence, cumulative distance and the
// most recent power reading (nil until a packet has reported one).
type Sample struct {
	Timestamp  time.Time `json:"timestamp"`
	SpeedKmh   float64   `json:"speed_kmh"`
	CadenceRPM float64   `json:"cadence_rpm"`
	DistanceKm float64   `json:"distance_km"`
	PowerW     *int16    `json:"power_w,omitempty"`
}

// SampleHandler is called with a fresh sample on every update tick.
type SampleHandler func(Sample)

// Sink archives emitted samples, e.g. a FIT activity recorder. Record must
// not block on I/O.
type Sink interface {
	Record(Sample)
}

// Pipeline wires decoder, counter differencers, kinematics, speed filter and
// distance accumulator into a single sensor stream. All state is guarded by
// one mutex: counter and filter state is strictly sequential, so a
// notification ingest and a periodic tick must never interleave.
type Pipeline struct {
	mu  sync.Mutex
	cfg Config
	now func() time.Time

	wheel  WheelCounter
	crank  CrankCounter
	filter *SpeedFilter
	dist   *DistanceAccumulator

	rawSpeed float64
	cadence  float64
	power    *int16

	lastTick time.Time

	onSample SampleHandler
	sink     Sink
}

// NewPipeline builds a pipeline with the distance baseline loaded from
// store. The clock defaults to time.Now, whose monotonic reading drives rate
// limiting and tick scheduling; a time source that can jump backward would
// corrupt the rate limiter.
func NewPipeline(cfg Config, store BaselineStore) *Pipeline {
	return &Pipeline{
		cfg:    cfg,
		now:    time.Now,
		filter: NewSpeedFilter(cfg),
		dist:   NewDistanceAccumulator(store),
	}
}

// SetClock overrides the time source. Test hook; call before processing.
func (p *Pipeline) SetClock(now func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = now
}

// SetSampleHandler sets the callback invoked on every update tick.
func (p *Pipeline) SetSampleHandler(h SampleHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onSample = h
}

// SetSink sets the recording sink invoked on every update tick.
func (p *Pipeline) SetSink(s Sink) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sink = s
}

// Process handles one transport notification: decode, counter update,
// kinematics, filter ingest and distance accrual, then returns the current
// sample snapshot. A decode failure (ErrTruncated) drops the notification
// and is reported to the caller; it is never fatal to the stream.
func (p *Pipeline) Process(data []byte, kind ble.CharacteristicKind) (*Sample, error) {
	m, err := ble.Decode(data, kind)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if m.Wheel != nil {
		if d, ok := p.wheel.Update(m.Wheel.Revolutions, m.Wheel.EventTime); ok {
			if d.Usable() {
				p.rawSpeed = SpeedKmh(d, p.cfg.WheelCircumferenceM)
				p.filter.Ingest(p.rawSpeed)
			}
			if d.Moved() && p.cfg.Mode == DistanceFromRevolutions {
				p.dist.AddRevolutions(d.Revs, p.cfg.WheelCircumferenceM)
			}
		}
	}

	if m.Crank != nil {
		if d, ok := p.crank.Update(m.Crank.Revolutions, m.Crank.EventTime); ok && d.Usable() {
			p.cadence = CadenceRPM(d)
		}
	}

	// Vendor-reported fields: an FTMS speed field is an instantaneous
	// estimate like any other and goes through the same filter.
	if m.SpeedKmh != nil {
		p.rawSpeed = *m.SpeedKmh
		p.filter.Ingest(*m.SpeedKmh)
	}
	if m.CadenceRPM != nil {
		p.cadence = *m.CadenceRPM
	}
	if m.PowerW != nil {
		w := *m.PowerW
		p.power = &w
	}

	s := p.sampleLocked(p.now())
	return &s, nil
}

// Tick re-evaluates the speed filter on the fixed update cadence, integrates
// distance in speed mode, and emits a sample to the handler and sink.
func (p *Pipeline) Tick() Sample {
	p.mu.Lock()

	now := p.now()
	smoothed := p.filter.Update(now)

	speed := smoothed
	if !p.cfg.FilterEnabled {
		speed = p.rawSpeed
	}

	if p.cfg.Mode == DistanceFromSpeed && !p.lastTick.IsZero() {
		p.dist.AddSpeedInterval(speed, now.Sub(p.lastTick))
	}
	p.lastTick = now

	s := p.sampleLocked(now)
	handler, sink := p.onSample, p.sink
	p.mu.Unlock()

	// Callbacks run outside the lock so a slow consumer cannot stall ingest.
	if handler != nil {
		handler(s)
	}
	if sink != nil {
		sink.Record(s)
	}
	return s
}

// sampleLocked snapshots the current outputs. Must be called with p.mu held.
func (p *Pipeline) sampleLocked(now time.Time) Sample {
	speed := p.filter.Current()
	if !p.cfg.FilterEnabled {
		speed = p.rawSpeed
	}

	s := Sample{
		Timestamp:  now,
		SpeedKmh:   speed,
		CadenceRPM: p.cadence,
		DistanceKm: p.dist.TotalKm(),
	}
	if p.power != nil {
		w := *p.power
		s.PowerW = &w
	}
	return s
}

// TotalKm returns the cumulative distance without emitting a sample.
func (p *Pipeline) TotalKm() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dist.TotalKm()
}
