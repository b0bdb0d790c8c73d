package telemetry

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cycling-telemetry/ble"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func cscWheelPacket(revs uint32, eventTime uint16) []byte {
	data := make([]byte, 7)
	data[0] = 0x01
	binary.LittleEndian.PutUint32(data[1:5], revs)
	binary.LittleEndian.PutUint16(data[5:7], eventTime)
	return data
}

func cscCrankPacket(revs, eventTime uint16) []byte {
	data := make([]byte, 5)
	data[0] = 0x02
	binary.LittleEndian.PutUint16(data[1:3], revs)
	binary.LittleEndian.PutUint16(data[3:5], eventTime)
	return data
}

func ftmsSpeedPacket(centiKmh uint16) []byte {
	data := make([]byte, 4)
	binary.LittleEndian.PutUint16(data[0:2], 0x0001)
	binary.LittleEndian.PutUint16(data[2:4], centiKmh)
	return data
}

func newTestPipeline(cfg Config) (*Pipeline, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	p := NewPipeline(cfg, nil)
	p.SetClock(clock.Now)
	return p, clock
}

func TestPipelineEndToEnd(t *testing.T) {
	p, clock := newTestPipeline(DefaultConfig())

	// Wheel 1000 → 1010 over one second (1024 ticks).
	_, err := p.Process(cscWheelPacket(1000, 0), ble.CyclingSpeedCadence)
	require.NoError(t, err)

	clock.Advance(time.Second)
	s, err := p.Process(cscWheelPacket(1010, 1024), ble.CyclingSpeedCadence)
	require.NoError(t, err)

	// 10 revolutions × 1.0525 m = 10.525 m accrued immediately.
	assert.InDelta(t, 0.010525, s.DistanceKm, 1e-9)

	// First filter tick from a cold start: ≈ 0.15 × 37.89 km/h.
	out := p.Tick()
	assert.InDelta(t, 0.15*37.89, out.SpeedKmh, 0.01)
	assert.InDelta(t, 0.010525, out.DistanceKm, 1e-9)
}

func TestPipelineTruncatedPacketDropped(t *testing.T) {
	p, _ := newTestPipeline(DefaultConfig())

	_, err := p.Process(nil, ble.CyclingSpeedCadence)
	assert.ErrorIs(t, err, ble.ErrTruncated)

	// The stream survives: the next packet processes normally.
	_, err = p.Process(cscWheelPacket(500, 100), ble.CyclingSpeedCadence)
	assert.NoError(t, err)
}

func TestPipelineDuplicateNotificationKeepsSpeed(t *testing.T) {
	p, clock := newTestPipeline(DefaultConfig())

	p.Process(cscWheelPacket(1000, 0), ble.CyclingSpeedCadence)
	clock.Advance(time.Second)
	p.Process(cscWheelPacket(1010, 1024), ble.CyclingSpeedCadence)
	before := p.Tick()
	require.Greater(t, before.SpeedKmh, 0.0)

	// A duplicate carries no new kinematic information; the emitted speed
	// must not be overwritten with zero.
	s, err := p.Process(cscWheelPacket(1010, 1024), ble.CyclingSpeedCadence)
	require.NoError(t, err)
	assert.Equal(t, before.SpeedKmh, s.SpeedKmh)
	assert.Equal(t, before.DistanceKm, s.DistanceKm)
}

func TestPipelineCadence(t *testing.T) {
	p, _ := newTestPipeline(DefaultConfig())

	p.Process(cscCrankPacket(100, 0), ble.CyclingSpeedCadence)
	s, err := p.Process(cscCrankPacket(102, 1024), ble.CyclingSpeedCadence)
	require.NoError(t, err)

	assert.InDelta(t, 120, s.CadenceRPM, 0.001)
}

func TestPipelinePowerPassthrough(t *testing.T) {
	p, _ := newTestPipeline(DefaultConfig())

	data := []byte{0x00, 0x00, 0x2C, 0x01} // 300 W
	s, err := p.Process(data, ble.CyclingPower)
	require.NoError(t, err)

	require.NotNil(t, s.PowerW)
	assert.Equal(t, int16(300), *s.PowerW)

	// Power persists across packets that do not report it.
	s2, err := p.Process(cscWheelPacket(10, 10), ble.CyclingSpeedCadence)
	require.NoError(t, err)
	require.NotNil(t, s2.PowerW)
	assert.Equal(t, int16(300), *s2.PowerW)
}

func TestPipelineSpeedModeDistance(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = DistanceFromSpeed
	p, clock := newTestPipeline(cfg)

	p.Process(ftmsSpeedPacket(3600), ble.IndoorBikeData) // 36 km/h
	first := p.Tick()
	assert.Zero(t, first.DistanceKm, "no interval to integrate on the first tick")

	clock.Advance(time.Second)
	p.Process(ftmsSpeedPacket(3600), ble.IndoorBikeData)
	second := p.Tick()

	require.Greater(t, second.DistanceKm, 0.0)
	// One second at the emitted speed.
	assert.InDelta(t, second.SpeedKmh/3600, second.DistanceKm, 1e-9)
}

func TestPipelineFilterDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FilterEnabled = false
	p, clock := newTestPipeline(cfg)

	p.Process(cscWheelPacket(1000, 0), ble.CyclingSpeedCadence)
	clock.Advance(time.Second)
	s, err := p.Process(cscWheelPacket(1010, 1024), ble.CyclingSpeedCadence)
	require.NoError(t, err)

	// Raw instantaneous speed passes straight through.
	assert.InDelta(t, 37.89, s.SpeedKmh, 0.001)
}

func TestPipelineEmitsToHandlerAndSink(t *testing.T) {
	p, _ := newTestPipeline(DefaultConfig())

	var handled []Sample
	p.SetSampleHandler(func(s Sample) { handled = append(handled, s) })

	sink := &captureSink{}
	p.SetSink(sink)

	p.Tick()
	assert.Len(t, handled, 1)
	assert.Len(t, sink.samples, 1)
}

type captureSink struct {
	samples []Sample
}

func (c *captureSink) Record(s Sample) { c.samples = append(c.samples, s) }
