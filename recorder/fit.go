// Package recorder archives emitted telemetry samples to FIT activity
// files. It is an append-only sink: samples are buffered as FIT Record
// messages and serialized once when the session closes.
package recorder

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/muktihari/fit/encoder"
	"github.com/muktihari/fit/profile/mesgdef"
	"github.com/muktihari/fit/profile/typedef"
	"github.com/muktihari/fit/proto"
	log "github.com/sirupsen/logrus"

	"cycling-telemetry/telemetry"
)

// FIT buffers session samples and writes a FIT activity file on Close.
// Record is cheap and never blocks on I/O, so it is safe to call from the
// pipeline's tick path. Implements telemetry.Sink.
type FIT struct {
	mu        sync.Mutex
	active    bool
	startTime time.Time
	serial    uint32
	records   []*mesgdef.Record
}

// NewFIT returns an inactive recorder. Record calls are no-ops until Start.
func NewFIT() *FIT {
	return &FIT{}
}

// Start begins a new session, discarding any unsaved samples.
func (f *FIT) Start(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()

	u := uuid.New()
	f.active = true
	f.startTime = t
	f.serial = binary.BigEndian.Uint32(u[:4])
	f.records = f.records[:0]
	log.Infof("recorder: session started (serial %d)", f.serial)
}

// Active reports whether a session is being recorded.
func (f *FIT) Active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

// Record buffers one sample as a FIT Record message. Units follow the FIT
// standard: speed km/h → mm/s, distance km → cm.
func (f *FIT) Record(s telemetry.Sample) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.active {
		return
	}

	rec := &mesgdef.Record{
		Timestamp:     s.Timestamp,
		EnhancedSpeed: uint32(s.SpeedKmh / 3.6 * 1000),
		Distance:      uint32(s.DistanceKm * 1000 * 100),
		Cadence:       uint8(s.CadenceRPM),
	}
	if s.PowerW != nil && *s.PowerW >= 0 {
		rec.Power = uint16(*s.PowerW)
	}
	f.records = append(f.records, rec)
}

// Close finalizes the session, writes the activity file and deactivates the
// recorder.
func (f *FIT) Close(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.active {
		return fmt.Errorf("recorder: no active session")
	}
	f.active = false

	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("recorder: create %s: %w", path, err)
	}
	defer out.Close()

	fit := proto.FIT{}

	fileID := mesgdef.FileId{
		Type:         typedef.FileActivity,
		Manufacturer: typedef.ManufacturerDevelopment,
		Product:      0,
		SerialNumber: f.serial,
		TimeCreated:  f.startTime,
	}
	fit.Messages = append(fit.Messages, fileID.ToMesg(nil))

	for _, rec := range f.records {
		fit.Messages = append(fit.Messages, rec.ToMesg(nil))
	}

	endTime := time.Now()
	elapsedMs := uint32(endTime.Sub(f.startTime).Milliseconds())
	avgPower := averagePower(f.records)
	lastDist := lastDistance(f.records)

	event := mesgdef.Event{
		Timestamp: endTime,
		Event:     typedef.EventTimer,
		EventType: typedef.EventTypeStopAll,
	}
	fit.Messages = append(fit.Messages, event.ToMesg(nil))

	lap := mesgdef.Lap{
		Timestamp:        endTime,
		StartTime:        f.startTime,
		TotalElapsedTime: elapsedMs,
		TotalTimerTime:   elapsedMs,
		TotalDistance:    lastDist,
		AvgPower:         avgPower,
		Event:            typedef.EventLap,
		EventType:        typedef.EventTypeStop,
	}
	fit.Messages = append(fit.Messages, lap.ToMesg(nil))

	session := mesgdef.Session{
		Timestamp:        endTime,
		StartTime:        f.startTime,
		TotalElapsedTime: elapsedMs,
		TotalTimerTime:   elapsedMs,
		TotalDistance:    lastDist,
		AvgPower:         avgPower,
		Sport:            typedef.SportCycling,
		SubSport:         typedef.SubSportIndoorCycling,
		Event:            typedef.EventSession,
		EventType:        typedef.EventTypeStop,
		Trigger:          typedef.SessionTriggerActivityEnd,
	}
	fit.Messages = append(fit.Messages, session.ToMesg(nil))

	enc := encoder.New(out)
	if err := enc.Encode(&fit); err != nil {
		return fmt.Errorf("recorder: encode %s: %w", path, err)
	}

	log.Infof("recorder: wrote %d records to %s", len(f.records), path)
	f.records = f.records[:0]
	return nil
}

func averagePower(records []*mesgdef.Record) uint16 {
	if len(records) == 0 {
		return 0
	}
	var sum uint64
	for _, r := range records {
		sum += uint64(r.Power)
	}
	return uint16(sum / uint64(len(records)))
}

// lastDistance returns the final cumulative distance in FIT units (cm).
func lastDistance(records []*mesgdef.Record) uint32 {
	if len(records) == 0 {
		return 0
	}
	return records[len(records)-1].Distance
}
