// Package ble provides BLE Central transport and GATT packet decoding for
// cycling sensors (FTMS indoor bikes, CSC speed/cadence sensors, cycling
// power meters).
package ble

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// CharacteristicKind identifies which GATT characteristic produced a packet
// and therefore which byte layout applies.
type CharacteristicKind int

const (
	// IndoorBikeData is the FTMS Indoor Bike Data characteristic (0x2AD2).
	IndoorBikeData CharacteristicKind = iota
	// CyclingSpeedCadence is the CSC Measurement characteristic (0x2A5B).
	CyclingSpeedCadence
	// CyclingPower is the Cycling Power Measurement characteristic (0x2A63).
	CyclingPower
	// Generic marks an unrecognized characteristic; payloads are decoded
	// best-effort into diagnostic values only.
	Generic
)

func (k CharacteristicKind) String() string {
	switch k {
	case IndoorBikeData:
		return "Indoor Bike Data"
	case CyclingSpeedCadence:
		return "Cycling Speed & Cadence"
	case CyclingPower:
		return "Cycling Power"
	default:
		return "Generic"
	}
}

// WheelData is a cumulative wheel revolution sample. EventTime is a 16-bit
// counter in units of 1/1024 s that wraps independently of Revolutions.
type WheelData struct {
	Revolutions uint32
	EventTime   uint16
}

// CrankData is a cumulative crank revolution sample, same units as WheelData
// but with a 16-bit revolution counter.
type CrankData struct {
	Revolutions uint16
	EventTime   uint16
}

// Measurement is the decoded content of one notification. Fields are nil
// when the packet did not report them — absence means "not reported", not
// zero.
type Measurement struct {
	Flags uint16

	SpeedKmh   *float64
	CadenceRPM *float64
	DistanceM  *uint16
	PowerW     *int16

	Wheel *WheelData
	Crank *CrankData

	// Diagnostic views of unknown payloads (Generic kind only). Words holds
	// every non-overlapping little-endian 16-bit pair, Bytes the raw bytes.
	// These carry no semantic meaning and must not feed the pipeline.
	Words []uint16
	Bytes []byte
}

// ErrTruncated is returned when a buffer is too short for its mandatory
// prefix. Anything beyond the mandatory prefix is decoded best-effort:
// flagged fields that do not fit in the remaining buffer are simply omitted.
var ErrTruncated = errors.New("packet truncated")

// Decode parses a raw notification payload according to the characteristic
// that produced it. It never reads past the end of the buffer and only fails
// when the mandatory prefix itself is missing.
func Decode(data []byte, kind CharacteristicKind) (*Measurement, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty buffer", ErrTruncated)
	}

	switch kind {
	case IndoorBikeData:
		return decodeIndoorBike(data)
	case CyclingSpeedCadence:
		return decodeCSC(data)
	case CyclingPower:
		return decodePower(data), nil
	default:
		return decodeGeneric(data), nil
	}
}

// decodeIndoorBike parses the FTMS Indoor Bike Data layout: a 16-bit flags
// word followed by the flagged fields in bit order. Reading stops silently
// once the buffer is exhausted.
func decodeIndoorBike(data []byte) (*Measurement, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("%w: flags word needs 2 bytes, got %d", ErrTruncated, len(data))
	}

	m := &Measurement{Flags: binary.LittleEndian.Uint16(data[0:2])}
	offset := 2

	if m.Flags&0x01 != 0 && offset+2 <= len(data) {
		speed := float64(binary.LittleEndian.Uint16(data[offset:offset+2])) / 100 // 1/100 km/h
		m.SpeedKmh = &speed
		offset += 2
	}
	if m.Flags&0x02 != 0 && offset+2 <= len(data) {
		cadence := float64(binary.LittleEndian.Uint16(data[offset:offset+2])) / 2 // 1/2 RPM
		m.CadenceRPM = &cadence
		offset += 2
	}
	if m.Flags&0x04 != 0 && offset+2 <= len(data) {
		distance := binary.LittleEndian.Uint16(data[offset : offset+2]) // meters
		m.DistanceM = &distance
		offset += 2
	}
	if m.Flags&0x08 != 0 && offset+2 <= len(data) {
		power := int16(binary.LittleEndian.Uint16(data[offset : offset+2])) // watts
		m.PowerW = &power
	}

	return m, nil
}

// decodeCSC parses the CSC Measurement layout: a single flags byte, then
// wheel data (u32 revolutions + u16 event time) if bit 0 is set, then crank
// data (u16 + u16) if bit 1 is set. Crank data sits at offset 1 when no
// wheel data is present.
func decodeCSC(data []byte) (*Measurement, error) {
	m := &Measurement{Flags: uint16(data[0])}
	offset := 1

	if m.Flags&0x01 != 0 && offset+6 <= len(data) {
		m.Wheel = &WheelData{
			Revolutions: binary.LittleEndian.Uint32(data[offset : offset+4]),
			EventTime:   binary.LittleEndian.Uint16(data[offset+4 : offset+6]),
		}
		offset += 6
	}
	if m.Flags&0x02 != 0 && offset+4 <= len(data) {
		m.Crank = &CrankData{
			Revolutions: binary.LittleEndian.Uint16(data[offset : offset+2]),
			EventTime:   binary.LittleEndian.Uint16(data[offset+2 : offset+4]),
		}
	}

	return m, nil
}

// decodePower parses the Cycling Power Measurement prefix: u16 flags plus
// i16 instantaneous power. A buffer under 4 bytes yields an empty
// measurement rather than an error.
func decodePower(data []byte) *Measurement {
	if len(data) < 4 {
		return &Measurement{}
	}

	power := int16(binary.LittleEndian.Uint16(data[2:4]))
	return &Measurement{
		Flags:  binary.LittleEndian.Uint16(data[0:2]),
		PowerW: &power,
	}
}

// decodeGeneric makes an unknown payload visible for later analysis without
// claiming any semantic meaning. It never fails.
func decodeGeneric(data []byte) *Measurement {
	m := &Measurement{}
	for i := 0; i+2 <= len(data); i += 2 {
		m.Words = append(m.Words, binary.LittleEndian.Uint16(data[i:i+2]))
	}
	m.Bytes = append([]byte(nil), data...)
	return m
}
