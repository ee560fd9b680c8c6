// Package flight implements the flight-recorder sample schema.
package flight

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/DefectiveCube/XPlaneGen/internal/record"
)

// Fields is the number of cells in a sample line:
// date, time, lat, lon, alt MSL, OAT, IAS, ground speed, pitch, roll.
const Fields = 10

const numeric = Fields - 2

// payloadSize: date (8) + offset (8) + numeric cells (8 each).
const payloadSize = 16 + numeric*8

// Sample is one row of recorded flight data.
type Sample struct {
	At        record.Key
	Latitude  float64 // degrees
	Longitude float64 // degrees
	AltMSL    float64 // feet
	OAT       float64 // degrees Celsius
	IAS       float64 // knots
	GndSpd    float64 // knots
	Pitch     float64 // degrees
	Roll      float64 // degrees
}

var _ record.Codec = (*Sample)(nil)

func (s *Sample) Key() record.Key { return s.At }

func (s *Sample) FieldCount() int { return Fields }

func (s *Sample) values() [numeric]*float64 {
	return [numeric]*float64{
		&s.Latitude, &s.Longitude, &s.AltMSL, &s.OAT,
		&s.IAS, &s.GndSpd, &s.Pitch, &s.Roll,
	}
}

// Parse fills the sample from the split cells of one line.
func (s *Sample) Parse(fields []string) error {
	if len(fields) != Fields {
		return fmt.Errorf("flight: want %d fields, got %d", Fields, len(fields))
	}
	key, err := record.ParseKey(fields[0], fields[1])
	if err != nil {
		return fmt.Errorf("flight: %w", err)
	}
	s.At = key
	for i, dst := range s.values() {
		v, err := record.ParseFloat(fields[i+2])
		if err != nil {
			return fmt.Errorf("flight: field %d: %w", i+2, err)
		}
		*dst = v
	}
	return nil
}

// AppendBinary encodes the sample as [u16 len][i64 date][i64 offset][f64 x8],
// little-endian.
func (s *Sample) AppendBinary(b []byte) []byte {
	return record.AppendFrame(b, payloadSize, func(b []byte) []byte {
		b = binary.LittleEndian.AppendUint64(b, uint64(s.At.Date))
		b = binary.LittleEndian.AppendUint64(b, uint64(s.At.Offset))
		for _, v := range s.values() {
			b = binary.LittleEndian.AppendUint64(b, math.Float64bits(*v))
		}
		return b
	})
}

// UnmarshalBinary decodes one sample from the front of b.
func (s *Sample) UnmarshalBinary(b []byte) (int, error) {
	payload, n, err := record.ReadFrame(b)
	if err != nil {
		return 0, err
	}
	if len(payload) != payloadSize {
		return 0, fmt.Errorf("%w: %d", record.ErrFrameSize, len(payload))
	}
	s.At = record.Key{
		Date:   int64(binary.LittleEndian.Uint64(payload[0:8])),
		Offset: time.Duration(binary.LittleEndian.Uint64(payload[8:16])),
	}
	off := 16
	for _, dst := range s.values() {
		*dst = math.Float64frombits(binary.LittleEndian.Uint64(payload[off : off+8]))
		off += 8
	}
	return n, nil
}
