package engine_test

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/DefectiveCube/XPlaneGen/internal/record"
)

// reading is a five-field schema: date, time, value, and two ignored cells.
type reading struct {
	At    record.Key
	Value int64
}

func (p *reading) Key() record.Key { return p.At }

func (p *reading) FieldCount() int { return 5 }

func (p *reading) Parse(fields []string) error {
	key, err := record.ParseKey(fields[0], fields[1])
	if err != nil {
		return err
	}
	v, err := strconv.ParseInt(strings.TrimSpace(fields[2]), 10, 64)
	if err != nil {
		return err
	}
	p.At, p.Value = key, v
	return nil
}

func (p *reading) AppendBinary(b []byte) []byte {
	return record.AppendFrame(b, 24, func(b []byte) []byte {
		b = binary.LittleEndian.AppendUint64(b, uint64(p.At.Date))
		b = binary.LittleEndian.AppendUint64(b, uint64(p.At.Offset))
		return binary.LittleEndian.AppendUint64(b, uint64(p.Value))
	})
}

func (p *reading) UnmarshalBinary(b []byte) (int, error) {
	payload, n, err := record.ReadFrame(b)
	if err != nil {
		return 0, err
	}
	if len(payload) != 24 {
		return 0, record.ErrFrameSize
	}
	p.At.Date = int64(binary.LittleEndian.Uint64(payload[0:]))
	p.At.Offset = time.Duration(binary.LittleEndian.Uint64(payload[8:]))
	p.Value = int64(binary.LittleEndian.Uint64(payload[16:]))
	return n, nil
}

// slowReading sleeps while parsing so workers finish out of arrival order.
type slowReading struct{ reading }

func (p *slowReading) Parse(fields []string) error {
	if err := p.reading.Parse(fields); err != nil {
		return err
	}
	time.Sleep(time.Duration(p.Value%4) * 20 * time.Microsecond)
	return nil
}

// quad is a schema whose arity collides with the power-on shape.
type quad struct {
	At record.Key
}

func (q *quad) Key() record.Key { return q.At }

func (q *quad) FieldCount() int { return 4 }

func (q *quad) Parse(fields []string) error {
	key, err := record.ParseKey(fields[1], fields[2])
	q.At = key
	return err
}

func (q *quad) AppendBinary(b []byte) []byte {
	return record.AppendFrame(b, 16, func(b []byte) []byte {
		b = binary.LittleEndian.AppendUint64(b, uint64(q.At.Date))
		return binary.LittleEndian.AppendUint64(b, uint64(q.At.Offset))
	})
}

func (q *quad) UnmarshalBinary(b []byte) (int, error) {
	payload, n, err := record.ReadFrame(b)
	if err != nil {
		return 0, err
	}
	if len(payload) != 16 {
		return 0, record.ErrFrameSize
	}
	q.At.Date = int64(binary.LittleEndian.Uint64(payload[0:]))
	q.At.Offset = time.Duration(binary.LittleEndian.Uint64(payload[8:]))
	return n, nil
}

// readingLine renders a data line for reading at the given second of a day.
func readingLine(day, second int, value int64) string {
	return fmt.Sprintf("2016-06-%02d,%02d:%02d:%02d,%d,x,y",
		day, second/3600, second/60%60, second%60, value)
}
