// Package record defines the contracts every telemetry record type implements
// and the session markers that split a recording into flights.
package record

import (
	"cmp"
	"encoding/binary"
	"errors"
	"time"
)

// Delimiter separates fields in a raw log line. Quoting is not supported.
const Delimiter = ","

const day = 24 * time.Hour

var (
	ErrShortBuffer = errors.New("record: short buffer")
	ErrFrameSize   = errors.New("record: unexpected frame size")
)

// Key is the sort key of a record: calendar day first, then time of day.
type Key struct {
	Date   int64         // days since 1970-01-01 UTC
	Offset time.Duration // since midnight
}

// KeyOf splits t (interpreted in UTC) into its day and time-of-day parts.
func KeyOf(t time.Time) Key {
	t = t.UTC()
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return Key{
		Date:   midnight.Unix() / int64(day/time.Second),
		Offset: t.Sub(midnight),
	}
}

// Time joins the key back into an instant in UTC.
func (k Key) Time() time.Time {
	return time.Unix(k.Date*int64(day/time.Second), 0).UTC().Add(k.Offset)
}

// Compare returns -1, 0 or +1 ordering by date, then offset.
func (k Key) Compare(o Key) int {
	if c := cmp.Compare(k.Date, o.Date); c != 0 {
		return c
	}
	return cmp.Compare(k.Offset, o.Offset)
}

// Codec is implemented by every concrete record type. Pointer receivers are
// expected: the pipeline allocates a zero value per line and fills it.
type Codec interface {
	// Key returns the (date, time of day) sort key.
	Key() Key
	// FieldCount is the exact number of raw fields a line of this schema has.
	FieldCount() int
	// Parse populates the record from the split fields of one raw line.
	Parse(fields []string) error
	// AppendBinary appends the record's self-describing encoding to b.
	AppendBinary(b []byte) []byte
	// UnmarshalBinary decodes one record from the front of b and reports
	// how many bytes it consumed.
	UnmarshalBinary(b []byte) (int, error)
}

// Ptr constrains a type parameter to *T implementing Codec, so generic code
// can allocate T and call the codec methods on its address.
type Ptr[T any] interface {
	*T
	Codec
}

// FrameHeaderSize is the length prefix written in front of every payload.
const FrameHeaderSize = 2

// AppendFrame writes the u16 little-endian payload length followed by the
// payload produced by fn.
func AppendFrame(b []byte, size int, fn func(b []byte) []byte) []byte {
	b = binary.LittleEndian.AppendUint16(b, uint16(size))
	return fn(b)
}

// ReadFrame returns the payload of the frame at the front of b and the
// total number of bytes the frame occupies.
func ReadFrame(b []byte) ([]byte, int, error) {
	if len(b) < FrameHeaderSize {
		return nil, 0, ErrShortBuffer
	}
	size := int(binary.LittleEndian.Uint16(b))
	end := FrameHeaderSize + size
	if len(b) < end {
		return nil, 0, ErrShortBuffer
	}
	return b[FrameHeaderSize:end], end, nil
}
