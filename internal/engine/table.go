package engine

import (
	"slices"

	"github.com/DefectiveCube/XPlaneGen/internal/record"
)

type row[T any] struct {
	seq int64 // line number after the header
	rec T
}

// Table accumulates parsed records. A worker owns its own table while
// parsing; the tables are merged and sorted once the parse phase is over,
// so no locking is needed.
type Table[T any, PT record.Ptr[T]] struct {
	rows []row[T]
}

// NewTable returns a table with capacity pre-allocated.
func NewTable[T any, PT record.Ptr[T]](capacity int) *Table[T, PT] {
	return &Table[T, PT]{rows: make([]row[T], 0, capacity)}
}

// Append adds a record parsed from line seq.
func (t *Table[T, PT]) Append(seq int64, rec T) {
	t.rows = append(t.rows, row[T]{seq: seq, rec: rec})
}

// Len returns the number of rows.
func (t *Table[T, PT]) Len() int {
	return len(t.rows)
}

// Merge moves every row of others into t.
func (t *Table[T, PT]) Merge(others ...*Table[T, PT]) {
	n := len(t.rows)
	for _, o := range others {
		n += len(o.rows)
	}
	t.rows = slices.Grow(t.rows, n-len(t.rows))
	for _, o := range others {
		t.rows = append(t.rows, o.rows...)
		o.Reset()
	}
}

// Sort orders rows by record key. Rows with equal keys keep input line
// order, so the output is identical however work was spread over workers.
func (t *Table[T, PT]) Sort() {
	slices.SortFunc(t.rows, func(a, b row[T]) int {
		if c := PT(&a.rec).Key().Compare(PT(&b.rec).Key()); c != 0 {
			return c
		}
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})
}

// MinKey returns the key of the first row. Call after Sort.
func (t *Table[T, PT]) MinKey() record.Key {
	if len(t.rows) == 0 {
		return record.Key{}
	}
	return PT(&t.rows[0].rec).Key()
}

// MaxKey returns the key of the last row. Call after Sort.
func (t *Table[T, PT]) MaxKey() record.Key {
	if len(t.rows) == 0 {
		return record.Key{}
	}
	return PT(&t.rows[len(t.rows)-1].rec).Key()
}

// AppendBinary serializes every row, in table order, onto b.
func (t *Table[T, PT]) AppendBinary(b []byte) []byte {
	for i := range t.rows {
		b = PT(&t.rows[i].rec).AppendBinary(b)
	}
	return b
}

// Reset clears the rows for reuse.
func (t *Table[T, PT]) Reset() {
	t.rows = t.rows[:0]
}
