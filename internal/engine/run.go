package engine

import (
	"sync/atomic"
	"time"

	"github.com/DefectiveCube/XPlaneGen/internal/record"
)

// line is one raw data line tagged with its position after the header.
type line struct {
	seq  int64
	text string
}

// shard is the output of a single worker. Only that worker touches it until
// the completion barrier is passed.
type shard[T any, PT record.Ptr[T]] struct {
	table    *Table[T, PT]
	sessions []record.Session
}

// Run is the state of one conversion. Each stage receives it explicitly;
// nothing about a run lives in package-level variables.
type Run[T any, PT record.Ptr[T]] struct {
	ID        string
	Input     string
	Layout    Layout
	StartedAt time.Time

	lines  chan line
	start  *Gate
	shards []*shard[T, PT]

	read    atomic.Int64
	valid   atomic.Int64
	dropped atomic.Int64
}

func newRun[T any, PT record.Ptr[T]](id, input string, layout Layout, workers, buffer int) *Run[T, PT] {
	r := &Run[T, PT]{
		ID:        id,
		Input:     input,
		Layout:    layout,
		StartedAt: time.Now(),
		lines:     make(chan line, buffer),
		start:     NewGate(),
		shards:    make([]*shard[T, PT], workers),
	}
	for i := range r.shards {
		r.shards[i] = &shard[T, PT]{table: NewTable[T, PT](buffer)}
	}
	return r
}

// sessionKey identifies a distinct session marker.
type sessionKey struct {
	start int64
	id    int
}

// collect merges the worker shards into one table and counts distinct
// sessions. Call only after every worker has returned.
func (r *Run[T, PT]) collect() (*Table[T, PT], int) {
	total := 0
	tables := make([]*Table[T, PT], 0, len(r.shards))
	for _, s := range r.shards {
		total += s.table.Len()
		tables = append(tables, s.table)
	}

	merged := NewTable[T, PT](total)
	merged.Merge(tables...)

	seen := make(map[sessionKey]struct{})
	for _, s := range r.shards {
		for _, m := range s.sessions {
			seen[sessionKey{start: m.Start.UnixNano(), id: m.ID}] = struct{}{}
		}
		s.sessions = nil
	}
	return merged, len(seen)
}
