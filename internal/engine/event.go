package engine

import (
	"sync"
	"sync/atomic"
	"time"
)

// EventKind identifies a pipeline notification.
type EventKind int

const (
	ReadStarted EventKind = iota + 1
	ReadCompleted
	ParseStarted
	ParseCompleted
	WriteStarted
	WriteCompleted
	MessageWritten
	ErrorWritten
)

func (k EventKind) String() string {
	switch k {
	case ReadStarted:
		return "read_started"
	case ReadCompleted:
		return "read_completed"
	case ParseStarted:
		return "parse_started"
	case ParseCompleted:
		return "parse_completed"
	case WriteStarted:
		return "write_started"
	case WriteCompleted:
		return "write_completed"
	case MessageWritten:
		return "message"
	case ErrorWritten:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one notification published during a run.
type Event struct {
	Kind    EventKind
	RunID   string
	Message string
	Err     error
	At      time.Time
}

// Bus fans events out to subscribers. Publish never blocks: a subscriber
// whose buffer is full misses the event, so a slow or stuck observer cannot
// stall the pipeline.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	missed atomic.Int64
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber with the given buffer size. The returned
// cancel func unregisters it and closes the channel; it is safe to call
// more than once.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
	return ch, cancel
}

// Publish delivers ev to every subscriber that has room for it.
func (b *Bus) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.missed.Add(1)
		}
	}
}

// Missed returns how many deliveries were dropped on full subscribers.
func (b *Bus) Missed() int64 {
	return b.missed.Load()
}
