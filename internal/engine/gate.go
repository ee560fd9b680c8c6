package engine

import "sync"

// Gate is a one-shot release signal. Workers park on Done until the
// producer opens it after its first enqueue.
type Gate struct {
	once sync.Once
	ch   chan struct{}
}

// NewGate returns a gate that has not been released yet.
func NewGate() *Gate {
	return &Gate{ch: make(chan struct{})}
}

// Open releases every waiter. Only the first call has an effect.
func (g *Gate) Open() {
	g.once.Do(func() { close(g.ch) })
}

// Done is closed once the gate has been opened.
func (g *Gate) Done() <-chan struct{} {
	return g.ch
}
