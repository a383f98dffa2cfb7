package client

import "sync"

// Tracker counts active calls, prefetches, and watchers and runs idle
// callbacks whenever the count drops to zero.
type Tracker struct {
	mu     sync.Mutex
	active int
	idle   []func()
}

func (t *Tracker) register() {
	t.mu.Lock()
	t.active++
	t.mu.Unlock()
}

func (t *Tracker) unregister() {
	t.mu.Lock()
	t.active--
	var fire []func()
	if t.active == 0 {
		fire = append(fire, t.idle...)
	}
	t.mu.Unlock()
	for _, fn := range fire {
		fn()
	}
}

// OnIdle registers fn to run every time the tracker becomes idle.
func (t *Tracker) OnIdle(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.idle = append(t.idle, fn)
}

// ActiveCount returns the number of tracked operations in flight.
func (t *Tracker) ActiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}
