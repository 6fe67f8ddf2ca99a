package app

import (
	"sync"
	"time"
)

// timerRegistry tracks the process-local timers driving countdowns, draw
// ticks, and disconnect grace periods. Keys are scoped so a later schedule
// replaces an earlier one instead of stacking.
type timerRegistry struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
}

func newTimerRegistry() *timerRegistry {
	return &timerRegistry{timers: make(map[string]*time.Timer)}
}

// schedule arms fn to run after d, replacing any timer under the same key.
func (r *timerRegistry) schedule(key string, d time.Duration, fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.timers[key]; ok {
		existing.Stop()
	}
	r.timers[key] = time.AfterFunc(d, func() {
		r.mu.Lock()
		delete(r.timers, key)
		r.mu.Unlock()
		fn()
	})
}

// cancel stops the timer under key, reporting whether one was armed.
func (r *timerRegistry) cancel(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	timer, ok := r.timers[key]
	if !ok {
		return false
	}
	timer.Stop()
	delete(r.timers, key)
	return true
}

func (r *timerRegistry) stopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, timer := range r.timers {
		timer.Stop()
		delete(r.timers, key)
	}
}
