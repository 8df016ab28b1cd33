// Package memmgr is a bounded, budget-based MemoryManager implementation for
// the shuffle writer, generalized from the teacher's MemoryAggregator
// (internal/worker/executor.go) — which tracked a single running byte total
// against a fixed limit and triggered a spill once exceeded. This version
// separates "how much is currently held" from "should the owner spill now",
// and supports partial grants instead of all-or-nothing allocation.
package memmgr

import "sync"

// Manager grants byte budget up to a fixed limit. Acquire may return less
// than requested (including zero) once the limit is reached; it never
// blocks. SpillTrigger/Signal exist for a real memory manager that can force
// reclamation asynchronously from another goroutine, independent of
// Acquire's own short-grant signal: ExternalSorter watches SpillTrigger from
// a background goroutine for the lifetime of the sorter, and cmd/mapwrite's
// -spill-signal-interval flag drives Signal from a periodic ticker to
// demonstrate an external reclaimer.
type Manager struct {
	mu      sync.Mutex
	limit   int64
	held    int64
	trigger chan struct{}
}

// New constructs a Manager with the given total byte budget.
func New(limit int64) *Manager {
	return &Manager{limit: limit, trigger: make(chan struct{}, 1)}
}

// Acquire grants up to bytes of additional budget, capped by whatever
// remains under the limit. Returns 0 if the limit is already exhausted.
func (m *Manager) Acquire(bytes int64) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if bytes <= 0 {
		return 0
	}
	available := m.limit - m.held
	if available <= 0 {
		return 0
	}
	grant := bytes
	if grant > available {
		grant = available
	}
	m.held += grant
	return grant
}

// Release returns previously granted budget.
func (m *Manager) Release(bytes int64) {
	if bytes <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.held -= bytes
	if m.held < 0 {
		m.held = 0
	}
}

// Held reports currently outstanding budget.
func (m *Manager) Held() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.held
}

// SpillTrigger exposes a channel an external reclaimer pushes to in order to
// force a spill from outside the goroutine driving inserts (spec §5's "the
// memory manager may invoke spill from a different thread"). Every
// ExternalSorter built over this Manager watches it for its own lifetime.
func (m *Manager) SpillTrigger() <-chan struct{} {
	return m.trigger
}

// Signal forces a pending SpillTrigger wakeup. Non-blocking: if a signal is
// already pending, this is a no-op.
func (m *Manager) Signal() {
	select {
	case m.trigger <- struct{}{}:
	default:
	}
}
