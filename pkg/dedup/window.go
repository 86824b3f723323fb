package dedup

import (
	"sync"

	"github.com/voxlane/parley/pkg/events"
)

const DefaultCapacity = 1000

// Window drops duplicate deliveries of the same event at multiple pipeline
// stages. It keeps a bounded FIFO of recently seen identifiers plus a
// companion set for O(1) membership checks; when the set outgrows the
// window it is rebuilt from the FIFO tail.
type Window struct {
	mu       sync.Mutex
	capacity int
	order    []string
	seen     map[string]struct{}
}

func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Window{
		capacity: capacity,
		order:    make([]string, 0, capacity),
		seen:     make(map[string]struct{}, capacity),
	}
}

// Observe returns true the first time an event identifier is seen and false
// on every later call with the same identifier. Upstream events pass
// unconditionally; an event without an identifier is always treated as
// novel.
func (w *Window) Observe(ev events.Event) bool {
	if ev == nil || ev.Direction() == events.DirectionUpstream {
		return true
	}
	id := ev.ID()
	if id == "" {
		return true
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.seen[id]; ok {
		return false
	}
	w.seen[id] = struct{}{}
	w.order = append(w.order, id)
	if len(w.seen) > w.capacity {
		w.evict()
	}
	return true
}

// Len reports how many identifiers are currently tracked.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.seen)
}

func (w *Window) evict() {
	tail := w.order[len(w.order)-w.capacity:]
	rebuilt := make(map[string]struct{}, w.capacity)
	for _, id := range tail {
		rebuilt[id] = struct{}{}
	}
	w.order = append(w.order[:0], tail...)
	w.seen = rebuilt
}
