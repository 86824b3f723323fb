package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Factory builds the session for a new conversation identifier.
type Factory func(ctx context.Context, sessionID string) (*Session, error)

// entry pairs a live session with its lifetime context.
type entry struct {
	sess    *Session
	cancel  context.CancelFunc
	created time.Time
}

// Registry tracks live sessions by conversation identifier. Creation is
// idempotent: concurrent ingress paths for the same identifier converge on
// one session.
type Registry struct {
	sessions sync.Map
	count    atomic.Int64
	factory  Factory
	draining atomic.Bool
}

func NewRegistry(factory Factory) *Registry {
	return &Registry{factory: factory}
}

// GetOrCreate returns the session for id, creating it when absent. The bool
// reports whether this call created it.
func (r *Registry) GetOrCreate(id string) (*Session, bool, error) {
	if id == "" {
		return nil, false, nil
	}
	if v, ok := r.sessions.Load(id); ok {
		return v.(*entry).sess, false, nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	sess, err := r.factory(ctx, id)
	if err != nil {
		cancel()
		return nil, false, err
	}
	e := &entry{sess: sess, cancel: cancel, created: time.Now()}
	actual, loaded := r.sessions.LoadOrStore(id, e)
	if loaded {
		sess.Close()
		cancel()
		return actual.(*entry).sess, false, nil
	}
	r.count.Add(1)
	return sess, true, nil
}

// Get returns the session for id without creating one.
func (r *Registry) Get(id string) (*Session, bool) {
	if v, ok := r.sessions.Load(id); ok {
		return v.(*entry).sess, true
	}
	return nil, false
}

// Remove closes and forgets the session for id.
func (r *Registry) Remove(id string) {
	if v, ok := r.sessions.LoadAndDelete(id); ok {
		e := v.(*entry)
		e.sess.Close()
		if e.cancel != nil {
			e.cancel()
		}
		r.count.Add(-1)
	}
}

// CloseAll closes every live session.
func (r *Registry) CloseAll() {
	r.sessions.Range(func(key, _ any) bool {
		if id, ok := key.(string); ok {
			r.Remove(id)
		}
		return true
	})
}

func (r *Registry) Count() int64 {
	return r.count.Load()
}

// SetDraining marks the registry as refusing new sessions during shutdown.
func (r *Registry) SetDraining(v bool) {
	r.draining.Store(v)
}

func (r *Registry) Draining() bool {
	return r.draining.Load()
}

// WaitForEmpty polls until every session is gone or ctx expires. Returns
// true when the registry drained.
func (r *Registry) WaitForEmpty(ctx context.Context, interval time.Duration) bool {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if r.Count() == 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return r.Count() == 0
		case <-ticker.C:
		}
	}
}
