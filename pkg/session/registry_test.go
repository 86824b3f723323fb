package session

import (
	"context"
	"testing"
)

func newTestRegistry() *Registry {
	return NewRegistry(func(_ context.Context, id string) (*Session, error) {
		return New(Options{SessionID: id}), nil
	})
}

func TestRegistryCreateIsIdempotent(t *testing.T) {
	reg := newTestRegistry()

	first, created, err := reg.GetOrCreate("sess-1")
	if err != nil || !created || first == nil {
		t.Fatalf("first create failed: %v created=%v", err, created)
	}
	second, created, err := reg.GetOrCreate("sess-1")
	if err != nil || created {
		t.Fatalf("second create must reuse: %v created=%v", err, created)
	}
	if first != second {
		t.Fatalf("same identifier must map to one session")
	}
	if reg.Count() != 1 {
		t.Fatalf("count = %d, want 1", reg.Count())
	}
}

func TestRegistryRemoveAndCloseAll(t *testing.T) {
	reg := newTestRegistry()
	_, _, _ = reg.GetOrCreate("a")
	_, _, _ = reg.GetOrCreate("b")

	reg.Remove("a")
	if _, ok := reg.Get("a"); ok {
		t.Fatalf("removed session still present")
	}
	if reg.Count() != 1 {
		t.Fatalf("count = %d, want 1", reg.Count())
	}

	reg.CloseAll()
	if reg.Count() != 0 {
		t.Fatalf("count after CloseAll = %d, want 0", reg.Count())
	}
}

func TestRegistryIgnoresEmptyIdentifier(t *testing.T) {
	reg := newTestRegistry()
	sess, created, err := reg.GetOrCreate("")
	if sess != nil || created || err != nil {
		t.Fatalf("empty identifier must be a no-op")
	}
}
