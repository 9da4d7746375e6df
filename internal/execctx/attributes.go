package execctx

import (
	"sync"
)

// Attributes is a synchronized attribute map. Contexts that share their
// parent's storage hold the same *Attributes.
type Attributes struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewAttributes copies seed into a new store.
func NewAttributes(seed map[string]any) *Attributes {
	values := make(map[string]any, len(seed))
	for k, v := range seed {
		values[k] = v
	}
	return &Attributes{values: values}
}

// Get returns the value stored under key.
func (a *Attributes) Get(key string) (any, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	v, ok := a.values[key]
	return v, ok
}

// Set stores value under key.
func (a *Attributes) Set(key string, value any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.values[key] = value
}

// Delete removes key and reports whether it was present.
func (a *Attributes) Delete(key string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.values[key]
	delete(a.values, key)
	return ok
}

// Snapshot returns a copy of every entry.
func (a *Attributes) Snapshot() map[string]any {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[string]any, len(a.values))
	for k, v := range a.values {
		out[k] = v
	}
	return out
}
