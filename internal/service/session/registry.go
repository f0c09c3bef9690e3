package session

import "sync"

// Registry maps session identifiers to per-session values. It is the only
// process-wide session state.
type Registry[T any] struct {
	mu    sync.RWMutex
	items map[string]T
}

// NewRegistry creates an empty registry.
func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{items: make(map[string]T)}
}

// Put stores v under id, replacing any previous value.
func (r *Registry[T]) Put(id string, v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[id] = v
}

// Get returns the value for id or ErrSessionNotFound.
func (r *Registry[T]) Get(id string) (T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.items[id]
	if !ok {
		var zero T
		return zero, ErrSessionNotFound
	}
	return v, nil
}

// Delete removes id. Deleting an unknown id is a no-op.
func (r *Registry[T]) Delete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.items, id)
}

// Len returns the number of registered sessions.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// Each calls fn for a snapshot of the registered values.
func (r *Registry[T]) Each(fn func(id string, v T)) {
	r.mu.RLock()
	snapshot := make(map[string]T, len(r.items))
	for k, v := range r.items {
		snapshot[k] = v
	}
	r.mu.RUnlock()
	for k, v := range snapshot {
		fn(k, v)
	}
}
