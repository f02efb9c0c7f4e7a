package reltable

import "sync"

// Registry is a process-wide directory of open Tables, generalizing the
// live-query registry this module's reactive layer is grounded on from a
// per-query map to a per-table one. It exists for introspection and
// operational endpoints (an /api/live equivalent) rather than for any
// correctness requirement of the core.
type Registry struct {
	mu     sync.Mutex
	tables map[string]*Table
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tables: map[string]*Table{}}
}

// Register adds t under name, replacing any previous entry.
func (r *Registry) Register(name string, t *Table) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tables[name] = t
}

// Unregister removes name, if present.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tables, name)
}

// Get returns the Table registered under name, if any.
func (r *Registry) Get(name string) (*Table, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tables[name]
	return t, ok
}

// ForEach calls fn for every registered (name, Table) pair. fn must not
// call back into the Registry.
func (r *Registry) ForEach(fn func(name string, t *Table)) {
	r.mu.Lock()
	snapshot := make(map[string]*Table, len(r.tables))
	for k, v := range r.tables {
		snapshot[k] = v
	}
	r.mu.Unlock()
	for k, v := range snapshot {
		fn(k, v)
	}
}

// CleanupOrphans sweeps every registered Table's zero-refcount cache
// entries, returning the total number evicted.
func (r *Registry) CleanupOrphans() int {
	total := 0
	r.ForEach(func(_ string, t *Table) {
		total += t.CleanupOrphans()
	})
	return total
}
