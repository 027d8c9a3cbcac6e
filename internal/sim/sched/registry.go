package sched

import "fmt"

// Registry maps stable action identifiers to functions. Snapshots store
// the identifier, never the function, and restore re-binds through an
// explicit lookup here.
type Registry struct {
	actions map[string]ActionFunc
}

func NewRegistry() *Registry {
	return &Registry{actions: make(map[string]ActionFunc)}
}

// Register panics on an empty name or a duplicate: both are wiring bugs
// that must fail at startup, not at restore time.
func (r *Registry) Register(name string, fn ActionFunc) {
	if name == "" || fn == nil {
		panic("sched: Register with empty name or nil func")
	}
	if _, dup := r.actions[name]; dup {
		panic(fmt.Sprintf("sched: action %q registered twice", name))
	}
	r.actions[name] = fn
}

func (r *Registry) Resolve(name string) (ActionFunc, bool) {
	fn, ok := r.actions[name]
	return fn, ok
}
