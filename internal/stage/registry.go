package stage

import "fmt"

// Factory constructs one stage. Registered once per stage identity.
type Factory func() *Stage

// Registry holds the factories for every stage identity and the memoized
// instances built from them. The first access to a name constructs the
// stage with its declared defaults; every later access returns the same
// instance, so parameter mutations are visible everywhere the stage is
// referenced. The owning composer must serialize access.
type Registry struct {
	order     []string
	factories map[string]Factory
	stages    map[string]*Stage
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		stages:    make(map[string]*Stage),
	}
}

// Register installs a factory for the named stage. Registering the same
// name twice is a programming error and panics.
func (r *Registry) Register(name string, f Factory) {
	if _, ok := r.factories[name]; ok {
		panic(fmt.Sprintf("stage %q registered twice", name))
	}
	r.order = append(r.order, name)
	r.factories[name] = f
}

// Stage returns the memoized instance for name, constructing it on first
// access. An unregistered name is a programming error and panics: the stage
// set is a fixed topology, not user input.
func (r *Registry) Stage(name string) *Stage {
	if s, ok := r.stages[name]; ok {
		return s
	}
	f, ok := r.factories[name]
	if !ok {
		panic(fmt.Sprintf("no factory registered for stage %q", name))
	}
	s := f()
	r.stages[name] = s
	return s
}

// Built returns the stages constructed so far, in registration order.
// Stages never accessed are not materialized.
func (r *Registry) Built() []*Stage {
	out := make([]*Stage, 0, len(r.stages))
	for _, name := range r.order {
		if s, ok := r.stages[name]; ok {
			out = append(out, s)
		}
	}
	return out
}

// Names returns every registered stage name in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
