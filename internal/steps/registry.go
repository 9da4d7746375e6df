package steps

import (
	"fmt"
	"sort"
	"sync"
)

// Kind separates steps from validations.
type Kind string

const (
	KindStep       Kind = "step"
	KindValidation Kind = "validation"
)

// Definition is a registered step or validation type.
type Definition struct {
	Type        string
	Kind        Kind
	Plugin      string
	Description string
	Step        Step
	Validation  Validation
}

// Registry maps type names to definitions.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]Definition
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]Definition)}
}

// RegisterStep adds a step type. pluginName is empty for built-ins.
func (r *Registry) RegisterStep(typ, pluginName, description string, step Step) error {
	if step == nil {
		return fmt.Errorf("step %q has no implementation", typ)
	}
	return r.add(Definition{Type: typ, Kind: KindStep, Plugin: pluginName, Description: description, Step: step})
}

// RegisterValidation adds a validation type.
func (r *Registry) RegisterValidation(typ, pluginName, description string, validation Validation) error {
	if validation == nil {
		return fmt.Errorf("validation %q has no implementation", typ)
	}
	return r.add(Definition{Type: typ, Kind: KindValidation, Plugin: pluginName, Description: description, Validation: validation})
}

func (r *Registry) add(def Definition) error {
	if def.Type == "" {
		return fmt.Errorf("step type is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.defs[def.Type]; exists {
		return fmt.Errorf("step type %q already registered", def.Type)
	}
	r.defs[def.Type] = def
	return nil
}

// Lookup returns the definition of typ.
func (r *Registry) Lookup(typ string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[typ]
	return def, ok
}

// Definitions lists every registered type sorted by name.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]Definition, 0, len(r.defs))
	for _, def := range r.defs {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Type < defs[j].Type })
	return defs
}

// NewBuiltinRegistry returns a registry holding the built-in steps and validations.
func NewBuiltinRegistry() *Registry {
	r := NewRegistry()
	if err := RegisterBuiltins(r); err != nil {
		panic(err)
	}
	return r
}
