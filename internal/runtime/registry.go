package runtime

import "fmt"

// TypeEngineJSON keys the built-in engine-backed module kind.
const TypeEngineJSON = "engine_json"

// CreateFn builds an uninitialized module from a serialized graph
// description and its ordered constant-name list.
type CreateFn func(symbolName, graphJSON string, constNames []string, opts ...Option) (*Module, error)

// LoadFn reconstructs a module from its serialized binary form.
type LoadFn func(data []byte, opts ...Option) (*Module, error)

// moduleType pairs the two construction entry points of one module kind.
type moduleType struct {
	create CreateFn
	load   LoadFn
}

// Registry maps module type keys to their construction entry points.
// It is owned by the host-integration boundary, scoped to one compiler
// session, and injected where modules are built — never ambient global
// state.
type Registry struct {
	types map[string]moduleType
}

// NewRegistry creates a registry seeded with the built-in
// engine-backed module type.
func NewRegistry() *Registry {
	r := &Registry{types: make(map[string]moduleType)}
	r.Register(TypeEngineJSON, CreateModule, LoadModuleFromBinary)
	return r
}

// Register adds or replaces a module type.
func (r *Registry) Register(typeKey string, create CreateFn, load LoadFn) {
	r.types[typeKey] = moduleType{create: create, load: load}
}

// Create builds an uninitialized module of the given type.
func (r *Registry) Create(typeKey, symbolName, graphJSON string, constNames []string, opts ...Option) (*Module, error) {
	mt, ok := r.types[typeKey]
	if !ok {
		return nil, fmt.Errorf("registry: unknown module type %q", typeKey)
	}
	return mt.create(symbolName, graphJSON, constNames, opts...)
}

// Load reconstructs a module of the given type from serialized form.
func (r *Registry) Load(typeKey string, data []byte, opts ...Option) (*Module, error) {
	mt, ok := r.types[typeKey]
	if !ok {
		return nil, fmt.Errorf("registry: unknown module type %q", typeKey)
	}
	return mt.load(data, opts...)
}

// Types returns the registered type keys.
func (r *Registry) Types() []string {
	keys := make([]string, 0, len(r.types))
	for k := range r.types {
		keys = append(keys, k)
	}
	return keys
}
