package document

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"camo/internal/domain/repositories"
)

// Registry owns the document types bound to one storage backend, together with
// the per-type state the engine keeps (index declarations, deprecation notices).
type Registry struct {
	backend repositories.Backend
	logger  *slog.Logger

	mu         sync.RWMutex
	types      map[string]*Type
	resources  map[string]*Type
	indexed    map[string]bool
	middleware []Middleware

	deprecations sync.Map // notice -> *sync.Once
}

// NewRegistry creates an empty registry.
func NewRegistry(backend repositories.Backend, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		backend:   backend,
		logger:    logger,
		types:     make(map[string]*Type),
		resources: make(map[string]*Type),
		indexed:   make(map[string]bool),
	}
}

// Backend returns the storage backend.
func (r *Registry) Backend() repositories.Backend { return r.backend }

// TypeOption customizes a type at registration.
type TypeOption func(*Type) error

// Collection overrides the derived collection name.
func Collection(name string) TypeOption {
	return func(t *Type) error {
		if name == "" {
			return fmt.Errorf("collection name cannot be empty")
		}
		t.collection = name
		return nil
	}
}

// Opts sets per-field formatting rules. They replace any rules declared on the
// field itself.
func Opts(opts map[string]Format) TypeOption {
	return func(t *Type) error {
		return t.schema.applyOpts(opts)
	}
}

// Hook registers a type-level hook.
func Hook(stage Stage, fn HookFunc) TypeOption {
	return func(t *Type) error {
		t.hooks.add(stage, fn)
		return nil
	}
}

// Register declares a document type stored in its own collection.
func (r *Registry) Register(name string, fields []*Field, opts ...TypeOption) (*Type, error) {
	return r.register(name, false, fields, opts)
}

// RegisterEmbedded declares a type that only lives inside other documents.
func (r *Registry) RegisterEmbedded(name string, fields []*Field, opts ...TypeOption) (*Type, error) {
	return r.register(name, true, fields, opts)
}

// MustRegister is Register that panics on error, for package-level declarations.
func (r *Registry) MustRegister(name string, fields []*Field, opts ...TypeOption) *Type {
	t, err := r.Register(name, fields, opts...)
	if err != nil {
		panic(err)
	}
	return t
}

// MustRegisterEmbedded is RegisterEmbedded that panics on error.
func (r *Registry) MustRegisterEmbedded(name string, fields []*Field, opts ...TypeOption) *Type {
	t, err := r.RegisterEmbedded(name, fields, opts...)
	if err != nil {
		panic(err)
	}
	return t
}

func (r *Registry) register(name string, embedded bool, fields []*Field, opts []TypeOption) (*Type, error) {
	if name == "" {
		return nil, fmt.Errorf("register type: name cannot be empty")
	}

	schema, err := NewSchema(fields...)
	if err != nil {
		return nil, fmt.Errorf("register type %s: %w", name, err)
	}

	t := &Type{
		name:     name,
		embedded: embedded,
		schema:   schema,
		registry: r,
	}
	for _, opt := range opts {
		if err := opt(t); err != nil {
			return nil, fmt.Errorf("register type %s: %w", name, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.types[name]; dup {
		return nil, fmt.Errorf("register type %s: already registered", name)
	}
	if err := r.resolveLocked(t); err != nil {
		return nil, fmt.Errorf("register type %s: %w", name, err)
	}

	r.types[name] = t
	if !embedded {
		r.resources[t.ResourceName()] = t
	}
	return t, nil
}

// resolveLocked checks every reference and embed names a known type of the right class.
func (r *Registry) resolveLocked(t *Type) error {
	for _, f := range t.schema.fields {
		switch {
		case f.IsReference():
			if f.Ref == t.name {
				if t.embedded {
					return fmt.Errorf("field %q: embedded types cannot be referenced", f.Name)
				}
				continue
			}
			target, ok := r.types[f.Ref]
			if !ok {
				return fmt.Errorf("field %q: unknown reference type %q", f.Name, f.Ref)
			}
			if target.embedded {
				return fmt.Errorf("field %q: %s is embedded and cannot be referenced", f.Name, f.Ref)
			}
		case f.IsEmbedded():
			target, ok := r.types[f.Ref]
			if !ok {
				return fmt.Errorf("field %q: unknown embedded type %q", f.Name, f.Ref)
			}
			if !target.embedded {
				return fmt.Errorf("field %q: %s is a document type, use a reference", f.Name, f.Ref)
			}
		}
	}
	return nil
}

// Type looks up a registered type by name.
func (r *Registry) Type(name string) (*Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[name]
	return t, ok
}

// ByResource looks up a document type by its resource name.
func (r *Registry) ByResource(resource string) (*Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.resources[resource]
	return t, ok
}

// Types returns every registered type sorted by name.
func (r *Registry) Types() []*Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Type, 0, len(r.types))
	for _, t := range r.types {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// ParseID converts a textual identifier into the backend's native form.
func (r *Registry) ParseID(s string) (any, error) {
	if p, ok := r.backend.(repositories.IDParser); ok {
		return p.ParseID(s)
	}
	return s, nil
}

// mustType resolves a type named by a validated schema.
func (r *Registry) mustType(name string) *Type {
	t, ok := r.Type(name)
	if !ok {
		panic(fmt.Sprintf("document: type %q vanished from registry", name))
	}
	return t
}

// deprecate logs a notice once per registry.
func (r *Registry) deprecate(notice string) {
	once, _ := r.deprecations.LoadOrStore(notice, &sync.Once{})
	once.(*sync.Once).Do(func() {
		r.logger.Warn("deprecated", "notice", notice)
	})
}
