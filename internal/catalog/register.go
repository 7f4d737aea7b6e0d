package catalog

import (
	"embed"
	"fmt"
	"os"
	"strings"
	"time"

	"camo/internal/document"

	"gopkg.in/yaml.v3"
)

//go:embed manifests/*.yaml
var manifestFiles embed.FS

const defaultManifest = "manifests/default.yaml"

// Parse decodes and validates a manifest
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	return &m, nil
}

// Load reads the manifest at path, or the embedded default when path is empty
func Load(path string) (*Manifest, error) {
	var data []byte
	var err error
	if path == "" {
		data, err = manifestFiles.ReadFile(defaultManifest)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return Parse(data)
}

// Register declares every type of the manifest on r. Types are registered
// once the types they reference exist, so declaration order does not matter.
func (m *Manifest) Register(r *document.Registry) ([]*document.Type, error) {
	pending := make([]TypeSpec, len(m.Types))
	copy(pending, m.Types)

	var registered []*document.Type
	for len(pending) > 0 {
		var next []TypeSpec
		for _, spec := range pending {
			if !spec.ready(r) {
				next = append(next, spec)
				continue
			}
			t, err := spec.register(r)
			if err != nil {
				return registered, err
			}
			registered = append(registered, t)
		}

		if len(next) == len(pending) {
			names := make([]string, len(next))
			for i, spec := range next {
				names[i] = spec.Name
			}
			return registered, fmt.Errorf("unresolved type references in %s", strings.Join(names, ", "))
		}
		pending = next
	}
	return registered, nil
}

// ready reports whether every type this one names is registered
func (t TypeSpec) ready(r *document.Registry) bool {
	for _, f := range t.Fields {
		if _, scalar := scalarKind(f.Type); scalar || f.Type == t.Name {
			continue
		}
		if _, ok := r.Type(f.Type); !ok {
			return false
		}
	}
	return true
}

func (t TypeSpec) register(r *document.Registry) (*document.Type, error) {
	fields := make([]*document.Field, 0, len(t.Fields))
	for _, spec := range t.Fields {
		f, err := spec.build(r, t.Name)
		if err != nil {
			return nil, fmt.Errorf("type %s: %w", t.Name, err)
		}
		fields = append(fields, f)
	}

	var opts []document.TypeOption
	if t.Collection != "" {
		opts = append(opts, document.Collection(t.Collection))
	}
	if len(t.Opts) > 0 {
		opts = append(opts, document.Opts(t.Opts))
	}

	if t.Embedded {
		return r.RegisterEmbedded(t.Name, fields, opts...)
	}
	return r.Register(t.Name, fields, opts...)
}

func (f FieldSpec) build(r *document.Registry, owner string) (*document.Field, error) {
	opts := f.options()

	if kind, ok := scalarKind(f.Type); ok {
		if f.Default != nil {
			if kind == document.KindDate && f.Default == "now" {
				opts = append(opts, document.Default(func() time.Time { return time.Now().UTC() }))
			} else {
				opts = append(opts, document.Default(f.Default))
			}
		}
		if f.Array {
			return document.Array(f.Name, kind, opts...), nil
		}
		switch kind {
		case document.KindString:
			return document.String(f.Name, opts...), nil
		case document.KindNumber:
			return document.Number(f.Name, opts...), nil
		case document.KindBoolean:
			return document.Boolean(f.Name, opts...), nil
		case document.KindDate:
			return document.Date(f.Name, opts...), nil
		default:
			return document.Object(f.Name, opts...), nil
		}
	}

	embedded := false
	if f.Type != owner {
		target, ok := r.Type(f.Type)
		if !ok {
			return nil, fmt.Errorf("field %s: unknown type %q", f.Name, f.Type)
		}
		embedded = target.IsEmbedded()
	}

	switch {
	case embedded && f.Array:
		return document.EmbedArray(f.Name, f.Type, opts...), nil
	case embedded:
		return document.Embed(f.Name, f.Type, opts...), nil
	case f.Array:
		return document.RefArray(f.Name, f.Type, opts...), nil
	}
	return document.Ref(f.Name, f.Type, opts...), nil
}

func (f FieldSpec) options() []document.FieldOption {
	var opts []document.FieldOption
	if f.Unique {
		opts = append(opts, document.Unique())
	}
	if f.Required {
		opts = append(opts, document.Required())
	}
	if len(f.Choices) > 0 {
		opts = append(opts, document.Choices(f.Choices...))
	}
	if f.Min != nil {
		opts = append(opts, document.Min(*f.Min))
	}
	if f.Max != nil {
		opts = append(opts, document.Max(*f.Max))
	}
	if f.Lowercase {
		opts = append(opts, document.Lowercase())
	}
	if f.Uppercase {
		opts = append(opts, document.Uppercase())
	}
	if f.Trim {
		opts = append(opts, document.Trim())
	}
	return opts
}

// scalarKind maps a manifest tag to a scalar kind, ignoring case
func scalarKind(tag string) (document.Kind, bool) {
	if tag == "" {
		return "", false
	}
	return document.ParseKind(strings.ToUpper(tag[:1]) + strings.ToLower(tag[1:]))
}
