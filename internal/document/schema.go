package document

import (
	"fmt"
	"time"
)

// Kind is the canonical type tag of a schema field.
type Kind string

const (
	KindString    Kind = "String"
	KindNumber    Kind = "Number"
	KindBoolean   Kind = "Boolean"
	KindDate      Kind = "Date"
	KindObject    Kind = "Object"
	KindReference Kind = "Reference"
	KindEmbedded  Kind = "Embedded"
	KindArray     Kind = "Array"
)

// ParseKind resolves a scalar type tag. Reference, embedded and array kinds are
// not spelled by name; they are derived from the referenced type.
func ParseKind(s string) (Kind, bool) {
	switch Kind(s) {
	case KindString, KindNumber, KindBoolean, KindDate, KindObject:
		return Kind(s), true
	}
	return "", false
}

// Format holds the string formatting rules applied to incoming values.
type Format struct {
	Lowercase bool `json:"lowercase,omitempty" yaml:"lowercase"`
	Uppercase bool `json:"uppercase,omitempty" yaml:"uppercase"`
	Trim      bool `json:"trim,omitempty" yaml:"trim"`
}

// IsZero reports whether no rule is set.
func (f Format) IsZero() bool {
	return !f.Lowercase && !f.Uppercase && !f.Trim
}

// Field describes one declared property of a document type.
type Field struct {
	Name     string
	Kind     Kind
	Elem     Kind   // element kind when Kind is KindArray
	Ref      string // referenced or embedded type name
	Default  any    // constant, func() any or func() time.Time
	Unique   bool
	Required bool
	Choices  []any
	Min      *float64
	Max      *float64
	Format   Format
}

// FieldOption configures a Field.
type FieldOption func(*Field)

// Default sets the value used when the field is not provided.
func Default(value any) FieldOption {
	return func(f *Field) { f.Default = value }
}

// Unique marks the field for a unique index.
func Unique() FieldOption {
	return func(f *Field) { f.Unique = true }
}

// Required marks the field as mandatory.
func Required() FieldOption {
	return func(f *Field) { f.Required = true }
}

// Choices restricts the field to the given values.
func Choices(values ...any) FieldOption {
	return func(f *Field) { f.Choices = append(f.Choices, values...) }
}

// Min sets the lower bound of a numeric field.
func Min(v float64) FieldOption {
	return func(f *Field) { f.Min = &v }
}

// Max sets the upper bound of a numeric field.
func Max(v float64) FieldOption {
	return func(f *Field) { f.Max = &v }
}

// Lowercase lowercases string input.
func Lowercase() FieldOption {
	return func(f *Field) { f.Format.Lowercase = true }
}

// Uppercase uppercases string input.
func Uppercase() FieldOption {
	return func(f *Field) { f.Format.Uppercase = true }
}

// Trim strips surrounding whitespace from string input.
func Trim() FieldOption {
	return func(f *Field) { f.Format.Trim = true }
}

func newField(name string, kind Kind, opts []FieldOption) *Field {
	f := &Field{Name: name, Kind: kind}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// String declares a string field.
func String(name string, opts ...FieldOption) *Field { return newField(name, KindString, opts) }

// Number declares a numeric field. Numbers are stored as float64.
func Number(name string, opts ...FieldOption) *Field { return newField(name, KindNumber, opts) }

// Boolean declares a boolean field.
func Boolean(name string, opts ...FieldOption) *Field { return newField(name, KindBoolean, opts) }

// Date declares a time field.
func Date(name string, opts ...FieldOption) *Field { return newField(name, KindDate, opts) }

// Object declares a free-form map field.
func Object(name string, opts ...FieldOption) *Field { return newField(name, KindObject, opts) }

// Ref declares a reference to another document type.
func Ref(name, typeName string, opts ...FieldOption) *Field {
	f := newField(name, KindReference, opts)
	f.Ref = typeName
	return f
}

// Embed declares an embedded document of the given embedded type.
func Embed(name, typeName string, opts ...FieldOption) *Field {
	f := newField(name, KindEmbedded, opts)
	f.Ref = typeName
	return f
}

// Array declares a homogeneous array of scalar values.
func Array(name string, elem Kind, opts ...FieldOption) *Field {
	f := newField(name, KindArray, opts)
	f.Elem = elem
	return f
}

// RefArray declares an array of references.
func RefArray(name, typeName string, opts ...FieldOption) *Field {
	f := Array(name, KindReference, opts...)
	f.Ref = typeName
	return f
}

// EmbedArray declares an array of embedded documents.
func EmbedArray(name, typeName string, opts ...FieldOption) *Field {
	f := Array(name, KindEmbedded, opts...)
	f.Ref = typeName
	return f
}

// valueKind is the kind of each stored value: the element kind for arrays.
func (f *Field) valueKind() Kind {
	if f.Kind == KindArray {
		return f.Elem
	}
	return f.Kind
}

// IsReference reports whether the field holds references (single or array).
func (f *Field) IsReference() bool { return f.valueKind() == KindReference }

// IsEmbedded reports whether the field holds embedded documents (single or array).
func (f *Field) IsEmbedded() bool { return f.valueKind() == KindEmbedded }

// TypeName is the name reported by schema descriptions.
func (f *Field) TypeName() string {
	switch f.Kind {
	case KindReference, KindEmbedded:
		return f.Ref
	}
	return string(f.Kind)
}

func (f *Field) elemTypeName() string {
	switch f.Elem {
	case KindReference, KindEmbedded:
		return f.Ref
	}
	return string(f.Elem)
}

// defaultValue produces a fresh default for one instance.
func (f *Field) defaultValue() any {
	switch d := f.Default.(type) {
	case nil:
		return nil
	case func() any:
		return d()
	case func() time.Time:
		return d()
	default:
		return cloneValue(d)
	}
}

func (f *Field) check() error {
	if f.Name == "" {
		return fmt.Errorf("field name cannot be empty")
	}
	if f.Name == reservedID || f.Name == reservedOpts {
		return fmt.Errorf("field name %q is reserved", f.Name)
	}
	switch f.Kind {
	case KindString, KindNumber, KindBoolean, KindDate, KindObject:
	case KindReference, KindEmbedded:
		if f.Ref == "" {
			return fmt.Errorf("field %q: %s requires a type name", f.Name, f.Kind)
		}
	case KindArray:
		switch f.Elem {
		case KindString, KindNumber, KindBoolean, KindDate, KindObject:
		case KindReference, KindEmbedded:
			if f.Ref == "" {
				return fmt.Errorf("field %q: array of %s requires a type name", f.Name, f.Elem)
			}
		default:
			return fmt.Errorf("field %q: unsupported array element type %q", f.Name, f.Elem)
		}
	default:
		return fmt.Errorf("field %q: unsupported type %q", f.Name, f.Kind)
	}
	if (f.Min != nil || f.Max != nil) && f.valueKind() != KindNumber {
		return fmt.Errorf("field %q: min/max only apply to numbers", f.Name)
	}
	for i, c := range f.Choices {
		f.Choices[i] = canonicalScalar(c)
	}
	return nil
}

func (f *Field) clone() *Field {
	c := *f
	c.Choices = append([]any(nil), f.Choices...)
	return &c
}

const (
	reservedID   = "_id"
	reservedOpts = "opts"
)

// Schema is the declared, ordered set of fields of a document type.
type Schema struct {
	fields []*Field
	byName map[string]*Field
}

// NewSchema builds a schema, rejecting malformed or duplicate fields.
// The schema keeps its own copies, so a *Field can be shared between types.
func NewSchema(fields ...*Field) (*Schema, error) {
	s := &Schema{byName: make(map[string]*Field, len(fields))}
	for _, src := range fields {
		if src == nil {
			return nil, fmt.Errorf("nil field")
		}
		f := src.clone()
		if err := f.check(); err != nil {
			return nil, err
		}
		if _, dup := s.byName[f.Name]; dup {
			return nil, fmt.Errorf("duplicate field %q", f.Name)
		}
		s.fields = append(s.fields, f)
		s.byName[f.Name] = f
	}
	return s, nil
}

// Fields returns the fields in declaration order.
func (s *Schema) Fields() []*Field {
	out := make([]*Field, len(s.fields))
	copy(out, s.fields)
	return out
}

// Field looks up a field by name.
func (s *Schema) Field(name string) (*Field, bool) {
	f, ok := s.byName[name]
	return f, ok
}

// Len is the number of declared fields.
func (s *Schema) Len() int { return len(s.fields) }

// Opts returns the formatting rules of every field that has one.
func (s *Schema) Opts() map[string]Format {
	opts := make(map[string]Format)
	for _, f := range s.fields {
		if !f.Format.IsZero() {
			opts[f.Name] = f.Format
		}
	}
	return opts
}

// applyOpts merges type-level formatting; per-field opts replace inline rules.
func (s *Schema) applyOpts(opts map[string]Format) error {
	for name, format := range opts {
		f, ok := s.byName[name]
		if !ok {
			return fmt.Errorf("opts: unknown field %q", name)
		}
		f.Format = format
	}
	return nil
}

// Describe renders the schema as plain data, with formatting rules repeated
// under the reserved "opts" key.
func (s *Schema) Describe() map[string]any {
	desc := make(map[string]any, len(s.fields)+1)
	opts := make(map[string]any)
	for _, f := range s.fields {
		entry := map[string]any{"type": f.TypeName()}
		if f.Kind == KindArray {
			entry["of"] = f.elemTypeName()
		}
		if f.Default != nil {
			switch f.Default.(type) {
			case func() any, func() time.Time:
				entry["default"] = "<computed>"
			default:
				entry["default"] = f.Default
			}
		}
		if f.Unique {
			entry["unique"] = true
		}
		if f.Required {
			entry["required"] = true
		}
		if len(f.Choices) > 0 {
			entry["choices"] = f.Choices
		}
		if f.Min != nil {
			entry["min"] = *f.Min
		}
		if f.Max != nil {
			entry["max"] = *f.Max
		}
		if !f.Format.IsZero() {
			rules := formatMap(f.Format)
			for k, v := range rules {
				entry[k] = v
			}
			opts[f.Name] = rules
		}
		desc[f.Name] = entry
	}
	desc[reservedOpts] = opts
	return desc
}

func formatMap(f Format) map[string]any {
	m := make(map[string]any, 3)
	if f.Lowercase {
		m["lowercase"] = true
	}
	if f.Uppercase {
		m["uppercase"] = true
	}
	if f.Trim {
		m["trim"] = true
	}
	return m
}
