package catalog

import (
	"errors"
	"fmt"
	"regexp"

	"camo/internal/document"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"
)

var typeNamePattern = regexp.MustCompile(`^[A-Z][A-Za-z0-9]*$`)

// Manifest declares document types in YAML:
//
//	types:
//	  - name: User
//	    fields:
//	      name: { type: string, required: true }
//	      tags: [string]
//	      friends: [User]
//	    opts:
//	      name: { lowercase: true, trim: true }
type Manifest struct {
	Types []TypeSpec `yaml:"types" json:"types"`
}

// TypeSpec is one declared type
type TypeSpec struct {
	Name       string                     `yaml:"name" json:"name"`
	Collection string                     `yaml:"collection" json:"collection,omitempty"`
	Embedded   bool                       `yaml:"embedded" json:"embedded,omitempty"`
	Fields     []FieldSpec                `yaml:"-" json:"fields"` // declaration order, populated by UnmarshalYAML
	Opts       map[string]document.Format `yaml:"-" json:"opts,omitempty"`
}

// FieldSpec is one declared field. Type is a scalar tag (string, number,
// boolean, date, object) or the name of another declared type.
type FieldSpec struct {
	Name      string   `yaml:"-" json:"name"`
	Type      string   `yaml:"-" json:"type"`
	Array     bool     `yaml:"-" json:"array,omitempty"`
	Default   any      `yaml:"default" json:"default,omitempty"`
	Unique    bool     `yaml:"unique" json:"unique,omitempty"`
	Required  bool     `yaml:"required" json:"required,omitempty"`
	Choices   []any    `yaml:"choices" json:"choices,omitempty"`
	Min       *float64 `yaml:"min" json:"min,omitempty"`
	Max       *float64 `yaml:"max" json:"max,omitempty"`
	Lowercase bool     `yaml:"lowercase" json:"lowercase,omitempty"`
	Uppercase bool     `yaml:"uppercase" json:"uppercase,omitempty"`
	Trim      bool     `yaml:"trim" json:"trim,omitempty"`
}

// UnmarshalYAML keeps fields in the order they are written
func (t *TypeSpec) UnmarshalYAML(node *yaml.Node) error {
	type plain struct {
		Name       string    `yaml:"name"`
		Collection string    `yaml:"collection"`
		Embedded   bool      `yaml:"embedded"`
		Fields     yaml.Node `yaml:"fields"`
		Opts       yaml.Node `yaml:"opts"`
	}
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	t.Name, t.Collection, t.Embedded = p.Name, p.Collection, p.Embedded

	if p.Fields.Kind != 0 {
		if p.Fields.Kind != yaml.MappingNode {
			return fmt.Errorf("line %d: fields of %s must be a mapping", p.Fields.Line, p.Name)
		}
		for i := 0; i+1 < len(p.Fields.Content); i += 2 {
			field, err := decodeField(p.Fields.Content[i].Value, p.Fields.Content[i+1])
			if err != nil {
				return fmt.Errorf("type %s: %w", p.Name, err)
			}
			t.Fields = append(t.Fields, field)
		}
	}

	if p.Opts.Kind != 0 {
		opts, err := decodeOpts(&p.Opts)
		if err != nil {
			return fmt.Errorf("type %s: opts: %w", p.Name, err)
		}
		t.Opts = opts
	}
	return nil
}

// decodeField accepts a bare type ("string"), a one-element sequence for
// arrays ("[User]") or a full mapping with a type key.
func decodeField(name string, node *yaml.Node) (FieldSpec, error) {
	f := FieldSpec{Name: name}

	switch node.Kind {
	case yaml.ScalarNode, yaml.SequenceNode:
		if err := f.setType(node); err != nil {
			return f, err
		}
	case yaml.MappingNode:
		if err := node.Decode(&f); err != nil {
			return f, fmt.Errorf("field %s: %w", name, err)
		}
		f.Name = name
		for i := 0; i+1 < len(node.Content); i += 2 {
			if node.Content[i].Value == "type" {
				if err := f.setType(node.Content[i+1]); err != nil {
					return f, err
				}
			}
		}
	default:
		return f, fmt.Errorf("line %d: field %s has an unreadable declaration", node.Line, name)
	}
	return f, nil
}

func (f *FieldSpec) setType(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		f.Type = node.Value
	case yaml.SequenceNode:
		if len(node.Content) != 1 || node.Content[0].Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: array field %s must name exactly one element type", node.Line, f.Name)
		}
		f.Type = node.Content[0].Value
		f.Array = true
	default:
		return fmt.Errorf("line %d: field %s has an unreadable type", node.Line, f.Name)
	}
	return nil
}

// decodeOpts accepts rules keyed by field, either directly or under "default"
func decodeOpts(node *yaml.Node) (map[string]document.Format, error) {
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: must be a mapping", node.Line)
	}
	if len(node.Content) == 2 && node.Content[0].Value == "default" && nestedRules(node.Content[1]) {
		node = node.Content[1]
	}

	var opts map[string]document.Format
	if err := node.Decode(&opts); err != nil {
		return nil, err
	}
	return opts, nil
}

func nestedRules(node *yaml.Node) bool {
	if node.Kind != yaml.MappingNode || len(node.Content) == 0 {
		return false
	}
	for i := 1; i < len(node.Content); i += 2 {
		if node.Content[i].Kind != yaml.MappingNode {
			return false
		}
	}
	return true
}

// Validate checks the manifest is well formed. Cross-type references are
// resolved at registration.
func (m Manifest) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Types, validation.Required, validation.By(uniqueNames)),
	)
}

func uniqueNames(value any) error {
	types, _ := value.([]TypeSpec)
	seen := make(map[string]bool, len(types))
	for _, t := range types {
		if seen[t.Name] {
			return fmt.Errorf("type %s is declared twice", t.Name)
		}
		seen[t.Name] = true
	}
	return nil
}

func (t TypeSpec) Validate() error {
	return validation.ValidateStruct(&t,
		validation.Field(&t.Name, validation.Required, validation.Match(typeNamePattern)),
		validation.Field(&t.Collection, validation.When(t.Embedded, validation.Empty.Error("embedded types have no collection"))),
		validation.Field(&t.Fields, validation.Required, validation.By(uniqueFields)),
	)
}

func uniqueFields(value any) error {
	fields, _ := value.([]FieldSpec)
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		if seen[f.Name] {
			return fmt.Errorf("field %s is declared twice", f.Name)
		}
		seen[f.Name] = true
	}
	return nil
}

func (f FieldSpec) Validate() error {
	return validation.ValidateStruct(&f,
		validation.Field(&f.Name, validation.Required),
		validation.Field(&f.Type, validation.Required),
		validation.Field(&f.Max, validation.By(func(any) error {
			if f.Min != nil && f.Max != nil && *f.Min > *f.Max {
				return errors.New("must not be less than min")
			}
			return nil
		})),
		validation.Field(&f.Uppercase, validation.By(func(any) error {
			if f.Lowercase && f.Uppercase {
				return errors.New("cannot be combined with lowercase")
			}
			return nil
		})),
	)
}
