package seed

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"camo/internal/document"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"
)

//go:embed fixtures/default.yaml
var defaultFixtures []byte

// KeyField names a fixture so later fixtures can reference it as "@key".
// It is never stored.
const KeyField = "_key"

// Batch is a list of documents of one type, created in order
type Batch struct {
	Type      string           `yaml:"type" json:"type"`
	Documents []map[string]any `yaml:"documents" json:"documents"`
}

func (b Batch) Validate() error {
	return validation.ValidateStruct(&b,
		validation.Field(&b.Type, validation.Required),
		validation.Field(&b.Documents, validation.Required),
	)
}

// Fixtures are created batch by batch, so a batch may reference keys of any earlier batch
type Fixtures []Batch

func (f Fixtures) Validate() error {
	for i, b := range f {
		if err := b.Validate(); err != nil {
			return fmt.Errorf("batch %d: %w", i, err)
		}
	}
	return nil
}

// Parse decodes and validates fixtures
func Parse(data []byte) (Fixtures, error) {
	var f Fixtures
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixtures: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("invalid fixtures: %w", err)
	}
	return f, nil
}

// Load reads fixtures from path, or the built-in fixtures when path is empty
func Load(path string) (Fixtures, error) {
	if path == "" {
		return Parse(defaultFixtures)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixtures %s: %w", path, err)
	}
	return Parse(data)
}

// Seeder creates fixture documents through the document engine, so hooks,
// defaults and validation apply as they would to API writes.
type Seeder struct {
	registry *document.Registry
	logger   *slog.Logger
}

func NewSeeder(registry *document.Registry, logger *slog.Logger) *Seeder {
	return &Seeder{registry: registry, logger: logger}
}

// Clear empties the collection of every registered collection type
func (s *Seeder) Clear(ctx context.Context) error {
	for _, t := range s.registry.Types() {
		if t.IsEmbedded() {
			continue
		}
		if err := t.ClearCollection(ctx); err != nil {
			return fmt.Errorf("clear %s: %w", t.Name(), err)
		}
		s.logger.Info("collection cleared", "type", t.Name(), "collection", t.CollectionName())
	}
	return nil
}

// Seed creates every fixture and returns the number of documents created.
// It stops at the first failure.
func (s *Seeder) Seed(ctx context.Context, fixtures Fixtures) (int, error) {
	keys := make(map[string]any)
	created := 0

	for _, batch := range fixtures {
		t, ok := s.registry.Type(batch.Type)
		if !ok {
			return created, fmt.Errorf("unknown type %q", batch.Type)
		}
		if t.IsEmbedded() {
			return created, fmt.Errorf("type %s is embedded and cannot be seeded on its own", t.Name())
		}

		for i, fixture := range batch.Documents {
			params := make(map[string]any, len(fixture))
			key, _ := fixture[KeyField].(string)
			for name, v := range fixture {
				if name == KeyField {
					continue
				}
				resolved, err := resolveKeys(v, keys)
				if err != nil {
					return created, fmt.Errorf("%s fixture %d: %w", t.Name(), i, err)
				}
				params[name] = resolved
			}

			doc, err := t.Create(ctx, params)
			if err != nil {
				return created, fmt.Errorf("create %s fixture %d: %w", t.Name(), i, err)
			}
			created++

			if key != "" {
				if _, dup := keys[key]; dup {
					return created, fmt.Errorf("fixture key %q is used twice", key)
				}
				keys[key] = doc.ID()
			}
			s.logger.Debug("fixture created", "type", t.Name(), "id", doc.ID(), "key", key)
		}
	}
	return created, nil
}

// resolveKeys replaces "@key" strings with the id of the keyed fixture.
// "@@" escapes a literal leading @.
func resolveKeys(v any, keys map[string]any) (any, error) {
	switch x := v.(type) {
	case string:
		if strings.HasPrefix(x, "@@") {
			return x[1:], nil
		}
		if key, ok := strings.CutPrefix(x, "@"); ok {
			id, found := keys[key]
			if !found {
				return nil, fmt.Errorf("unknown fixture key %q", key)
			}
			return id, nil
		}
		return x, nil
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			r, err := resolveKeys(e, keys)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			r, err := resolveKeys(e, keys)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	}
	return v, nil
}
