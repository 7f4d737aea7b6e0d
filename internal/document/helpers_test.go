package document

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"

	"camo/internal/domain/repositories"
	"camo/internal/repository/memory"
)

// spyBackend wraps the memory backend and counts calls per method.
type spyBackend struct {
	*memory.Backend

	mu        sync.Mutex
	calls     map[string]int
	finds     []repositories.Query
	findFails map[string]error
}

func newSpyBackend() *spyBackend {
	return &spyBackend{
		Backend:   memory.New(memory.WithIDGenerator(memory.Sequence("u"))),
		calls:     make(map[string]int),
		findFails: make(map[string]error),
	}
}

// failFinds makes every later Find on collection return err.
func (s *spyBackend) failFinds(collection string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findFails[collection] = err
}

func (s *spyBackend) record(method string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[method]++
}

func (s *spyBackend) count(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

func (s *spyBackend) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

func (s *spyBackend) Save(ctx context.Context, collection string, id any, record repositories.Record) (any, error) {
	s.record("Save")
	return s.Backend.Save(ctx, collection, id, record)
}

func (s *spyBackend) Delete(ctx context.Context, collection string, id any) (int64, error) {
	s.record("Delete")
	return s.Backend.Delete(ctx, collection, id)
}

func (s *spyBackend) FindOne(ctx context.Context, collection string, query repositories.Query) (repositories.Record, error) {
	s.record("FindOne")
	return s.Backend.FindOne(ctx, collection, query)
}

func (s *spyBackend) Find(ctx context.Context, collection string, query repositories.Query, opts repositories.FindOptions) ([]repositories.Record, error) {
	s.record("Find")
	s.mu.Lock()
	s.finds = append(s.finds, query)
	err := s.findFails[collection]
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.Backend.Find(ctx, collection, query, opts)
}

func (s *spyBackend) FindOneAndUpdate(ctx context.Context, collection string, query repositories.Query, values repositories.Record, opts repositories.UpdateOptions) (repositories.Record, error) {
	s.record("FindOneAndUpdate")
	return s.Backend.FindOneAndUpdate(ctx, collection, query, values, opts)
}

func (s *spyBackend) FindOneAndDelete(ctx context.Context, collection string, query repositories.Query) (repositories.Record, error) {
	s.record("FindOneAndDelete")
	return s.Backend.FindOneAndDelete(ctx, collection, query)
}

func (s *spyBackend) CreateIndex(ctx context.Context, collection string, field string, opts repositories.IndexOptions) error {
	s.record("CreateIndex")
	return s.Backend.CreateIndex(ctx, collection, field, opts)
}

// testLogger captures log output for assertions.
type testLogger struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (l *testLogger) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buf.Write(p)
}

func (l *testLogger) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buf.String()
}

func newTestRegistry(t *testing.T) (*Registry, *spyBackend, *testLogger) {
	t.Helper()
	backend := newSpyBackend()
	out := &testLogger{}
	logger := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return NewRegistry(backend, logger), backend, out
}

// blogTypes registers User, Address (embedded) and Post.
func blogTypes(t *testing.T, r *Registry) (user, post *Type) {
	t.Helper()

	var err error
	user, err = r.Register("User", []*Field{
		String("name", Required()),
		String("email", Unique()),
		Number("age", Min(0), Max(150)),
	}, Opts(map[string]Format{"name": {Lowercase: true, Trim: true}}))
	if err != nil {
		t.Fatalf("register User: %v", err)
	}

	if _, err = r.RegisterEmbedded("Address", []*Field{
		String("street"),
		String("city", Required()),
	}); err != nil {
		t.Fatalf("register Address: %v", err)
	}

	post, err = r.Register("Post", []*Field{
		String("title", Required()),
		String("status", Choices("draft", "published"), Default("draft")),
		Ref("author", "User"),
		RefArray("readers", "User"),
		Embed("location", "Address"),
		Array("tags", KindString),
		Date("publishedAt"),
	})
	if err != nil {
		t.Fatalf("register Post: %v", err)
	}
	return user, post
}
