package document

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"camo/internal/domain"
	"camo/internal/domain/repositories"
)

func TestSave_AssignsIDOnce(t *testing.T) {
	r, backend, _ := newTestRegistry(t)
	user, _ := blogTypes(t, r)
	ctx := context.Background()

	doc := user.New()
	if doc.ID() != nil {
		t.Fatalf("new document has id %v", doc.ID())
	}
	_ = doc.Set("name", "alice")

	if _, err := doc.Save(ctx); err != nil {
		t.Fatalf("first save: %v", err)
	}
	if doc.ID() != "u1" {
		t.Fatalf("id = %v, want u1", doc.ID())
	}

	_ = doc.Set("age", 31)
	if _, err := doc.Save(ctx); err != nil {
		t.Fatalf("second save: %v", err)
	}
	if doc.ID() != "u1" {
		t.Errorf("id changed to %v after second save", doc.ID())
	}
	if got := backend.count("Save"); got != 2 {
		t.Errorf("backend saves = %d, want 2", got)
	}
	if n, _ := backend.Count(ctx, "users", nil); n != 1 {
		t.Errorf("stored users = %d, want 1", n)
	}
}

func TestSave_RejectingPreSaveHook(t *testing.T) {
	r, backend, _ := newTestRegistry(t)
	user, _ := blogTypes(t, r)

	rejected := errors.New("not today")
	doc := user.New()
	_ = doc.Set("name", "alice")
	doc.On(PreSave, func(ctx context.Context, ev *HookEvent) error {
		return rejected
	})

	_, err := doc.Save(context.Background())
	if !errors.Is(err, rejected) {
		t.Fatalf("Save error = %v, want %v", err, rejected)
	}
	if got := backend.count("Save"); got != 0 {
		t.Errorf("backend saves = %d, want 0", got)
	}
	if doc.ID() != nil {
		t.Errorf("id = %v, want nil", doc.ID())
	}
}

func TestSave_ValidationAborts(t *testing.T) {
	r, backend, _ := newTestRegistry(t)
	_, post := blogTypes(t, r)

	var postValidate bool
	post.On(PostValidate, func(ctx context.Context, ev *HookEvent) error {
		postValidate = true
		return nil
	})

	doc := post.New()
	_, err := doc.Save(context.Background())
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Save error = %v, want validation error", err)
	}

	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error is %T, want *domain.ValidationError", err)
	}
	if _, ok := verr.Fields["title"]; !ok {
		t.Errorf("missing title failure, got %v", verr.Fields)
	}
	if postValidate {
		t.Error("postValidate ran after a failed validation")
	}
	if got := backend.count("Save"); got != 0 {
		t.Errorf("backend saves = %d, want 0", got)
	}
}

func TestSave_StageOrder(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	user, _ := blogTypes(t, r)

	var mu sync.Mutex
	var stages []Stage
	recordStage := func(ctx context.Context, ev *HookEvent) error {
		mu.Lock()
		defer mu.Unlock()
		stages = append(stages, ev.Stage)
		return nil
	}
	for _, stage := range []Stage{PreValidate, PostValidate, PreSave, PostSave} {
		user.On(stage, recordStage)
	}

	doc := user.New()
	_ = doc.Set("name", "alice")
	if _, err := doc.Save(context.Background()); err != nil {
		t.Fatalf("Save: %v", err)
	}

	want := []Stage{PreValidate, PostValidate, PreSave, PostSave}
	if len(stages) != len(want) {
		t.Fatalf("stages = %v, want %v", stages, want)
	}
	for i := range want {
		if stages[i] != want[i] {
			t.Errorf("stage %d = %s, want %s", i, stages[i], want[i])
		}
	}
}

func TestSave_HooksInStageRunConcurrently(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	user, _ := blogTypes(t, r)

	var wg sync.WaitGroup
	wg.Add(2)
	rendezvous := func(ctx context.Context, ev *HookEvent) error {
		wg.Done()
		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-time.After(2 * time.Second):
			return errors.New("hooks of one stage did not overlap")
		}
	}
	user.On(PreSave, rendezvous)

	doc := user.New()
	_ = doc.Set("name", "alice")
	doc.On(PreSave, rendezvous)

	if _, err := doc.Save(context.Background()); err != nil {
		t.Fatalf("Save: %v", err)
	}
}

func TestSave_HookPanic(t *testing.T) {
	r, backend, _ := newTestRegistry(t)
	user, _ := blogTypes(t, r)

	doc := user.New()
	_ = doc.Set("name", "alice")
	doc.On(PreValidate, func(ctx context.Context, ev *HookEvent) error {
		panic("boom")
	})

	_, err := doc.Save(context.Background())
	var perr *HookPanicError
	if !errors.As(err, &perr) {
		t.Fatalf("Save error = %v, want *HookPanicError", err)
	}
	if perr.Stage != PreValidate || perr.Value != "boom" {
		t.Errorf("panic error = %+v", perr)
	}
	if got := backend.count("Save"); got != 0 {
		t.Errorf("backend saves = %d, want 0", got)
	}
}

func TestSave_FlattensReferences(t *testing.T) {
	r, backend, _ := newTestRegistry(t)
	user, post := blogTypes(t, r)
	ctx := context.Background()

	author, err := user.Create(ctx, map[string]any{"name": "alice"})
	if err != nil {
		t.Fatalf("create author: %v", err)
	}

	doc := post.New()
	_ = doc.Set("title", "Hello")
	_ = doc.Set("author", author)
	_ = doc.Set("readers", []any{author, "u9"})
	_ = doc.Set("location", map[string]any{"city": "Paris"})
	_ = doc.Set("tags", []string{"go", "db"})
	if _, err := doc.Save(ctx); err != nil {
		t.Fatalf("Save: %v", err)
	}

	raw, err := backend.Backend.FindOne(ctx, "posts", repositories.Query{"_id": doc.ID()})
	if err != nil || raw == nil {
		t.Fatalf("raw record: %v, %v", raw, err)
	}
	if raw["author"] != "u1" {
		t.Errorf("stored author = %#v, want %q", raw["author"], "u1")
	}
	readers, _ := raw["readers"].([]any)
	if len(readers) != 2 || readers[0] != "u1" || readers[1] != "u9" {
		t.Errorf("stored readers = %#v", raw["readers"])
	}
	loc, ok := raw["location"].(map[string]any)
	if !ok || loc["city"] != "Paris" {
		t.Errorf("stored location = %#v, want plain map", raw["location"])
	}
	if raw["status"] != "draft" {
		t.Errorf("stored status = %#v, want default draft", raw["status"])
	}

	// the in-memory reference is left as the document
	if got, ok := doc.Get("author").(*Document); !ok || got != author {
		t.Errorf("author = %#v, want the saved document", doc.Get("author"))
	}
}

func TestSave_UnsavedReference(t *testing.T) {
	r, backend, _ := newTestRegistry(t)
	user, post := blogTypes(t, r)

	author := user.New()
	_ = author.Set("name", "ghost")

	doc := post.New()
	_ = doc.Set("title", "Hello")
	_ = doc.Set("author", author)

	_, err := doc.Save(context.Background())
	var uerr *UnsavedReferenceError
	if !errors.As(err, &uerr) {
		t.Fatalf("Save error = %v, want *UnsavedReferenceError", err)
	}
	if uerr.Field != "author" {
		t.Errorf("field = %q, want author", uerr.Field)
	}
	if got := backend.count("Save"); got != 0 {
		t.Errorf("backend saves = %d, want 0", got)
	}
}

func TestSave_Canonicalizes(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	user, post := blogTypes(t, r)
	ctx := context.Background()

	u := user.New()
	_ = u.Set("name", "alice")
	_ = u.Set("age", 30)
	if _, err := u.Save(ctx); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if got, ok := u.Get("age").(float64); !ok || got != 30 {
		t.Errorf("age = %#v, want float64 30", u.Get("age"))
	}

	p := post.New()
	_ = p.Set("title", "Dated")
	_ = p.Set("publishedAt", "2024-03-01T10:00:00+02:00")
	if _, err := p.Save(ctx); err != nil {
		t.Fatalf("Save: %v", err)
	}
	want := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	if got, ok := p.Get("publishedAt").(time.Time); !ok || !got.Equal(want) || got.Location() != time.UTC {
		t.Errorf("publishedAt = %#v, want %v", p.Get("publishedAt"), want)
	}
}

func TestValidate(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	user, post := blogTypes(t, r)

	tests := []struct {
		name    string
		typ     *Type
		values  map[string]any
		invalid string
	}{
		{"valid user", user, map[string]any{"name": "a", "age": 20}, ""},
		{"age below min", user, map[string]any{"name": "a", "age": -1}, "age"},
		{"age above max", user, map[string]any{"name": "a", "age": 151}, "age"},
		{"zero age is within bounds", user, map[string]any{"name": "a", "age": 0}, ""},
		{"age wrong type", user, map[string]any{"name": "a", "age": "old"}, "age"},
		{"empty required name", user, map[string]any{"name": ""}, "name"},
		{"status not a choice", post, map[string]any{"title": "t", "status": "archived"}, "status"},
		{"status is a choice", post, map[string]any{"title": "t", "status": "published"}, ""},
		{"date without zone", post, map[string]any{"title": "t", "publishedAt": "2024-03-01"}, "publishedAt"},
		{"date as epoch millis", post, map[string]any{"title": "t", "publishedAt": 1709280000000}, ""},
		{"tags wrong element", post, map[string]any{"title": "t", "tags": []any{"a", 1}}, "tags"},
		{"embedded missing required", post, map[string]any{"title": "t", "location": map[string]any{"street": "x"}}, "location"},
		{"reference of wrong type", post, map[string]any{"title": "t", "author": post.New()}, "author"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := tt.typ.New()
			for k, v := range tt.values {
				if err := doc.Set(k, v); err != nil {
					t.Fatalf("Set(%s): %v", k, err)
				}
			}

			err := doc.Validate()
			if tt.invalid == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}

			var verr *domain.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Validate() = %v, want *domain.ValidationError", err)
			}
			if _, ok := verr.Fields[tt.invalid]; !ok {
				t.Errorf("failures = %v, want one for %s", verr.Fields, tt.invalid)
			}
		})
	}
}

func TestDelete(t *testing.T) {
	r, backend, _ := newTestRegistry(t)
	user, _ := blogTypes(t, r)
	ctx := context.Background()

	doc, err := user.Create(ctx, map[string]any{"name": "alice"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	var result any
	doc.On(PostDelete, func(ctx context.Context, ev *HookEvent) error {
		result = ev.Result
		return nil
	})

	n, err := doc.Delete(ctx)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if n != 1 {
		t.Errorf("Delete() = %d, want 1", n)
	}
	if result != int64(1) {
		t.Errorf("postDelete result = %#v, want int64(1)", result)
	}
	if !doc.IsDeleted() {
		t.Error("IsDeleted() = false after delete")
	}
	if doc.Get("name") != "alice" {
		t.Error("deleted document lost its values")
	}
	if c, _ := backend.Count(ctx, "users", nil); c != 0 {
		t.Errorf("stored users = %d, want 0", c)
	}
}

func TestDelete_Unsaved(t *testing.T) {
	r, backend, _ := newTestRegistry(t)
	user, _ := blogTypes(t, r)

	_, err := user.New().Delete(context.Background())
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("Delete error = %v, want ErrInvalidArgument", err)
	}
	if got := backend.count("Delete"); got != 0 {
		t.Errorf("backend deletes = %d, want 0", got)
	}
}

func TestCreate(t *testing.T) {
	r, backend, _ := newTestRegistry(t)
	user, _ := blogTypes(t, r)
	ctx := context.Background()

	before := time.Now().UTC()
	doc, err := user.Create(ctx, map[string]any{"name": "  Bob  ", "unknown": "dropped"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if doc.Get("name") != "bob" {
		t.Errorf("name = %q, want %q", doc.Get("name"), "bob")
	}
	if doc.Timestamp().Before(before) {
		t.Errorf("timestamp %v predates the call", doc.Timestamp())
	}

	raw, _ := backend.Backend.FindOne(ctx, "users", repositories.Query{"_id": doc.ID()})
	if raw["name"] != "bob" {
		t.Errorf("stored name = %#v, want bob", raw["name"])
	}
	if _, ok := raw["unknown"]; ok {
		t.Error("undeclared key was stored")
	}
}

func TestCreate_TimestampField(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	note, err := r.Register("Note", []*Field{String("body"), Date("timestamp")})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	doc, err := note.Create(context.Background(), map[string]any{"body": "hi"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	ts, ok := doc.Get("timestamp").(time.Time)
	if !ok || !ts.Equal(doc.Timestamp()) {
		t.Errorf("timestamp field = %#v, want %v", doc.Get("timestamp"), doc.Timestamp())
	}
}

func TestFromData_RoundTrip(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	_, post := blogTypes(t, r)

	doc := post.New()
	_ = doc.Set("title", "Round")
	_ = doc.Set("author", "u1")
	_ = doc.Set("location", map[string]any{"city": "Oslo", "street": "Main"})
	_ = doc.Set("tags", []any{"a", "b"})
	if err := doc.Canonicalize(); err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}

	record, err := doc.flatten()
	if err != nil {
		t.Fatalf("flatten: %v", err)
	}
	record[repositories.IDField] = "p1"
	record["extra"] = "ignored"

	back := post.FromData(record)
	if back.ID() != "p1" {
		t.Errorf("id = %v, want p1", back.ID())
	}
	if back.Get("title") != "Round" || back.Get("author") != "u1" {
		t.Errorf("values = %v", back.Values())
	}
	loc, ok := back.Get("location").(*Document)
	if !ok || loc.Get("city") != "Oslo" || loc.Type().Name() != "Address" {
		t.Errorf("location = %#v, want embedded Address", back.Get("location"))
	}
	if _, ok := back.Values()["extra"]; ok {
		t.Error("undeclared key survived rehydration")
	}

	summary := back.Summary()
	if summary["id"] != "p1" {
		t.Errorf("summary id = %v", summary["id"])
	}
	if nested, ok := summary["location"].(map[string]any); !ok || nested["city"] != "Oslo" {
		t.Errorf("summary location = %#v", summary["location"])
	}
}

func TestSet(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	user, _ := blogTypes(t, r)
	doc := user.New()

	if err := doc.Set("_id", "x"); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("Set(_id) = %v, want ErrInvalidArgument", err)
	}
	if err := doc.Set("nope", 1); !errors.Is(err, ErrUnknownField) {
		t.Errorf("Set(nope) = %v, want ErrUnknownField", err)
	}
}

func TestEmbeddedCannotBeSaved(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	blogTypes(t, r)
	address, _ := r.Type("Address")

	if _, err := address.New().Save(context.Background()); !errors.Is(err, ErrEmbedded) {
		t.Errorf("Save embedded = %v, want ErrEmbedded", err)
	}
	if address.DocumentClass() != "embedded" {
		t.Errorf("DocumentClass = %q", address.DocumentClass())
	}
}
