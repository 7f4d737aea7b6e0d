package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"camo/internal/domain"
	"camo/internal/domain/repositories"
)

func seed(t *testing.T, b *Backend, records ...repositories.Record) []any {
	t.Helper()
	var ids []any
	for _, r := range records {
		id, err := b.Save(context.Background(), "people", nil, r)
		if err != nil {
			t.Fatalf("Save(%v): %v", r, err)
		}
		ids = append(ids, id)
	}
	return ids
}

func people(t *testing.T) (*Backend, []any) {
	b := New(WithIDGenerator(Sequence("p")))
	ids := seed(t, b,
		repositories.Record{"name": "ann", "age": 31.0, "tags": []any{"admin", "ops"}, "address": map[string]any{"city": "Oslo"}},
		repositories.Record{"name": "bob", "age": 25.0, "tags": []any{"ops"}},
		repositories.Record{"name": "cid", "age": 40.0, "joined": time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)},
	)
	return b, ids
}

func names(records []repositories.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i], _ = r["name"].(string)
	}
	return out
}

func TestFind_Operators(t *testing.T) {
	b, ids := people(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		query repositories.Query
		want  []string
	}{
		{"all", nil, []string{"ann", "bob", "cid"}},
		{"equality", repositories.Query{"name": "bob"}, []string{"bob"}},
		{"int matches float", repositories.Query{"age": 25}, []string{"bob"}},
		{"by id", repositories.Query{"_id": ids[2]}, []string{"cid"}},
		{"in ids", repositories.Query{"_id": map[string]any{"$in": []any{ids[0], ids[2], "zzz"}}}, []string{"ann", "cid"}},
		{"nin", repositories.Query{"name": map[string]any{"$nin": []string{"ann", "bob"}}}, []string{"cid"}},
		{"ne", repositories.Query{"name": map[string]any{"$ne": "ann"}}, []string{"bob", "cid"}},
		{"range", repositories.Query{"age": map[string]any{"$gt": 25, "$lte": 40}}, []string{"ann", "cid"}},
		{"array contains", repositories.Query{"tags": "ops"}, []string{"ann", "bob"}},
		{"exists", repositories.Query{"joined": map[string]any{"$exists": true}}, []string{"cid"}},
		{"not exists", repositories.Query{"tags": map[string]any{"$exists": false}}, []string{"cid"}},
		{"dotted path", repositories.Query{"address.city": "Oslo"}, []string{"ann"}},
		{"date comparison", repositories.Query{"joined": map[string]any{"$lt": time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)}}, []string{"cid"}},
		{"or", repositories.Query{"$or": []any{
			map[string]any{"name": "ann"},
			map[string]any{"age": map[string]any{"$gte": 40}},
		}}, []string{"ann", "cid"}},
		{"and", repositories.Query{"$and": []repositories.Query{
			{"tags": "ops"},
			{"age": map[string]any{"$lt": 30}},
		}}, []string{"bob"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := b.Find(ctx, "people", tt.query, repositories.FindOptions{})
			if err != nil {
				t.Fatalf("Find: %v", err)
			}
			if g, w := names(got), tt.want; len(g) != len(w) {
				t.Fatalf("got %v, want %v", g, w)
			} else {
				for i := range w {
					if g[i] != w[i] {
						t.Errorf("got %v, want %v", g, w)
						break
					}
				}
			}
		})
	}
}

func TestFind_UnsupportedOperator(t *testing.T) {
	b, _ := people(t)
	_, err := b.Find(context.Background(), "people", repositories.Query{"age": map[string]any{"$regex": "x"}}, repositories.FindOptions{})
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("error = %v, want ErrInvalidArgument", err)
	}
}

func TestFind_SortSkipLimit(t *testing.T) {
	b, _ := people(t)
	ctx := context.Background()

	got, err := b.Find(ctx, "people", nil, repositories.FindOptions{
		Sort:  []repositories.Sort{{Field: "age", Order: -1}},
		Skip:  1,
		Limit: 1,
	})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if n := names(got); len(n) != 1 || n[0] != "ann" {
		t.Errorf("got %v, want [ann]", n)
	}

	none, err := b.Find(ctx, "people", nil, repositories.FindOptions{Skip: 10})
	if err != nil || none == nil || len(none) != 0 {
		t.Errorf("skip past end = %v, %v; want empty slice", none, err)
	}
}

func TestSave_CopiesRecords(t *testing.T) {
	b := New()
	ctx := context.Background()

	tags := []any{"a"}
	id, err := b.Save(ctx, "things", nil, repositories.Record{"tags": tags})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !b.IsNativeID(id) {
		t.Fatalf("id %v is not native", id)
	}
	tags[0] = "mutated"

	got, _ := b.FindOne(ctx, "things", repositories.Query{"_id": id})
	if got["tags"].([]any)[0] != "a" {
		t.Error("stored record aliases caller memory")
	}
	got["tags"].([]any)[0] = "changed"
	again, _ := b.FindOne(ctx, "things", repositories.Query{"_id": id})
	if again["tags"].([]any)[0] != "a" {
		t.Error("returned record aliases stored memory")
	}

	// saving with an id replaces in place
	if _, err := b.Save(ctx, "things", id, repositories.Record{"tags": []any{"b"}}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if n, _ := b.Count(ctx, "things", nil); n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
}

func TestUniqueIndex(t *testing.T) {
	b, ids := people(t)
	ctx := context.Background()

	if err := b.CreateIndex(ctx, "people", "name", repositories.IndexOptions{Unique: true}); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}
	if err := b.CreateIndex(ctx, "people", "name", repositories.IndexOptions{Unique: true}); err != nil {
		t.Fatalf("repeated CreateIndex: %v", err)
	}

	_, err := b.Save(ctx, "people", nil, repositories.Record{"name": "ann"})
	var conflict *domain.ConflictError
	if !errors.As(err, &conflict) || conflict.ResourceID != ids[0] {
		t.Errorf("duplicate save error = %v, want conflict with %v", err, ids[0])
	}

	// re-saving a record with its own value is not a conflict
	if _, err := b.Save(ctx, "people", ids[0], repositories.Record{"name": "ann", "age": 32.0}); err != nil {
		t.Errorf("self save: %v", err)
	}

	_, err = b.FindOneAndUpdate(ctx, "people", repositories.Query{"name": "bob"}, repositories.Record{"$set": map[string]any{"name": "cid"}}, repositories.UpdateOptions{})
	if !errors.Is(err, domain.ErrConflict) {
		t.Errorf("conflicting update error = %v, want ErrConflict", err)
	}

	if _, err := b.Save(ctx, "dupes", nil, repositories.Record{"k": 1}); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Save(ctx, "dupes", nil, repositories.Record{"k": 1}); err != nil {
		t.Fatal(err)
	}
	if err := b.CreateIndex(ctx, "dupes", "k", repositories.IndexOptions{Unique: true}); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("index over duplicates = %v, want ErrConflict", err)
	}
}

func TestFindOneAndUpdate(t *testing.T) {
	b, ids := people(t)
	ctx := context.Background()

	got, err := b.FindOneAndUpdate(ctx, "people", repositories.Query{"_id": ids[1]}, repositories.Record{
		"$set":   map[string]any{"age": 26.0},
		"$unset": map[string]any{"tags": ""},
		"$inc":   map[string]any{"visits": 2},
	}, repositories.UpdateOptions{})
	if err != nil {
		t.Fatalf("FindOneAndUpdate: %v", err)
	}
	if got["age"] != 26.0 || got["visits"] != 2.0 || got["_id"] != ids[1] {
		t.Errorf("updated = %v", got)
	}
	if _, ok := got["tags"]; ok {
		t.Error("$unset left tags behind")
	}

	plain, err := b.FindOneAndUpdate(ctx, "people", repositories.Query{"name": "cid"}, repositories.Record{"age": 41.0, "_id": "hijack"}, repositories.UpdateOptions{})
	if err != nil {
		t.Fatalf("plain update: %v", err)
	}
	if plain["age"] != 41.0 || plain["_id"] != ids[2] {
		t.Errorf("plain update = %v", plain)
	}

	missing, err := b.FindOneAndUpdate(ctx, "people", repositories.Query{"name": "zed"}, repositories.Record{"age": 1.0}, repositories.UpdateOptions{})
	if err != nil || missing != nil {
		t.Errorf("no match = %v, %v; want nil, nil", missing, err)
	}

	upserted, err := b.FindOneAndUpdate(ctx, "people", repositories.Query{"name": "zed"}, repositories.Record{"age": 1.0}, repositories.UpdateOptions{Upsert: true})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if upserted["name"] != "zed" || upserted["age"] != 1.0 || upserted["_id"] == nil {
		t.Errorf("upserted = %v", upserted)
	}
	if n, _ := b.Count(ctx, "people", nil); n != 4 {
		t.Errorf("count = %d, want 4", n)
	}
}

func TestDeletes(t *testing.T) {
	b, ids := people(t)
	ctx := context.Background()

	removed, err := b.FindOneAndDelete(ctx, "people", repositories.Query{"name": "bob"})
	if err != nil || removed["_id"] != ids[1] {
		t.Fatalf("FindOneAndDelete = %v, %v", removed, err)
	}
	if n, _ := b.Delete(ctx, "people", ids[1]); n != 0 {
		t.Errorf("deleting a missing record removed %d", n)
	}
	if n, _ := b.DeleteOne(ctx, "people", nil); n != 1 {
		t.Errorf("DeleteOne removed %d, want 1", n)
	}
	if n, _ := b.DeleteMany(ctx, "people", nil); n != 1 {
		t.Errorf("DeleteMany removed %d, want 1", n)
	}
	if _, err := b.Delete(ctx, "people", 42); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("non-string id error = %v", err)
	}

	seed(t, b, repositories.Record{"name": "x"})
	if err := b.ClearCollection(ctx, "people"); err != nil {
		t.Fatalf("ClearCollection: %v", err)
	}
	if n, _ := b.Count(ctx, "people", nil); n != 0 {
		t.Errorf("count after clear = %d", n)
	}
}

func TestCanceledContext(t *testing.T) {
	b := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := b.Save(ctx, "c", nil, repositories.Record{}); !errors.Is(err, context.Canceled) {
		t.Errorf("Save error = %v, want context.Canceled", err)
	}
}
