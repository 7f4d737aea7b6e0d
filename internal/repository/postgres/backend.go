package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"camo/internal/domain"
	"camo/internal/domain/repositories"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Backend stores each collection in its own table of JSONB documents:
//
//	id TEXT PRIMARY KEY, data JSONB, created_at, updated_at
//
// Tables are created on first use. Identifiers are uuid strings.
type Backend struct {
	pool   *pgxpool.Pool
	tables *TableNames
	logger *slog.Logger
	ready  sync.Map // collection -> struct{}
}

var _ repositories.Backend = (*Backend)(nil)

// NewBackend creates a backend over the configured pool
func NewBackend(config *RepositoryConfig) *Backend {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tables := config.Tables
	if tables == nil {
		tables = NewTableNames("")
	}
	return &Backend{
		pool:   config.Pool,
		tables: tables,
		logger: logger,
	}
}

// IsNativeID accepts any non-empty string
func (b *Backend) IsNativeID(v any) bool {
	s, ok := v.(string)
	return ok && s != ""
}

// ParseID returns s unchanged
func (b *Backend) ParseID(s string) (any, error) {
	if s == "" {
		return nil, fmt.Errorf("empty identifier: %w", domain.ErrInvalidArgument)
	}
	return s, nil
}

func (b *Backend) ensureTable(ctx context.Context, collection string) error {
	if _, ok := b.ready.Load(collection); ok {
		return nil
	}

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			data JSONB NOT NULL DEFAULT '{}'::jsonb,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`, b.tables.Table(collection))

	if _, err := b.conn(ctx).Exec(ctx, query); err != nil {
		return fmt.Errorf("create table for %s: %w", collection, err)
	}
	b.ready.Store(collection, struct{}{})
	b.logger.Debug("collection table ready", "collection", collection, "table", b.tables.Name(collection))
	return nil
}

// Save upserts the record under id, generating one when id is nil
func (b *Backend) Save(ctx context.Context, collection string, id any, record repositories.Record) (any, error) {
	if err := b.ensureTable(ctx, collection); err != nil {
		return nil, err
	}

	key := uuid.NewString()
	if id != nil {
		var err error
		if key, err = idString(id); err != nil {
			return nil, err
		}
	}

	if err := b.write(ctx, collection, key, record); err != nil {
		return nil, err
	}
	return key, nil
}

func (b *Backend) write(ctx context.Context, collection, id string, record repositories.Record) error {
	data, err := encodeRecord(record)
	if err != nil {
		return fmt.Errorf("encode %s record: %w", collection, err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, data)
		VALUES ($1, $2::jsonb)
		ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, updated_at = now()
	`, b.tables.Table(collection))

	if _, err := b.conn(ctx).Exec(ctx, query, id, data); err != nil {
		return mapWriteError(collection, "save", err)
	}
	return nil
}

// Delete removes the record with the given id
func (b *Backend) Delete(ctx context.Context, collection string, id any) (int64, error) {
	key, err := idString(id)
	if err != nil {
		return 0, err
	}
	if err := b.ensureTable(ctx, collection); err != nil {
		return 0, err
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, b.tables.Table(collection))
	tag, err := b.conn(ctx).Exec(ctx, query, key)
	if err != nil {
		return 0, fmt.Errorf("delete from %s: %w", collection, err)
	}
	return tag.RowsAffected(), nil
}

// DeleteOne removes the oldest match
func (b *Backend) DeleteOne(ctx context.Context, collection string, query repositories.Query) (int64, error) {
	if err := b.ensureTable(ctx, collection); err != nil {
		return 0, err
	}

	sb := &sqlBuilder{}
	where, err := sb.where(query)
	if err != nil {
		return 0, err
	}
	table := b.tables.Table(collection)
	sql := fmt.Sprintf(`
		DELETE FROM %s WHERE id IN (
			SELECT id FROM %s WHERE %s ORDER BY created_at ASC, id ASC LIMIT 1
		)
	`, table, table, where)

	tag, err := b.conn(ctx).Exec(ctx, sql, sb.args...)
	if err != nil {
		return 0, fmt.Errorf("delete from %s: %w", collection, err)
	}
	return tag.RowsAffected(), nil
}

// DeleteMany removes every match
func (b *Backend) DeleteMany(ctx context.Context, collection string, query repositories.Query) (int64, error) {
	if err := b.ensureTable(ctx, collection); err != nil {
		return 0, err
	}

	sb := &sqlBuilder{}
	where, err := sb.where(query)
	if err != nil {
		return 0, err
	}
	sql := fmt.Sprintf(`DELETE FROM %s WHERE %s`, b.tables.Table(collection), where)

	tag, err := b.conn(ctx).Exec(ctx, sql, sb.args...)
	if err != nil {
		return 0, fmt.Errorf("delete from %s: %w", collection, err)
	}
	return tag.RowsAffected(), nil
}

// FindOne returns the oldest match, or nil
func (b *Backend) FindOne(ctx context.Context, collection string, query repositories.Query) (repositories.Record, error) {
	return b.findFirst(ctx, collection, query, false)
}

func (b *Backend) findFirst(ctx context.Context, collection string, query repositories.Query, forUpdate bool) (repositories.Record, error) {
	if err := b.ensureTable(ctx, collection); err != nil {
		return nil, err
	}

	sb := &sqlBuilder{}
	where, err := sb.where(query)
	if err != nil {
		return nil, err
	}
	sql := fmt.Sprintf(`SELECT id, data FROM %s WHERE %s ORDER BY created_at ASC, id ASC LIMIT 1`,
		b.tables.Table(collection), where)
	if forUpdate {
		sql += " FOR UPDATE"
	}

	var id string
	var data []byte
	err = b.conn(ctx).QueryRow(ctx, sql, sb.args...).Scan(&id, &data)
	if err != nil {
		if IsPgNoRowsError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("find in %s: %w", collection, err)
	}
	return decodeRecord(id, data)
}

// Find returns every match
func (b *Backend) Find(ctx context.Context, collection string, query repositories.Query, opts repositories.FindOptions) ([]repositories.Record, error) {
	if err := b.ensureTable(ctx, collection); err != nil {
		return nil, err
	}

	sb := &sqlBuilder{}
	where, err := sb.where(query)
	if err != nil {
		return nil, err
	}
	sql := fmt.Sprintf(`SELECT id, data FROM %s WHERE %s %s`, b.tables.Table(collection), where, sb.orderBy(opts.Sort))
	if opts.Limit > 0 {
		sql += " LIMIT " + sb.arg(opts.Limit)
	}
	if opts.Skip > 0 {
		sql += " OFFSET " + sb.arg(opts.Skip)
	}

	rows, err := b.conn(ctx).Query(ctx, sql, sb.args...)
	if err != nil {
		return nil, fmt.Errorf("find in %s: %w", collection, err)
	}
	records, err := pgx.CollectRows(rows, scanRecord)
	if err != nil {
		return nil, fmt.Errorf("scan %s records: %w", collection, err)
	}

	// Return empty slice instead of nil
	if records == nil {
		records = []repositories.Record{}
	}
	return records, nil
}

// FindOneAndUpdate locks the oldest match, applies values and writes it back
// in one transaction
func (b *Backend) FindOneAndUpdate(ctx context.Context, collection string, query repositories.Query, values repositories.Record, opts repositories.UpdateOptions) (repositories.Record, error) {
	var result repositories.Record
	err := b.inTx(ctx, func(ctx context.Context) error {
		current, err := b.findFirst(ctx, collection, query, true)
		if err != nil {
			return err
		}

		if current == nil {
			if !opts.Upsert {
				return nil
			}
			current = repositories.SeedFromQuery(query)
			if _, ok := current[repositories.IDField].(string); !ok {
				current[repositories.IDField] = uuid.NewString()
			}
		}
		id, err := idString(current[repositories.IDField])
		if err != nil {
			return err
		}

		updated, err := repositories.ApplyUpdate(current, values)
		if err != nil {
			return fmt.Errorf("update %s: %w: %w", collection, err, domain.ErrInvalidArgument)
		}
		updated[repositories.IDField] = id

		if err := b.write(ctx, collection, id, updated); err != nil {
			return err
		}
		result = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// FindOneAndDelete removes the oldest match and returns it
func (b *Backend) FindOneAndDelete(ctx context.Context, collection string, query repositories.Query) (repositories.Record, error) {
	if err := b.ensureTable(ctx, collection); err != nil {
		return nil, err
	}

	sb := &sqlBuilder{}
	where, err := sb.where(query)
	if err != nil {
		return nil, err
	}
	table := b.tables.Table(collection)
	sql := fmt.Sprintf(`
		DELETE FROM %s WHERE id = (
			SELECT id FROM %s WHERE %s ORDER BY created_at ASC, id ASC LIMIT 1 FOR UPDATE
		)
		RETURNING id, data
	`, table, table, where)

	var id string
	var data []byte
	err = b.conn(ctx).QueryRow(ctx, sql, sb.args...).Scan(&id, &data)
	if err != nil {
		if IsPgNoRowsError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("delete from %s: %w", collection, err)
	}
	return decodeRecord(id, data)
}

// Count returns the number of matches
func (b *Backend) Count(ctx context.Context, collection string, query repositories.Query) (int64, error) {
	if err := b.ensureTable(ctx, collection); err != nil {
		return 0, err
	}

	sb := &sqlBuilder{}
	where, err := sb.where(query)
	if err != nil {
		return 0, err
	}
	sql := fmt.Sprintf(`SELECT count(*) FROM %s WHERE %s`, b.tables.Table(collection), where)

	var n int64
	if err := b.conn(ctx).QueryRow(ctx, sql, sb.args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", collection, err)
	}
	return n, nil
}

// CreateIndex creates an expression index on the field's text value
func (b *Backend) CreateIndex(ctx context.Context, collection string, field string, opts repositories.IndexOptions) error {
	if err := b.ensureTable(ctx, collection); err != nil {
		return err
	}

	sql, err := indexSQL(b.tables, collection, field, opts)
	if err != nil {
		return err
	}
	if _, err := b.conn(ctx).Exec(ctx, sql); err != nil {
		return mapWriteError(collection, "create index on", err)
	}
	return nil
}

func indexSQL(tables *TableNames, collection, field string, opts repositories.IndexOptions) (string, error) {
	if field == "" || strings.ContainsAny(field, `{},"'\`) {
		return "", fmt.Errorf("cannot index field %q: %w", field, domain.ErrInvalidArgument)
	}

	unique := ""
	if opts.Unique {
		unique = "UNIQUE "
	}
	path := "'{" + strings.Join(jsonPath(field), ",") + "}'"
	return fmt.Sprintf(`CREATE %sINDEX IF NOT EXISTS %s ON %s ((data #>> %s))`,
		unique, tables.IndexName(collection, field), tables.Table(collection), path), nil
}

// ClearCollection deletes every row of the collection's table
func (b *Backend) ClearCollection(ctx context.Context, collection string) error {
	if err := b.ensureTable(ctx, collection); err != nil {
		return err
	}

	sql := fmt.Sprintf(`DELETE FROM %s`, b.tables.Table(collection))
	if _, err := b.conn(ctx).Exec(ctx, sql); err != nil {
		return fmt.Errorf("clear %s: %w", collection, err)
	}
	return nil
}

func scanRecord(row pgx.CollectableRow) (repositories.Record, error) {
	var id string
	var data []byte
	if err := row.Scan(&id, &data); err != nil {
		return nil, err
	}
	return decodeRecord(id, data)
}

// encodeRecord serializes a record without its identifier
func encodeRecord(record repositories.Record) (string, error) {
	body := make(map[string]any, len(record))
	for k, v := range record {
		if k != repositories.IDField {
			body[k] = v
		}
	}
	data, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeRecord(id string, data []byte) (repositories.Record, error) {
	record := repositories.Record{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &record); err != nil {
			return nil, fmt.Errorf("decode record %s: %w", id, err)
		}
	}
	record[repositories.IDField] = id
	return record, nil
}
