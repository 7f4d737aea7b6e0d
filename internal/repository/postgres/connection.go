package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RepositoryConfig holds configuration for the backend
type RepositoryConfig struct {
	Pool   *pgxpool.Pool
	Tables *TableNames
	Logger *slog.Logger
}

// TableNames maps collections to environment-prefixed table names
type TableNames struct {
	Prefix string
}

// NewTableNames creates table names with the given prefix
func NewTableNames(prefix string) *TableNames {
	return &TableNames{Prefix: prefix}
}

// Name returns the unquoted table name of a collection
func (t *TableNames) Name(collection string) string {
	return t.Prefix + collection
}

// Table returns the quoted table identifier of a collection, safe to interpolate into SQL
func (t *TableNames) Table(collection string) string {
	return pgx.Identifier{t.Name(collection)}.Sanitize()
}

// IndexName returns the quoted name of the index on a collection field
func (t *TableNames) IndexName(collection, field string) string {
	name := t.Name(collection) + "_" + strings.ReplaceAll(field, ".", "_") + "_idx"
	return pgx.Identifier{name}.Sanitize()
}

// Pool sizing used unless the connection string sets pool_max_conns / pool_min_conns
const (
	defaultMaxConns = 25
	defaultMinConns = 2
)

// CreateConnectionPool opens and pings a pgx pool.
//
// Port 6543 is treated as PgBouncer in transaction mode, which cannot hold
// prepared statements; there the pool describes statements instead of
// preparing them unless default_query_exec_mode is set explicitly.
func CreateConnectionPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	if !strings.Contains(databaseURL, "pool_max_conns") {
		config.MaxConns = defaultMaxConns
	}
	if !strings.Contains(databaseURL, "pool_min_conns") {
		config.MinConns = defaultMinConns
	}

	if config.ConnConfig.Port == 6543 && !strings.Contains(databaseURL, "default_query_exec_mode") {
		config.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeCacheDescribe
		slog.Debug("using cache_describe exec mode for pgbouncer", "port", config.ConnConfig.Port)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}
