package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect names the SQL flavour a DB speaks.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// DB bundles a connection with its dialect-aware statement builder.
type DB struct {
	*sql.DB
	Dialect Dialect
	// Target is the file path or DSN the connection was opened with.
	Target  string
	builder sq.StatementBuilderType
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS seen_items (
		unique_id     TEXT PRIMARY KEY,
		first_seen_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS run_records (
		seq     BIGINT PRIMARY KEY,
		payload TEXT NOT NULL
	)`,
}

// OpenSQLite opens (or creates) a SQLite file and ensures the schema.
func OpenSQLite(ctx context.Context, path string) (*DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps :memory: databases shared and serializes writers.
	sqlDB.SetMaxOpenConns(1)
	return initDB(ctx, sqlDB, DialectSQLite, path)
}

// OpenPostgres connects to Postgres using a lib/pq DSN.
func OpenPostgres(ctx context.Context, dsn string) (*DB, error) {
	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return initDB(ctx, sqlDB, DialectPostgres, dsn)
}

func initDB(ctx context.Context, sqlDB *sql.DB, dialect Dialect, target string) (*DB, error) {
	builder := sq.StatementBuilder.PlaceholderFormat(sq.Question)
	if dialect == DialectPostgres {
		builder = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	}

	db := &DB{DB: sqlDB, Dialect: dialect, Target: target, builder: builder}
	if err := db.migrate(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate %s: %w", dialect, err)
	}
	return db, nil
}

func (db *DB) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// rewrite replaces every row of table inside one transaction. Rows are
// inserted in chunks to stay under driver parameter limits.
func (db *DB) rewrite(ctx context.Context, table string, columns []string, rows [][]any) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	del, args, err := db.builder.Delete(table).ToSql()
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("build delete: %w", err)
	}
	if _, err := tx.ExecContext(ctx, del, args...); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("clear %s: %w", table, err)
	}

	const chunk = 200
	for start := 0; start < len(rows); start += chunk {
		end := start + chunk
		if end > len(rows) {
			end = len(rows)
		}
		insert := db.builder.Insert(table).Columns(columns...)
		for _, row := range rows[start:end] {
			insert = insert.Values(row...)
		}
		query, args, err := insert.ToSql()
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("build insert: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert into %s: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", table, err)
	}
	return nil
}
