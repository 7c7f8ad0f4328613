// Package duckdb implements the LayerDB storage engine on DuckDB. Repository
// schemas are native DuckDB schemas.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/nickyhof/LayerDB/core"
	"github.com/nickyhof/LayerDB/engine"

	// Import DuckDB driver for database/sql
	_ "github.com/duckdb/duckdb-go/v2"
)

const metaSchema = "layerdb_meta"

var systemSchemas = map[string]bool{
	"main":               true,
	"information_schema": true,
	"pg_catalog":         true,
	metaSchema:           true,
}

var bookkeeping = []string{
	"CREATE SCHEMA IF NOT EXISTS " + metaSchema,
	`CREATE TABLE IF NOT EXISTS ` + metaSchema + `.` + engine.TrackedTables + ` (
		schema_name VARCHAR NOT NULL,
		table_name VARCHAR NOT NULL,
		shadow_name VARCHAR NOT NULL,
		PRIMARY KEY (schema_name, table_name))`,
	`CREATE TABLE IF NOT EXISTS ` + metaSchema + `.` + engine.LayeredTables + ` (
		schema_name VARCHAR NOT NULL,
		table_name VARCHAR NOT NULL,
		image_hash VARCHAR NOT NULL,
		PRIMARY KEY (schema_name, table_name))`,
}

type Dialect struct{}

// Open opens a DuckDB database at path. An empty path opens an in-memory
// database.
func Open(path string, opts ...engine.Option) (*engine.SQLEngine, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb: %w", err)
	}
	if path == "" {
		// every connection would get its own in-memory database
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping duckdb: %w", err)
	}
	for _, stmt := range bookkeeping {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to create bookkeeping tables: %w", err)
		}
	}
	return engine.New(db, Dialect{}, opts...), nil
}

func (Dialect) Name() string { return "duckdb" }

func (Dialect) MetaSchema() string { return metaSchema }

func (Dialect) NullSafeEqual(column string) string {
	return column + " IS NOT DISTINCT FROM ?"
}

func stringsOf(res engine.Result) []string {
	out := make([]string, 0, len(res.Rows))
	for _, v := range res.Column() {
		out = append(out, v.(string))
	}
	return out
}

func (Dialect) Schemas(ctx context.Context, r engine.Runner) ([]string, error) {
	res, err := r.Run(ctx, "SELECT DISTINCT schema_name FROM information_schema.schemata ORDER BY schema_name", nil, engine.ManyOne)
	if err != nil {
		return nil, fmt.Errorf("failed to list schemas: %w", err)
	}
	var out []string
	for _, s := range stringsOf(res) {
		if !systemSchemas[s] {
			out = append(out, s)
		}
	}
	return out, nil
}

func (Dialect) CreateSchema(ctx context.Context, r engine.Runner, schema string) error {
	_, err := r.Run(ctx, "CREATE SCHEMA IF NOT EXISTS "+engine.Quote(schema), nil, engine.None)
	return err
}

func (Dialect) DeleteSchema(ctx context.Context, r engine.Runner, schema string) error {
	_, err := r.Run(ctx, "DROP SCHEMA IF EXISTS "+engine.Quote(schema)+" CASCADE", nil, engine.None)
	return err
}

func (d Dialect) Tables(ctx context.Context, r engine.Runner, schema string) ([]string, error) {
	res, err := r.Run(ctx, "SELECT count(*) FROM information_schema.schemata WHERE schema_name = ?", []any{schema}, engine.OneOne)
	if err != nil {
		return nil, err
	}
	if n, _ := res.Scalar().(int64); n == 0 {
		return nil, fmt.Errorf("%w: %s", engine.ErrNoSchema, schema)
	}

	res, err = r.Run(ctx,
		"SELECT table_name FROM information_schema.tables WHERE table_schema = ? AND table_type = 'BASE TABLE' ORDER BY table_name",
		[]any{schema}, engine.ManyOne)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables of %s: %w", schema, err)
	}
	return stringsOf(res), nil
}

func (Dialect) Columns(ctx context.Context, r engine.Runner, schema, table string) (core.Schema, error) {
	res, err := r.Run(ctx,
		"SELECT column_name, data_type FROM information_schema.columns WHERE table_schema = ? AND table_name = ? ORDER BY ordinal_position",
		[]any{schema, table}, engine.ManyMany)
	if err != nil {
		return nil, fmt.Errorf("failed to introspect %s.%s: %w", schema, table, err)
	}

	pkRes, err := r.Run(ctx,
		"SELECT unnest(constraint_column_names) FROM duckdb_constraints() WHERE schema_name = ? AND table_name = ? AND constraint_type = 'PRIMARY KEY'",
		[]any{schema, table}, engine.ManyOne)
	if err != nil {
		return nil, fmt.Errorf("failed to read primary key of %s.%s: %w", schema, table, err)
	}
	pk := make(map[string]bool)
	for _, name := range stringsOf(pkRes) {
		pk[name] = true
	}

	cols := make(core.Schema, 0, len(res.Rows))
	for _, row := range res.Rows {
		name := row[0].(string)
		cols = append(cols, core.Column{Name: name, Type: row[1].(string), PrimaryKey: pk[name]})
	}
	return cols, nil
}

// RunIn executes stmt on one connection with the default schema switched to
// schema.
func (d Dialect) RunIn(ctx context.Context, db *sql.DB, schema, stmt string) error {
	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "SET schema = '"+strings.ReplaceAll(schema, "'", "''")+"'"); err != nil {
		return fmt.Errorf("%w: %s: %v", engine.ErrNoSchema, schema, err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.Background(), "SET schema = 'main'")
	}()

	_, err = conn.ExecContext(ctx, stmt)
	return err
}
