// Package sqlite implements the LayerDB storage engine on modernc.org/sqlite.
//
// Every schema is a separate database file in the engine directory, attached
// to the main connection under the schema's name. The main database holds
// the bookkeeping tables, created by embedded migrations. SQLite limits the
// number of attached databases per connection (ten by default), which bounds
// the number of repositories one engine can hold checked out.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/nickyhof/LayerDB/core"
	"github.com/nickyhof/LayerDB/engine"
	"github.com/nickyhof/LayerDB/engine/sqlite/migrations"

	// Import SQLite driver for database/sql
	_ "modernc.org/sqlite"
)

const (
	mainFile      = "layerdb.db"
	schemasTable  = "layerdb_schemas"
	metaSchema    = "main"
	driverName    = "sqlite"
	pragmaOptions = "_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)"
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// Dialect is the sqlite flavour of engine.Dialect.
type Dialect struct {
	dir string
}

// Open opens (or creates) an engine rooted at dir.
func Open(dir string, opts ...engine.Option) (*engine.SQLEngine, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create engine directory: %w", err)
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve engine directory: %w", err)
	}

	db, err := sql.Open(driverName, dsn(filepath.Join(absDir, mainFile)))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// attachments are per connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	d := &Dialect{dir: absDir}
	if err := d.attachAll(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return engine.New(db, d, opts...), nil
}

// OpenTemp opens an engine in a fresh temporary directory that is removed
// on Close.
func OpenTemp(opts ...engine.Option) (*engine.SQLEngine, error) {
	dir, err := os.MkdirTemp("", "layerdb-sqlite-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	opts = append(opts, engine.WithCleanup(func() error { return os.RemoveAll(dir) }))
	eng, err := Open(dir, opts...)
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}
	return eng, nil
}

func dsn(path string) string {
	return fmt.Sprintf("file:%s?%s", filepath.ToSlash(path), pragmaOptions)
}

func runMigrations(db *sql.DB) error {
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to initialise migrate driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrations.Files, ".")
	if err != nil {
		return fmt.Errorf("failed to load embedded migrations: %w", err)
	}
	defer func() {
		_ = sourceDriver.Close()
	}()

	migrator, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

func (d *Dialect) Name() string { return "sqlite" }

func (d *Dialect) MetaSchema() string { return metaSchema }

func (d *Dialect) NullSafeEqual(column string) string {
	return column + " IS ?"
}

// fileName derives a stable, collision free database file name for a schema.
func fileName(schema string) string {
	safe := strings.Trim(unsafeChars.ReplaceAllString(schema, "_"), "_")
	return fmt.Sprintf("%s-%s.db", safe, core.HashString(schema)[:8])
}

type registered struct {
	name string
	file string
}

func registry(ctx context.Context, q interface {
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
}) ([]registered, error) {
	rows, err := q.QueryContext(ctx, "SELECT name, file FROM "+schemasTable+" ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to read schema registry: %w", err)
	}
	defer rows.Close()

	var out []registered
	for rows.Next() {
		var r registered
		if err := rows.Scan(&r.name, &r.file); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (d *Dialect) attachAll(ctx context.Context, db *sql.DB) error {
	schemas, err := registry(ctx, db)
	if err != nil {
		return err
	}
	for _, s := range schemas {
		if _, err := db.ExecContext(ctx, "ATTACH DATABASE ? AS "+engine.Quote(s.name), filepath.Join(d.dir, s.file)); err != nil {
			return fmt.Errorf("failed to attach schema %s: %w", s.name, err)
		}
	}
	return nil
}

func (d *Dialect) Schemas(ctx context.Context, r engine.Runner) ([]string, error) {
	res, err := r.Run(ctx, "SELECT name FROM "+schemasTable+" ORDER BY name", nil, engine.ManyOne)
	if err != nil {
		return nil, fmt.Errorf("failed to list schemas: %w", err)
	}
	out := make([]string, 0, len(res.Rows))
	for _, v := range res.Column() {
		out = append(out, v.(string))
	}
	return out, nil
}

func (d *Dialect) CreateSchema(ctx context.Context, r engine.Runner, schema string) error {
	file := fileName(schema)
	if _, err := r.Run(ctx, "ATTACH DATABASE ? AS "+engine.Quote(schema), []any{filepath.Join(d.dir, file)}, engine.None); err != nil {
		return err
	}
	_, err := r.Run(ctx, "INSERT INTO "+schemasTable+" (name, file) VALUES (?, ?)", []any{schema, file}, engine.None)
	return err
}

func (d *Dialect) DeleteSchema(ctx context.Context, r engine.Runner, schema string) error {
	if _, err := r.Run(ctx, "DETACH DATABASE "+engine.Quote(schema), nil, engine.None); err != nil {
		return err
	}
	if _, err := r.Run(ctx, "DELETE FROM "+schemasTable+" WHERE name = ?", []any{schema}, engine.None); err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(d.dir, fileName(schema))); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (d *Dialect) Tables(ctx context.Context, r engine.Runner, schema string) ([]string, error) {
	if schema != metaSchema {
		if ok, err := d.registered(ctx, r, schema); err != nil {
			return nil, err
		} else if !ok {
			return nil, fmt.Errorf("%w: %s", engine.ErrNoSchema, schema)
		}
	}

	stmt := fmt.Sprintf("SELECT name FROM %s.sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%%' ORDER BY name",
		engine.Quote(schema))
	res, err := r.Run(ctx, stmt, nil, engine.ManyOne)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables of %s: %w", schema, err)
	}
	out := make([]string, 0, len(res.Rows))
	for _, v := range res.Column() {
		out = append(out, v.(string))
	}
	return out, nil
}

func (d *Dialect) registered(ctx context.Context, r engine.Runner, schema string) (bool, error) {
	res, err := r.Run(ctx, "SELECT count(*) FROM "+schemasTable+" WHERE name = ?", []any{schema}, engine.OneOne)
	if err != nil {
		return false, err
	}
	n, _ := res.Scalar().(int64)
	return n > 0, nil
}

func (d *Dialect) Columns(ctx context.Context, r engine.Runner, schema, table string) (core.Schema, error) {
	res, err := r.Run(ctx, "SELECT name, type, pk FROM pragma_table_info(?, ?) ORDER BY cid",
		[]any{table, schema}, engine.ManyMany)
	if err != nil {
		return nil, fmt.Errorf("failed to introspect %s.%s: %w", schema, table, err)
	}
	cols := make(core.Schema, 0, len(res.Rows))
	for _, row := range res.Rows {
		pk, _ := row[2].(int64)
		typ, _ := row[1].(string)
		cols = append(cols, core.Column{Name: row[0].(string), Type: typ, PrimaryKey: pk > 0})
	}
	return cols, nil
}

// RunIn executes stmt on a dedicated connection whose main database is the
// schema's file. Every other registered schema is attached under its name so
// qualified references keep working.
func (d *Dialect) RunIn(ctx context.Context, db *sql.DB, schema, stmt string) error {
	schemas, err := registry(ctx, db)
	if err != nil {
		return err
	}

	var target string
	for _, s := range schemas {
		if s.name == schema {
			target = s.file
		}
	}
	if target == "" {
		return fmt.Errorf("%w: %s", engine.ErrNoSchema, schema)
	}

	conn, err := sql.Open(driverName, dsn(filepath.Join(d.dir, target)))
	if err != nil {
		return fmt.Errorf("failed to open schema %s: %w", schema, err)
	}
	defer conn.Close()
	conn.SetMaxOpenConns(1)

	others := make([]registered, 0, len(schemas))
	for _, s := range schemas {
		if s.name != schema {
			others = append(others, s)
		}
	}
	sort.Slice(others, func(i, j int) bool { return others[i].name < others[j].name })
	for _, s := range others {
		if _, err := conn.ExecContext(ctx, "ATTACH DATABASE ? AS "+engine.Quote(s.name), filepath.Join(d.dir, s.file)); err != nil {
			return fmt.Errorf("failed to attach schema %s: %w", s.name, err)
		}
	}

	if _, err := conn.ExecContext(ctx, stmt); err != nil {
		return err
	}
	return nil
}
