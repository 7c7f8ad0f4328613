package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/nickyhof/LayerDB/core"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// SQLEngine implements Adapter over a database/sql pool.
type SQLEngine struct {
	db       *sql.DB
	dialect  Dialect
	logger   *zap.Logger
	cleanups []func() error
}

type Option func(*SQLEngine)

func WithLogger(logger *zap.Logger) Option {
	return func(e *SQLEngine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithCleanup registers a function run by Close after the pool is closed.
func WithCleanup(fn func() error) Option {
	return func(e *SQLEngine) {
		e.cleanups = append(e.cleanups, fn)
	}
}

func New(db *sql.DB, dialect Dialect, opts ...Option) *SQLEngine {
	e := &SQLEngine{db: db, dialect: dialect, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// DB exposes the underlying pool.
func (e *SQLEngine) DB() *sql.DB {
	return e.db
}

func (e *SQLEngine) Dialect() Dialect {
	return e.dialect
}

func (e *SQLEngine) Run(ctx context.Context, stmt string, args []any, shape ResultShape) (Result, error) {
	e.logger.Debug("run", zap.String("engine", e.dialect.Name()), zap.String("stmt", stmt), zap.Stringer("shape", shape))
	return run(ctx, e.db, stmt, args, shape)
}

func (e *SQLEngine) RunBatch(ctx context.Context, stmt string, argSets [][]any) error {
	if len(argSets) == 0 {
		return nil
	}
	return e.Tx(ctx, func(r Runner) error {
		return r.RunBatch(ctx, stmt, argSets)
	})
}

func (e *SQLEngine) RunIn(ctx context.Context, schema, stmt string) error {
	e.logger.Debug("run in schema", zap.String("schema", schema), zap.String("stmt", stmt))
	return e.dialect.RunIn(ctx, e.db, schema, stmt)
}

func (e *SQLEngine) Tx(ctx context.Context, fn func(Runner) error) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(&txRunner{tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback error: %w)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (e *SQLEngine) Schemas(ctx context.Context) ([]string, error) {
	return e.dialect.Schemas(ctx, e)
}

func (e *SQLEngine) SchemaExists(ctx context.Context, schema string) (bool, error) {
	schemas, err := e.Schemas(ctx)
	if err != nil {
		return false, err
	}
	for _, s := range schemas {
		if s == schema {
			return true, nil
		}
	}
	return false, nil
}

func (e *SQLEngine) Tables(ctx context.Context, schema string) ([]string, error) {
	return e.dialect.Tables(ctx, e, schema)
}

func (e *SQLEngine) TableExists(ctx context.Context, schema, table string) (bool, error) {
	tables, err := e.Tables(ctx, schema)
	if errors.Is(err, ErrNoSchema) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	for _, t := range tables {
		if t == table {
			return true, nil
		}
	}
	return false, nil
}

func (e *SQLEngine) Columns(ctx context.Context, schema, table string) (core.Schema, error) {
	cols, err := e.dialect.Columns(ctx, e, schema, table)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, &core.SchemaError{Table: schema + "." + table, Msg: "table does not exist"}
	}
	return cols, nil
}

func (e *SQLEngine) PrimaryKeys(ctx context.Context, schema, table string) ([]string, error) {
	cols, err := e.Columns(ctx, schema, table)
	if err != nil {
		return nil, err
	}
	return cols.PrimaryKey(), nil
}

func (e *SQLEngine) CreateSchema(ctx context.Context, schema string) error {
	exists, err := e.SchemaExists(ctx, schema)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if err := e.dialect.CreateSchema(ctx, e, schema); err != nil {
		return fmt.Errorf("failed to create schema %s: %w", schema, err)
	}
	return nil
}

func (e *SQLEngine) DeleteSchema(ctx context.Context, schema string) error {
	exists, err := e.SchemaExists(ctx, schema)
	if err != nil || !exists {
		return err
	}
	if err := e.dialect.DeleteSchema(ctx, e, schema); err != nil {
		return fmt.Errorf("failed to delete schema %s: %w", schema, err)
	}
	return nil
}

// CreateTableSQL renders the DDL for a table with the given columns.
func CreateTableSQL(schema, table string, columns core.Schema) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	b.WriteString(Qualify(schema, table))
	b.WriteString(" (")
	for i, col := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(Quote(col.Name))
		if col.Type != "" {
			b.WriteString(" " + col.Type)
		}
	}
	if pk := columns.PrimaryKey(); len(pk) > 0 {
		b.WriteString(", PRIMARY KEY (" + QuoteList(pk) + ")")
	}
	b.WriteString(")")
	return b.String()
}

func (e *SQLEngine) CreateTable(ctx context.Context, schema, table string, columns core.Schema) error {
	if len(columns) == 0 {
		return &core.SchemaError{Table: table, Msg: "no columns"}
	}
	if _, err := e.Run(ctx, CreateTableSQL(schema, table, columns), nil, None); err != nil {
		return fmt.Errorf("failed to create table %s.%s: %w", schema, table, err)
	}
	return nil
}

// CopyTable recreates srcTable as dstTable, keeping its columns and primary
// key, and copies every row.
func (e *SQLEngine) CopyTable(ctx context.Context, srcSchema, srcTable, dstSchema, dstTable string) error {
	cols, err := e.Columns(ctx, srcSchema, srcTable)
	if err != nil {
		return err
	}
	if err := e.DeleteTable(ctx, dstSchema, dstTable); err != nil {
		return err
	}
	if err := e.CreateTable(ctx, dstSchema, dstTable, cols); err != nil {
		return err
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s",
		Qualify(dstSchema, dstTable), QuoteList(cols.Names()), QuoteList(cols.Names()), Qualify(srcSchema, srcTable))
	if _, err := e.Run(ctx, stmt, nil, None); err != nil {
		return fmt.Errorf("failed to copy %s.%s to %s.%s: %w", srcSchema, srcTable, dstSchema, dstTable, err)
	}
	return nil
}

func (e *SQLEngine) DeleteTable(ctx context.Context, schema, table string) error {
	if _, err := e.Run(ctx, "DROP TABLE IF EXISTS "+Qualify(schema, table), nil, None); err != nil {
		return fmt.Errorf("failed to delete table %s.%s: %w", schema, table, err)
	}
	return nil
}

func (e *SQLEngine) Close() error {
	err := e.db.Close()
	for _, fn := range e.cleanups {
		if cErr := fn(); cErr != nil && err == nil {
			err = cErr
		}
	}
	return err
}

type txRunner struct {
	tx *sql.Tx
}

func (t *txRunner) Run(ctx context.Context, stmt string, args []any, shape ResultShape) (Result, error) {
	return run(ctx, t.tx, stmt, args, shape)
}

func (t *txRunner) RunBatch(ctx context.Context, stmt string, argSets [][]any) error {
	return runBatch(ctx, t.tx, stmt, argSets)
}

func run(ctx context.Context, q querier, stmt string, args []any, shape ResultShape) (Result, error) {
	if shape == None {
		res, err := q.ExecContext(ctx, stmt, args...)
		if err != nil {
			return Result{}, err
		}
		affected, _ := res.RowsAffected()
		return Result{Affected: affected}, nil
	}

	rows, err := q.QueryContext(ctx, stmt, args...)
	if err != nil {
		return Result{}, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return Result{}, err
	}

	result := Result{Columns: cols}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return Result{}, err
		}
		result.Rows = append(result.Rows, core.NormalizeRow(values))
		if shape == OneOne || shape == OneMany {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return Result{}, err
	}
	return result, nil
}

func runBatch(ctx context.Context, q querier, stmt string, argSets [][]any) error {
	if len(argSets) == 0 {
		return nil
	}
	prepared, err := q.PrepareContext(ctx, stmt)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer prepared.Close()

	for _, args := range argSets {
		if _, err := prepared.ExecContext(ctx, args...); err != nil {
			return err
		}
	}
	return nil
}
