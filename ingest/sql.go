package ingest

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/nickyhof/LayerDB/core"
	"github.com/nickyhof/LayerDB/engine"
	"github.com/nickyhof/LayerDB/engine/duckdb"
	"github.com/nickyhof/LayerDB/engine/sqlite"
)

const KindSQL = "sql"

// sqlSource copies tables out of another LayerDB engine.
// Params: driver (sqlite or duckdb), dsn (sqlite engine directory or duckdb
// file), schema (duckdb defaults to main), tables.
type sqlSource struct {
	env    Env
	source engine.Adapter
	schema string
	tables []string
}

// openers opens the engine behind a driver name.
var openers = map[string]func(dsn string) (engine.Adapter, error){
	"sqlite": func(dsn string) (engine.Adapter, error) { return sqlite.Open(dsn) },
	"duckdb": func(dsn string) (engine.Adapter, error) { return duckdb.Open(dsn) },
}

func NewSQLSource(env Env, params Params) (Source, error) {
	if env.Logger == nil {
		env.Logger = zap.NewNop()
	}
	driver := params.String("driver", "sqlite")
	open, ok := openers[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}
	dsn, err := params.Require("dsn")
	if err != nil {
		return nil, err
	}
	tables, err := params.Strings("tables")
	if err != nil {
		return nil, err
	}

	schema := params.String("schema", "")
	if schema == "" {
		if driver != "duckdb" {
			return nil, fmt.Errorf("missing required parameter %q", "schema")
		}
		schema = "main"
	}

	source, err := open(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s source: %w", driver, err)
	}
	env.Logger.Debug("opened sql source", zap.String("driver", driver), zap.String("schema", schema))
	return &sqlSource{env: env, source: source, schema: schema, tables: tables}, nil
}

func (s *sqlSource) Kind() string { return KindSQL }

func (s *sqlSource) Close() error { return s.source.Close() }

// selected resolves the requested tables against the source, restricted to
// the tables parameter when given.
func (s *sqlSource) selected(ctx context.Context, requested []string) ([]string, []TableResult, error) {
	available, err := s.source.Tables(ctx, s.schema)
	if err != nil {
		return nil, nil, err
	}
	if len(s.tables) > 0 {
		var missing []TableResult
		if available, missing = selectTables(available, s.tables); len(missing) > 0 {
			return nil, missing, nil
		}
	}
	names, missing := selectTables(available, requested)
	return names, missing, nil
}

func (s *sqlSource) Introspect(ctx context.Context) ([]TableResult, error) {
	names, results, err := s.selected(ctx, nil)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		cols, err := s.source.Columns(ctx, s.schema, name)
		results = append(results, TableResult{Table: name, Schema: cols, Err: err})
	}
	return results, nil
}

func (s *sqlSource) Preview(ctx context.Context, tables []string) ([]TableResult, error) {
	names, results, err := s.selected(ctx, tables)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		res := TableResult{Table: name}
		res.Schema, res.Rows, res.Err = s.read(ctx, name, DefaultPreviewRows)
		results = append(results, res)
	}
	return results, nil
}

func (s *sqlSource) Mount(ctx context.Context, schema string, tables []string) ([]TableResult, error) {
	names, results, err := s.selected(ctx, tables)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		res := TableResult{Table: name}
		res.Schema, res.Err = s.source.Columns(ctx, s.schema, name)
		if res.Err == nil {
			res.Err = s.env.Target.CreateTable(ctx, schema, name, res.Schema)
		}
		results = append(results, res)
	}
	return results, nil
}

func (s *sqlSource) Load(ctx context.Context, schema string, tables []string) ([]TableResult, error) {
	names, results, err := s.selected(ctx, tables)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		res := TableResult{Table: name}
		var rows [][]any
		res.Schema, rows, res.Err = s.read(ctx, name, 0)
		if res.Err == nil {
			res.Err = insertRows(ctx, s.env.Target, schema, name, res.Schema, rows)
		}
		if res.Err == nil {
			s.env.Logger.Debug("loaded table", zap.String("table", name), zap.Int("rows", len(rows)))
		}
		results = append(results, res)
	}
	return results, nil
}

func (s *sqlSource) read(ctx context.Context, table string, limit int) (core.Schema, [][]any, error) {
	cols, err := s.source.Columns(ctx, s.schema, table)
	if err != nil {
		return nil, nil, err
	}
	stmt := fmt.Sprintf("SELECT %s FROM %s", engine.QuoteList(cols.Names()), engine.Qualify(s.schema, table))
	if limit > 0 {
		stmt += fmt.Sprintf(" LIMIT %d", limit)
	}
	res, err := s.source.Run(ctx, stmt, nil, engine.ManyMany)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read %s.%s: %w", s.schema, table, err)
	}
	return cols, res.Rows, nil
}
