package ingest

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/nickyhof/LayerDB/core"
	"github.com/nickyhof/LayerDB/objects"
)

const KindCSV = "csv"

// csvSource reads one delimited file with a header row as a single table.
// Params: url (path, file://, http(s):// or s3://), delimiter, primary_key,
// table (defaults to the file's base name).
type csvSource struct {
	env        Env
	url        string
	table      string
	delimiter  rune
	primaryKey []string
}

func NewCSVSource(env Env, params Params) (Source, error) {
	url, err := params.Require("url")
	if err != nil {
		return nil, err
	}
	if env.Logger == nil {
		env.Logger = zap.NewNop()
	}
	src := &csvSource{env: env, url: url, delimiter: ','}

	if d := params.String("delimiter", ""); d != "" {
		r, size := utf8.DecodeRuneInString(d)
		if size != len(d) {
			return nil, fmt.Errorf("delimiter must be a single character, got %q", d)
		}
		src.delimiter = r
	}
	if src.primaryKey, err = params.Strings("primary_key"); err != nil {
		return nil, err
	}
	src.table = params.String("table", "")
	if src.table == "" {
		base := path.Base(objects.LocalPath(url))
		src.table = strings.TrimSuffix(base, path.Ext(base))
	}
	return src, nil
}

func (s *csvSource) Kind() string { return KindCSV }

func (s *csvSource) Close() error { return nil }

// read parses the file, inferring INTEGER, REAL or TEXT per column. Empty
// fields are NULL. At most limit rows are returned when limit > 0.
func (s *csvSource) read(ctx context.Context, limit int) (core.Schema, [][]any, error) {
	rc, err := objects.OpenReader(ctx, s.url, s.env.S3)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s: %w", s.url, err)
	}
	defer rc.Close()

	reader := csv.NewReader(rc)
	reader.Comma = s.delimiter

	header, err := reader.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read header of %s: %w", s.url, err)
	}

	var records [][]string
	for limit <= 0 || len(records) < limit {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read %s: %w", s.url, err)
		}
		records = append(records, record)
	}

	pk := make(map[string]bool, len(s.primaryKey))
	for _, name := range s.primaryKey {
		pk[name] = true
	}
	cols := make(core.Schema, len(header))
	for i, name := range header {
		name = strings.TrimSpace(name)
		cols[i] = core.Column{Name: name, Type: inferType(records, i), PrimaryKey: pk[name]}
	}
	for _, name := range s.primaryKey {
		if cols.Index(name) < 0 {
			return nil, nil, &core.SchemaError{Table: s.table, Column: name, Msg: "primary key column not in header"}
		}
	}

	rows := make([][]any, len(records))
	for r, record := range records {
		row := make([]any, len(cols))
		for i := range cols {
			if i < len(record) {
				row[i] = convert(record[i], cols[i].Type)
			}
		}
		rows[r] = row
	}
	s.env.Logger.Debug("read csv", zap.String("url", s.url), zap.Int("rows", len(rows)))
	return cols, rows, nil
}

func inferType(records [][]string, col int) string {
	isInt, isFloat := true, true
	for _, record := range records {
		if col >= len(record) || record[col] == "" {
			continue
		}
		if _, err := strconv.ParseInt(record[col], 10, 64); err != nil {
			isInt = false
		}
		if _, err := strconv.ParseFloat(record[col], 64); err != nil {
			isFloat = false
		}
	}
	switch {
	case isInt:
		return "INTEGER"
	case isFloat:
		return "REAL"
	default:
		return "TEXT"
	}
}

func convert(field, typ string) any {
	if field == "" {
		return nil
	}
	switch typ {
	case "INTEGER":
		v, _ := strconv.ParseInt(field, 10, 64)
		return v
	case "REAL":
		v, _ := strconv.ParseFloat(field, 64)
		return v
	default:
		return field
	}
}

func (s *csvSource) tables(requested []string) ([]TableResult, bool) {
	names, missing := selectTables([]string{s.table}, requested)
	return missing, len(names) == 1
}

func (s *csvSource) Introspect(ctx context.Context) ([]TableResult, error) {
	cols, _, err := s.read(ctx, 0)
	return []TableResult{{Table: s.table, Schema: cols, Options: s.options(), Err: err}}, nil
}

func (s *csvSource) Preview(ctx context.Context, tables []string) ([]TableResult, error) {
	results, ok := s.tables(tables)
	if !ok {
		return results, nil
	}
	cols, rows, err := s.read(ctx, DefaultPreviewRows)
	return append(results, TableResult{Table: s.table, Schema: cols, Options: s.options(), Rows: rows, Err: err}), nil
}

func (s *csvSource) Mount(ctx context.Context, schema string, tables []string) ([]TableResult, error) {
	results, ok := s.tables(tables)
	if !ok {
		return results, nil
	}
	res := TableResult{Table: s.table, Options: s.options()}
	res.Schema, _, res.Err = s.read(ctx, 0)
	if res.Err == nil {
		res.Err = s.env.Target.CreateTable(ctx, schema, s.table, res.Schema)
	}
	return append(results, res), nil
}

func (s *csvSource) Load(ctx context.Context, schema string, tables []string) ([]TableResult, error) {
	results, ok := s.tables(tables)
	if !ok {
		return results, nil
	}
	res := TableResult{Table: s.table, Options: s.options()}
	var rows [][]any
	res.Schema, rows, res.Err = s.read(ctx, 0)
	if res.Err == nil {
		res.Err = insertRows(ctx, s.env.Target, schema, s.table, res.Schema, rows)
	}
	return append(results, res), nil
}

func (s *csvSource) options() map[string]string {
	return map[string]string{
		"url":       s.url,
		"delimiter": string(s.delimiter),
	}
}
