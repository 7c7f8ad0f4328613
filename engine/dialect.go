package engine

import (
	"context"
	"database/sql"
	"strings"

	"github.com/nickyhof/LayerDB/core"
)

// Dialect carries the engine specific parts of an SQLEngine.
type Dialect interface {
	Name() string
	// MetaSchema is the bookkeeping schema of the engine.
	MetaSchema() string
	// NullSafeEqual returns a predicate comparing the quoted column to a
	// single placeholder, treating two NULLs as equal.
	NullSafeEqual(column string) string

	Schemas(ctx context.Context, r Runner) ([]string, error)
	CreateSchema(ctx context.Context, r Runner, schema string) error
	DeleteSchema(ctx context.Context, r Runner, schema string) error
	Tables(ctx context.Context, r Runner, schema string) ([]string, error)
	Columns(ctx context.Context, r Runner, schema, table string) (core.Schema, error)
	RunIn(ctx context.Context, db *sql.DB, schema, stmt string) error
}

// Quote quotes an identifier with double quotes.
func Quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// Qualify returns the quoted schema.table reference.
func Qualify(schema, table string) string {
	return Quote(schema) + "." + Quote(table)
}

// QuoteList quotes and joins identifiers.
func QuoteList(idents []string) string {
	quoted := make([]string, len(idents))
	for i, ident := range idents {
		quoted[i] = Quote(ident)
	}
	return strings.Join(quoted, ", ")
}

// Placeholders returns n comma separated "?" markers.
func Placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// KeyPredicate builds a null-safe conjunction matching every key column.
func KeyPredicate(d Dialect, keyColumns []string) string {
	parts := make([]string, len(keyColumns))
	for i, col := range keyColumns {
		parts[i] = d.NullSafeEqual(Quote(col))
	}
	return strings.Join(parts, " AND ")
}
