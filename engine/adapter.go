package engine

import (
	"context"
	"errors"

	"github.com/nickyhof/LayerDB/core"
)

var ErrNoSchema = errors.New("schema does not exist")

// Bookkeeping tables in the dialect's MetaSchema.
const (
	TrackedTables = "tracked_tables"
	LayeredTables = "layered_tables"
)

// ResultShape selects what Run returns.
type ResultShape int

const (
	None ResultShape = iota
	OneOne
	OneMany
	ManyOne
	ManyMany
)

func (s ResultShape) String() string {
	switch s {
	case None:
		return "none"
	case OneOne:
		return "one-one"
	case OneMany:
		return "one-many"
	case ManyOne:
		return "many-one"
	case ManyMany:
		return "many-many"
	}
	return "unknown"
}

// Result holds the output of a statement. Values are normalized with
// core.Normalize.
type Result struct {
	Columns  []string
	Rows     [][]any
	Affected int64
}

// Scalar returns the first value of the first row, or nil.
func (r Result) Scalar() any {
	if len(r.Rows) == 0 || len(r.Rows[0]) == 0 {
		return nil
	}
	return r.Rows[0][0]
}

// Row returns the first row, or nil.
func (r Result) Row() []any {
	if len(r.Rows) == 0 {
		return nil
	}
	return r.Rows[0]
}

// Column returns the first value of every row.
func (r Result) Column() []any {
	out := make([]any, 0, len(r.Rows))
	for _, row := range r.Rows {
		if len(row) > 0 {
			out = append(out, row[0])
		}
	}
	return out
}

func (r Result) All() [][]any {
	return r.Rows
}

// Runner executes statements. Both an Adapter and the runner handed to a Tx
// callback implement it.
type Runner interface {
	Run(ctx context.Context, stmt string, args []any, shape ResultShape) (Result, error)
	RunBatch(ctx context.Context, stmt string, argSets [][]any) error
}

// Adapter is the storage engine contract.
type Adapter interface {
	Runner

	Dialect() Dialect
	// RunIn executes stmt (possibly several statements) with schema as the
	// default schema.
	RunIn(ctx context.Context, schema, stmt string) error
	// Tx runs fn atomically. The callback must only use the runner it is given.
	Tx(ctx context.Context, fn func(Runner) error) error

	Schemas(ctx context.Context) ([]string, error)
	SchemaExists(ctx context.Context, schema string) (bool, error)
	Tables(ctx context.Context, schema string) ([]string, error)
	TableExists(ctx context.Context, schema, table string) (bool, error)
	Columns(ctx context.Context, schema, table string) (core.Schema, error)
	PrimaryKeys(ctx context.Context, schema, table string) ([]string, error)

	CreateSchema(ctx context.Context, schema string) error
	DeleteSchema(ctx context.Context, schema string) error
	CreateTable(ctx context.Context, schema, table string, columns core.Schema) error
	CopyTable(ctx context.Context, srcSchema, srcTable, dstSchema, dstTable string) error
	DeleteTable(ctx context.Context, schema, table string) error

	Close() error
}
