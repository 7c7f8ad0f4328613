package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/nickyhof/LayerDB/core"
	"github.com/nickyhof/LayerDB/engine"
	"github.com/nickyhof/LayerDB/objects"
)

var ErrUnknownKind = errors.New("unknown source kind")

// DefaultPreviewRows bounds the rows returned by Preview.
const DefaultPreviewRows = 10

// TableResult is the per-table outcome of a source operation. A failure of
// one table is reported in Err and does not stop the others.
type TableResult struct {
	Table   string
	Schema  core.Schema
	Options map[string]string
	Rows    [][]any
	Err     error
}

// Source is an external dataset that can be copied into an engine schema.
// An empty table list means every table of the source.
type Source interface {
	Kind() string
	// Introspect lists the source's tables and their schemas.
	Introspect(ctx context.Context) ([]TableResult, error)
	// Preview returns the first rows of each table.
	Preview(ctx context.Context, tables []string) ([]TableResult, error)
	// Mount creates empty tables matching the source in schema.
	Mount(ctx context.Context, schema string, tables []string) ([]TableResult, error)
	// Load copies the rows into tables created by Mount.
	Load(ctx context.Context, schema string, tables []string) ([]TableResult, error)
	Close() error
}

// Env is handed to every factory.
type Env struct {
	// Target is the engine Mount and Load write to.
	Target engine.Adapter
	S3     *objects.S3Config
	Logger *zap.Logger
}

type Factory func(env Env, params Params) (Source, error)

// Registry maps source kinds to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	s3        *objects.S3Config
	logger    *zap.Logger
}

type Option func(*Registry)

func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithS3Config sets the credentials used for s3:// URLs.
func WithS3Config(cfg *objects.S3Config) Option {
	return func(r *Registry) { r.s3 = cfg }
}

// NewRegistry returns a registry with the built-in csv and sql kinds.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{factories: make(map[string]Factory), logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	r.Register(KindCSV, NewCSVSource)
	r.Register(KindSQL, NewSQLSource)
	return r
}

func (r *Registry) Register(kind string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = factory
}

func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.factories))
	for kind := range r.factories {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// Open builds a source of the given kind writing to target.
func (r *Registry) Open(kind string, target engine.Adapter, params Params) (Source, error) {
	r.mu.RLock()
	factory, ok := r.factories[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	return factory(Env{Target: target, S3: r.s3, Logger: r.logger.With(zap.String("source", kind))}, params)
}

// selectTables filters available by the requested names, reporting unknown
// names as failed results.
func selectTables(available []string, requested []string) (names []string, missing []TableResult) {
	if len(requested) == 0 {
		return available, nil
	}
	known := make(map[string]bool, len(available))
	for _, name := range available {
		known[name] = true
	}
	for _, name := range requested {
		if known[name] {
			names = append(names, name)
		} else {
			missing = append(missing, TableResult{Table: name, Err: &core.SchemaError{Table: name, Msg: "not found in source"}})
		}
	}
	return names, missing
}

// FirstError returns the first per-table error.
func FirstError(results []TableResult) error {
	for _, res := range results {
		if res.Err != nil {
			return fmt.Errorf("table %s: %w", res.Table, res.Err)
		}
	}
	return nil
}

// insertRows writes rows into an existing table in one batch.
func insertRows(ctx context.Context, target engine.Adapter, schema, table string, cols core.Schema, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		engine.Qualify(schema, table), engine.QuoteList(cols.Names()), engine.Placeholders(len(cols)))
	return target.RunBatch(ctx, stmt, rows)
}
