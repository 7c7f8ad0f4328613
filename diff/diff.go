package diff

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nickyhof/LayerDB/core"
	"github.com/nickyhof/LayerDB/engine"
	"github.com/nickyhof/LayerDB/logging"
	"github.com/nickyhof/LayerDB/objects"
)

// Engine tracks tables of one storage adapter and freezes their changes
// into an object store.
type Engine struct {
	adapter engine.Adapter
	store   *objects.Store
	logger  *zap.Logger
}

type Option func(*Engine)

func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func New(adapter engine.Adapter, store *objects.Store, opts ...Option) *Engine {
	e := &Engine{adapter: adapter, store: store, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Adapter() engine.Adapter { return e.adapter }

func (e *Engine) Store() *objects.Store { return e.store }

// Rows compares two row sets of the same columns by change key and returns
// the changeset turning before into after.
func Rows(columns core.Schema, changeKey []string, before, after [][]any) (core.Changeset, error) {
	keyIdx, err := columns.KeyIndexes(changeKey)
	if err != nil {
		return core.Changeset{}, err
	}

	old := make(map[string][]any, len(before))
	for _, row := range before {
		old[core.KeyString(core.ExtractKey(row, keyIdx))] = row
	}

	cs := core.Changeset{ChangeKey: changeKey, Columns: columns}
	seen := make(map[string]bool, len(after))
	for _, row := range after {
		key := core.ExtractKey(row, keyIdx)
		k := core.KeyString(key)
		seen[k] = true
		prev, ok := old[k]
		switch {
		case !ok:
			cs.Record(core.Insert, key, row)
		case !core.EqualRows(prev, row):
			cs.Record(core.Update, key, row)
		}
	}
	for k, row := range old {
		if !seen[k] {
			cs.Record(core.Delete, core.ExtractKey(row, keyIdx), nil)
		}
	}
	return cs.Normalize(), nil
}

// Freeze stores the changeset's payload and returns its object metadata.
// The object is not registered in the catalog.
func (e *Engine) Freeze(ctx context.Context, cs core.Changeset) (core.Object, error) {
	if err := ctx.Err(); err != nil {
		return core.Object{}, err
	}
	norm := cs.Normalize()
	payload, err := norm.Encode()
	if err != nil {
		return core.Object{}, err
	}
	id := core.HashBytes(payload)
	size, err := e.store.Write(id, payload)
	if err != nil {
		return core.Object{}, err
	}

	lo, hi := norm.Bounds()
	obj := core.Object{
		ID:        id,
		Format:    core.FormatDiff,
		ChangeKey: norm.ChangeKey,
		Min:       lo,
		Max:       hi,
		RowCount:  norm.Len(),
		Size:      size,
		CreatedAt: time.Now().UTC(),
	}
	e.logger.Debug("froze object", logging.ObjectID(id), zap.Int("rows", obj.RowCount))
	return obj, nil
}

// Snapshot returns the table's full contents as a changeset of inserts.
func (e *Engine) Snapshot(ctx context.Context, schema, table string) (core.Changeset, error) {
	cols, err := e.adapter.Columns(ctx, schema, table)
	if err != nil {
		return core.Changeset{}, err
	}
	rows, err := readRows(ctx, e.adapter, engine.Qualify(schema, table), cols)
	if err != nil {
		return core.Changeset{}, &core.StorageError{Table: table, Op: "snapshot", Err: err}
	}
	return Rows(cols, cols.ChangeKey(), nil, rows)
}

func readRows(ctx context.Context, r engine.Runner, qualified string, cols core.Schema) ([][]any, error) {
	stmt := fmt.Sprintf("SELECT %s FROM %s", engine.QuoteList(cols.Names()), qualified)
	res, err := r.Run(ctx, stmt, nil, engine.ManyMany)
	if err != nil {
		return nil, err
	}
	return res.Rows, nil
}
