package layered

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/nickyhof/LayerDB/core"
	"github.com/nickyhof/LayerDB/logging"
	"github.com/nickyhof/LayerDB/objects"
)

// Query restricts a layered read. Lo and Hi bound the change key
// (inclusive, nil is unbounded). Where matches columns by equality and
// Filter is an arbitrary row predicate.
type Query struct {
	Lo, Hi []any
	Where  map[string]any
	Filter func(row []any) bool
}

type Result struct {
	Columns core.Schema
	Rows    [][]any
	// Objects are the fragments that were applied.
	Objects []string
}

type Reader struct {
	store  *objects.Store
	logger *zap.Logger
}

type Option func(*Reader)

func WithLogger(logger *zap.Logger) Option {
	return func(r *Reader) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func New(store *objects.Store, opts ...Option) *Reader {
	r := &Reader{store: store, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Read reconstructs the rows of a table entry matching q, ordered by key.
// Missing payloads are downloaded.
func (r *Reader) Read(ctx context.Context, table string, entry core.TableEntry, q Query) (Result, error) {
	result := Result{Columns: entry.Schema}
	if len(entry.Objects) == 0 {
		return result, nil
	}

	fragments, err := r.store.Objects(entry.Objects)
	if err != nil {
		return Result{}, err
	}
	selected := NewIndex(fragments).LookupRange(q.Lo, q.Hi)
	ids := make([]string, len(selected))
	for i, f := range selected {
		ids[i] = f.ID
	}
	r.logger.Debug("layered read", logging.Table(table),
		zap.Int("fragments", len(fragments)), zap.Int("selected", len(ids)))

	if err := r.store.Download(ctx, ids); err != nil {
		return Result{}, err
	}

	changesets := make([]core.Changeset, 0, len(ids))
	for _, id := range ids {
		cs, err := r.store.Load(ctx, id)
		if err != nil {
			return Result{}, &core.StorageError{ObjectID: id, Table: table, Op: "layered read", Err: err}
		}
		changesets = append(changesets, cs)
	}

	rows := Reconstruct(changesets)
	where, err := wherePredicate(entry.Schema, q.Where)
	if err != nil {
		return Result{}, err
	}
	keyIdx, err := entry.Schema.KeyIndexes(entry.Schema.ChangeKey())
	if err != nil {
		return Result{}, err
	}

	for _, row := range rows {
		key := core.ExtractKey(row, keyIdx)
		if q.Lo != nil && core.CompareKeys(key, q.Lo) < 0 {
			continue
		}
		if q.Hi != nil && core.CompareKeys(key, q.Hi) > 0 {
			continue
		}
		if !where(row) || (q.Filter != nil && !q.Filter(row)) {
			continue
		}
		result.Rows = append(result.Rows, row)
	}
	result.Objects = ids
	return result, nil
}

// Reconstruct applies changesets in order in memory and returns the
// surviving rows ordered by key.
func Reconstruct(changesets []core.Changeset) [][]any {
	type keyed struct {
		key []any
		row []any
	}
	live := make(map[string]keyed)
	for _, cs := range changesets {
		for _, ch := range cs.Changes {
			k := core.KeyString(ch.Key)
			switch ch.Kind {
			case core.Insert, core.Update:
				live[k] = keyed{key: ch.Key, row: ch.Row}
			case core.Delete:
				delete(live, k)
			}
		}
	}

	entries := make([]keyed, 0, len(live))
	for _, e := range live {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return core.CompareKeys(entries[i].key, entries[j].key) < 0
	})
	rows := make([][]any, len(entries))
	for i, e := range entries {
		rows[i] = e.row
	}
	return rows
}

func wherePredicate(schema core.Schema, where map[string]any) (func([]any) bool, error) {
	type cond struct {
		idx   int
		value any
	}
	conds := make([]cond, 0, len(where))
	for col, v := range where {
		idx := schema.Index(col)
		if idx < 0 {
			return nil, &core.SchemaError{Column: col, Msg: "unknown column in filter"}
		}
		conds = append(conds, cond{idx: idx, value: core.Normalize(v)})
	}
	return func(row []any) bool {
		for _, c := range conds {
			if core.Compare(row[c.idx], c.value) != 0 {
				return false
			}
		}
		return true
	}, nil
}
