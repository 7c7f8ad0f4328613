package op

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/nickyhof/LayerDB/core"
	"github.com/nickyhof/LayerDB/diff"
	"github.com/nickyhof/LayerDB/engine"
	"github.com/nickyhof/LayerDB/layered"
)

// Query reads rows of a checked out table. Materialized tables are read
// from the engine; layered tables are reconstructed from their objects.
// Rows are ordered by change key.
func (r *Repository) Query(ctx context.Context, table string, q layered.Query) (layered.Result, error) {
	layeredTables, err := LayeredTables(ctx, r.Adapter(), r.Schema())
	if err != nil {
		return layered.Result{}, err
	}
	if hash, ok := layeredTables[table]; ok {
		img, err := r.Resolve(ctx, hash)
		if err != nil {
			return layered.Result{}, err
		}
		return r.layered.Read(ctx, table, img.Tables[table], q)
	}

	cols, err := r.Adapter().Columns(ctx, r.Schema(), table)
	if err != nil {
		return layered.Result{}, err
	}

	// equality filters are pushed down, the key range and predicate are
	// applied on the way out
	var (
		conds []string
		args  []any
	)
	for col, v := range q.Where {
		if cols.Index(col) < 0 {
			return layered.Result{}, &core.SchemaError{Table: table, Column: col, Msg: "unknown column in filter"}
		}
		conds = append(conds, r.Adapter().Dialect().NullSafeEqual(engine.Quote(col)))
		args = append(args, v)
	}
	stmt := fmt.Sprintf("SELECT %s FROM %s", engine.QuoteList(cols.Names()), engine.Qualify(r.Schema(), table))
	for i, c := range conds {
		if i == 0 {
			stmt += " WHERE " + c
		} else {
			stmt += " AND " + c
		}
	}
	stmt += " ORDER BY " + engine.QuoteList(cols.ChangeKey())

	res, err := r.Adapter().Run(ctx, stmt, args, engine.ManyMany)
	if err != nil {
		return layered.Result{}, &core.StorageError{Table: table, Op: "query", Err: err}
	}
	keyIdx, err := cols.KeyIndexes(cols.ChangeKey())
	if err != nil {
		return layered.Result{}, err
	}

	out := layered.Result{Columns: cols}
	for _, row := range res.Rows {
		key := core.ExtractKey(row, keyIdx)
		if q.Lo != nil && core.CompareKeys(key, q.Lo) < 0 {
			continue
		}
		if q.Hi != nil && core.CompareKeys(key, q.Hi) > 0 {
			continue
		}
		if q.Filter != nil && !q.Filter(row) {
			continue
		}
		out.Rows = append(out.Rows, row)
	}
	return out, nil
}

// Diff returns the changes to table between two images. An empty to
// compares against the table's current contents in the engine. A table
// missing on one side counts as empty.
func (r *Repository) Diff(ctx context.Context, table, from, to string) (core.Changeset, error) {
	fromImg, err := r.Resolve(ctx, from)
	if err != nil {
		return core.Changeset{}, err
	}
	before, cols, err := r.imageRows(ctx, fromImg, table)
	if err != nil {
		return core.Changeset{}, err
	}

	var after [][]any
	if to == "" {
		res, err := r.Query(ctx, table, layered.Query{})
		if err != nil {
			return core.Changeset{}, err
		}
		after, cols = res.Rows, res.Columns
	} else {
		toImg, err := r.Resolve(ctx, to)
		if err != nil {
			return core.Changeset{}, err
		}
		var toCols core.Schema
		if after, toCols, err = r.imageRows(ctx, toImg, table); err != nil {
			return core.Changeset{}, err
		}
		if toCols != nil {
			cols = toCols
		}
	}
	if cols == nil {
		return core.Changeset{}, &core.SchemaError{Table: table, Msg: "table not in either image"}
	}
	return diff.Rows(cols, cols.ChangeKey(), before, after)
}

func (r *Repository) imageRows(ctx context.Context, img core.Image, table string) ([][]any, core.Schema, error) {
	entry, ok := img.Tables[table]
	if !ok {
		return nil, nil, nil
	}
	res, err := r.layered.Read(ctx, table, entry, layered.Query{})
	if err != nil {
		return nil, nil, err
	}
	return res.Rows, entry.Schema, nil
}

// TableStatus describes one table of the checked out schema.
type TableStatus struct {
	Table   string
	Layered bool
	Tracked bool
	Pending core.ChangeCounts
	// SchemaChanged is set when the table no longer matches its baseline.
	SchemaChanged bool
}

// Status reports every table of the schema with its pending changes.
func (r *Repository) Status(ctx context.Context) ([]TableStatus, error) {
	physical, err := r.physicalTables(ctx)
	if err != nil {
		return nil, err
	}
	layeredTables, err := LayeredTables(ctx, r.Adapter(), r.Schema())
	if err != nil {
		return nil, err
	}

	var out []TableStatus
	for _, name := range physical {
		st := TableStatus{Table: name}
		if st.Tracked, err = r.diff.IsTracked(ctx, r.Schema(), name); err != nil {
			return nil, err
		}
		if st.Tracked {
			counts, err := r.diff.PendingCounts(ctx, r.Schema(), name)
			var schemaErr *core.SchemaError
			switch {
			case errors.As(err, &schemaErr):
				st.SchemaChanged = true
			case err != nil:
				return nil, err
			}
			st.Pending = counts
		}
		out = append(out, st)
	}
	for name := range layeredTables {
		out = append(out, TableStatus{Table: name, Layered: true})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Table < out[j].Table })
	return out, nil
}
