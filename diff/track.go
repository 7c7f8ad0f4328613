package diff

import (
	"context"
	"errors"
	"fmt"

	"github.com/nickyhof/LayerDB/core"
	"github.com/nickyhof/LayerDB/engine"
	"github.com/nickyhof/LayerDB/logging"
)

// shadowName is the bookkeeping table holding the baseline of schema.table.
func shadowName(schema, table string) string {
	return "shadow_" + core.HashString(schema + "." + table)[:16]
}

func (e *Engine) registry() string {
	return engine.Qualify(e.adapter.Dialect().MetaSchema(), engine.TrackedTables)
}

// Track starts capturing changes to a table. Tracking an already tracked
// table re-baselines it.
func (e *Engine) Track(ctx context.Context, schema, table string) error {
	exists, err := e.adapter.TableExists(ctx, schema, table)
	if err != nil {
		return err
	}
	if !exists {
		return &core.SchemaError{Table: schema + "." + table, Msg: "table does not exist"}
	}

	meta := e.adapter.Dialect().MetaSchema()
	shadow := shadowName(schema, table)
	if err := e.adapter.CopyTable(ctx, schema, table, meta, shadow); err != nil {
		return fmt.Errorf("failed to snapshot %s: %w", table, err)
	}

	stmt := fmt.Sprintf("DELETE FROM %s WHERE schema_name = ? AND table_name = ?", e.registry())
	if _, err := e.adapter.Run(ctx, stmt, []any{schema, table}, engine.None); err != nil {
		return fmt.Errorf("failed to track %s: %w", table, err)
	}
	stmt = fmt.Sprintf("INSERT INTO %s (schema_name, table_name, shadow_name) VALUES (?, ?, ?)", e.registry())
	if _, err := e.adapter.Run(ctx, stmt, []any{schema, table, shadow}, engine.None); err != nil {
		return fmt.Errorf("failed to track %s: %w", table, err)
	}

	e.logger.Debug("tracking table", logging.Repository(schema), logging.Table(table))
	return nil
}

// Untrack stops capturing changes and drops the baseline.
func (e *Engine) Untrack(ctx context.Context, schema, table string) error {
	meta := e.adapter.Dialect().MetaSchema()
	if err := e.adapter.DeleteTable(ctx, meta, shadowName(schema, table)); err != nil {
		return err
	}
	stmt := fmt.Sprintf("DELETE FROM %s WHERE schema_name = ? AND table_name = ?", e.registry())
	if _, err := e.adapter.Run(ctx, stmt, []any{schema, table}, engine.None); err != nil {
		return fmt.Errorf("failed to untrack %s: %w", table, err)
	}
	return nil
}

// UntrackAll untracks every table of a schema.
func (e *Engine) UntrackAll(ctx context.Context, schema string) error {
	tables, err := e.TrackedTables(ctx, schema)
	if err != nil {
		return err
	}
	for _, table := range tables {
		if err := e.Untrack(ctx, schema, table); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) IsTracked(ctx context.Context, schema, table string) (bool, error) {
	stmt := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE schema_name = ? AND table_name = ?", e.registry())
	res, err := e.adapter.Run(ctx, stmt, []any{schema, table}, engine.OneOne)
	if err != nil {
		return false, err
	}
	n, _ := res.Scalar().(int64)
	return n > 0, nil
}

// TrackedTables lists the tracked tables of a schema in name order.
func (e *Engine) TrackedTables(ctx context.Context, schema string) ([]string, error) {
	stmt := fmt.Sprintf("SELECT table_name FROM %s WHERE schema_name = ? ORDER BY table_name", e.registry())
	res, err := e.adapter.Run(ctx, stmt, []any{schema}, engine.ManyOne)
	if err != nil {
		return nil, err
	}
	tables := make([]string, 0, len(res.Rows))
	for _, v := range res.Column() {
		if s, ok := v.(string); ok {
			tables = append(tables, s)
		}
	}
	return tables, nil
}

// Changeset returns the pending changes of a tracked table as a normalized
// changeset over the table's current columns.
func (e *Engine) Changeset(ctx context.Context, schema, table string) (core.Changeset, error) {
	tracked, err := e.IsTracked(ctx, schema, table)
	if err != nil {
		return core.Changeset{}, err
	}
	if !tracked {
		return core.Changeset{}, &core.SchemaError{Table: schema + "." + table, Msg: "table is not tracked"}
	}

	cols, err := e.adapter.Columns(ctx, schema, table)
	if err != nil {
		return core.Changeset{}, err
	}
	meta := e.adapter.Dialect().MetaSchema()
	shadow := shadowName(schema, table)
	baseCols, err := e.adapter.Columns(ctx, meta, shadow)
	if err != nil {
		return core.Changeset{}, err
	}
	if !baseCols.Equal(cols) {
		return core.Changeset{}, &core.SchemaError{Table: schema + "." + table, Msg: "schema changed since the table was tracked"}
	}

	before, err := readRows(ctx, e.adapter, engine.Qualify(meta, shadow), cols)
	if err != nil {
		return core.Changeset{}, &core.StorageError{Table: table, Op: "read baseline", Err: err}
	}
	after, err := readRows(ctx, e.adapter, engine.Qualify(schema, table), cols)
	if err != nil {
		return core.Changeset{}, &core.StorageError{Table: table, Op: "read", Err: err}
	}
	return Rows(cols, cols.ChangeKey(), before, after)
}

// PendingChanges returns the net change per key since the baseline,
// ordered by key.
func (e *Engine) PendingChanges(ctx context.Context, schema, table string) ([]core.Change, error) {
	cs, err := e.Changeset(ctx, schema, table)
	if err != nil {
		return nil, err
	}
	return cs.Changes, nil
}

// PendingCounts aggregates the pending changes of a table per kind.
func (e *Engine) PendingCounts(ctx context.Context, schema, table string) (core.ChangeCounts, error) {
	cs, err := e.Changeset(ctx, schema, table)
	if err != nil {
		return core.ChangeCounts{}, err
	}
	return cs.Counts(), nil
}

// HasPending reports whether any tracked table of the schema has pending
// changes, or differs in schema from its baseline.
func (e *Engine) HasPending(ctx context.Context, schema string) (bool, error) {
	tables, err := e.TrackedTables(ctx, schema)
	if err != nil {
		return false, err
	}
	for _, table := range tables {
		exists, err := e.adapter.TableExists(ctx, schema, table)
		if err != nil {
			return false, err
		}
		if !exists {
			return true, nil
		}
		cs, err := e.Changeset(ctx, schema, table)
		if err != nil {
			var schemaErr *core.SchemaError
			if errors.As(err, &schemaErr) {
				return true, nil
			}
			return false, err
		}
		if cs.Len() > 0 {
			return true, nil
		}
	}
	return false, nil
}

// DiscardPending re-baselines a tracked table to its current contents
// without creating an object.
func (e *Engine) DiscardPending(ctx context.Context, schema, table string) error {
	tracked, err := e.IsTracked(ctx, schema, table)
	if err != nil {
		return err
	}
	if !tracked {
		return &core.SchemaError{Table: schema + "." + table, Msg: "table is not tracked"}
	}
	return e.Track(ctx, schema, table)
}
