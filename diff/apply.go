package diff

import (
	"context"
	"fmt"

	"github.com/nickyhof/LayerDB/core"
	"github.com/nickyhof/LayerDB/engine"
	"github.com/nickyhof/LayerDB/logging"
)

// Apply replays objects onto schema.table in order, inside one engine
// transaction. The payloads must be cached.
func (e *Engine) Apply(ctx context.Context, ids []string, schema, table string) error {
	changesets := make([]core.Changeset, 0, len(ids))
	for _, id := range ids {
		cs, err := e.store.Load(ctx, id)
		if err != nil {
			return &core.StorageError{ObjectID: id, Table: table, Op: "apply", Err: err}
		}
		changesets = append(changesets, cs)
	}

	err := e.adapter.Tx(ctx, func(r engine.Runner) error {
		for i, cs := range changesets {
			if err := ApplyChangeset(ctx, e.adapter.Dialect(), r, schema, table, cs); err != nil {
				return &core.StorageError{ObjectID: ids[i], Table: table, Op: "apply", Err: err}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	e.logger.Debug("applied objects", logging.Repository(schema), logging.Table(table))
	return nil
}

// ApplyChangeset writes one changeset through r. Every touched key is
// deleted first; inserts and updates then write the whole row.
func ApplyChangeset(ctx context.Context, d engine.Dialect, r engine.Runner, schema, table string, cs core.Changeset) error {
	if len(cs.Changes) == 0 {
		return nil
	}
	qualified := engine.Qualify(schema, table)

	keys := make([][]any, 0, len(cs.Changes))
	var rows [][]any
	for _, ch := range cs.Changes {
		switch ch.Kind {
		case core.Insert, core.Update:
			rows = append(rows, ch.Row)
		case core.Delete:
		default:
			continue
		}
		keys = append(keys, ch.Key)
	}

	del := fmt.Sprintf("DELETE FROM %s WHERE %s", qualified, engine.KeyPredicate(d, cs.ChangeKey))
	if err := r.RunBatch(ctx, del, keys); err != nil {
		return fmt.Errorf("failed to delete rows: %w", err)
	}

	if len(rows) > 0 {
		names := cs.Columns.Names()
		ins := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", qualified, engine.QuoteList(names), engine.Placeholders(len(names)))
		if err := r.RunBatch(ctx, ins, rows); err != nil {
			return fmt.Errorf("failed to insert rows: %w", err)
		}
	}
	return nil
}
