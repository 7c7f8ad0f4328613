package op

import (
	"context"
	"fmt"

	"github.com/nickyhof/LayerDB/core"
	"github.com/nickyhof/LayerDB/diff"
	"github.com/nickyhof/LayerDB/engine"
)

// TableOp operates on one table of an engine schema.
type TableOp struct {
	Schema string
	Name   string
	Diff   *diff.Engine
}

func Table(d *diff.Engine, schema, name string) *TableOp {
	return &TableOp{Schema: schema, Name: name, Diff: d}
}

func (op *TableOp) adapter() engine.Adapter {
	return op.Diff.Adapter()
}

func (op *TableOp) Exists(ctx context.Context) (bool, error) {
	return op.adapter().TableExists(ctx, op.Schema, op.Name)
}

// Materialize recreates the table from a catalog entry and starts tracking
// it. Payloads are downloaded as needed. Rows are built in a staging table
// first so a failure leaves the existing table in place.
func (op *TableOp) Materialize(ctx context.Context, entry core.TableEntry) error {
	if err := op.Diff.Store().Download(ctx, entry.Objects); err != nil {
		return err
	}
	meta := op.adapter().Dialect().MetaSchema()
	staging := op.stagingName()
	if err := op.adapter().DeleteTable(ctx, meta, staging); err != nil {
		return err
	}
	if err := op.adapter().CreateTable(ctx, meta, staging, entry.Schema); err != nil {
		return err
	}
	defer op.adapter().DeleteTable(context.WithoutCancel(ctx), meta, staging)

	if err := op.Diff.Apply(ctx, entry.Objects, meta, staging); err != nil {
		return err
	}
	if err := op.Drop(ctx); err != nil {
		return err
	}
	if err := op.adapter().CopyTable(ctx, meta, staging, op.Schema, op.Name); err != nil {
		return err
	}
	return op.Diff.Track(ctx, op.Schema, op.Name)
}

func (op *TableOp) stagingName() string {
	return "staging_" + core.HashString(op.Schema + "." + op.Name)[:16]
}

// Drop removes the physical table, its tracking baseline and any layered
// mark.
func (op *TableOp) Drop(ctx context.Context) error {
	if err := op.Diff.Untrack(ctx, op.Schema, op.Name); err != nil {
		return err
	}
	if err := op.Unmark(ctx); err != nil {
		return err
	}
	return op.adapter().DeleteTable(ctx, op.Schema, op.Name)
}

func (op *TableOp) layeredTable() string {
	return engine.Qualify(op.adapter().Dialect().MetaSchema(), engine.LayeredTables)
}

// MarkLayered records the table as served from the objects of an image
// instead of physical rows.
func (op *TableOp) MarkLayered(ctx context.Context, imageHash string) error {
	if err := op.Unmark(ctx); err != nil {
		return err
	}
	stmt := fmt.Sprintf("INSERT INTO %s (schema_name, table_name, image_hash) VALUES (?, ?, ?)", op.layeredTable())
	if _, err := op.adapter().Run(ctx, stmt, []any{op.Schema, op.Name, imageHash}, engine.None); err != nil {
		return fmt.Errorf("failed to mark %s layered: %w", op.Name, err)
	}
	return nil
}

func (op *TableOp) Unmark(ctx context.Context) error {
	stmt := fmt.Sprintf("DELETE FROM %s WHERE schema_name = ? AND table_name = ?", op.layeredTable())
	if _, err := op.adapter().Run(ctx, stmt, []any{op.Schema, op.Name}, engine.None); err != nil {
		return fmt.Errorf("failed to unmark %s: %w", op.Name, err)
	}
	return nil
}

// LayeredTables returns the layered tables of a schema and the image each
// one is served from.
func LayeredTables(ctx context.Context, adapter engine.Adapter, schema string) (map[string]string, error) {
	stmt := fmt.Sprintf("SELECT table_name, image_hash FROM %s WHERE schema_name = ?",
		engine.Qualify(adapter.Dialect().MetaSchema(), engine.LayeredTables))
	res, err := adapter.Run(ctx, stmt, []any{schema}, engine.ManyMany)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(res.Rows))
	for _, row := range res.Rows {
		table, _ := row[0].(string)
		hash, _ := row[1].(string)
		out[table] = hash
	}
	return out, nil
}
