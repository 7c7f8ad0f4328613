package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/nickyhof/LayerDB/core"
	"github.com/nickyhof/LayerDB/engine"
)

func setupTestEngine(t *testing.T) *engine.SQLEngine {
	t.Helper()
	eng, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to open engine: %v", err)
	}
	t.Cleanup(func() { _ = eng.Close() })
	return eng
}

func TestRunInResolvesUnqualifiedNames(t *testing.T) {
	ctx := context.Background()
	eng := setupTestEngine(t)

	if err := eng.CreateSchema(ctx, "test/fruits"); err != nil {
		t.Fatalf("Failed to create schema: %v", err)
	}
	err := eng.RunIn(ctx, "test/fruits", `
		CREATE TABLE fruits (fruit_id INTEGER PRIMARY KEY, name TEXT);
		INSERT INTO fruits VALUES (1, 'apple'), (2, 'orange');`)
	if err != nil {
		t.Fatalf("Failed to run in schema: %v", err)
	}

	tables, err := eng.Tables(ctx, "test/fruits")
	if err != nil {
		t.Fatalf("Failed to list tables: %v", err)
	}
	if len(tables) != 1 || tables[0] != "fruits" {
		t.Errorf("Expected [fruits], got %v", tables)
	}

	res, err := eng.Run(ctx, "SELECT fruit_id, name FROM "+engine.Qualify("test/fruits", "fruits")+" ORDER BY fruit_id", nil, engine.ManyMany)
	if err != nil {
		t.Fatalf("Failed to query: %v", err)
	}
	if len(res.Rows) != 2 || res.Rows[1][1] != "orange" {
		t.Errorf("Unexpected rows %v", res.Rows)
	}

	pk, err := eng.PrimaryKeys(ctx, "test/fruits", "fruits")
	if err != nil {
		t.Fatalf("Failed to read primary key: %v", err)
	}
	if len(pk) != 1 || pk[0] != "fruit_id" {
		t.Errorf("Expected [fruit_id], got %v", pk)
	}
}

func TestSchemasSurviveReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	eng, err := Open(dir)
	if err != nil {
		t.Fatalf("Failed to open engine: %v", err)
	}
	if err := eng.CreateSchema(ctx, "vegetables"); err != nil {
		t.Fatalf("Failed to create schema: %v", err)
	}
	cols := core.Schema{{Name: "id", Type: "INTEGER", PrimaryKey: true}, {Name: "name", Type: "TEXT"}}
	if err := eng.CreateTable(ctx, "vegetables", "veg", cols); err != nil {
		t.Fatalf("Failed to create table: %v", err)
	}
	if err := eng.Close(); err != nil {
		t.Fatalf("Failed to close: %v", err)
	}

	eng, err = Open(dir)
	if err != nil {
		t.Fatalf("Failed to reopen engine: %v", err)
	}
	defer eng.Close()

	got, err := eng.Columns(ctx, "vegetables", "veg")
	if err != nil {
		t.Fatalf("Failed to introspect after reopen: %v", err)
	}
	if !got.Equal(cols) {
		t.Errorf("Expected %+v, got %+v", cols, got)
	}
}

func TestTxRollsBack(t *testing.T) {
	ctx := context.Background()
	eng := setupTestEngine(t)

	if err := eng.CreateSchema(ctx, "s"); err != nil {
		t.Fatalf("Failed to create schema: %v", err)
	}
	if err := eng.CreateTable(ctx, "s", "t", core.Schema{{Name: "id", Type: "INTEGER", PrimaryKey: true}}); err != nil {
		t.Fatalf("Failed to create table: %v", err)
	}

	boom := errors.New("boom")
	err := eng.Tx(ctx, func(r engine.Runner) error {
		if _, err := r.Run(ctx, "INSERT INTO "+engine.Qualify("s", "t")+" VALUES (?)", []any{1}, engine.None); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Expected boom, got %v", err)
	}

	res, err := eng.Run(ctx, "SELECT count(*) FROM "+engine.Qualify("s", "t"), nil, engine.OneOne)
	if err != nil {
		t.Fatalf("Failed to count: %v", err)
	}
	if res.Scalar() != int64(0) {
		t.Errorf("Expected 0 rows after rollback, got %v", res.Scalar())
	}
}

func TestNullSafeKeyPredicate(t *testing.T) {
	ctx := context.Background()
	eng := setupTestEngine(t)

	if err := eng.CreateSchema(ctx, "s"); err != nil {
		t.Fatalf("Failed to create schema: %v", err)
	}
	if err := eng.RunIn(ctx, "s", "CREATE TABLE t (a INTEGER, b TEXT); INSERT INTO t VALUES (NULL, 'x'), (1, 'y')"); err != nil {
		t.Fatalf("Failed to seed: %v", err)
	}

	stmt := "SELECT b FROM " + engine.Qualify("s", "t") + " WHERE " + engine.KeyPredicate(eng.Dialect(), []string{"a"})
	res, err := eng.Run(ctx, stmt, []any{nil}, engine.OneOne)
	if err != nil {
		t.Fatalf("Failed to query: %v", err)
	}
	if res.Scalar() != "x" {
		t.Errorf("Expected x for NULL key, got %v", res.Scalar())
	}
}

func TestUnknownSchema(t *testing.T) {
	ctx := context.Background()
	eng := setupTestEngine(t)

	if _, err := eng.Tables(ctx, "missing"); !errors.Is(err, engine.ErrNoSchema) {
		t.Errorf("Expected ErrNoSchema, got %v", err)
	}
	if err := eng.RunIn(ctx, "missing", "SELECT 1"); !errors.Is(err, engine.ErrNoSchema) {
		t.Errorf("Expected ErrNoSchema, got %v", err)
	}
	if ok, err := eng.TableExists(ctx, "missing", "t"); err != nil || ok {
		t.Errorf("Expected false without error, got %v, %v", ok, err)
	}
}
