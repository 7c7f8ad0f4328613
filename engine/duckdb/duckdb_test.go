package duckdb

import (
	"context"
	"testing"

	"github.com/nickyhof/LayerDB/core"
	"github.com/nickyhof/LayerDB/engine"
)

func TestSchemaLifecycle(t *testing.T) {
	ctx := context.Background()
	eng, err := Open("")
	if err != nil {
		t.Fatalf("Failed to open duckdb: %v", err)
	}
	defer eng.Close()

	if err := eng.CreateSchema(ctx, "test/fruits"); err != nil {
		t.Fatalf("Failed to create schema: %v", err)
	}
	if err := eng.RunIn(ctx, "test/fruits", "CREATE TABLE fruits (fruit_id INTEGER PRIMARY KEY, name VARCHAR); INSERT INTO fruits VALUES (1, 'apple')"); err != nil {
		t.Fatalf("Failed to run in schema: %v", err)
	}

	cols, err := eng.Columns(ctx, "test/fruits", "fruits")
	if err != nil {
		t.Fatalf("Failed to introspect: %v", err)
	}
	want := core.Schema{
		{Name: "fruit_id", Type: "INTEGER", PrimaryKey: true},
		{Name: "name", Type: "VARCHAR"},
	}
	if !cols.Equal(want) {
		t.Errorf("Expected %+v, got %+v", want, cols)
	}

	res, err := eng.Run(ctx, "SELECT name FROM "+engine.Qualify("test/fruits", "fruits")+" WHERE "+
		engine.KeyPredicate(eng.Dialect(), []string{"fruit_id"}), []any{int64(1)}, engine.OneOne)
	if err != nil {
		t.Fatalf("Failed to query: %v", err)
	}
	if res.Scalar() != "apple" {
		t.Errorf("Expected apple, got %v", res.Scalar())
	}

	schemas, err := eng.Schemas(ctx)
	if err != nil {
		t.Fatalf("Failed to list schemas: %v", err)
	}
	if len(schemas) != 1 || schemas[0] != "test/fruits" {
		t.Errorf("Expected [test/fruits], got %v", schemas)
	}

	if err := eng.DeleteSchema(ctx, "test/fruits"); err != nil {
		t.Fatalf("Failed to delete schema: %v", err)
	}
	if ok, _ := eng.TableExists(ctx, "test/fruits", "fruits"); ok {
		t.Error("Expected table to be gone with its schema")
	}
}
