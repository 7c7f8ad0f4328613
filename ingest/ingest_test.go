package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/nickyhof/LayerDB/core"
	"github.com/nickyhof/LayerDB/engine"
	"github.com/nickyhof/LayerDB/engine/sqlite"
)

const stagingSchema = "staging"

func setupTarget(t *testing.T) *engine.SQLEngine {
	t.Helper()
	eng, err := sqlite.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to open engine: %v", err)
	}
	t.Cleanup(func() { _ = eng.Close() })
	if err := eng.CreateSchema(context.Background(), stagingSchema); err != nil {
		t.Fatalf("Failed to create schema: %v", err)
	}
	return eng
}

func writeCSV(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write csv: %v", err)
	}
	return path
}

func TestRegistryUnknownKind(t *testing.T) {
	registry := NewRegistry()
	if kinds := registry.Kinds(); !reflect.DeepEqual(kinds, []string{"csv", "sql"}) {
		t.Errorf("Expected built-in kinds, got %v", kinds)
	}
	if _, err := registry.Open("mongo", nil, Params{}); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("Expected ErrUnknownKind, got %v", err)
	}
}

func TestCSVSource(t *testing.T) {
	ctx := context.Background()
	target := setupTarget(t)
	path := writeCSV(t, "stations.csv", "id;name;elevation\n1;Oslo;23.5\n2;Bergen;\n3;Tromsø;10\n")

	src, err := NewRegistry().Open(KindCSV, target, Params{"url": path, "delimiter": ";", "primary_key": []any{"id"}})
	if err != nil {
		t.Fatalf("Failed to open source: %v", err)
	}
	defer src.Close()

	introspected, err := src.Introspect(ctx)
	if err != nil {
		t.Fatalf("Failed to introspect: %v", err)
	}
	expected := core.Schema{
		{Name: "id", Type: "INTEGER", PrimaryKey: true},
		{Name: "name", Type: "TEXT"},
		{Name: "elevation", Type: "REAL"},
	}
	if len(introspected) != 1 || introspected[0].Table != "stations" {
		t.Fatalf("Expected one table named stations, got %v", introspected)
	}
	if !reflect.DeepEqual(introspected[0].Schema, expected) {
		t.Errorf("Expected schema %v, got %v", expected, introspected[0].Schema)
	}

	if _, err := src.Mount(ctx, stagingSchema, nil); err != nil {
		t.Fatalf("Failed to mount: %v", err)
	}
	results, err := src.Load(ctx, stagingSchema, nil)
	if err != nil {
		t.Fatalf("Failed to load: %v", err)
	}
	if err := FirstError(results); err != nil {
		t.Fatalf("Failed to load table: %v", err)
	}

	res, err := target.Run(ctx, "SELECT id, name, elevation FROM "+engine.Qualify(stagingSchema, "stations")+" ORDER BY id", nil, engine.ManyMany)
	if err != nil {
		t.Fatalf("Failed to query: %v", err)
	}
	if len(res.Rows) != 3 {
		t.Fatalf("Expected 3 rows, got %v", res.Rows)
	}
	if res.Rows[1][2] != nil {
		t.Errorf("Expected empty field to load as NULL, got %v", res.Rows[1][2])
	}
	if res.Rows[2][1] != "Tromsø" {
		t.Errorf("Expected Tromsø, got %v", res.Rows[2][1])
	}
}

func TestCSVSourceUnknownTable(t *testing.T) {
	ctx := context.Background()
	path := writeCSV(t, "a.csv", "x\n1\n")
	src, err := NewRegistry().Open(KindCSV, setupTarget(t), Params{"url": path})
	if err != nil {
		t.Fatalf("Failed to open source: %v", err)
	}

	results, err := src.Preview(ctx, []string{"b"})
	if err != nil {
		t.Fatalf("Failed to preview: %v", err)
	}
	var schemaErr *core.SchemaError
	if len(results) != 1 || !errors.As(results[0].Err, &schemaErr) {
		t.Errorf("Expected a per-table SchemaError, got %v", results)
	}
}

func TestCSVSourceMissingKeyColumn(t *testing.T) {
	path := writeCSV(t, "a.csv", "x\n1\n")
	src, err := NewRegistry().Open(KindCSV, setupTarget(t), Params{"url": path, "primary_key": "id"})
	if err != nil {
		t.Fatalf("Failed to open source: %v", err)
	}
	results, _ := src.Introspect(context.Background())
	if FirstError(results) == nil {
		t.Error("Expected an error for a primary key missing from the header")
	}
}

func TestSQLSource(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	upstream, err := sqlite.Open(dir)
	if err != nil {
		t.Fatalf("Failed to open source engine: %v", err)
	}
	if err := upstream.CreateSchema(ctx, "shop"); err != nil {
		t.Fatalf("Failed to create schema: %v", err)
	}
	err = upstream.RunIn(ctx, "shop", `
		CREATE TABLE orders (id INTEGER PRIMARY KEY, total REAL);
		INSERT INTO orders VALUES (1, 9.5), (2, 20);
		CREATE TABLE customers (id INTEGER PRIMARY KEY, name TEXT);`)
	if err != nil {
		t.Fatalf("Failed to seed source: %v", err)
	}
	_ = upstream.Close()

	target := setupTarget(t)
	src, err := NewRegistry().Open(KindSQL, target, Params{"driver": "sqlite", "dsn": dir, "schema": "shop"})
	if err != nil {
		t.Fatalf("Failed to open source: %v", err)
	}
	defer src.Close()

	tables, err := src.Introspect(ctx)
	if err != nil {
		t.Fatalf("Failed to introspect: %v", err)
	}
	if len(tables) != 2 {
		t.Errorf("Expected 2 tables, got %v", tables)
	}

	preview, err := src.Preview(ctx, []string{"orders"})
	if err != nil || len(preview) != 1 || len(preview[0].Rows) != 2 {
		t.Fatalf("Expected a preview of two orders, got %v (%v)", preview, err)
	}

	if _, err := src.Mount(ctx, stagingSchema, []string{"orders"}); err != nil {
		t.Fatalf("Failed to mount: %v", err)
	}
	results, err := src.Load(ctx, stagingSchema, []string{"orders"})
	if err != nil || FirstError(results) != nil {
		t.Fatalf("Failed to load: %v %v", err, results)
	}
	pk, err := target.PrimaryKeys(ctx, stagingSchema, "orders")
	if err != nil || !reflect.DeepEqual(pk, []string{"id"}) {
		t.Errorf("Expected primary key [id] to carry over, got %v (%v)", pk, err)
	}
}

func TestParams(t *testing.T) {
	params := Params{"one": "a", "many": []any{"a", "b"}, "bad": []any{1}}

	if got, _ := params.Strings("one"); !reflect.DeepEqual(got, []string{"a"}) {
		t.Errorf("Expected [a], got %v", got)
	}
	if got, _ := params.Strings("many"); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("Expected [a b], got %v", got)
	}
	if _, err := params.Strings("bad"); err == nil {
		t.Error("Expected an error for a non-string list")
	}
	if _, err := params.Require("missing"); err == nil {
		t.Error("Expected an error for a missing parameter")
	}
}
