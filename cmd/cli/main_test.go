package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nickyhof/LayerDB"
	"github.com/nickyhof/LayerDB/core"
	"github.com/nickyhof/LayerDB/objects"
	"github.com/nickyhof/LayerDB/ps"
	"github.com/nickyhof/LayerDB/remote"
)

func setupTestCLI(t *testing.T) *app {
	t.Helper()
	home := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", home)
	t.Setenv("XDG_DATA_HOME", home)

	inst, err := LayerDB.OpenMemory(context.Background())
	if err != nil {
		t.Fatalf("Failed to open instance: %v", err)
	}
	t.Cleanup(func() { _ = inst.Close() })
	return &app{inst: inst}
}

func runCLI(t *testing.T, a *app, args ...string) string {
	t.Helper()
	out, err := tryCLI(a, args...)
	if err != nil {
		t.Fatalf("layerdb %s failed: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

func tryCLI(a *app, args ...string) (string, error) {
	var buf bytes.Buffer
	root := newRootCmd(a)
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return buf.String(), err
}

func seedFruits(t *testing.T, a *app) {
	t.Helper()
	runCLI(t, a, "sql", "test/fruits", "-e", "CREATE TABLE fruits (fruit_id INTEGER PRIMARY KEY, name TEXT)")
	runCLI(t, a, "sql", "test/fruits", "-e", "INSERT INTO fruits VALUES (1, 'pineapple')")
	runCLI(t, a, "commit", "test/fruits", "-m", "first fruit")
	runCLI(t, a, "sql", "test/fruits", "-e", "INSERT INTO fruits VALUES (2, 'banana')")
	runCLI(t, a, "commit", "test/fruits", "-m", "second fruit")
}

func TestCLICommitAndLog(t *testing.T) {
	a := setupTestCLI(t)
	seedFruits(t, a)

	out := runCLI(t, a, "log", "test/fruits")
	for _, want := range []string{"first fruit", "second fruit", "latest"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected log to contain %q, got:\n%s", want, out)
		}
	}

	out = runCLI(t, a, "repos")
	if !strings.Contains(out, "test/fruits") {
		t.Errorf("Expected repos to list test/fruits, got:\n%s", out)
	}

	out = runCLI(t, a, "status", "test/fruits")
	if !strings.Contains(out, "clean") {
		t.Errorf("Expected a clean status, got:\n%s", out)
	}

	runCLI(t, a, "sql", "test/fruits", "-e", "UPDATE fruits SET name = 'mango' WHERE fruit_id = 2")
	out = runCLI(t, a, "diff", "test/fruits", "fruits", "--counts")
	if strings.TrimSpace(out) != "+0 ~1 -0" {
		t.Errorf("Expected one pending update, got %q", out)
	}
}

func TestCLICheckoutAndShow(t *testing.T) {
	a := setupTestCLI(t)
	seedFruits(t, a)

	runCLI(t, a, "tag", "test/fruits", "v2")
	out := runCLI(t, a, "tag", "test/fruits")
	if !strings.Contains(out, "v2") {
		t.Errorf("Expected tag v2 to be listed, got:\n%s", out)
	}

	runCLI(t, a, "checkout", "test/fruits:v2", "--layered")
	out = runCLI(t, a, "show", "test/fruits", "fruits", "--where", "fruit_id=2")
	if !strings.Contains(out, "banana") || strings.Contains(out, "pineapple") {
		t.Errorf("Expected only banana, got:\n%s", out)
	}

	out = runCLI(t, a, "show", "test/fruits:v2", "fruits")
	if !strings.Contains(out, "(2 rows)") {
		t.Errorf("Expected 2 rows from the image, got:\n%s", out)
	}
}

func TestCLIShellQuery(t *testing.T) {
	a := setupTestCLI(t)
	seedFruits(t, a)

	out := runCLI(t, a, "sql", "test/fruits", "-e", "SELECT name FROM fruits ORDER BY fruit_id")
	if !strings.Contains(out, "pineapple") || !strings.Contains(out, "(2 rows)") {
		t.Errorf("Expected query output, got:\n%s", out)
	}

	exists, err := a.inst.Engine.TableExists(context.Background(), core.MustParseRepository("test/fruits").Schema(), shellResult)
	if err != nil {
		t.Fatalf("Failed to check scratch table: %v", err)
	}
	if exists {
		t.Error("Expected the scratch table to be dropped")
	}
}

const fruitScript = `FROM test/fruits:latest IMPORT fruits
SQL CREATE TABLE b_fruits AS SELECT * FROM fruits WHERE name LIKE 'b%'
`

func TestCLIBuildAndProvenance(t *testing.T) {
	a := setupTestCLI(t)
	seedFruits(t, a)

	path := filepath.Join(t.TempDir(), "fruits.layer")
	if err := os.WriteFile(path, []byte(fruitScript), 0o644); err != nil {
		t.Fatalf("Failed to write script: %v", err)
	}

	out := runCLI(t, a, "build", path, "-o", "test/derived")
	if !strings.Contains(out, "2 step(s), 0 cached") {
		t.Errorf("Expected two built steps, got:\n%s", out)
	}
	out = runCLI(t, a, "build", path, "-o", "test/derived")
	if !strings.Contains(out, "2 step(s), 2 cached") {
		t.Errorf("Expected two cached steps, got:\n%s", out)
	}

	out = runCLI(t, a, "provenance", "test/derived")
	if !strings.HasPrefix(out, "FROM EMPTY\n") || !strings.Contains(out, "IMPORT fruits") {
		t.Errorf("Unexpected provenance:\n%s", out)
	}

	runCLI(t, a, "rebuild", "test/derived", "test/rebuilt", "--source", "test/fruits=latest")
	out = runCLI(t, a, "show", "test/rebuilt", "b_fruits")
	if !strings.Contains(out, "banana") {
		t.Errorf("Expected the rebuilt table to contain banana, got:\n%s", out)
	}
}

func TestCLIBuildParseError(t *testing.T) {
	a := setupTestCLI(t)
	path := filepath.Join(t.TempDir(), "broken.layer")
	if err := os.WriteFile(path, []byte("FROM\n"), 0o644); err != nil {
		t.Fatalf("Failed to write script: %v", err)
	}
	if _, err := tryCLI(a, "build", path, "-o", "test/broken"); err == nil {
		t.Error("Expected a parse error")
	}
}

func TestCLIPushAndClone(t *testing.T) {
	a := setupTestCLI(t)
	seedFruits(t, a)

	catalog, err := ps.NewMemoryPersistence()
	if err != nil {
		t.Fatalf("Failed to create remote catalog: %v", err)
	}
	store, err := objects.New(catalog, objects.NewMemoryCache())
	if err != nil {
		t.Fatalf("Failed to create remote store: %v", err)
	}
	a.inst.Remotes.Add(remote.New("origin", store))

	out := runCLI(t, a, "push", "test/fruits")
	if !strings.Contains(out, "3 image(s), 2 object(s)") {
		t.Errorf("Unexpected push output:\n%s", out)
	}
	out = runCLI(t, a, "push", "test/fruits")
	if !strings.Contains(out, "Already up to date") {
		t.Errorf("Expected nothing to push, got:\n%s", out)
	}

	runCLI(t, a, "clone", "test/fruits", "test/copy")
	runCLI(t, a, "checkout", "test/copy")
	out = runCLI(t, a, "show", "test/copy", "fruits")
	if !strings.Contains(out, "banana") {
		t.Errorf("Expected the clone to contain banana, got:\n%s", out)
	}

	if _, err := tryCLI(a, "push", "test/fruits", "--remote", "nowhere"); err == nil {
		t.Error("Expected an error for an unknown remote")
	}
}

func TestCLIObjectsAndCleanup(t *testing.T) {
	a := setupTestCLI(t)
	seedFruits(t, a)

	out := runCLI(t, a, "objects", "list", "test/fruits")
	if strings.Count(out, core.FormatDiff) != 2 {
		t.Errorf("Expected two objects, got:\n%s", out)
	}

	dir := t.TempDir()
	out = runCLI(t, a, "objects", "upload", objects.ProtocolFile, "test/fruits", "--param", "dir="+dir)
	if !strings.Contains(out, "2 new location(s)") {
		t.Errorf("Unexpected upload output:\n%s", out)
	}

	runCLI(t, a, "rm", "test/fruits")
	out = runCLI(t, a, "cleanup", "--dry-run", "--grace", "0s")
	if !strings.Contains(out, "Would delete 2 object(s)") {
		t.Errorf("Unexpected cleanup output:\n%s", out)
	}
}

func TestCLISourceLoad(t *testing.T) {
	a := setupTestCLI(t)
	path := filepath.Join(t.TempDir(), "stations.csv")
	if err := os.WriteFile(path, []byte("id,name\n1,Tromsø\n2,Bergen\n"), 0o644); err != nil {
		t.Fatalf("Failed to write csv: %v", err)
	}

	out := runCLI(t, a, "source", "introspect", "csv", "-p", "url="+path)
	if !strings.Contains(out, "stations") {
		t.Errorf("Expected the stations table, got:\n%s", out)
	}

	runCLI(t, a, "source", "load", "csv", "test/stations", "-p", "url="+path, "-p", "primary_key=id")
	runCLI(t, a, "commit", "test/stations")
	out = runCLI(t, a, "show", "test/stations:latest", "stations")
	if !strings.Contains(out, "Tromsø") {
		t.Errorf("Expected loaded rows, got:\n%s", out)
	}
}

func TestCLIConfigShow(t *testing.T) {
	a := setupTestCLI(t)
	t.Setenv("LAYERDB_SERVER_JWT_SECRET", "hunter2")

	out := runCLI(t, a, "config", "show")
	if strings.Contains(out, "hunter2") {
		t.Error("Expected the jwt secret to be masked")
	}
	if !strings.Contains(out, "server.jwt_secret") {
		t.Errorf("Expected the server.jwt_secret key, got:\n%s", out)
	}
}

func TestShellAddToHistory(t *testing.T) {
	sh := &Shell{}

	sh.addToHistory("SELECT * FROM test")
	sh.addToHistory("INSERT INTO test VALUES (1)")
	if len(sh.history) != 2 {
		t.Errorf("Expected 2 history entries, got %d", len(sh.history))
	}

	// a repeat of the last command is skipped
	sh.addToHistory("INSERT INTO test VALUES (1)")
	if len(sh.history) != 2 {
		t.Errorf("Expected 2 history entries after duplicate, got %d", len(sh.history))
	}

	for i := 0; i < 1100; i++ {
		sh.addToHistory("SELECT " + string(rune(i)))
	}
	if len(sh.history) > 1000 {
		t.Errorf("Expected history to be limited to 1000, got %d", len(sh.history))
	}
}

func TestShellCommands(t *testing.T) {
	a := setupTestCLI(t)
	var buf bytes.Buffer
	sh := &Shell{inst: a.inst, repo: a.inst.Repository(core.MustParseRepository("test/shell")), out: &buf}
	ctx := context.Background()

	if prompt := sh.getPrompt(false); !strings.Contains(prompt, "test/shell") {
		t.Errorf("Expected prompt to contain the repository, got %q", prompt)
	}
	if prompt := sh.getPrompt(true); !strings.Contains(prompt, "...>") {
		t.Errorf("Expected multi-line prompt to contain '...>', got %q", prompt)
	}

	for _, cmd := range []string{".help", ".version", ".history", ".unknown", ".import"} {
		if !sh.handleCommand(ctx, cmd) {
			t.Errorf("handleCommand(%s) asked to exit", cmd)
		}
	}
	if sh.handleCommand(ctx, ".quit") {
		t.Error("Expected .quit to exit")
	}

	sh.handleCommand(ctx, ".use test/other")
	if sh.repo.Name.String() != "test/other" {
		t.Errorf("Expected repository test/other, got %s", sh.repo.Name)
	}
}

func TestShellRun(t *testing.T) {
	a := setupTestCLI(t)
	var buf bytes.Buffer
	repo := a.inst.Repository(core.MustParseRepository("test/shell"))
	if err := repo.Init(context.Background()); err != nil {
		t.Fatalf("Failed to init: %v", err)
	}
	sh := &Shell{inst: a.inst, repo: repo, out: &buf}

	input := strings.Join([]string{
		"CREATE TABLE t (id INTEGER PRIMARY KEY,",
		"  name TEXT);",
		"INSERT INTO t VALUES (1, 'one');",
		".commit first",
		".tables",
		"SELECT count(*) AS n FROM t;",
		".quit",
	}, "\n") + "\n"
	sh.run(context.Background(), strings.NewReader(input))

	out := buf.String()
	if !strings.Contains(out, "Committed") {
		t.Errorf("Expected a commit, got:\n%s", out)
	}
	if !strings.Contains(out, "(1 rows)") {
		t.Errorf("Expected the count query, got:\n%s", out)
	}
	if len(sh.history) != 3 {
		t.Errorf("Expected 3 history entries, got %d", len(sh.history))
	}
}

func TestVersionVariable(t *testing.T) {
	if Version == "" {
		t.Error("Version should not be empty")
	}
}

func TestSplitStatements(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected int
	}{
		{"single statement", "SELECT * FROM test", 1},
		{"two statements", "SELECT * FROM a; SELECT * FROM b", 2},
		{"with semicolons", "INSERT INTO t VALUES (1); INSERT INTO t VALUES (2);", 2},
		{"with comments", "-- comment\nSELECT * FROM test", 1},
		{"multiline", "CREATE TABLE t (\n  id INTEGER,\n  name TEXT\n);", 1},
		{"empty", "", 0},
		{"only semicolons", ";;;", 0},
		{"string with semicolon", "INSERT INTO t (s) VALUES ('a;b')", 1},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := splitStatements(test.input)
			if len(result) != test.expected {
				t.Errorf("splitStatements(%q) = %d statements, expected %d", test.input, len(result), test.expected)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		input    string
		max      int
		expected string
	}{
		{"short", 10, "short"},
		{"this is a long string", 10, "this is..."},
		{"exact", 5, "exact"},
		{"ab", 10, "ab"},
	}

	for _, test := range tests {
		result := truncate(test.input, test.max)
		if result != test.expected {
			t.Errorf("truncate(%q, %d) = %q, expected %q", test.input, test.max, result, test.expected)
		}
	}
}

func TestImportFile(t *testing.T) {
	a := setupTestCLI(t)
	path := filepath.Join(t.TempDir(), "shop.sql")
	content := `-- products
CREATE TABLE products (id INTEGER PRIMARY KEY, name TEXT, price REAL);
INSERT INTO products VALUES (1, 'Laptop', 999.99);
INSERT INTO products VALUES (2, 'Mouse; wireless', 29.99);
INSERT INTO products VALUES (3, 'Keyboard', 79.99);
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	runCLI(t, a, "sql", "test/shop", "-f", path)
	out := runCLI(t, a, "show", "test/shop", "products")
	if !strings.Contains(out, "(3 rows)") || !strings.Contains(out, "Mouse; wireless") {
		t.Errorf("Expected 3 products, got:\n%s", out)
	}

	if _, err := tryCLI(a, "sql", "test/shop", "-f", "nonexistent.sql"); err == nil {
		t.Error("Expected error for non-existent file")
	}
}

func TestParseHelpers(t *testing.T) {
	name, ref, err := parseRef("ns/repo:v1")
	if err != nil || name.String() != "ns/repo" || ref != "v1" {
		t.Errorf("parseRef = %v %q %v", name, ref, err)
	}
	if _, _, err := parseRef("not a repo"); err == nil {
		t.Error("Expected an error for an invalid repository")
	}

	params, err := parseParams([]string{"a=1", "b=x=y"})
	if err != nil || params["a"] != "1" || params["b"] != "x=y" {
		t.Errorf("parseParams = %v %v", params, err)
	}
	if _, err := parseParams([]string{"novalue"}); err == nil {
		t.Error("Expected an error for a parameter without '='")
	}

	if got := parseValue("42"); got != int64(42) {
		t.Errorf("parseValue(42) = %#v", got)
	}
	if got := formatSize(1536); got != "1.5 KiB" {
		t.Errorf("formatSize(1536) = %q", got)
	}
}
