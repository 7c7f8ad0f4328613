package script

import (
	"errors"
	"reflect"
	"testing"

	"github.com/nickyhof/LayerDB/core"
)

func TestParser(t *testing.T) {
	tests := []struct {
		name     string
		command  string
		expected Command
	}{
		{
			"from empty",
			"FROM EMPTY",
			FromCommand{Empty: true},
		},
		{
			"from empty as output",
			"FROM EMPTY AS demo/out",
			FromCommand{Empty: true, Output: core.RepositoryName{Namespace: "demo", Name: "out"}},
		},
		{
			"from repository defaults to latest",
			"FROM demo/fruits",
			FromCommand{Source: core.RepositoryName{Namespace: "demo", Name: "fruits"}, Ref: "latest"},
		},
		{
			"from repository with tag and output",
			"FROM fruits:v1 AS fruits-copy",
			FromCommand{
				Source: core.RepositoryName{Name: "fruits"},
				Ref:    "v1",
				Output: core.RepositoryName{Name: "fruits-copy"},
			},
		},
		{
			"import tables",
			"FROM demo/fruits:3f2a IMPORT fruits, vegetables AS veg",
			ImportCommand{
				Source: core.RepositoryName{Namespace: "demo", Name: "fruits"},
				Ref:    "3f2a",
				Tables: []ImportTable{
					{Name: "fruits", Alias: "fruits"},
					{Name: "vegetables", Alias: "veg"},
				},
			},
		},
		{
			"import all",
			"FROM fruits IMPORT ALL",
			ImportCommand{Source: core.RepositoryName{Name: "fruits"}, Ref: "latest"},
		},
		{
			"import query",
			"FROM fruits IMPORT {SELECT id, name FROM fruits WHERE id > 1} AS big",
			ImportCommand{
				Source: core.RepositoryName{Name: "fruits"},
				Ref:    "latest",
				Tables: []ImportTable{{Query: "SELECT id, name FROM fruits WHERE id > 1", Alias: "big"}},
			},
		},
		{
			"import query with escaped brace",
			`FROM fruits IMPORT {SELECT '\}' AS brace} AS braces`,
			ImportCommand{
				Source: core.RepositoryName{Name: "fruits"},
				Ref:    "latest",
				Tables: []ImportTable{{Query: "SELECT '}' AS brace", Alias: "braces"}},
			},
		},
		{
			"mount",
			`FROM MOUNT csv '{"url": "data.csv", "primary_key": ["id"]}' IMPORT stations AS s`,
			ImportCommand{
				Mount: &MountSource{
					Kind:   "csv",
					Raw:    `{"url": "data.csv", "primary_key": ["id"]}`,
					Params: map[string]any{"url": "data.csv", "primary_key": []any{"id"}},
				},
				Tables: []ImportTable{{Name: "stations", Alias: "s"}},
			},
		},
		{
			"sql",
			"SQL INSERT INTO fruits VALUES (3, 'mayonnaise')",
			SQLCommand{Statement: "INSERT INTO fruits VALUES (3, 'mayonnaise')"},
		},
		{
			"sql block",
			"SQL {\n  UPDATE fruits\n  SET name = 'pear'\n}",
			SQLCommand{Statement: "UPDATE fruits\n  SET name = 'pear'"},
		},
		{
			"sql file",
			"SQL FILE queries/transform.sql",
			SQLCommand{File: "queries/transform.sql"},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			command, err := NewParser(test.command).Parse()
			if err != nil {
				t.Fatalf("Failed to parse %q: %v", test.command, err)
			}
			if !reflect.DeepEqual(command, test.expected) {
				t.Errorf("Expected %#v, got %#v", test.expected, command)
			}
		})
	}
}

func TestParserErrors(t *testing.T) {
	tests := []struct {
		name    string
		command string
	}{
		{"unknown command", "SELECT 1"},
		{"from without source", "FROM"},
		{"query without alias", "FROM fruits IMPORT {SELECT 1}"},
		{"import without tables", "FROM fruits IMPORT"},
		{"duplicate alias", "FROM fruits IMPORT a AS x, b AS x"},
		{"trailing garbage", "FROM fruits AS out extra"},
		{"unterminated block", "FROM fruits IMPORT {SELECT 1 AS q"},
		{"mount without params", "FROM MOUNT csv IMPORT t"},
		{"mount with bad json", "FROM MOUNT csv '{nope' IMPORT t"},
		{"empty sql", "SQL"},
		{"sql file without path", "SQL FILE"},
		{"lower case keyword", "from fruits"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if _, err := NewParser(test.command).Parse(); err == nil {
				t.Errorf("Expected %q to fail", test.command)
			}
		})
	}
}

func TestParseScript(t *testing.T) {
	source := `# build the demo
FROM EMPTY AS demo/out

SQL CREATE TABLE t (id INTEGER PRIMARY KEY, \
    name TEXT)
SQL {
    INSERT INTO t VALUES (1, 'a');
    INSERT INTO t VALUES (2, 'b')
}
  # indented comment
FROM demo/src:${TAG} IMPORT t AS u
`
	commands, err := Parse(source, map[string]string{"TAG": "v1"})
	if err != nil {
		t.Fatalf("Failed to parse script: %v", err)
	}
	if len(commands) != 4 {
		t.Fatalf("Expected 4 commands, got %d: %v", len(commands), commands)
	}

	if commands[0].Type() != FromCommandType {
		t.Errorf("Expected FROM first, got %s", commands[0].Type())
	}
	create := commands[1].(SQLCommand)
	if create.Statement != "CREATE TABLE t (id INTEGER PRIMARY KEY,     name TEXT)" {
		t.Errorf("Expected continued line to be joined, got %q", create.Statement)
	}
	insert := commands[2].(SQLCommand)
	if insert.Statement != "INSERT INTO t VALUES (1, 'a');\n    INSERT INTO t VALUES (2, 'b')" {
		t.Errorf("Unexpected block statement %q", insert.Statement)
	}
	imp := commands[3].(ImportCommand)
	if imp.Ref != "v1" {
		t.Errorf("Expected substituted ref v1, got %q", imp.Ref)
	}
}

func TestParseReportsLine(t *testing.T) {
	source := "FROM EMPTY AS out\n\nSQL {\nSELECT 1\n}\nIMPORT nothing\n"

	_, err := Parse(source, nil)
	var perr *core.ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("Expected ParseError, got %v", err)
	}
	if perr.Line != 6 {
		t.Errorf("Expected error on line 6, got %d", perr.Line)
	}
	if perr.Command != "IMPORT nothing" {
		t.Errorf("Expected failing command text, got %q", perr.Command)
	}
}

func TestCommandStringRoundTrip(t *testing.T) {
	source := `FROM EMPTY AS out
FROM demo/src:v2 IMPORT a, {SELECT * FROM b WHERE x = '\}'} AS c
FROM MOUNT csv '{"url": "it\'s.csv"}' IMPORT ALL
SQL {UPDATE a
SET x = 1}
SQL DELETE FROM a`

	commands, err := Parse(source, nil)
	if err != nil {
		t.Fatalf("Failed to parse script: %v", err)
	}
	for _, command := range commands {
		again, err := NewParser(command.String()).Parse()
		if err != nil {
			t.Fatalf("Failed to reparse %q: %v", command.String(), err)
		}
		if !reflect.DeepEqual(again, command) {
			t.Errorf("Expected %#v after round trip, got %#v", command, again)
		}
	}
}
