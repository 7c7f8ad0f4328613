package script

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nickyhof/LayerDB/core"
)

type CommandType int

const (
	FromCommandType CommandType = iota
	ImportCommandType
	SQLCommandType
)

func (t CommandType) String() string {
	switch t {
	case FromCommandType:
		return "FROM"
	case ImportCommandType:
		return "IMPORT"
	case SQLCommandType:
		return "SQL"
	default:
		return "unknown"
	}
}

type Command interface {
	Type() CommandType
	String() string
}

// FromCommand bases the output on an image of another repository, or on
// the empty root when Empty is set. A non-empty Output switches the
// repository that later commands write to.
type FromCommand struct {
	Source core.RepositoryName
	Ref    string
	Empty  bool
	Output core.RepositoryName
}

// ImportTable is one imported table: either a source table or a query
// over the source, stored under Alias.
type ImportTable struct {
	Name  string
	Query string
	Alias string
}

func (t ImportTable) IsQuery() bool {
	return t.Query != ""
}

// MountSource names an ingestion kind and its JSON parameters.
type MountSource struct {
	Kind   string
	Raw    string
	Params map[string]any
}

// ImportCommand copies tables from a repository image or a mounted source.
// No tables means all of them.
type ImportCommand struct {
	Source core.RepositoryName
	Ref    string
	Mount  *MountSource
	Tables []ImportTable
}

// SQLCommand runs a statement, or the contents of File, in the output.
type SQLCommand struct {
	Statement string
	File      string
}

func (c FromCommand) Type() CommandType   { return FromCommandType }
func (c ImportCommand) Type() CommandType { return ImportCommandType }
func (c SQLCommand) Type() CommandType    { return SQLCommandType }

func (c FromCommand) String() string {
	var b strings.Builder
	b.WriteString("FROM ")
	if c.Empty {
		b.WriteString("EMPTY")
	} else {
		b.WriteString(sourceString(c.Source, c.Ref))
	}
	if c.Output.Name != "" {
		b.WriteString(" AS " + c.Output.String())
	}
	return b.String()
}

func (c ImportCommand) String() string {
	var b strings.Builder
	b.WriteString("FROM ")
	if c.Mount != nil {
		b.WriteString("MOUNT " + c.Mount.Kind + " '" + strings.ReplaceAll(c.Mount.Raw, "'", "\\'") + "'")
	} else {
		b.WriteString(sourceString(c.Source, c.Ref))
	}
	b.WriteString(" IMPORT ")
	if len(c.Tables) == 0 {
		b.WriteString("ALL")
		return b.String()
	}
	for i, t := range c.Tables {
		if i > 0 {
			b.WriteString(", ")
		}
		if t.IsQuery() {
			b.WriteString("{" + strings.ReplaceAll(t.Query, "}", "\\}") + "}")
		} else {
			b.WriteString(t.Name)
		}
		if t.Alias != "" && t.Alias != t.Name {
			b.WriteString(" AS " + t.Alias)
		}
	}
	return b.String()
}

func (c SQLCommand) String() string {
	if c.File != "" {
		return "SQL FILE " + c.File
	}
	if strings.Contains(c.Statement, "\n") {
		return "SQL {" + strings.ReplaceAll(c.Statement, "}", "\\}") + "}"
	}
	return "SQL " + c.Statement
}

func sourceString(repo core.RepositoryName, ref string) string {
	if ref == "" || ref == core.TagLatest {
		return repo.String()
	}
	return repo.String() + ":" + ref
}

type Parser struct {
	lexer *Lexer
}

func NewParser(command string) *Parser {
	return &Parser{lexer: NewLexer(command)}
}

// Parse preprocesses source with params and parses every command. Parsing
// stops at the first malformed command.
func Parse(source string, params map[string]string) ([]Command, error) {
	text, err := Preprocess(source, params)
	if err != nil {
		return nil, err
	}

	var commands []Command
	for _, raw := range split(text) {
		command, err := NewParser(raw.text).Parse()
		if err != nil {
			return nil, &core.ParseError{Line: raw.line, Command: raw.text, Msg: err.Error()}
		}
		commands = append(commands, command)
	}
	return commands, nil
}

func (parser *Parser) Parse() (Command, error) {
	token := parser.lexer.NextToken()
	switch token.Type {
	case From:
		return ParseFrom(parser)
	case SQL:
		return ParseSQL(parser)
	default:
		return nil, fmt.Errorf("unknown command %q", token.Value)
	}
}

// ParseFrom parses the FROM forms
// Syntax: FROM EMPTY [AS output]
//
//	FROM repo[:ref] [AS output]
//	FROM repo[:ref] IMPORT tables
//	FROM MOUNT kind 'params' IMPORT tables
func ParseFrom(parser *Parser) (Command, error) {
	token := parser.lexer.NextToken()
	switch token.Type {
	case Empty:
		stmt := FromCommand{Empty: true}
		output, err := parseOutput(parser)
		if err != nil {
			return nil, err
		}
		stmt.Output = output
		return stmt, nil
	case Mount:
		mount, err := parseMount(parser)
		if err != nil {
			return nil, err
		}
		if token = parser.lexer.NextToken(); token.Type != Import {
			return nil, errors.New("expected IMPORT after MOUNT source")
		}
		tables, err := parseTables(parser)
		if err != nil {
			return nil, err
		}
		return ImportCommand{Mount: mount, Tables: tables}, nil
	case Identifier:
	default:
		return nil, errors.New("expected repository, EMPTY or MOUNT after FROM")
	}

	repo, err := core.ParseRepository(token.Value)
	if err != nil {
		return nil, err
	}
	ref := core.TagLatest
	if parser.lexer.PeekToken().Type == Colon {
		parser.lexer.NextToken() // consume ':'
		token = parser.lexer.NextToken()
		if token.Type != Identifier {
			return nil, errors.New("expected tag or hash after ':'")
		}
		ref = token.Value
	}

	if parser.lexer.PeekToken().Type == Import {
		parser.lexer.NextToken() // consume IMPORT
		tables, err := parseTables(parser)
		if err != nil {
			return nil, err
		}
		return ImportCommand{Source: repo, Ref: ref, Tables: tables}, nil
	}

	output, err := parseOutput(parser)
	if err != nil {
		return nil, err
	}
	return FromCommand{Source: repo, Ref: ref, Output: output}, nil
}

// parseOutput parses an optional trailing AS output.
func parseOutput(parser *Parser) (core.RepositoryName, error) {
	token := parser.lexer.NextToken()
	switch token.Type {
	case EOF:
		return core.RepositoryName{}, nil
	case As:
	default:
		return core.RepositoryName{}, fmt.Errorf("unexpected %s %q", token.Type, token.Value)
	}
	token = parser.lexer.NextToken()
	if token.Type != Identifier {
		return core.RepositoryName{}, errors.New("expected output repository after AS")
	}
	output, err := core.ParseRepository(token.Value)
	if err != nil {
		return core.RepositoryName{}, err
	}
	if token = parser.lexer.NextToken(); token.Type != EOF {
		return core.RepositoryName{}, fmt.Errorf("unexpected %s %q", token.Type, token.Value)
	}
	return output, nil
}

func parseMount(parser *Parser) (*MountSource, error) {
	token := parser.lexer.NextToken()
	if token.Type != Identifier {
		return nil, errors.New("expected source kind after MOUNT")
	}
	mount := &MountSource{Kind: token.Value}

	token = parser.lexer.NextToken()
	if token.Type != String {
		return nil, errors.New("expected quoted JSON parameters after source kind")
	}
	mount.Raw = token.Value
	mount.Params = map[string]any{}
	if strings.TrimSpace(token.Value) != "" {
		if err := core.DecodeJSON([]byte(token.Value), &mount.Params); err != nil {
			return nil, fmt.Errorf("invalid mount parameters: %w", err)
		}
	}
	return mount, nil
}

// parseTables parses ALL or a comma separated list of tables.
func parseTables(parser *Parser) ([]ImportTable, error) {
	if parser.lexer.PeekToken().Type == All {
		parser.lexer.NextToken() // consume ALL
		if token := parser.lexer.NextToken(); token.Type != EOF {
			return nil, fmt.Errorf("unexpected %s %q after ALL", token.Type, token.Value)
		}
		return nil, nil
	}

	var tables []ImportTable
	seen := make(map[string]bool)
	for {
		table, err := parseTable(parser)
		if err != nil {
			return nil, err
		}
		if seen[table.Alias] {
			return nil, fmt.Errorf("duplicate target table %q", table.Alias)
		}
		seen[table.Alias] = true
		tables = append(tables, table)

		token := parser.lexer.NextToken()
		switch token.Type {
		case EOF:
			return tables, nil
		case Comma:
		default:
			return nil, fmt.Errorf("expected ',' between tables, got %q", token.Value)
		}
	}
}

func parseTable(parser *Parser) (ImportTable, error) {
	var table ImportTable
	token := parser.lexer.NextToken()
	switch token.Type {
	case Identifier:
		table.Name = token.Value
		table.Alias = token.Value
	case Block:
		table.Query = strings.TrimSpace(token.Value)
		if table.Query == "" {
			return table, errors.New("empty table query")
		}
	default:
		return table, fmt.Errorf("expected table name or {query}, got %q", token.Value)
	}

	if parser.lexer.PeekToken().Type == As {
		parser.lexer.NextToken() // consume AS
		token = parser.lexer.NextToken()
		if token.Type != Identifier {
			return table, errors.New("expected table alias after AS")
		}
		table.Alias = token.Value
	}
	if table.IsQuery() && table.Alias == "" {
		return table, errors.New("a table query needs an alias")
	}
	return table, nil
}

// ParseSQL parses SQL statements
// Syntax: SQL statement | SQL {statement} | SQL FILE path
func ParseSQL(parser *Parser) (Command, error) {
	switch token := parser.lexer.PeekToken(); token.Type {
	case File:
		parser.lexer.NextToken() // consume FILE
		path := parser.lexer.Rest()
		if path == "" {
			return nil, errors.New("expected path after SQL FILE")
		}
		return SQLCommand{File: path}, nil
	case Block:
		parser.lexer.NextToken()
		if rest := parser.lexer.Rest(); rest != "" {
			return nil, fmt.Errorf("unexpected %q after SQL block", rest)
		}
		stmt := strings.TrimSpace(token.Value)
		if stmt == "" {
			return nil, errors.New("empty SQL block")
		}
		return SQLCommand{Statement: stmt}, nil
	}

	stmt := parser.lexer.Rest()
	if stmt == "" {
		return nil, errors.New("expected statement after SQL")
	}
	return SQLCommand{Statement: stmt}, nil
}
