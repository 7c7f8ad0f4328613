package core

import (
	"fmt"
	"strings"
)

// ParseError reports a malformed build script or unbound parameters.
type ParseError struct {
	Line    int
	Command string
	Params  []string
	Msg     string
}

func (e *ParseError) Error() string {
	if len(e.Params) > 0 {
		return fmt.Sprintf("parse error: unbound parameters: %s", strings.Join(e.Params, ", "))
	}
	if e.Line > 0 {
		return fmt.Sprintf("parse error on line %d (%q): %s", e.Line, e.Command, e.Msg)
	}
	return "parse error: " + e.Msg
}

// SchemaError reports a column or type mismatch.
type SchemaError struct {
	Table  string
	Column string
	Msg    string
}

func (e *SchemaError) Error() string {
	switch {
	case e.Table != "" && e.Column != "":
		return fmt.Sprintf("schema error in table %s, column %s: %s", e.Table, e.Column, e.Msg)
	case e.Table != "":
		return fmt.Sprintf("schema error in table %s: %s", e.Table, e.Msg)
	case e.Column != "":
		return fmt.Sprintf("schema error in column %s: %s", e.Column, e.Msg)
	}
	return "schema error: " + e.Msg
}

// StorageError reports a failed read or write of an object or table.
// Object operations are idempotent so the caller may retry per object.
type StorageError struct {
	ObjectID string
	Table    string
	Op       string
	Err      error
}

func (e *StorageError) Error() string {
	var b strings.Builder
	b.WriteString("storage error")
	if e.Op != "" {
		b.WriteString(" during " + e.Op)
	}
	if e.ObjectID != "" {
		b.WriteString(" of object " + e.ObjectID)
	}
	if e.Table != "" {
		b.WriteString(" on table " + e.Table)
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *StorageError) Unwrap() error { return e.Err }

// ReferenceError reports an unknown tag or hash, or an ambiguous hash prefix.
type ReferenceError struct {
	Ref        string
	Repository string
	Candidates []string
}

func (e *ReferenceError) Error() string {
	where := ""
	if e.Repository != "" {
		where = " in " + e.Repository
	}
	if len(e.Candidates) > 1 {
		return fmt.Sprintf("ambiguous reference %q%s: multiple suitable candidates: %s",
			e.Ref, where, strings.Join(e.Candidates, ", "))
	}
	return fmt.Sprintf("unknown reference %q%s", e.Ref, where)
}

// ConsistencyError reports an operation refused because it would break
// object reachability.
type ConsistencyError struct {
	ObjectIDs []string
	Msg       string
}

func (e *ConsistencyError) Error() string {
	if len(e.ObjectIDs) == 0 {
		return "consistency error: " + e.Msg
	}
	return fmt.Sprintf("consistency error: %s (objects: %s)", e.Msg, strings.Join(e.ObjectIDs, ", "))
}
