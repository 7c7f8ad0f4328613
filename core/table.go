package core

import "strings"

// Identity identifies the author of catalog transactions.
type Identity struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type Column struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	PrimaryKey bool   `json:"primaryKey"`
}

// Schema is an ordered list of columns.
type Schema []Column

func (s Schema) Names() []string {
	names := make([]string, len(s))
	for i, col := range s {
		names[i] = col.Name
	}
	return names
}

func (s Schema) PrimaryKey() []string {
	var pk []string
	for _, col := range s {
		if col.PrimaryKey {
			pk = append(pk, col.Name)
		}
	}
	return pk
}

// ChangeKey returns the columns identifying a row for diffing: the primary
// key, or every column if the table has none.
func (s Schema) ChangeKey() []string {
	if pk := s.PrimaryKey(); len(pk) > 0 {
		return pk
	}
	return s.Names()
}

// Index returns the position of the named column or -1.
func (s Schema) Index(name string) int {
	for i, col := range s {
		if col.Name == name {
			return i
		}
	}
	return -1
}

// Equal reports whether two schemas have the same columns in the same order.
// Type names are compared case-insensitively.
func (s Schema) Equal(other Schema) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i].Name != other[i].Name ||
			s[i].PrimaryKey != other[i].PrimaryKey ||
			!strings.EqualFold(s[i].Type, other[i].Type) {
			return false
		}
	}
	return true
}

// KeyIndexes maps change key columns to their positions in the schema.
func (s Schema) KeyIndexes(changeKey []string) ([]int, error) {
	idx := make([]int, len(changeKey))
	for i, name := range changeKey {
		pos := s.Index(name)
		if pos < 0 {
			return nil, &SchemaError{Column: name, Msg: "change key column not in schema"}
		}
		idx[i] = pos
	}
	return idx, nil
}

// ExtractKey picks the key values out of a full row.
func ExtractKey(row []any, keyIdx []int) []any {
	key := make([]any, len(keyIdx))
	for i, pos := range keyIdx {
		key[i] = row[pos]
	}
	return key
}
