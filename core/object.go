package core

import (
	"encoding/json"
	"time"
)

const FormatDiff = "DIFF"

// Object describes an immutable, content-addressed diff fragment.
type Object struct {
	ID        string    `json:"id"`
	Format    string    `json:"format"`
	ChangeKey []string  `json:"change_key"`
	Min       []any     `json:"min"`
	Max       []any     `json:"max"`
	RowCount  int       `json:"row_count"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// MarshalJSON wraps byte bounds the way changeset rows are wrapped so they
// decode back to []byte.
func (o Object) MarshalJSON() ([]byte, error) {
	type alias Object
	a := alias(o)
	a.Min = encodeValues(o.Min)
	a.Max = encodeValues(o.Max)
	return json.Marshal(a)
}

func (o *Object) UnmarshalJSON(data []byte) error {
	type alias Object
	var a alias
	if err := DecodeJSON(data, &a); err != nil {
		return err
	}
	var err error
	if a.Min, err = decodeValues(a.Min); err != nil {
		return err
	}
	if a.Max, err = decodeValues(a.Max); err != nil {
		return err
	}
	*o = Object(a)
	return nil
}

// Overlaps reports whether the object's key range intersects [lo, hi].
// A nil bound is unbounded.
func (o Object) Overlaps(lo, hi []any) bool {
	if len(o.Min) == 0 && len(o.Max) == 0 {
		// empty fragment
		return false
	}
	if hi != nil && CompareKeys(o.Min, hi) > 0 {
		return false
	}
	if lo != nil && CompareKeys(o.Max, lo) < 0 {
		return false
	}
	return true
}

// Location is an external place an object payload was replicated to.
type Location struct {
	URL      string `json:"url"`
	Protocol string `json:"protocol"`
}

// MarshalRecord is the json encoding used for catalog records.
func MarshalRecord(v any) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}
