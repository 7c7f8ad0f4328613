package core

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

type ChangeKind string

const (
	Insert ChangeKind = "insert"
	Update ChangeKind = "update"
	Delete ChangeKind = "delete"
)

// Change is one row-level change. Deletes carry only the key.
type Change struct {
	Kind ChangeKind `json:"kind"`
	Key  []any      `json:"key"`
	Row  []any      `json:"row,omitempty"`
}

// ChangeCounts aggregates a changeset by kind.
type ChangeCounts struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Deleted  int `json:"deleted"`
}

func (c ChangeCounts) Total() int {
	return c.Inserted + c.Updated + c.Deleted
}

// Changeset is the payload of an object: the changes to one table keyed by
// ChangeKey. Columns is the schema of the rows carried by inserts and updates.
type Changeset struct {
	ChangeKey []string `json:"change_key"`
	Columns   Schema   `json:"columns"`
	Changes   []Change `json:"changes"`

	index map[string]int
}

// Conflate folds next into prev for the same key. It returns false when
// the two cancel out (an insert followed by a delete).
func Conflate(prev, next Change) (Change, bool) {
	switch next.Kind {
	case Delete:
		if prev.Kind == Insert {
			return Change{}, false
		}
		return Change{Kind: Delete, Key: next.Key}, true
	case Update:
		if prev.Kind == Insert {
			return Change{Kind: Insert, Key: next.Key, Row: next.Row}, true
		}
		return Change{Kind: Update, Key: next.Key, Row: next.Row}, true
	case Insert:
		if prev.Kind == Delete {
			return Change{Kind: Update, Key: next.Key, Row: next.Row}, true
		}
		return Change{Kind: next.Kind, Key: next.Key, Row: next.Row}, true
	}
	return next, true
}

// Record adds a change, conflating it with any earlier change to the same key.
func (cs *Changeset) Record(kind ChangeKind, key, row []any) {
	if cs.index == nil {
		cs.index = make(map[string]int, len(cs.Changes))
		for i, ch := range cs.Changes {
			cs.index[KeyString(ch.Key)] = i
		}
	}

	change := Change{Kind: kind, Key: NormalizeRow(key)}
	if kind != Delete {
		change.Row = NormalizeRow(row)
	}

	k := KeyString(change.Key)
	pos, ok := cs.index[k]
	if !ok || cs.Changes[pos].Kind == "" {
		cs.index[k] = len(cs.Changes)
		cs.Changes = append(cs.Changes, change)
		return
	}

	merged, keep := Conflate(cs.Changes[pos], change)
	if !keep {
		// tombstone; dropped by Normalize
		cs.Changes[pos] = Change{Key: change.Key}
		delete(cs.index, k)
		return
	}
	cs.Changes[pos] = merged
}

// Normalize returns a copy sorted by key holding one change per key
// (the last one wins) with canonical value types.
func (cs Changeset) Normalize() Changeset {
	latest := make(map[string]Change, len(cs.Changes))
	for _, ch := range cs.Changes {
		if ch.Kind == "" {
			continue
		}
		norm := Change{Kind: ch.Kind, Key: NormalizeRow(ch.Key)}
		if ch.Kind != Delete {
			norm.Row = NormalizeRow(ch.Row)
		}
		latest[KeyString(norm.Key)] = norm
	}

	changes := make([]Change, 0, len(latest))
	for _, ch := range latest {
		changes = append(changes, ch)
	}
	sort.Slice(changes, func(i, j int) bool {
		return CompareKeys(changes[i].Key, changes[j].Key) < 0
	})

	return Changeset{
		ChangeKey: append([]string(nil), cs.ChangeKey...),
		Columns:   append(Schema(nil), cs.Columns...),
		Changes:   changes,
	}
}

func (cs Changeset) Len() int {
	n := 0
	for _, ch := range cs.Changes {
		if ch.Kind != "" {
			n++
		}
	}
	return n
}

func (cs Changeset) Counts() ChangeCounts {
	var counts ChangeCounts
	for _, ch := range cs.Changes {
		switch ch.Kind {
		case Insert:
			counts.Inserted++
		case Update:
			counts.Updated++
		case Delete:
			counts.Deleted++
		}
	}
	return counts
}

// Bounds returns the smallest and largest key touched by the changeset.
func (cs Changeset) Bounds() (lo, hi []any) {
	for _, ch := range cs.Changes {
		if ch.Kind == "" {
			continue
		}
		if lo == nil || CompareKeys(ch.Key, lo) < 0 {
			lo = ch.Key
		}
		if hi == nil || CompareKeys(ch.Key, hi) > 0 {
			hi = ch.Key
		}
	}
	return lo, hi
}

type wireChange struct {
	Kind ChangeKind `json:"kind"`
	Key  []any      `json:"key"`
	Row  []any      `json:"row,omitempty"`
}

type wireChangeset struct {
	ChangeKey []string     `json:"change_key"`
	Columns   Schema       `json:"columns"`
	Changes   []wireChange `json:"changes"`
}

// bytes values are wrapped so that they survive a JSON round trip
func encodeValues(row []any) []any {
	if row == nil {
		return nil
	}
	out := make([]any, len(row))
	for i, v := range row {
		if b, ok := v.([]byte); ok {
			out[i] = map[string]string{"$bytes": base64.StdEncoding.EncodeToString(b)}
			continue
		}
		out[i] = v
	}
	return out
}

func decodeValues(row []any) ([]any, error) {
	if row == nil {
		return nil, nil
	}
	out := make([]any, len(row))
	for i, v := range row {
		if m, ok := v.(map[string]any); ok {
			s, _ := m["$bytes"].(string)
			b, err := base64.StdEncoding.DecodeString(s)
			if err != nil {
				return nil, fmt.Errorf("failed to decode bytes value: %w", err)
			}
			out[i] = b
			continue
		}
		out[i] = Normalize(v)
	}
	return out, nil
}

// Encode returns the canonical encoding of the normalized changeset.
func (cs Changeset) Encode() ([]byte, error) {
	norm := cs.Normalize()
	wire := wireChangeset{
		ChangeKey: norm.ChangeKey,
		Columns:   norm.Columns,
		Changes:   make([]wireChange, len(norm.Changes)),
	}
	for i, ch := range norm.Changes {
		wire.Changes[i] = wireChange{Kind: ch.Kind, Key: encodeValues(ch.Key), Row: encodeValues(ch.Row)}
	}
	data, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("failed to encode changeset: %w", err)
	}
	return data, nil
}

// Hash returns the object id of the changeset.
func (cs Changeset) Hash() (string, error) {
	data, err := cs.Encode()
	if err != nil {
		return "", err
	}
	return HashBytes(data), nil
}

func DecodeChangeset(data []byte) (Changeset, error) {
	var wire wireChangeset
	if err := DecodeJSON(data, &wire); err != nil {
		return Changeset{}, fmt.Errorf("failed to decode changeset: %w", err)
	}

	cs := Changeset{
		ChangeKey: wire.ChangeKey,
		Columns:   wire.Columns,
		Changes:   make([]Change, len(wire.Changes)),
	}
	for i, ch := range wire.Changes {
		key, err := decodeValues(ch.Key)
		if err != nil {
			return Changeset{}, err
		}
		row, err := decodeValues(ch.Row)
		if err != nil {
			return Changeset{}, err
		}
		cs.Changes[i] = Change{Kind: ch.Kind, Key: key, Row: row}
	}
	return cs, nil
}

// HashBytes returns the hex sha256 of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
