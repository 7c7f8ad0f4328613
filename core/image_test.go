package core

import (
	"errors"
	"testing"
)

func TestComputeImageHashDeterministic(t *testing.T) {
	tables := map[string]TableEntry{
		"fruits":     {Schema: fruitSchema, Objects: []string{"a", "b"}},
		"vegetables": {Schema: fruitSchema, Objects: []string{"c"}},
	}
	h1 := ComputeImageHash(ZeroHash, "first", nil, tables)
	h2 := ComputeImageHash(ZeroHash, "first", nil, map[string]TableEntry{
		"vegetables": {Schema: fruitSchema, Objects: []string{"c"}},
		"fruits":     {Schema: fruitSchema, Objects: []string{"a", "b"}},
	})
	if h1 != h2 {
		t.Errorf("Expected identical hashes, got %s and %s", h1, h2)
	}
	if !IsHash(h1) {
		t.Errorf("Expected a 64 hex hash, got %q", h1)
	}

	if ComputeImageHash(ZeroHash, "second", nil, tables) == h1 {
		t.Error("Expected the comment to change the hash")
	}
	prov := []ProvenanceEntry{{Type: ProvenanceSQL, Statement: "SELECT 1"}}
	if ComputeImageHash(ZeroHash, "first", prov, tables) == h1 {
		t.Error("Expected provenance to change the hash")
	}
}

func TestParseRepository(t *testing.T) {
	repo, err := ParseRepository("test/fruits")
	if err != nil {
		t.Fatalf("Failed to parse: %v", err)
	}
	if repo.Namespace != "test" || repo.Name != "fruits" {
		t.Errorf("Unexpected repository %+v", repo)
	}
	if repo.String() != "test/fruits" {
		t.Errorf("Expected test/fruits, got %s", repo.String())
	}

	repo, err = ParseRepository("fruits")
	if err != nil || repo.Namespace != "" {
		t.Errorf("Expected namespace-less repository, got %+v (%v)", repo, err)
	}

	for _, bad := range []string{"", "a/b/c", "a:b", "_/x"} {
		if _, err := ParseRepository(bad); err == nil {
			t.Errorf("Expected %q to be rejected", bad)
		}
	}
}

func TestReferenceErrorMessage(t *testing.T) {
	err := error(&ReferenceError{Ref: "ab", Repository: "test/fruits", Candidates: []string{"ab1", "ab2"}})
	var refErr *ReferenceError
	if !errors.As(err, &refErr) {
		t.Fatal("Expected errors.As to match ReferenceError")
	}
	if got := err.Error(); got != `ambiguous reference "ab" in test/fruits: multiple suitable candidates: ab1, ab2` {
		t.Errorf("Unexpected message %q", got)
	}
}

func TestObjectOverlaps(t *testing.T) {
	obj := Object{Min: []any{int64(5)}, Max: []any{int64(10)}}
	cases := []struct {
		lo, hi []any
		want   bool
	}{
		{[]any{int64(1)}, []any{int64(4)}, false},
		{[]any{int64(1)}, []any{int64(5)}, true},
		{[]any{int64(10)}, []any{int64(20)}, true},
		{[]any{int64(11)}, nil, false},
		{nil, nil, true},
	}
	for _, c := range cases {
		if got := obj.Overlaps(c.lo, c.hi); got != c.want {
			t.Errorf("Overlaps(%v, %v) = %v, want %v", c.lo, c.hi, got, c.want)
		}
	}
}

func TestObjectBytesBoundsSurviveRecord(t *testing.T) {
	obj := Object{
		ID:        "x",
		Format:    FormatDiff,
		ChangeKey: []string{"k"},
		Min:       []any{[]byte{0x01}},
		Max:       []any{[]byte{0x02}},
		RowCount:  2,
	}
	data, err := MarshalRecord(obj)
	if err != nil {
		t.Fatalf("Failed to marshal object: %v", err)
	}
	var got Object
	if err := got.UnmarshalJSON(data); err != nil {
		t.Fatalf("Failed to unmarshal object: %v", err)
	}
	if _, ok := got.Min[0].([]byte); !ok {
		t.Fatalf("Expected a []byte lower bound, got %T", got.Min[0])
	}
	if !EqualRows(got.Min, obj.Min) || !EqualRows(got.Max, obj.Max) {
		t.Errorf("Expected bounds %v..%v, got %v..%v", obj.Min, obj.Max, got.Min, got.Max)
	}
	if !got.Overlaps([]any{[]byte{0x01}}, []any{[]byte{0x02}}) {
		t.Error("Expected the decoded object to overlap its own range")
	}
}
