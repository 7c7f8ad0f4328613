package layered

import (
	"github.com/nickyhof/LayerDB/core"
)

// Index holds the fragments of one table in commit order.
type Index struct {
	Fragments []core.Object
}

func NewIndex(fragments []core.Object) *Index {
	return &Index{Fragments: fragments}
}

// LookupRange selects the fragments that must be applied to answer a query
// on keys in [lo, hi], in commit order. A nil bound is unbounded.
func (idx *Index) LookupRange(lo, hi []any) []core.Object {
	selected := make([]bool, len(idx.Fragments))
	hit := false
	for i, f := range idx.Fragments {
		if f.Overlaps(lo, hi) {
			selected[i] = true
			hit = true
		}
	}
	if !hit {
		return nil
	}

	// pull in later fragments overlapping a selected one until nothing changes
	for changed := true; changed; {
		changed = false
		for j, f := range idx.Fragments {
			if selected[j] {
				continue
			}
			for i := 0; i < j; i++ {
				if selected[i] && f.Overlaps(idx.Fragments[i].Min, idx.Fragments[i].Max) {
					selected[j] = true
					changed = true
					break
				}
			}
		}
	}

	var out []core.Object
	for i, f := range idx.Fragments {
		if selected[i] {
			out = append(out, f)
		}
	}
	return out
}

// All returns every non-empty fragment.
func (idx *Index) All() []core.Object {
	return idx.LookupRange(nil, nil)
}
