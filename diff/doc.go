// Package diff captures row-level changes to engine tables and replays
// stored changesets onto them.
//
// A tracked table has a shadow copy in the engine's bookkeeping schema
// holding its contents as of the last baseline (track, commit or checkout).
// Pending changes are the difference between the table and its shadow,
// keyed by the change key: the primary key, or every column when the table
// has none.
//
//	d := diff.New(adapter, store)
//	_ = d.Track(ctx, "ns/repo", "fruits")
//	// ... modify the table ...
//	cs, _ := d.Changeset(ctx, "ns/repo", "fruits")
//	obj, _ := d.Freeze(ctx, cs)
//
// Apply replays objects in order inside one engine transaction. Inserts and
// updates replace the whole row, deletes remove it by key.
package diff
