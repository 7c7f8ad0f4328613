// Package core provides the data model shared by every LayerDB package.
//
// The package defines repositories, images, table entries, objects
// (content-addressed diff fragments), changesets and the error taxonomy.
//
// # Identity
//
// Identity identifies the author of catalog transactions (Git commit author):
//
//	identity := core.Identity{
//	    Name:  "John Doe",
//	    Email: "john@example.com",
//	}
//
// # Images
//
// An Image is an immutable snapshot of a repository's tables. Each table is
// a TableEntry: a column schema plus the ordered list of object ids whose
// sequential application reconstructs the table.
//
//	hash := core.ComputeImageHash(parent, "initial load", nil, tables)
//
// The all-zero hash (core.ZeroHash) is the empty root present in every
// repository.
//
// # Changesets
//
// A Changeset is the payload of an object. Its id is the sha256 of its
// canonical encoding, so identical changes always share one object:
//
//	cs := core.Changeset{ChangeKey: []string{"id"}, Columns: schema}
//	cs.Record(core.Insert, []any{int64(1)}, []any{int64(1), "pineapple"})
//	id, _ := cs.Hash()
//
// # Errors
//
// Failures are reported with ParseError, SchemaError, StorageError,
// ReferenceError and ConsistencyError. Match them with errors.As.
package core
