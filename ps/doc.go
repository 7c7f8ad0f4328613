// Package ps provides the LayerDB catalog.
//
// The catalog is a Git repository managed with go-git. Every metadata
// mutation (images, tags, object records, locations, upstreams) is a single
// Git commit built directly from blobs and trees, without a worktree.
//
// # Memory Persistence
//
// For testing or ephemeral catalogs:
//
//	persistence, err := ps.NewMemoryPersistence()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # File Persistence
//
// For persistent storage, optionally cloned from a Git URL:
//
//	persistence, err := ps.NewFilePersistence("/path/to/catalog", nil)
//
// # Layout
//
//	repositories/<ns>/<name>/images/<hash>   image records
//	repositories/<ns>/<name>/tags            tag map, HEAD included
//	repositories/<ns>/<name>/upstream        upstream record
//	objects/<id[0:2]>/<id>                   object metadata
//	locations/<id[0:2]>/<id>                 external locations
//
// An empty namespace is stored as "_".
//
// # Transactions
//
// Writes are batched in a Txn and committed together:
//
//	txn, _ := persistence.BeginTransaction()
//	txn.PutObject(obj)
//	txn.PutImage(repo, img)
//	txn.PutTags(repo, tags)
//	result, _ := txn.Commit(identity, "commit")
//
// A Txn pinned with ExpectHead fails with ErrConflict when another commit
// landed after the pinned one.
//
// # Snapshots
//
// Reads go through an immutable Snapshot of one catalog commit, so a reader
// never observes half of a transaction:
//
//	snap, _ := persistence.Snapshot()
//	images, _ := snap.Images(repo)
package ps
