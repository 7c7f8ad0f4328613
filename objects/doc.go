// Package objects is the LayerDB object store.
//
// Objects are immutable, content-addressed changesets. Their metadata lives
// in the catalog (package ps); their payloads live in a go-billy cache,
// zstd-compressed at <id[0:2]>/<id>, and may be replicated to external
// locations through Handlers.
//
//	store, _ := objects.New(catalog, objects.NewMemoryCache())
//	size, _ := store.Write(id, payload)
//
// # Transfers
//
// Download and Upload run per-object transfers concurrently with a bounded
// errgroup. A failing object never cancels its siblings; every failure is
// reported in a TransferError naming the object ids.
//
//	err := store.Download(ctx, ids)
//	var terr *objects.TransferError
//	if errors.As(err, &terr) {
//	    retry(terr.ObjectIDs())
//	}
//
// # Handlers
//
//	DB    copies payloads into another Store's cache (no location recorded)
//	FILE  a directory
//	S3    an S3 bucket (aws-sdk-go-v2)
//	HTTP  a LayerDB object server
//
// # Garbage collection
//
// Cleanup removes objects no image references. Reachability is computed over
// one catalog snapshot and the deletion commits only if the catalog did not
// move in between. Cached payloads are only removed once they are older than
// the grace period, which protects payloads written by a commit that has not
// registered them yet.
package objects
