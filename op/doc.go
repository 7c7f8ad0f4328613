// Package op implements the LayerDB commit graph on top of the diff engine,
// the object store and the catalog.
//
// A Repository owns a schema in the storage engine holding its checked out
// tables, and a set of images and tags in the catalog.
//
//	repo := op.NewRepository(core.MustParseRepository("ns/fruits"), differ)
//	repo.Init(ctx)
//	// ... create and modify tables in schema "ns/fruits" ...
//	img, _ := repo.Commit(ctx, op.WithComment("add fruits"))
//	repo.Checkout(ctx, img.Hash[:8], op.CheckoutOptions{})
//	history, _ := repo.Log(ctx, core.TagHead)
//
// # Commit
//
// Tracked tables with pending changes get one new object appended to their
// object list. New tables and tables whose schema changed are stored as a
// single full snapshot object. The objects, the image and the HEAD and
// latest tags are written in one catalog transaction.
//
// # Checkout
//
// An eager checkout downloads the objects it needs and replays them into
// freshly created tables. A lazy checkout only records the tables as
// layered; Query then reconstructs rows from the objects on demand.
//
// # TableOp
//
// TableOp moves a single table between its catalog entry and the engine:
//
//	t := op.Table(differ, "ns/fruits", "fruits")
//	t.Materialize(ctx, entry)
//	t.MarkLayered(ctx, imageHash)
package op
