// Package LayerDB versions tabular data the way git versions files.
//
// A repository is a named set of tables. Committing it records an immutable
// image whose tables are lists of content-addressed objects, each holding
// the row changes since the previous image. Objects are shared between
// images and repositories, garbage collected once nothing references them
// and can live in external storage (a directory, S3 or an HTTP object
// server) with only their location kept in the catalog.
//
// # Quick Start
//
// Open an in-memory instance, create a table and commit it:
//
//	inst, _ := LayerDB.OpenMemory(ctx)
//	defer inst.Close()
//
//	repo := inst.Repository(core.MustParseRepository("demo/fruits"))
//	repo.Init(ctx)
//	repo.Adapter().RunIn(ctx, repo.Schema(), `
//		CREATE TABLE fruits (id INTEGER PRIMARY KEY, name TEXT);
//		INSERT INTO fruits VALUES (1, 'apple');`)
//	img, _ := repo.Commit(ctx, op.WithComment("first fruits"))
//
// # Build scripts
//
// Derived repositories are described by scripts that import tables from
// other repositories, run SQL over them or mount external sources:
//
//	FROM demo/fruits:latest IMPORT fruits
//	SQL CREATE TABLE a_fruits AS SELECT * FROM fruits WHERE name LIKE 'a%'
//
// Every step is cached by the image it starts from and its own content, and
// every image it produces records the step as provenance, so a script can be
// recovered from an image and rebuilt against newer sources.
//
//	res, _ := inst.Executor().Run(ctx, script, nil, core.MustParseRepository("demo/derived"))
//	res.Display(os.Stdout)
//
// # Sync
//
// Repositories are pushed to and cloned from remotes (see package remote);
// clones are lazy and fetch objects on first checkout.
package LayerDB
