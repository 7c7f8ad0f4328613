// Package engine defines the storage adapter contract LayerDB uses to hold
// materialized tables and run SQL, plus a database/sql implementation
// parameterized by a Dialect.
//
// # Adapter
//
// Every LayerDB component that touches table data receives an Adapter
// explicitly; there is no global engine handle.
//
//	eng, err := sqlite.Open(dir)
//	res, err := eng.Run(ctx, "SELECT count(*) FROM t", nil, engine.OneOne)
//	n := res.Scalar()
//
// # Result shapes
//
// Run returns a Result whose content depends on the requested shape:
//
//	None      statement executed for effect, Affected is set
//	OneOne    a single scalar (Scalar)
//	OneMany   a single row (Row)
//	ManyOne   a single column (Column)
//	ManyMany  every row (All)
//
// # Schemas
//
// A schema is named after the repository it holds ("ns/name"). RunIn
// executes user SQL with that schema as the default so unqualified table
// names resolve to the repository's tables.
//
// # Bookkeeping
//
// Each dialect owns a bookkeeping schema (MetaSchema) holding the
// tracked_tables and layered_tables registries and the shadow snapshots of
// tracked tables.
package engine
