// Package layered answers queries against a table that is not materialized
// in the engine, by reconstructing the relevant rows from its objects.
//
// Only fragments whose key range can affect the query are fetched: those
// intersecting the requested range, plus every later fragment overlapping
// one already selected. The selection errs on the side of fetching more.
package layered
