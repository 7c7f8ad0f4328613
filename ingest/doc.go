// Package ingest copies external datasets into an engine schema.
//
// Sources are created through a Registry that maps a kind to a Factory. The
// built-in kinds are:
//
//	csv  {"url": "s3://bucket/stations.csv", "delimiter": ";", "primary_key": ["id"]}
//	sql  {"driver": "duckdb", "dsn": "/data/warehouse.duckdb", "tables": ["orders"]}
//
// Every operation reports one TableResult per table so a broken table does
// not hide the others.
package ingest
