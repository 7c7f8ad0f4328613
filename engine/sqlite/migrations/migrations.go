// Package migrations embeds the bookkeeping schema of the sqlite engine.
package migrations

import "embed"

//go:embed *.sql
var Files embed.FS
