package migrations

import "embed"

// FS contains the embedded SQLite index schema.
//
//go:embed *.sql
var FS embed.FS
