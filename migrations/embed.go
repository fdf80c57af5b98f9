// Package migrations embeds the SQL schema into the binary so the
// database can be migrated without the files on disk.
package migrations

import "embed"

// FS holds every *.sql migration at its root.
//
//go:embed *.sql
var FS embed.FS
