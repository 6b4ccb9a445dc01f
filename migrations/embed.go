// Package migrations embeds the SQL schema applied by platform/db.Migrate.
package migrations

import "embed"

// FS holds every *.sql migration file.
//
//go:embed *.sql
var FS embed.FS
