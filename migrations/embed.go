// Package migrations embeds the SQL migration files into the binary so the
// service can bring its schema up to date without files on disk.
package migrations

import "embed"

// FS holds the *.up.sql and *.down.sql files. Pass it to
// (*database.DB).Migrate.
//
//go:embed *.sql
var FS embed.FS
