// Package migrations embeds the SQL schema of the workspace service.
package migrations

import "embed"

// FS holds goose migrations.
//
//go:embed *.sql
var FS embed.FS
