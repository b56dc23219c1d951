// Package migrations embeds the versioned schema for the CI history store.
package migrations

import "embed"

// FS holds every NNN_name.sql migration.
//
//go:embed *.sql
var FS embed.FS
