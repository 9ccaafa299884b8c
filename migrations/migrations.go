// Package migrations embeds the database schema migrations. The schema only
// moves forward, no down migrations exist.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
