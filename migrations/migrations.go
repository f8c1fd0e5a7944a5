// Package migrations holds the base schema of the board. Dynamic post columns are added at runtime and are
// not part of any migration.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
