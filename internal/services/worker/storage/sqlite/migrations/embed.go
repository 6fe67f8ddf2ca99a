// Package migrations embeds worker SQL migration files.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
