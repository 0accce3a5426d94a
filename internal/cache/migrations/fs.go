// Package migrations embeds the sqlite schema migrations for the session
// cache database.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
