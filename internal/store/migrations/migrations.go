// Package migrations embeds the SQL schema migrations for the queue store.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
