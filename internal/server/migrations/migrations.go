// Package migrations embeds the goose SQL migrations for the PostgreSQL
// identity and token stores.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
