// Package migrations embeds the SQL schema migrations for the PostgreSQL
// store, consumed by golang-migrate through its iofs source driver.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
