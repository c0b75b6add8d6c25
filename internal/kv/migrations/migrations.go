// Package migrations embeds the SQL schema of the device key-value database.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
