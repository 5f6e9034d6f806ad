// Package migrations holds the numbered SQL schema files applied by
// "healthbook migrate up".
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
