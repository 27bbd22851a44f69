// Package migrations embeds the module's SQL schema files so test tooling
// can stand up a database without a filesystem path to this repo.
//
// These migrations are never run by the application at startup — SQL schema
// migrations are an external collaborator's responsibility. This package
// exists solely so internal/platform/testdb can apply the schema for tests.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
