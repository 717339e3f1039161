package postgres

import "embed"

// Migrations holds the schema for the credential flag table in
// golang-migrate's file naming scheme.
//
//go:embed migrations/*.sql
var Migrations embed.FS
