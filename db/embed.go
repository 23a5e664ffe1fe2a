// Package db embeds the database schema.
package db

import _ "embed"

// Schema creates every table if missing. It is safe to run on each start.
//
//go:embed migrations/001_schema.sql
var Schema string
