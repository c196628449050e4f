package store

import _ "embed"

// SchemaSQL is the DDL in schema.sql, embedded so tests (in this package and
// others) can stand up a throwaway database without shelling out to psql.
//
//go:embed schema.sql
var SchemaSQL string
