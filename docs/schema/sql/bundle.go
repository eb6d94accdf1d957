// Package sqldocs exposes the snapshot-table DDL of the SQL record backends
// directly from the docs tree.
package sqldocs

import _ "embed"

// SQLite contains the sqlite state table DDL.
//
//go:embed sqlite.sql
var SQLite string

// Postgres contains the postgres state table DDL.
//
//go:embed postgres.sql
var Postgres string

// StateTable is the table both backends persist snapshots into.
const StateTable = "state"
