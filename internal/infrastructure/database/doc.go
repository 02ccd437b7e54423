// Package database manages the SQLite connection and schema migrations.
//
// The event log and fault records live in a single SQLite file opened in
// WAL mode with a single writer connection. Migrations are embedded in
// the binary and applied at startup, each in its own transaction.
package database
