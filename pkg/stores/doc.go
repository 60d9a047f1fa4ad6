// Package stores provides the persistence layer for the deployment engine.
//
// The Store interface abstracts a durable store with per-record optimistic
// updates; SQLiteStore is the reference implementation backed by
// modernc.org/sqlite with embedded golang-migrate migrations.
//
// Record types here are flat rows with JSON blob columns for structured
// fields. The engine converts between its aggregate types and these records;
// nothing in this package interprets blob contents.
package stores
