// Package stores persists deployment jobs and their audit events.
//
// Two JobStore implementations are provided: SQLiteStore, an embedded store
// running in WAL mode with immediate transactions, and PostgresStore, backed
// by a pgx connection pool with row-level locking. Both apply their schema
// through embedded golang-migrate migrations and enforce the job status
// state machine inside a transaction so that concurrent writers on the same
// job key are serialized.
package stores
