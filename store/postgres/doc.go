// Package postgres implements store.Store on PostgreSQL with pgx/v5.
//
// A partial unique index on slot_id over the non-terminal states enforces
// one active run per slot across processes. Run updates are
// compare-and-swap on the version column.
package postgres
