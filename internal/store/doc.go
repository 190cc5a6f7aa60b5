// Package store provides durable storage for session actors using SQLite.
//
// # Architecture
//
// The Store interface treats actor state as an opaque blob keyed by the
// normalized login that addresses the actor. The actor package owns the
// encoding. SQLiteStore is the production implementation and MockStore is an
// in-memory stand-in for unit tests.
//
// # Tables
//
//   - actor_state: one row per actor (actor_key, state, updated_at)
//   - invocations: append-only log of tool calls with their outcome
//
// # Transactions
//
// UpdateActorState performs a short read-modify-write in a single
// transaction and is used for actor activation. Tool calls read with
// GetActorState and write once with SaveActorState. Their handlers may wait on
// remote calls, and a transaction held across that wait would block every
// other actor on the single connection.
//
// # SQLite Configuration
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA busy_timeout=5000;
//
// The pool is limited to one connection, which serializes writers and lets
// ":memory:" databases be shared across calls.
package store
