// Package store implements the persistence collaborator contract.
//
// The streaming core depends on a narrow surface: insert one event,
// batch-insert many, and read events in a time range. Writes carry
// at-least-once semantics made idempotent by conflicting on the
// (market_id, outcome, ts, kind) dedup key.
//
// Postgres is the durable implementation; Memory backs tests and
// database-less operation.
package store
