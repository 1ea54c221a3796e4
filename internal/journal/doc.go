// Package journal provides SQLite-backed durable storage for engine runs.
//
// A journal is an append-only log. Every run of an engine gets a row in
// runs; every hook the journal plugin observes (start, intent, action,
// state, exception, undelivered events, stop) becomes a record of that run.
//
// # Ordering
//
// Records are ordered by seq, a logical clock shared by every run in the
// file, never by timestamps. Reopening a journal resumes the clock after
// the highest stored seq, so replaying the same intents yields the same
// relative order.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL
//   - busy_timeout=5000
//   - foreign_keys=ON
//
// Payloads are stored as JSON TEXT.
package journal
