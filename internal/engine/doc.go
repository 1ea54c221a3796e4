// Package engine implements the mvistore event-processing runtime.
//
// An Engine owns one State value, consumes Intents from a FIFO queue and
// publishes Actions to subscribers. Everything the engine does is routed
// through a single composed Plugin: a struct of optional hooks folded in
// registration order. Decorators wrap a plugin and decide whether, when and
// how often its hooks run.
//
// ARCHITECTURE:
//
// Single-Consumer Intent Loop:
// Each run has exactly one processing goroutine that dequeues intents in
// FIFO order and feeds them to the OnIntent chain. With ParallelIntents the
// loop hands each intent to a bounded child goroutine instead; state
// transactions still serialize through the state cell.
//
// Lifecycle:
//
//	Created -> Starting -> Running -> Stopping -> Stopped
//	                ^                                |
//	                +---------- Start (restart) -----+
//
// Running is entered only after every OnStart hook returned. Stopping
// cancels the run scope, waits for every child goroutine, drains the
// intent queue and action buffers to the undelivered hooks and then fires
// OnStop exactly once.
//
// State Transactions:
// UpdateState and WithState are serialized by a one-slot lock. The context
// passed to the transaction block carries a holder marker so nested calls
// with that context re-enter instead of deadlocking.
//
// Versions:
// Every committed State is stamped by a logical Clock. Subscribers only
// ever observe strictly increasing versions.
package engine
