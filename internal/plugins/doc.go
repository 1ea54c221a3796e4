// Package plugins provides ready-made engine plugins and decorators.
//
// Plain plugins (Reduce, Recover, Init, Undelivered, DisallowRestart,
// ResetState, History, WhileSubscribed) cover the common wiring of an
// application store. Observability comes in two forms: plugins that watch
// the chain (Logging, Metrics, Journal) and decorators that wrap a child
// to time or trace it (Timed, Traced, Progress).
//
// Register observers after the plugins whose results they should see: a
// plugin only observes what earlier plugins let through.
package plugins
