// Package eventlog archives processed safety events in SQLite.
//
// The coordinator keeps a bounded in-memory log; this store is the best-effort
// long-term history behind it. Schema changes ship as embedded migrations that
// are applied at most once.
package eventlog
