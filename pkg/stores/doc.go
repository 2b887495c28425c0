// Package stores provides persistence for plans, execution history, the
// operation result cache, the event log and the audit trail.
//
// SQLiteStore is backed by modernc.org/sqlite with schema migrations applied
// through golang-migrate from an embedded filesystem. It implements the
// engine's Cache, PlanRecorder and HistoryRecorder interfaces, so a single
// store can be handed to both the planner and the engine. MemoryCache is an
// in-process alternative for the cache alone.
package stores
