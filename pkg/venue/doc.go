// Package venue provides engine.OperationExecutor implementations that submit
// liquidity operations to an execution venue.
//
// Paper simulates a venue in memory with deterministic costs, configurable
// latency and per-operation failure injection. It is used for dry runs and
// tests. HTTP forwards operations to a venue bridge service over JSON and maps
// its status codes onto engine error classes:
//
//	429        throttled
//	5xx        transient
//	other 4xx  permanent
//
// Both executors report the metadata keys the compensate package reads
// (position_id, liquidity, amount_a, amount_b, amount_out) and record every
// call through telemetry.RecordVenueCall.
package venue
