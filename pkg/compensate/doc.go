// Package compensate provides engine.Compensator implementations that undo
// completed liquidity operations by submitting a compensating operation to
// the same executor.
//
// Inverse knows the built-in inverses: an added deposit is withdrawn, a
// created position is closed, a swap is swapped back and a withdrawal is
// re-deposited. Amounts come from the venue metadata recorded on the
// original result. Fee claims, closes and rebalances cannot be undone.
//
// Script lets operators describe compensation in Starlark, and Registry
// routes each operation type to its own compensator.
package compensate
