// Package config loads the YAML files that drive liqbatch.
//
// # Settings
//
// Settings is the operator configuration: where the SQLite store lives,
// telemetry, policy paths and limits, which venue to execute against,
// compensation scripts and the default plan options. Fields missing from the
// file keep their DefaultSettings value.
//
//	store:
//	  path: /var/lib/liqbatch/liqbatch.db
//	venue:
//	  kind: http
//	  url: http://127.0.0.1:8787
//	policy:
//	  paths: [./policies]
//	  limits:
//	    max_total_cost: 0.5
//	defaults:
//	  strategy: dependency
//	  execution:
//	    failure_handling: rollback_partial
//
// # Batches
//
// A Batch file lists the operations to plan, with typed params per
// operation type, and optional plan options:
//
//	name: weekly-rebalance
//	options:
//	  strategy: hybrid
//	operations:
//	  - id: open
//	    type: create_position
//	    params: {pool: ETH-USDC, user: "0xalice", lower_tick: -600, upper_tick: 600, amount0: 1}
//	  - id: hedge
//	    type: swap
//	    depends_on: [open]
//	    params: {pool: ETH-USDC, user: "0xalice", token_in: ETH, token_out: USDC, amount_in: 0.5}
//
// Batch.Operations decodes each params block into the engine variant for its
// type. Batch.PlanOptions returns the options as written; the planner fills
// the rest from its defaults.
package config
