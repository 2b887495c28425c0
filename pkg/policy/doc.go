// Package policy evaluates execution plans against Rego policies using the
// Open Policy Agent.
//
// Engine implements engine.PolicyEvaluator, so it can be handed to the
// planner with engine.WithPolicyEvaluator. Every enabled policy is evaluated
// against an Input document built from the plan and the configured Limits:
//
//	input.plan       strategy, operations (with resolved resource keys and
//	                 params), estimated cost, risk score and rollback settings
//	input.limits     max_operations, max_total_cost, max_operation_cost,
//	                 max_risk_score (zero disables a check)
//	input.context    environment and evaluation time
//
// A policy contributes findings through a "deny" set in its package. Members
// are strings or objects with "message", "severity" and "operation" keys.
// Findings with severity error or critical deny the plan; the rest become
// plan warnings.
//
// The builtin policies enforce the configured limits and warn about closing
// a position without claiming fees, rebalancing under the parallel strategy,
// and high-risk plans without automatic rollback. Custom policies are loaded
// from .rego files or YAML definitions by Loader, which can also watch its
// paths and hot-reload the engine through Engine.ReplacePolicies.
package policy
