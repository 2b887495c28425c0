package policy

// BuiltinPolicies returns the policies every engine starts with.
func BuiltinPolicies() []Policy {
	return []Policy{
		planLimitsPolicy(),
		riskLimitPolicy(),
		closeWithoutClaimPolicy(),
		parallelRebalancePolicy(),
		unprotectedRiskPolicy(),
	}
}

// planLimitsPolicy enforces the configured size and cost limits.
func planLimitsPolicy() Policy {
	return Policy{
		Name:        "plan-limits",
		Description: "Blocks plans that exceed the configured operation count or cost limits",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"limits", "cost"},
		Rego: `package liqbatch.policies.limits

import rego.v1

deny contains violation if {
	limit := input.limits.max_operations
	limit > 0
	n := count(input.plan.operations)
	n > limit
	violation := {
		"message": sprintf("plan has %v operations, limit is %v", [n, limit]),
		"severity": "error",
	}
}

deny contains violation if {
	limit := input.limits.max_total_cost
	limit > 0
	input.plan.total_cost > limit
	violation := {
		"message": sprintf("estimated cost %v exceeds limit %v", [input.plan.total_cost, limit]),
		"severity": "error",
	}
}

deny contains violation if {
	limit := input.limits.max_operation_cost
	limit > 0
	some op in input.plan.operations
	op.estimated_cost > limit
	violation := {
		"message": sprintf("operation %s estimated cost %v exceeds limit %v", [op.id, op.estimated_cost, limit]),
		"severity": "error",
		"operation": op.id,
	}
}`,
	}
}

// riskLimitPolicy blocks plans scored above the configured risk ceiling.
func riskLimitPolicy() Policy {
	return Policy{
		Name:        "risk-limit",
		Description: "Blocks plans whose risk score exceeds the configured ceiling",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"limits", "risk"},
		Rego: `package liqbatch.policies.risk

import rego.v1

deny contains violation if {
	limit := input.limits.max_risk_score
	limit > 0
	input.plan.risk_score > limit
	violation := {
		"message": sprintf("risk score %v exceeds limit %v", [input.plan.risk_score, limit]),
		"severity": "error",
	}
}`,
	}
}

// closeWithoutClaimPolicy warns when a position is closed with its fees left behind.
func closeWithoutClaimPolicy() Policy {
	return Policy{
		Name:        "close-without-claim",
		Description: "Warns when a position is closed without collecting or claiming its fees",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"fees"},
		Rego: `package liqbatch.policies.fees

import rego.v1

claimed(key) if {
	some op in input.plan.operations
	op.type == "claim_fees"
	op.resource_key == key
}

deny contains violation if {
	some op in input.plan.operations
	op.type == "close_position"
	not op.params.collect_fees
	not claimed(op.resource_key)
	violation := {
		"message": sprintf("operation %s closes a position on %s without claiming fees", [op.id, op.resource_key]),
		"severity": "warning",
		"operation": op.id,
	}
}`,
	}
}

// parallelRebalancePolicy warns about rebalances scheduled in fixed windows.
func parallelRebalancePolicy() Policy {
	return Policy{
		Name:        "parallel-rebalance",
		Description: "Warns when rebalances run under the parallel strategy",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"scheduling"},
		Rego: `package liqbatch.policies.scheduling

import rego.v1

deny contains violation if {
	input.plan.strategy == "parallel"
	some op in input.plan.operations
	op.type == "rebalance"
	violation := {
		"message": sprintf("rebalance %s runs in a fixed parallel window; the dependency strategy orders it more tightly", [op.id]),
		"severity": "warning",
		"operation": op.id,
	}
}`,
	}
}

// unprotectedRiskPolicy warns about high-risk plans that cannot be unwound.
func unprotectedRiskPolicy() Policy {
	return Policy{
		Name:        "unprotected-risk",
		Description: "Warns when a high-risk plan has automatic rollback disabled",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"risk", "rollback"},
		Rego: `package liqbatch.policies.rollback

import rego.v1

deny contains "high-risk plan has automatic rollback disabled" if {
	input.plan.risk_level == "high"
	not automatic_rollback
}

automatic_rollback if {
	input.plan.rollback.enabled
	input.plan.rollback.automatic
}`,
	}
}
