package policy

import (
	"time"

	"github.com/openfroyo/liqbatch/pkg/engine"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for findings that are reported but do not block a plan.
	SeverityWarning Severity = "warning"

	// SeverityError blocks the plan.
	SeverityError Severity = "error"

	// SeverityCritical blocks the plan.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether a violation of this severity denies the plan.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy is a named Rego module. Its package must define a "deny" set whose
// members are either strings or objects with "message", optional "severity"
// and optional "operation" keys.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name" yaml:"name"`

	// Description provides a human-readable description.
	Description string `json:"description" yaml:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego" yaml:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity" yaml:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty" yaml:"tags,omitempty"`

	// Source is the file the policy was loaded from, empty for builtins.
	Source string `json:"source,omitempty" yaml:"-"`
}

// Limits are the operator-configured bounds the builtin policies enforce.
// A zero value disables the corresponding check.
type Limits struct {
	// MaxOperations caps the number of accepted operations in a plan.
	MaxOperations int `json:"max_operations" yaml:"max_operations" validate:"gte=0"`

	// MaxTotalCost caps the plan's estimated total cost.
	MaxTotalCost float64 `json:"max_total_cost" yaml:"max_total_cost" validate:"gte=0"`

	// MaxOperationCost caps any single operation's estimated cost.
	MaxOperationCost float64 `json:"max_operation_cost" yaml:"max_operation_cost" validate:"gte=0"`

	// MaxRiskScore caps the plan's risk score.
	MaxRiskScore float64 `json:"max_risk_score" yaml:"max_risk_score" validate:"gte=0,lte=1"`
}

// Input is the document a policy sees as "input".
type Input struct {
	Plan    PlanInput `json:"plan"`
	Limits  Limits    `json:"limits"`
	Context Context   `json:"context"`
}

// PlanInput is the policy view of an execution plan.
type PlanInput struct {
	ID              string              `json:"id"`
	Strategy        string              `json:"strategy"`
	Operations      []OperationInput    `json:"operations"`
	Dependencies    map[string][]string `json:"dependencies"`
	TotalCost       float64             `json:"total_cost"`
	DurationSeconds float64             `json:"duration_seconds"`
	RiskScore       float64             `json:"risk_score"`
	RiskLevel       string              `json:"risk_level"`
	FailureHandling string              `json:"failure_handling"`
	MaxConcurrency  int                 `json:"max_concurrency"`
	Rollback        RollbackInput       `json:"rollback"`
}

// OperationInput is the policy view of one operation. ResourceKey is always
// resolved, and Params is the type-specific payload.
type OperationInput struct {
	ID            string        `json:"id"`
	Type          string        `json:"type"`
	ResourceKey   string        `json:"resource_key"`
	Priority      int           `json:"priority"`
	EstimatedCost float64       `json:"estimated_cost"`
	DependsOn     []string      `json:"depends_on"`
	Params        engine.Params `json:"params"`
}

// RollbackInput is the policy view of the rollback policy.
type RollbackInput struct {
	Enabled   bool `json:"enabled"`
	Automatic bool `json:"automatic"`
}

// Context describes the evaluation.
type Context struct {
	Environment string    `json:"environment,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// NewInput builds the policy input for a plan.
func NewInput(plan *engine.ExecutionPlan, limits Limits, environment string) Input {
	ops := make([]OperationInput, 0, len(plan.Operations))
	for _, op := range plan.Operations {
		deps := plan.Dependencies[op.ID]
		if deps == nil {
			deps = []string{}
		}
		ops = append(ops, OperationInput{
			ID:            op.ID,
			Type:          string(op.Type),
			ResourceKey:   op.Target(),
			Priority:      op.Priority,
			EstimatedCost: op.EstimatedCost,
			DependsOn:     deps,
			Params:        op.Params,
		})
	}

	return Input{
		Plan: PlanInput{
			ID:              plan.ID,
			Strategy:        string(plan.Strategy),
			Operations:      ops,
			Dependencies:    plan.Dependencies,
			TotalCost:       plan.Estimate.TotalCost,
			DurationSeconds: plan.Estimate.Duration.Seconds(),
			RiskScore:       plan.Expected.RiskScore,
			RiskLevel:       string(plan.Expected.RiskLevel),
			FailureHandling: string(plan.Execution.FailureHandling),
			MaxConcurrency:  plan.Execution.MaxConcurrency,
			Rollback: RollbackInput{
				Enabled:   plan.Rollback.Enabled,
				Automatic: plan.Rollback.Automatic,
			},
		},
		Limits: limits,
		Context: Context{
			Environment: environment,
			Timestamp:   time.Now(),
		},
	}
}

// Violation is one finding from one policy.
type Violation struct {
	Policy      string   `json:"policy"`
	Message     string   `json:"message"`
	Severity    Severity `json:"severity"`
	OperationID string   `json:"operation_id,omitempty"`
}

// Report is the full outcome of evaluating every enabled policy.
type Report struct {
	Allowed           bool          `json:"allowed"`
	Violations        []Violation   `json:"violations,omitempty"`
	Errors            []string      `json:"errors,omitempty"`
	EvaluatedPolicies []string      `json:"evaluated_policies"`
	EvaluatedAt       time.Time     `json:"evaluated_at"`
	Duration          time.Duration `json:"duration"`
}

// Result converts the report into the planner's policy result. Non-blocking
// violations and evaluation errors become warnings.
func (r *Report) Result() *engine.PolicyResult {
	result := &engine.PolicyResult{
		Allowed:     r.Allowed,
		Violations:  make([]engine.PolicyViolation, 0, len(r.Violations)),
		Warnings:    []string{},
		EvaluatedAt: r.EvaluatedAt,
	}

	for _, v := range r.Violations {
		result.Violations = append(result.Violations, engine.PolicyViolation{
			Policy:      v.Policy,
			Message:     v.Message,
			Severity:    string(v.Severity),
			OperationID: v.OperationID,
		})
		if !v.Severity.Blocking() {
			result.Warnings = append(result.Warnings, "policy "+v.Policy+": "+v.Message)
		}
	}
	result.Warnings = append(result.Warnings, r.Errors...)

	return result
}
