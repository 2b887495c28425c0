package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/openfroyo/liqbatch/pkg/engine"
)

const testBatch = `
name: weekly-rebalance
description: Rotate the ETH-USDC range
options:
  strategy: dependency
  execution:
    failure_handling: rollback_partial
    operation_timeout: 45s
  rollback:
    enabled: true
    automatic: true
operations:
  - id: open
    type: create_position
    priority: 2
    params:
      pool: ETH-USDC
      user: "0xalice"
      lower_tick: -600
      upper_tick: 600
      amount0: 1.5
  - id: top-up
    type: add_liquidity
    estimated_duration: 20s
    params: {pool: ETH-USDC, user: "0xalice", amount_a: 10}
  - id: hedge
    type: swap
    depends_on: [top-up]
    metadata: {desk: treasury}
    params:
      pool: ETH-USDC
      user: "0xalice"
      token_in: ETH
      token_out: USDC
      amount_in: 0.5
`

func TestParseBatch(t *testing.T) {
	batch, err := ParseBatch([]byte(testBatch))
	if err != nil {
		t.Fatalf("ParseBatch failed: %v", err)
	}

	if batch.Name != "weekly-rebalance" || len(batch.Specs) != 3 {
		t.Fatalf("Unexpected batch: %+v", batch)
	}

	opts := batch.PlanOptions()
	if opts.Strategy != engine.StrategyDependency {
		t.Errorf("Expected dependency strategy, got %s", opts.Strategy)
	}
	if opts.Execution.FailureHandling != engine.FailureRollbackPartial {
		t.Errorf("Expected rollback_partial, got %s", opts.Execution.FailureHandling)
	}
	if opts.Execution.OperationTimeout != 45*time.Second {
		t.Errorf("Expected 45s timeout, got %v", opts.Execution.OperationTimeout)
	}
	if !opts.Rollback.Enabled || !opts.Rollback.Automatic {
		t.Error("Expected automatic rollback")
	}

	ops, err := batch.Operations()
	if err != nil {
		t.Fatalf("Operations failed: %v", err)
	}

	create, ok := ops[0].Params.(engine.CreatePositionParams)
	if !ok {
		t.Fatalf("Expected create position params, got %T", ops[0].Params)
	}
	if create.LowerTick != -600 || create.UpperTick != 600 || create.Amount0 != 1.5 {
		t.Errorf("Unexpected create params: %+v", create)
	}
	if ops[0].Priority != 2 {
		t.Errorf("Expected priority 2, got %d", ops[0].Priority)
	}

	if ops[1].EstimatedDuration != 20*time.Second {
		t.Errorf("Expected 20s estimate, got %v", ops[1].EstimatedDuration)
	}

	swap, ok := ops[2].Params.(engine.SwapParams)
	if !ok || swap.AmountIn != 0.5 || swap.TokenOut != "USDC" {
		t.Errorf("Unexpected swap params: %+v", ops[2].Params)
	}
	if len(ops[2].DependsOn) != 1 || ops[2].DependsOn[0] != "top-up" {
		t.Errorf("Expected dependency on top-up, got %v", ops[2].DependsOn)
	}
	if ops[2].Metadata["desk"] != "treasury" {
		t.Errorf("Expected metadata, got %v", ops[2].Metadata)
	}
	if ops[2].Target() != "ETH-USDC/0xalice" {
		t.Errorf("Unexpected target %s", ops[2].Target())
	}
}

func TestParseBatch_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing name",
			yaml: "operations:\n  - id: a\n    type: swap\n",
			want: "Name",
		},
		{
			name: "no operations",
			yaml: "name: empty\n",
			want: "Specs",
		},
		{
			name: "unknown type",
			yaml: "name: x\noperations:\n  - id: a\n    type: bridge\n",
			want: "invalid operation type",
		},
		{
			name: "missing id",
			yaml: "name: x\noperations:\n  - type: swap\n",
			want: "ID",
		},
		{
			name: "bad strategy",
			yaml: "name: x\noptions:\n  strategy: random\noperations:\n  - id: a\n    type: swap\n",
			want: "strategy",
		},
		{
			name: "malformed yaml",
			yaml: "name: [",
			want: "failed to parse batch",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseBatch([]byte(tt.yaml))
			if err == nil {
				t.Fatal("Expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestBatch_OperationsBadParams(t *testing.T) {
	batch, err := ParseBatch([]byte("name: x\noperations:\n  - id: a\n    type: swap\n    params: {amount_in: lots}\n"))
	if err != nil {
		t.Fatalf("ParseBatch failed: %v", err)
	}
	if _, err := batch.Operations(); err == nil {
		t.Error("Expected params decode error")
	}
}

func TestBatch_PlansWithDefaults(t *testing.T) {
	batch, err := ParseBatch([]byte(testBatch))
	if err != nil {
		t.Fatalf("ParseBatch failed: %v", err)
	}
	ops, err := batch.Operations()
	if err != nil {
		t.Fatalf("Operations failed: %v", err)
	}

	plan, err := engine.NewPlanner(engine.WithDefaultOptions(DefaultSettings().Defaults)).
		Plan(t.Context(), ops, batch.PlanOptions())
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if len(plan.Operations) != 3 {
		t.Errorf("Expected 3 planned operations, got %d", len(plan.Operations))
	}
}

func TestLoadBatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "batch.yaml")
	if err := os.WriteFile(path, []byte(testBatch), 0o644); err != nil {
		t.Fatalf("Failed to write batch: %v", err)
	}

	if _, err := LoadBatch(path); err != nil {
		t.Fatalf("LoadBatch failed: %v", err)
	}
	if _, err := LoadBatch(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()
	if err := s.Validate(); err != nil {
		t.Fatalf("Default settings should be valid: %v", err)
	}
	if s.Venue.Kind != VenuePaper {
		t.Errorf("Expected paper venue, got %s", s.Venue.Kind)
	}
	if !s.Compensation.Inverse {
		t.Error("Expected inverse compensation by default")
	}
	if s.Defaults.Strategy != engine.StrategySequential {
		t.Errorf("Expected engine defaults, got %s", s.Defaults.Strategy)
	}
}

func TestParseSettings(t *testing.T) {
	s, err := ParseSettings([]byte(`
store:
  path: /tmp/liqbatch-test.db
telemetry:
  logging:
    level: debug
venue:
  kind: http
  url: http://127.0.0.1:9999
  timeout: 5s
policy:
  paths: [./policies]
  environment: staging
  limits:
    max_total_cost: 0.5
    max_operations: 20
compensation:
  scripts:
    swap: ./scripts/swap.star
defaults:
  strategy: hybrid
  execution:
    max_concurrency: 8
`))
	if err != nil {
		t.Fatalf("ParseSettings failed: %v", err)
	}

	if s.Store.Path != "/tmp/liqbatch-test.db" || !s.Store.Cache {
		t.Errorf("Unexpected store settings: %+v", s.Store)
	}
	if s.Telemetry.Logging.Level != "debug" || s.Telemetry.ServiceName != "liqbatch" {
		t.Errorf("Expected telemetry overrides on top of defaults, got %+v", s.Telemetry.Logging)
	}
	if s.Venue.Kind != VenueHTTP || s.Venue.Timeout != 5*time.Second {
		t.Errorf("Unexpected venue settings: %+v", s.Venue)
	}
	if s.Policy.Limits.MaxTotalCost != 0.5 || s.Policy.Limits.MaxOperations != 20 {
		t.Errorf("Unexpected limits: %+v", s.Policy.Limits)
	}
	if s.Compensation.Scripts[engine.OperationSwap] != "./scripts/swap.star" || !s.Compensation.Inverse {
		t.Errorf("Unexpected compensation settings: %+v", s.Compensation)
	}
	if s.Defaults.Strategy != engine.StrategyHybrid || s.Defaults.Execution.MaxConcurrency != 8 {
		t.Errorf("Unexpected defaults: %+v", s.Defaults)
	}
	if s.Defaults.Execution.FailureHandling != engine.FailureAbortAll {
		t.Errorf("Expected unset defaults to survive, got %s", s.Defaults.Execution.FailureHandling)
	}
}

func TestParseSettings_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "http venue without url", yaml: "venue:\n  kind: http\n"},
		{name: "unknown venue", yaml: "venue:\n  kind: dex\n"},
		{name: "empty store path", yaml: "store:\n  path: \"\"\n"},
		{name: "bad limits", yaml: "policy:\n  limits:\n    max_risk_score: 2\n"},
		{name: "bad script key", yaml: "compensation:\n  scripts:\n    bridge: x.star\n"},
		{name: "bad failure handling", yaml: "defaults:\n  execution:\n    failure_handling: shrug\n"},
		{name: "non-positive price", yaml: "venue:\n  prices:\n    ETH-USDC: 0\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseSettings([]byte(tt.yaml)); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestLoadSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "liqbatch.yaml")
	if err := os.WriteFile(path, []byte("venue:\n  latency: 25ms\n"), 0o644); err != nil {
		t.Fatalf("Failed to write settings: %v", err)
	}

	s, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings failed: %v", err)
	}
	if s.Venue.Latency != 25*time.Millisecond {
		t.Errorf("Expected 25ms latency, got %v", s.Venue.Latency)
	}
}
