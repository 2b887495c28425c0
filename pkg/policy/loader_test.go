package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/liqbatch/pkg/engine"
)

const swapLimitRego = `# Caps the size of any single swap.
# severity: error

package custom.swaplimit

import rego.v1

deny contains violation if {
	some op in input.plan.operations
	op.type == "swap"
	op.params.amount_in > 100
	violation := {"message": sprintf("swap %s is too large", [op.id]), "operation": op.id}
}
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
}

func TestLoadFromFile_Rego(t *testing.T) {
	loader := NewLoader(zerolog.New(nil).Level(zerolog.Disabled))

	path := filepath.Join(t.TempDir(), "swap-limit.rego")
	writeFile(t, path, swapLimitRego)

	policy, err := loader.loadFromFile(context.Background(), path)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}

	if policy.Name != "swap-limit" {
		t.Errorf("Expected name 'swap-limit', got '%s'", policy.Name)
	}
	if policy.Description != "Caps the size of any single swap." {
		t.Errorf("Unexpected description: %q", policy.Description)
	}
	if policy.Severity != SeverityError {
		t.Errorf("Expected severity error from header, got %s", policy.Severity)
	}
	if !policy.Enabled {
		t.Error("Policy should be enabled by default")
	}
	if policy.Source != path {
		t.Errorf("Expected source %s, got %s", path, policy.Source)
	}
}

func TestLoadFromFile_YAML(t *testing.T) {
	loader := NewLoader(zerolog.New(nil).Level(zerolog.Disabled))
	dir := t.TempDir()

	path := filepath.Join(dir, "quiet.yaml")
	writeFile(t, path, `name: quiet-hours
description: Warns about large batches
severity: warning
tags: [ops]
rego: |
  package custom.quiet

  import rego.v1

  deny contains "batch is large" if count(input.plan.operations) > 10
`)

	policy, err := loader.loadFromFile(context.Background(), path)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	if policy.Name != "quiet-hours" || policy.Severity != SeverityWarning || !policy.Enabled {
		t.Errorf("Unexpected policy: %+v", policy)
	}

	disabled := filepath.Join(dir, "off.yml")
	writeFile(t, disabled, "enabled: false\nrego: \"package off\"\n")
	policy, err = loader.loadFromFile(context.Background(), disabled)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	if policy.Name != "off" || policy.Enabled {
		t.Errorf("Expected disabled policy named off, got %+v", policy)
	}

	empty := filepath.Join(dir, "empty.yaml")
	writeFile(t, empty, "name: empty\n")
	if _, err := loader.loadFromFile(context.Background(), empty); err == nil {
		t.Error("Expected error for policy without rego")
	}
}

func TestLoadFromPaths_Directory(t *testing.T) {
	loader := NewLoader(zerolog.New(nil).Level(zerolog.Disabled))
	dir := t.TempDir()

	writeFile(t, filepath.Join(dir, "swap-limit.rego"), swapLimitRego)
	writeFile(t, filepath.Join(dir, "README.md"), "not a policy")
	if err := os.Mkdir(filepath.Join(dir, "nested"), 0o755); err != nil {
		t.Fatalf("Failed to create dir: %v", err)
	}
	writeFile(t, filepath.Join(dir, "nested", "other.rego"), "package other\n")

	policies, err := loader.LoadFromPaths(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("LoadFromPaths failed: %v", err)
	}
	if len(policies) != 2 {
		t.Errorf("Expected 2 policies, got %d", len(policies))
	}

	if _, err := loader.LoadFromPaths(context.Background(), []string{filepath.Join(dir, "missing")}); err == nil {
		t.Error("Expected error for missing path")
	}
}

func TestEngine_LoadPolicies(t *testing.T) {
	eng := newTestEngine(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "swap-limit.rego"), swapLimitRego)

	if err := eng.LoadPolicies(context.Background(), []string{dir}); err != nil {
		t.Fatalf("LoadPolicies failed: %v", err)
	}

	big := swap("big", 0.1)
	big.Params = engine.SwapParams{Pool: "ETH-USDC", User: "0xalice", TokenIn: "ETH", TokenOut: "USDC", AmountIn: 500}

	report, err := eng.Evaluate(context.Background(), testPlan(engine.StrategySequential, big))
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if report.Allowed {
		t.Fatal("Expected loaded policy to deny the large swap")
	}
	if report.Violations[0].Policy != "swap-limit" || report.Violations[0].OperationID != "big" {
		t.Errorf("Unexpected violation: %+v", report.Violations[0])
	}

	// Replacing with an empty set drops the loaded policy but keeps builtins
	if err := eng.ReplacePolicies(context.Background(), nil); err != nil {
		t.Fatalf("ReplacePolicies failed: %v", err)
	}
	if _, err := eng.GetPolicy("swap-limit"); err == nil {
		t.Error("Expected swap-limit to be removed")
	}
	if _, err := eng.GetPolicy("plan-limits"); err != nil {
		t.Errorf("Expected builtin to survive: %v", err)
	}
}

func TestLoader_Watch(t *testing.T) {
	loader := NewLoader(zerolog.New(nil).Level(zerolog.Disabled))
	dir := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan []Policy, 4)
	err := loader.Watch(ctx, []string{dir}, func(policies []Policy) error {
		reloaded <- policies
		return nil
	})
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	writeFile(t, filepath.Join(dir, "swap-limit.rego"), swapLimitRego)

	select {
	case policies := <-reloaded:
		if len(policies) != 1 || policies[0].Name != "swap-limit" {
			t.Errorf("Expected reload with swap-limit, got %v", policies)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for reload")
	}
}
