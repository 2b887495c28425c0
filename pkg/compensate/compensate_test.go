package compensate

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/liqbatch/pkg/engine"
)

// recordingExecutor records the operations it is asked to run.
type recordingExecutor struct {
	mu   sync.Mutex
	ops  []engine.Operation
	fail error
}

func (e *recordingExecutor) Execute(_ context.Context, op engine.Operation) (*engine.OperationOutcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ops = append(e.ops, op)
	if e.fail != nil {
		return nil, e.fail
	}
	return &engine.OperationOutcome{Success: true, Cost: 0.25}, nil
}

func (e *recordingExecutor) executed() []engine.Operation {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]engine.Operation(nil), e.ops...)
}

func swapOp() engine.Operation {
	return engine.Operation{
		ID:   "hedge",
		Type: engine.OperationSwap,
		Params: engine.SwapParams{
			Pool: "ETH-USDC", User: "0xalice", TokenIn: "ETH", TokenOut: "USDC", AmountIn: 2, SlippageBps: 50,
		},
	}
}

func success(op engine.Operation, meta map[string]interface{}) engine.OperationResult {
	return engine.OperationResult{
		OperationID: op.ID,
		Type:        op.Type,
		Status:      engine.OperationStatusSuccess,
		Cost:        1,
		Attempts:    1,
		Metadata:    meta,
	}
}

func TestInverseOf(t *testing.T) {
	tests := []struct {
		name     string
		op       engine.Operation
		meta     map[string]interface{}
		wantType engine.OperationType
		check    func(t *testing.T, p engine.Params)
	}{
		{
			name: "create position closes it",
			op: engine.Operation{ID: "open", Type: engine.OperationCreatePosition, Params: engine.CreatePositionParams{
				Pool: "ETH-USDC", User: "0xalice", LowerTick: -10, UpperTick: 10, Amount0: 1,
			}},
			meta:     map[string]interface{}{MetaPositionID: "pos-7"},
			wantType: engine.OperationClosePosition,
			check: func(t *testing.T, p engine.Params) {
				cp := p.(engine.ClosePositionParams)
				if cp.PositionID != "pos-7" || !cp.CollectFees {
					t.Errorf("Unexpected close params: %+v", cp)
				}
			},
		},
		{
			name: "add liquidity removes minted liquidity",
			op: engine.Operation{ID: "top-up", Type: engine.OperationAddLiquidity, Params: engine.AddLiquidityParams{
				Pool: "ETH-USDC", User: "0xalice", PositionID: "pos-7", AmountA: 5,
			}},
			meta:     map[string]interface{}{MetaLiquidity: 1200.5},
			wantType: engine.OperationRemoveLiquidity,
			check: func(t *testing.T, p engine.Params) {
				rp := p.(engine.RemoveLiquidityParams)
				if rp.Liquidity != 1200.5 || rp.PositionID != "pos-7" {
					t.Errorf("Unexpected remove params: %+v", rp)
				}
			},
		},
		{
			name: "remove liquidity adds amounts back",
			op: engine.Operation{ID: "trim", Type: engine.OperationRemoveLiquidity, Params: engine.RemoveLiquidityParams{
				Pool: "ETH-USDC", User: "0xalice", PositionID: "pos-7", Percent: 50,
			}},
			meta:     map[string]interface{}{MetaAmountA: "1.5", MetaAmountB: 3000},
			wantType: engine.OperationAddLiquidity,
			check: func(t *testing.T, p engine.Params) {
				ap := p.(engine.AddLiquidityParams)
				if ap.AmountA != 1.5 || ap.AmountB != 3000 {
					t.Errorf("Unexpected add params: %+v", ap)
				}
			},
		},
		{
			name:     "swap reverses direction",
			op:       swapOp(),
			meta:     map[string]interface{}{MetaAmountOut: 5000.0},
			wantType: engine.OperationSwap,
			check: func(t *testing.T, p engine.Params) {
				sp := p.(engine.SwapParams)
				if sp.TokenIn != "USDC" || sp.TokenOut != "ETH" || sp.AmountIn != 5000 {
					t.Errorf("Unexpected swap params: %+v", sp)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inverse, err := InverseOf(tt.op, success(tt.op, tt.meta))
			if err != nil {
				t.Fatalf("InverseOf failed: %v", err)
			}
			if inverse.Type != tt.wantType {
				t.Errorf("Expected type %s, got %s", tt.wantType, inverse.Type)
			}
			if inverse.ID != tt.op.ID+"-compensate" {
				t.Errorf("Unexpected inverse id %s", inverse.ID)
			}
			if inverse.Metadata["compensates"] != tt.op.ID {
				t.Errorf("Expected compensates label, got %v", inverse.Metadata)
			}
			if inverse.Target() != tt.op.Target() {
				t.Errorf("Expected inverse on %s, got %s", tt.op.Target(), inverse.Target())
			}
			tt.check(t, inverse.Params)
		})
	}
}

func TestInverseOf_NotCompensable(t *testing.T) {
	claim := engine.Operation{ID: "claim", Type: engine.OperationClaimFees, Params: engine.ClaimFeesParams{
		Pool: "ETH-USDC", User: "0xalice", PositionID: "pos-7",
	}}

	tests := []struct {
		name string
		op   engine.Operation
		meta map[string]interface{}
	}{
		{name: "claim fees has no inverse", op: claim},
		{name: "swap without reported output", op: swapOp()},
		{name: "swap with unparseable output", op: swapOp(), meta: map[string]interface{}{MetaAmountOut: "lots"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := InverseOf(tt.op, success(tt.op, tt.meta))
			if !errors.Is(err, engine.ErrNotCompensable) {
				t.Errorf("Expected ErrNotCompensable, got %v", err)
			}
		})
	}
}

func TestInverse_Compensate(t *testing.T) {
	executor := &recordingExecutor{}
	c := NewInverse(executor)

	op := swapOp()
	outcome, err := c.Compensate(context.Background(), op, success(op, map[string]interface{}{MetaAmountOut: 5000.0}))
	if err != nil {
		t.Fatalf("Compensate failed: %v", err)
	}
	if !outcome.Success {
		t.Error("Expected successful outcome")
	}

	ops := executor.executed()
	if len(ops) != 1 || ops[0].ID != "hedge-compensate" {
		t.Errorf("Expected the inverse swap to be executed, got %v", ops)
	}
}

const reverseSwapScript = `
def compensate(op, result):
    print("compensating", op["id"])
    if op["type"] != "swap":
        return None
    p = op["params"]
    return {
        "type": "swap",
        "params": {
            "pool": p["pool"],
            "user": p["user"],
            "token_in": p["token_out"],
            "token_out": p["token_in"],
            "amount_in": result["metadata"]["amount_out"],
            "slippage_bps": p["slippage_bps"] * 2,
        },
    }
`

func TestScript_Plan(t *testing.T) {
	script, err := NewScript("reverse.star", reverseSwapScript, &recordingExecutor{})
	if err != nil {
		t.Fatalf("NewScript failed: %v", err)
	}

	op := swapOp()
	inverse, err := script.Plan(context.Background(), op, success(op, map[string]interface{}{MetaAmountOut: 4990.5}))
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}

	sp, ok := inverse.Params.(engine.SwapParams)
	if !ok {
		t.Fatalf("Expected swap params, got %T", inverse.Params)
	}
	if sp.TokenIn != "USDC" || sp.TokenOut != "ETH" || sp.AmountIn != 4990.5 || sp.SlippageBps != 100 {
		t.Errorf("Unexpected params: %+v", sp)
	}
	if inverse.ID != "hedge-compensate" {
		t.Errorf("Expected default id, got %s", inverse.ID)
	}

	output := script.Output()
	if len(output) != 1 || output[0] != "compensating hedge" {
		t.Errorf("Unexpected script output: %v", output)
	}
}

func TestScript_ReturnsNone(t *testing.T) {
	script, err := NewScript("reverse.star", reverseSwapScript, &recordingExecutor{})
	if err != nil {
		t.Fatalf("NewScript failed: %v", err)
	}

	op := engine.Operation{ID: "claim", Type: engine.OperationClaimFees, Params: engine.ClaimFeesParams{
		Pool: "ETH-USDC", User: "0xalice", PositionID: "pos-7",
	}}
	_, err = script.Compensate(context.Background(), op, success(op, nil))
	if !errors.Is(err, engine.ErrNotCompensable) {
		t.Errorf("Expected ErrNotCompensable, got %v", err)
	}
}

func TestScript_Errors(t *testing.T) {
	if _, err := NewScript("bad.star", "def compensate(:", nil); err == nil {
		t.Error("Expected syntax error")
	}
	if _, err := NewScript("empty.star", "x = 1", nil); err == nil {
		t.Error("Expected error for script without compensate")
	}

	op := swapOp()
	tests := []struct {
		name   string
		source string
	}{
		{name: "runtime failure", source: "def compensate(op, result):\n    return 1 // 0\n"},
		{name: "non-dict result", source: "def compensate(op, result):\n    return [1]\n"},
		{name: "unknown type", source: "def compensate(op, result):\n    return {\"type\": \"bridge\", \"params\": {}}\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			script, err := NewScript(tt.name, tt.source, &recordingExecutor{})
			if err != nil {
				t.Fatalf("NewScript failed: %v", err)
			}
			if _, err := script.Plan(context.Background(), op, success(op, nil)); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestScript_Cancelled(t *testing.T) {
	source := "def compensate(op, result):\n    n = 0\n    for i in range(100000000):\n        n += i\n    return None\n"
	script, err := NewScript("spin.star", source, &recordingExecutor{})
	if err != nil {
		t.Fatalf("NewScript failed: %v", err)
	}
	script.maxSteps = 0

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	op := swapOp()
	_, err = script.Plan(ctx, op, success(op, nil))
	if err == nil || !strings.Contains(err.Error(), "cancelled") {
		t.Errorf("Expected cancellation error, got %v", err)
	}
}

func TestLoadScript(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reverse.star")
	if err := os.WriteFile(path, []byte(reverseSwapScript), 0o644); err != nil {
		t.Fatalf("Failed to write script: %v", err)
	}

	executor := &recordingExecutor{}
	script, err := LoadScript(path, executor)
	if err != nil {
		t.Fatalf("LoadScript failed: %v", err)
	}

	op := swapOp()
	if _, err := script.Compensate(context.Background(), op, success(op, map[string]interface{}{MetaAmountOut: 10})); err != nil {
		t.Fatalf("Compensate failed: %v", err)
	}
	if len(executor.executed()) != 1 {
		t.Error("Expected the scripted inverse to be executed")
	}

	if _, err := LoadScript(filepath.Join(t.TempDir(), "missing.star"), executor); err == nil {
		t.Error("Expected error for missing script")
	}
}

func TestRegistry(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)

	var calls []string
	named := func(name string) engine.Compensator {
		return engine.CompensatorFunc(func(_ context.Context, op engine.Operation, _ engine.OperationResult) (*engine.OperationOutcome, error) {
			calls = append(calls, name+":"+op.ID)
			return &engine.OperationOutcome{Success: true}, nil
		})
	}

	registry := NewRegistry(logger, nil)
	registry.Register(engine.OperationSwap, named("swap"))

	op := swapOp()
	if _, err := registry.Compensate(context.Background(), op, success(op, nil)); err != nil {
		t.Fatalf("Compensate failed: %v", err)
	}

	claim := engine.Operation{ID: "claim", Type: engine.OperationClaimFees}
	if _, err := registry.Compensate(context.Background(), claim, success(claim, nil)); !errors.Is(err, engine.ErrNotCompensable) {
		t.Errorf("Expected ErrNotCompensable without fallback, got %v", err)
	}

	withFallback := NewRegistry(logger, named("fallback"))
	withFallback.Register(engine.OperationSwap, named("swap"))
	if _, err := withFallback.Compensate(context.Background(), claim, success(claim, nil)); err != nil {
		t.Fatalf("Compensate failed: %v", err)
	}

	want := []string{"swap:hedge", "fallback:claim"}
	if len(calls) != len(want) || calls[0] != want[0] || calls[1] != want[1] {
		t.Errorf("Expected calls %v, got %v", want, calls)
	}
}

func TestRegistry_WithRollbackCoordinator(t *testing.T) {
	executor := &recordingExecutor{}
	registry := NewRegistry(zerolog.New(nil).Level(zerolog.Disabled), NewInverse(executor))

	swap := swapOp()
	claim := engine.Operation{ID: "claim", Type: engine.OperationClaimFees, Params: engine.ClaimFeesParams{
		Pool: "ETH-USDC", User: "0xalice", PositionID: "pos-7",
	}}

	completed := []engine.CompletedOperation{
		{Operation: swap, Result: success(swap, map[string]interface{}{MetaAmountOut: 5000.0}), Sequence: 1, PlanIndex: 0},
		{Operation: claim, Result: success(claim, nil), Sequence: 2, PlanIndex: 1},
	}

	coordinator := engine.NewRollbackCoordinator(registry, engine.RollbackPolicy{Order: engine.RollbackReverseCompletion})
	outcome := coordinator.Rollback(context.Background(), engine.TriggerOperationFailure, completed)

	if len(outcome.Steps) != 2 {
		t.Fatalf("Expected 2 steps, got %d", len(outcome.Steps))
	}
	if outcome.Steps[0].OperationID != "claim" || outcome.Steps[0].Status != engine.RollbackStepNotCompensable {
		t.Errorf("Expected claim to be not compensable, got %+v", outcome.Steps[0])
	}
	if outcome.Steps[1].OperationID != "hedge" || outcome.Steps[1].Status != engine.RollbackStepCompensated {
		t.Errorf("Expected hedge to be compensated, got %+v", outcome.Steps[1])
	}
	if !outcome.Succeeded {
		t.Error("Not compensable steps should not fail the rollback")
	}
}
