package engine

import (
	"context"
	"sync"
	"testing"
	"time"
)

const testUser = "0xalice"

func createOp(id, pool string, deps ...string) Operation {
	return Operation{
		ID:        id,
		Type:      OperationCreatePosition,
		Params:    CreatePositionParams{Pool: pool, User: testUser, LowerTick: -100, UpperTick: 100, Amount0: 1, Amount1: 1},
		DependsOn: deps,
	}
}

func addOp(id, pool string, deps ...string) Operation {
	return Operation{
		ID:        id,
		Type:      OperationAddLiquidity,
		Params:    AddLiquidityParams{Pool: pool, User: testUser, AmountA: 10, AmountB: 10},
		DependsOn: deps,
	}
}

func removeOp(id, pool string, deps ...string) Operation {
	return Operation{
		ID:        id,
		Type:      OperationRemoveLiquidity,
		Params:    RemoveLiquidityParams{Pool: pool, User: testUser, Percent: 50},
		DependsOn: deps,
	}
}

func swapOp(id, pool string, deps ...string) Operation {
	return Operation{
		ID:        id,
		Type:      OperationSwap,
		Params:    SwapParams{Pool: pool, User: testUser, TokenIn: "USDC", TokenOut: "WETH", AmountIn: 100},
		DependsOn: deps,
	}
}

func rebalanceOp(id, pool string, deps ...string) Operation {
	return Operation{
		ID:        id,
		Type:      OperationRebalance,
		Params:    RebalanceParams{Pool: pool, User: testUser, PositionID: "pos-1", NewLowerTick: -50, NewUpperTick: 50, TargetRatio: 0.5},
		DependsOn: deps,
	}
}

func claimOp(id, pool string, deps ...string) Operation {
	return Operation{
		ID:        id,
		Type:      OperationClaimFees,
		Params:    ClaimFeesParams{Pool: pool, User: testUser, PositionID: "pos-1"},
		DependsOn: deps,
	}
}

func closeOp(id, pool string, deps ...string) Operation {
	return Operation{
		ID:        id,
		Type:      OperationClosePosition,
		Params:    ClosePositionParams{Pool: pool, User: testUser, PositionID: "pos-1"},
		DependsOn: deps,
	}
}

// Mock executor for testing
type mockExecutor struct {
	mu          sync.Mutex
	delay       time.Duration
	cost        float64
	failures    map[string][]error
	panics      map[string]bool
	calls       []string
	attempts    map[string]int
	started     map[string]time.Time
	finished    map[string]time.Time
	active      int
	maxActive   int
	activeByKey map[string]int
	maxByKey    int
}

func newMockExecutor() *mockExecutor {
	return &mockExecutor{
		delay:       5 * time.Millisecond,
		failures:    make(map[string][]error),
		panics:      make(map[string]bool),
		calls:       make([]string, 0),
		attempts:    make(map[string]int),
		started:     make(map[string]time.Time),
		finished:    make(map[string]time.Time),
		activeByKey: make(map[string]int),
	}
}

// failWith makes the operation's successive attempts return errs; attempts
// beyond len(errs) succeed.
func (m *mockExecutor) failWith(id string, errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[id] = errs
}

func (m *mockExecutor) Execute(ctx context.Context, op Operation) (*OperationOutcome, error) {
	m.mu.Lock()
	m.calls = append(m.calls, op.ID)
	m.attempts[op.ID]++
	attempt := m.attempts[op.ID]
	if _, ok := m.started[op.ID]; !ok {
		m.started[op.ID] = time.Now()
	}
	m.active++
	if m.active > m.maxActive {
		m.maxActive = m.active
	}
	key := op.Target()
	m.activeByKey[key]++
	if m.activeByKey[key] > m.maxByKey {
		m.maxByKey = m.activeByKey[key]
	}
	var err error
	if errs := m.failures[op.ID]; attempt <= len(errs) {
		err = errs[attempt-1]
	}
	shouldPanic := m.panics[op.ID]
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.active--
		m.activeByKey[key]--
		m.finished[op.ID] = time.Now()
		m.mu.Unlock()
	}()

	if shouldPanic {
		panic("venue client crashed")
	}

	select {
	case <-time.After(m.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if err != nil {
		return &OperationOutcome{Cost: m.cost}, err
	}
	return &OperationOutcome{
		Success:  true,
		Cost:     m.cost,
		Metadata: map[string]interface{}{"tx_hash": "0x" + op.ID},
	}, nil
}

func (m *mockExecutor) getCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string{}, m.calls...)
}

func (m *mockExecutor) attemptsFor(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts[id]
}

// Mock cache for testing
type mockCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	ttls    map[string]time.Duration
	getErr  error
}

func newMockCache() *mockCache {
	return &mockCache{
		entries: make(map[string][]byte),
		ttls:    make(map[string]time.Duration),
	}
}

func (m *mockCache) Get(ctx context.Context, namespace, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, false, m.getErr
	}
	v, ok := m.entries[namespace+"/"+key]
	return v, ok, nil
}

func (m *mockCache) Set(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[namespace+"/"+key] = value
	m.ttls[namespace+"/"+key] = ttl
	return nil
}

func (m *mockCache) Invalidate(ctx context.Context, namespace, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, namespace+"/"+key)
	return nil
}

func (m *mockCache) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Mock compensator for testing
type mockCompensator struct {
	mu       sync.Mutex
	order    []string
	failures map[string]error
	cost     float64
}

func newMockCompensator() *mockCompensator {
	return &mockCompensator{
		order:    make([]string, 0),
		failures: make(map[string]error),
	}
}

func (m *mockCompensator) Compensate(ctx context.Context, op Operation, result OperationResult) (*OperationOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.order = append(m.order, op.ID)
	if err := m.failures[op.ID]; err != nil {
		return nil, err
	}
	return &OperationOutcome{Success: true, Cost: m.cost}, nil
}

func (m *mockCompensator) getOrder() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string{}, m.order...)
}

// mustPlan plans ops and fails the test on error.
func mustPlan(t *testing.T, ops []Operation, opts PlanOptions) *ExecutionPlan {
	t.Helper()
	plan, err := NewPlanner().Plan(context.Background(), ops, opts)
	if err != nil {
		t.Fatalf("Failed to plan: %v", err)
	}
	return plan
}

// mustExecute executes plan and fails the test on error.
func mustExecute(t *testing.T, e *Engine, plan *ExecutionPlan, opts ...ExecuteOption) *ExecutionResult {
	t.Helper()
	result, err := e.Execute(context.Background(), plan, opts...)
	if err != nil {
		t.Fatalf("Failed to execute: %v", err)
	}
	return result
}

// assertOneResultEach checks that every plan operation has exactly one result.
func assertOneResultEach(t *testing.T, plan *ExecutionPlan, result *ExecutionResult) {
	t.Helper()
	if len(result.Results) != len(plan.Operations) {
		t.Fatalf("Expected %d results, got %d", len(plan.Operations), len(result.Results))
	}
	seen := make(map[string]int)
	for _, r := range result.Results {
		seen[r.OperationID]++
	}
	for _, op := range plan.Operations {
		if seen[op.ID] != 1 {
			t.Errorf("Expected exactly one result for %s, got %d", op.ID, seen[op.ID])
		}
	}
}

func ids(ops []Operation) []string {
	out := make([]string, len(ops))
	for i, op := range ops {
		out[i] = op.ID
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
