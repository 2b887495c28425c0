package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/openfroyo/liqbatch/pkg/telemetry"
)

// Engine runs execution plans against an OperationExecutor.
// One Engine may run many plans concurrently; each run owns its own
// ExecutionContext.
type Engine struct {
	// executor performs individual operations
	executor OperationExecutor

	// cache short-circuits parameter-identical operations, may be nil
	cache Cache

	// compensator undoes completed operations during rollback, may be nil
	compensator Compensator

	// history persists finished executions, may be nil
	history HistoryRecorder

	// mu protects active and consumed
	mu sync.Mutex

	// active maps execution IDs to running executions
	active map[string]*ExecutionContext

	// consumed records plan IDs that have already been executed
	consumed map[string]bool
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithCache enables idempotent replay through the given cache.
func WithCache(cache Cache) EngineOption {
	return func(e *Engine) { e.cache = cache }
}

// WithCompensator sets the compensator used during rollback.
func WithCompensator(compensator Compensator) EngineOption {
	return func(e *Engine) { e.compensator = compensator }
}

// WithHistory persists every finished execution.
func WithHistory(history HistoryRecorder) EngineOption {
	return func(e *Engine) { e.history = history }
}

// NewEngine creates a new engine.
func NewEngine(executor OperationExecutor, opts ...EngineOption) *Engine {
	e := &Engine{
		executor: executor,
		active:   make(map[string]*ExecutionContext),
		consumed: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExecutionContext is the mutable run-time companion of a plan. Progress
// counters are only written by the run's control goroutine; the cancel flag
// may be set from anywhere.
type ExecutionContext struct {
	// ID identifies the run.
	ID string

	// Plan is the plan being run.
	Plan *ExecutionPlan

	// StartedAt is when the run entered Running.
	StartedAt time.Time

	total      int
	completed  atomic.Int64
	state      atomic.Value
	cancelled  atomic.Bool
	cancelOnce sync.Once
	done       chan struct{}
	progress   ProgressFunc
}

// Cancel requests cooperative cancellation.
func (c *ExecutionContext) Cancel() {
	c.cancelled.Store(true)
	c.cancelOnce.Do(func() { close(c.done) })
}

// Done is closed once cancellation is requested.
func (c *ExecutionContext) Done() <-chan struct{} {
	return c.done
}

// Cancelled reports whether cancellation was requested.
func (c *ExecutionContext) Cancelled() bool {
	return c.cancelled.Load()
}

// Progress returns the completed and total operation counts.
func (c *ExecutionContext) Progress() (completed, total int) {
	return int(c.completed.Load()), c.total
}

// State returns the current engine state of the run.
func (c *ExecutionContext) State() EngineState {
	if s, ok := c.state.Load().(EngineState); ok {
		return s
	}
	return StateQueued
}

func (c *ExecutionContext) setState(s EngineState) {
	c.state.Store(s)
}

// ExecuteOption configures a single Execute call.
type ExecuteOption func(*executeConfig)

type executeConfig struct {
	executionID string
	progress    ProgressFunc
}

// WithExecutionID sets the execution ID, so callers can Cancel before Execute returns.
func WithExecutionID(id string) ExecuteOption {
	return func(c *executeConfig) { c.executionID = id }
}

// WithProgress registers a progress callback. It is called on the engine's
// control goroutine after every operation result.
func WithProgress(fn ProgressFunc) ExecuteOption {
	return func(c *executeConfig) { c.progress = fn }
}

// Execute runs the plan and returns its result. An error is returned only
// when the run cannot start: a nil or malformed plan, a plan that was already
// executed, or a duplicate execution ID. Once running, failures are reported
// in the returned ExecutionResult.
func (e *Engine) Execute(ctx context.Context, plan *ExecutionPlan, opts ...ExecuteOption) (*ExecutionResult, error) {
	if e.executor == nil {
		return nil, NewPermanentError("engine has no operation executor", nil).WithCode(ErrCodeInternal)
	}
	if err := checkPlan(plan); err != nil {
		return nil, err
	}

	cfg := executeConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.executionID == "" {
		cfg.executionID = uuid.New().String()
	}

	ec := &ExecutionContext{
		ID:       cfg.executionID,
		Plan:     plan,
		total:    len(plan.Operations),
		done:     make(chan struct{}),
		progress: cfg.progress,
	}
	ec.setState(StateQueued)

	if err := e.register(ec); err != nil {
		return nil, err
	}
	defer e.unregister(ec.ID)

	// caller cancellation becomes a cooperative cancel; dispatched operations
	// keep running on a detached context
	if ctx.Err() != nil {
		ec.Cancel()
	}
	finished := make(chan struct{})
	defer close(finished)
	go func() {
		select {
		case <-ctx.Done():
			ec.Cancel()
		case <-finished:
		}
	}()

	ec.StartedAt = time.Now()
	ec.setState(StateRunning)

	runCtx := telemetry.WithExecutionContext(context.WithoutCancel(ctx), ec.ID, plan.ID, string(plan.Strategy), ec.total)
	runCtx = WithCostSettings(runCtx, plan.CostOptimization)

	run := newExecutionRun(e, runCtx, ec)
	result := run.execute()

	ec.setState(result.State)

	if e.history != nil {
		if err := e.history.RecordExecution(runCtx, result); err != nil {
			telemetry.FromContext(runCtx).WithError(err).Warn("Failed to record execution")
		}
	}

	telemetry.EndExecutionContext(runCtx, ec.ID, string(result.Status), result.TotalCost, result.Duration, haltError(result))

	return result, nil
}

// Cancel requests cooperative cancellation of a running execution. It
// returns false when no execution with that ID is running.
func (e *Engine) Cancel(executionID string) bool {
	e.mu.Lock()
	ec, ok := e.active[executionID]
	e.mu.Unlock()

	if !ok {
		return false
	}
	ec.Cancel()
	return true
}

// Active returns the IDs of running executions.
func (e *Engine) Active() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := make([]string, 0, len(e.active))
	for id := range e.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Status returns the progress and state of a running execution.
func (e *Engine) Status(executionID string) (completed, total int, state EngineState, ok bool) {
	e.mu.Lock()
	ec, found := e.active[executionID]
	e.mu.Unlock()

	if !found {
		return 0, 0, "", false
	}
	completed, total = ec.Progress()
	return completed, total, ec.State(), true
}

// register marks the plan consumed and records the run as active.
func (e *Engine) register(ec *ExecutionContext) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.consumed[ec.Plan.ID] {
		return NewPermanentError(fmt.Sprintf("plan %s has already been executed", ec.Plan.ID), nil).
			WithCode(ErrCodePlanConsumed)
	}
	if _, exists := e.active[ec.ID]; exists {
		return NewPermanentError(fmt.Sprintf("execution %s is already running", ec.ID), nil).
			WithCode(ErrCodeValidation)
	}

	e.consumed[ec.Plan.ID] = true
	e.active[ec.ID] = ec
	return nil
}

func (e *Engine) unregister(executionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.active, executionID)
}

// checkPlan rejects plans the engine cannot run.
func checkPlan(plan *ExecutionPlan) error {
	if plan == nil {
		return NewPermanentError("plan is nil", nil).WithCode(ErrCodeValidation)
	}
	if plan.ID == "" {
		return NewPermanentError("plan has empty ID", nil).WithCode(ErrCodeValidation)
	}
	if len(plan.Operations) == 0 {
		return NewPermanentError("plan has no operations", nil).WithCode(ErrCodeNoOperations)
	}
	if err := plan.Strategy.Validate(); err != nil {
		return NewPermanentError("plan has invalid strategy", err).WithCode(ErrCodeValidation)
	}

	seen := make(map[string]bool, len(plan.Operations))
	for _, op := range plan.Operations {
		if op.ID == "" {
			return NewPermanentError("plan contains an operation with empty ID", nil).WithCode(ErrCodeValidation)
		}
		if seen[op.ID] {
			return NewPermanentError(fmt.Sprintf("duplicate operation ID: %s", op.ID), nil).
				WithCode(ErrCodeDuplicateOperation).WithOperation(op.ID)
		}
		seen[op.ID] = true
	}
	return nil
}

// haltError summarises why a run did not complete, for telemetry.
func haltError(result *ExecutionResult) error {
	if result.Status == ExecutionStatusCompleted {
		return nil
	}
	if result.HaltReason != "" {
		return fmt.Errorf("execution %s: %s", result.Status, result.HaltReason)
	}
	return fmt.Errorf("execution %s", result.Status)
}
