package compensate

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/openfroyo/liqbatch/pkg/engine"
)

// DefaultMaxSteps bounds the Starlark computation of one compensate call.
const DefaultMaxSteps = 1_000_000

// Script compensates operations with a Starlark function:
//
//	def compensate(op, result):
//	    if op["type"] == "swap":
//	        return {
//	            "type": "swap",
//	            "params": {
//	                "pool": op["params"]["pool"],
//	                "user": op["params"]["user"],
//	                "token_in": op["params"]["token_out"],
//	                "token_out": op["params"]["token_in"],
//	                "amount_in": result["metadata"]["amount_out"],
//	            },
//	        }
//	    return None
//
// op carries id, type, resource_key and params; result carries status, cost,
// attempts and metadata. Returning None marks the operation not compensable.
// The returned dict needs "type" and "params" and may set "id".
type Script struct {
	name     string
	fn       starlark.Callable
	executor engine.OperationExecutor
	maxSteps uint64
	mu       sync.Mutex
	log      []string
}

var _ engine.Compensator = (*Script)(nil)

// NewScript compiles source and looks up its compensate function.
func NewScript(name, source string, executor engine.OperationExecutor) (*Script, error) {
	thread := &starlark.Thread{Name: name}
	predeclared := starlark.StringDict{
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
	}

	globals, err := starlark.ExecFile(thread, name, source, predeclared)
	if err != nil {
		return nil, fmt.Errorf("failed to load compensation script %s: %w", name, err)
	}

	fn, ok := globals["compensate"].(starlark.Callable)
	if !ok {
		return nil, fmt.Errorf("compensation script %s does not define compensate(op, result)", name)
	}

	return &Script{
		name:     name,
		fn:       fn,
		executor: executor,
		maxSteps: DefaultMaxSteps,
	}, nil
}

// LoadScript reads and compiles a compensation script from disk.
func LoadScript(path string, executor engine.OperationExecutor) (*Script, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read compensation script: %w", err)
	}
	return NewScript(path, string(source), executor)
}

// Compensate runs the script and executes the operation it returns.
func (s *Script) Compensate(ctx context.Context, op engine.Operation, result engine.OperationResult) (*engine.OperationOutcome, error) {
	inverse, err := s.Plan(ctx, op, result)
	if err != nil {
		return nil, err
	}
	return s.executor.Execute(ctx, inverse)
}

// Plan runs the script and returns the compensating operation without executing it.
func (s *Script) Plan(ctx context.Context, op engine.Operation, result engine.OperationResult) (engine.Operation, error) {
	opValue, err := operationValue(op)
	if err != nil {
		return engine.Operation{}, err
	}
	resultValue, err := resultValue(result)
	if err != nil {
		return engine.Operation{}, err
	}

	thread := &starlark.Thread{
		Name: s.name,
		Print: func(_ *starlark.Thread, msg string) {
			s.mu.Lock()
			s.log = append(s.log, msg)
			s.mu.Unlock()
		},
	}
	thread.SetMaxExecutionSteps(s.maxSteps)

	stop := context.AfterFunc(ctx, func() { thread.Cancel("context cancelled") })
	defer stop()

	out, err := starlark.Call(thread, s.fn, starlark.Tuple{opValue, resultValue}, nil)
	if err != nil {
		return engine.Operation{}, engine.NewPermanentError(
			fmt.Sprintf("compensation script failed for %s", op.ID), err,
		).WithCode(engine.ErrCodeRollbackFailed).WithOperation(op.ID)
	}

	if out == starlark.None {
		return engine.Operation{}, notCompensable(op, "script returned None")
	}

	goValue, err := fromStarlarkValue(out)
	if err != nil {
		return engine.Operation{}, fmt.Errorf("failed to convert script result: %w", err)
	}
	spec, ok := goValue.(map[string]interface{})
	if !ok {
		return engine.Operation{}, fmt.Errorf("compensation script must return a dict or None, got %s", out.Type())
	}

	return buildOperation(op, spec)
}

// Output returns what the script printed, in order.
func (s *Script) Output() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.log...)
}

// buildOperation turns the script's dict into a typed operation.
func buildOperation(op engine.Operation, spec map[string]interface{}) (engine.Operation, error) {
	typeName, _ := spec["type"].(string)
	opType := engine.OperationType(typeName)
	if err := opType.Validate(); err != nil {
		return engine.Operation{}, fmt.Errorf("compensation script returned %w", err)
	}

	raw, err := json.Marshal(spec["params"])
	if err != nil {
		return engine.Operation{}, fmt.Errorf("failed to encode script params: %w", err)
	}
	params, err := engine.DecodeParams(opType, raw)
	if err != nil {
		return engine.Operation{}, fmt.Errorf("compensation script returned invalid params: %w", err)
	}

	id, _ := spec["id"].(string)
	if id == "" {
		id = compensationID(op.ID)
	}

	return engine.Operation{
		ID:       id,
		Type:     opType,
		Priority: op.Priority,
		Timeout:  op.Timeout,
		Params:   params,
		Metadata: map[string]string{"compensates": op.ID},
	}, nil
}

func operationValue(op engine.Operation) (starlark.Value, error) {
	params, err := toGeneric(op.Params)
	if err != nil {
		return nil, fmt.Errorf("failed to convert params: %w", err)
	}
	return toStarlarkValue(map[string]interface{}{
		"id":           op.ID,
		"type":         string(op.Type),
		"resource_key": op.Target(),
		"params":       params,
	})
}

func resultValue(result engine.OperationResult) (starlark.Value, error) {
	metadata, err := toGeneric(result.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to convert metadata: %w", err)
	}
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	return toStarlarkValue(map[string]interface{}{
		"status":   string(result.Status),
		"cost":     result.Cost,
		"attempts": result.Attempts,
		"metadata": metadata,
	})
}

// toGeneric round-trips v through JSON so it only holds maps, slices and scalars.
func toGeneric(v interface{}) (interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
