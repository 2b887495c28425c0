package compensate

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/openfroyo/liqbatch/pkg/engine"
)

// Metadata keys venues report and Inverse reads.
const (
	MetaPositionID = "position_id"
	MetaLiquidity  = "liquidity"
	MetaAmountOut  = "amount_out"
	MetaAmountA    = "amount_a"
	MetaAmountB    = "amount_b"
)

// Inverse compensates an operation by executing its built-in inverse.
type Inverse struct {
	executor engine.OperationExecutor
}

var _ engine.Compensator = (*Inverse)(nil)

// NewInverse creates a compensator that submits inverses to executor.
func NewInverse(executor engine.OperationExecutor) *Inverse {
	return &Inverse{executor: executor}
}

// Compensate executes the inverse of op.
func (c *Inverse) Compensate(ctx context.Context, op engine.Operation, result engine.OperationResult) (*engine.OperationOutcome, error) {
	inverse, err := InverseOf(op, result)
	if err != nil {
		return nil, err
	}
	return c.executor.Execute(ctx, inverse)
}

// InverseOf builds the operation that undoes op, using the venue metadata on
// its result. It fails with an error matching engine.ErrNotCompensable when
// no inverse exists or the metadata it needs is missing.
func InverseOf(op engine.Operation, result engine.OperationResult) (engine.Operation, error) {
	inverse := engine.Operation{
		ID:       compensationID(op.ID),
		Priority: op.Priority,
		Timeout:  op.Timeout,
		Metadata: map[string]string{"compensates": op.ID},
	}

	switch p := op.Params.(type) {
	case engine.CreatePositionParams:
		positionID := metaString(result.Metadata, MetaPositionID)
		if positionID == "" {
			return engine.Operation{}, notCompensable(op, "venue did not report a position id")
		}
		inverse.Type = engine.OperationClosePosition
		inverse.Params = engine.ClosePositionParams{
			Pool: p.Pool, User: p.User, PositionID: positionID, CollectFees: true,
		}

	case engine.AddLiquidityParams:
		liquidity, ok := metaFloat(result.Metadata, MetaLiquidity)
		if !ok || liquidity <= 0 {
			return engine.Operation{}, notCompensable(op, "venue did not report minted liquidity")
		}
		inverse.Type = engine.OperationRemoveLiquidity
		inverse.Params = engine.RemoveLiquidityParams{
			Pool: p.Pool, User: p.User, PositionID: p.PositionID, Liquidity: liquidity, SlippageBps: p.SlippageBps,
		}

	case engine.RemoveLiquidityParams:
		amountA, _ := metaFloat(result.Metadata, MetaAmountA)
		amountB, _ := metaFloat(result.Metadata, MetaAmountB)
		if amountA <= 0 && amountB <= 0 {
			return engine.Operation{}, notCompensable(op, "venue did not report withdrawn amounts")
		}
		inverse.Type = engine.OperationAddLiquidity
		inverse.Params = engine.AddLiquidityParams{
			Pool: p.Pool, User: p.User, PositionID: p.PositionID, AmountA: amountA, AmountB: amountB, SlippageBps: p.SlippageBps,
		}

	case engine.SwapParams:
		amountOut, ok := metaFloat(result.Metadata, MetaAmountOut)
		if !ok || amountOut <= 0 {
			return engine.Operation{}, notCompensable(op, "venue did not report the swap output")
		}
		inverse.Type = engine.OperationSwap
		inverse.Params = engine.SwapParams{
			Pool: p.Pool, User: p.User, TokenIn: p.TokenOut, TokenOut: p.TokenIn, AmountIn: amountOut, SlippageBps: p.SlippageBps,
		}

	default:
		return engine.Operation{}, notCompensable(op, fmt.Sprintf("%s has no inverse", op.Type))
	}

	return inverse, nil
}

func compensationID(id string) string {
	return id + "-compensate"
}

func notCompensable(op engine.Operation, reason string) error {
	return engine.NewPermanentError(
		fmt.Sprintf("operation %s is not compensable: %s", op.ID, reason), nil,
	).WithCode(engine.ErrNotCompensable.Code).WithOperation(op.ID)
}

func metaString(meta map[string]interface{}, key string) string {
	switch v := meta[key].(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return ""
	}
}

// metaFloat reads a numeric metadata value. Values replayed from cache
// arrive as float64 or json.Number, venue values may be any numeric kind.
func metaFloat(meta map[string]interface{}, key string) (float64, bool) {
	switch v := meta[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
