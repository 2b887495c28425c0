package engine

import (
	"encoding/json"
	"fmt"
)

// Params is the type-specific payload of an operation. Each operation type
// has exactly one implementation, and each implementation carries only the
// fields that type needs. Implementations are plain value types so that a
// copy taken at plan time cannot be changed by the caller afterwards.
type Params interface {
	// OperationType returns the operation type this payload belongs to.
	OperationType() OperationType

	// ResourceKey returns the shared target touched by the operation.
	ResourceKey() string
}

// CreatePositionParams opens a position over a tick range.
type CreatePositionParams struct {
	Pool      string  `json:"pool" validate:"required"`
	User      string  `json:"user" validate:"required"`
	LowerTick int     `json:"lower_tick" validate:"ltfield=UpperTick"`
	UpperTick int     `json:"upper_tick"`
	Amount0   float64 `json:"amount0" validate:"gte=0"`
	Amount1   float64 `json:"amount1" validate:"gte=0"`
}

func (CreatePositionParams) OperationType() OperationType { return OperationCreatePosition }
func (p CreatePositionParams) ResourceKey() string        { return resourceKey(p.Pool, p.User) }

// AddLiquidityParams deposits token amounts into a pool.
type AddLiquidityParams struct {
	Pool        string  `json:"pool" validate:"required"`
	User        string  `json:"user" validate:"required"`
	PositionID  string  `json:"position_id,omitempty"`
	AmountA     float64 `json:"amount_a" validate:"required_without=AmountB,gte=0"`
	AmountB     float64 `json:"amount_b" validate:"gte=0"`
	SlippageBps int     `json:"slippage_bps" validate:"gte=0,lte=10000"`
}

func (AddLiquidityParams) OperationType() OperationType { return OperationAddLiquidity }
func (p AddLiquidityParams) ResourceKey() string        { return resourceKey(p.Pool, p.User) }

// RemoveLiquidityParams withdraws either an absolute liquidity amount or a
// percentage of the position.
type RemoveLiquidityParams struct {
	Pool        string  `json:"pool" validate:"required"`
	User        string  `json:"user" validate:"required"`
	PositionID  string  `json:"position_id,omitempty"`
	Liquidity   float64 `json:"liquidity" validate:"required_without=Percent,gte=0"`
	Percent     float64 `json:"percent" validate:"omitempty,gt=0,lte=100"`
	SlippageBps int     `json:"slippage_bps" validate:"gte=0,lte=10000"`
}

func (RemoveLiquidityParams) OperationType() OperationType { return OperationRemoveLiquidity }
func (p RemoveLiquidityParams) ResourceKey() string        { return resourceKey(p.Pool, p.User) }

// SwapParams exchanges AmountIn of TokenIn for at least MinAmountOut of TokenOut.
type SwapParams struct {
	Pool         string  `json:"pool" validate:"required"`
	User         string  `json:"user" validate:"required"`
	TokenIn      string  `json:"token_in" validate:"required"`
	TokenOut     string  `json:"token_out" validate:"required,nefield=TokenIn"`
	AmountIn     float64 `json:"amount_in" validate:"gt=0"`
	MinAmountOut float64 `json:"min_amount_out" validate:"gte=0"`
	SlippageBps  int     `json:"slippage_bps" validate:"gte=0,lte=10000"`
}

func (SwapParams) OperationType() OperationType { return OperationSwap }
func (p SwapParams) ResourceKey() string        { return resourceKey(p.Pool, p.User) }

// RebalanceParams moves a position to a new range and token ratio.
type RebalanceParams struct {
	Pool         string  `json:"pool" validate:"required"`
	User         string  `json:"user" validate:"required"`
	PositionID   string  `json:"position_id" validate:"required"`
	NewLowerTick int     `json:"new_lower_tick" validate:"ltfield=NewUpperTick"`
	NewUpperTick int     `json:"new_upper_tick"`
	TargetRatio  float64 `json:"target_ratio" validate:"gte=0,lte=1"`
}

func (RebalanceParams) OperationType() OperationType { return OperationRebalance }
func (p RebalanceParams) ResourceKey() string        { return resourceKey(p.Pool, p.User) }

// ClaimFeesParams collects accrued fees from a position.
type ClaimFeesParams struct {
	Pool       string `json:"pool" validate:"required"`
	User       string `json:"user" validate:"required"`
	PositionID string `json:"position_id" validate:"required"`
}

func (ClaimFeesParams) OperationType() OperationType { return OperationClaimFees }
func (p ClaimFeesParams) ResourceKey() string        { return resourceKey(p.Pool, p.User) }

// ClosePositionParams closes a position, optionally collecting fees first.
type ClosePositionParams struct {
	Pool        string `json:"pool" validate:"required"`
	User        string `json:"user" validate:"required"`
	PositionID  string `json:"position_id" validate:"required"`
	CollectFees bool   `json:"collect_fees"`
}

func (ClosePositionParams) OperationType() OperationType { return OperationClosePosition }
func (p ClosePositionParams) ResourceKey() string        { return resourceKey(p.Pool, p.User) }

func resourceKey(pool, user string) string {
	return pool + "/" + user
}

// NewParams returns an empty payload for the given operation type.
func NewParams(t OperationType) (Params, error) {
	switch t {
	case OperationCreatePosition:
		return CreatePositionParams{}, nil
	case OperationAddLiquidity:
		return AddLiquidityParams{}, nil
	case OperationRemoveLiquidity:
		return RemoveLiquidityParams{}, nil
	case OperationSwap:
		return SwapParams{}, nil
	case OperationRebalance:
		return RebalanceParams{}, nil
	case OperationClaimFees:
		return ClaimFeesParams{}, nil
	case OperationClosePosition:
		return ClosePositionParams{}, nil
	default:
		return nil, fmt.Errorf("invalid operation type: %s", t)
	}
}

// DecodeParams decodes a JSON payload into the variant for the given type.
func DecodeParams(t OperationType, raw json.RawMessage) (Params, error) {
	var (
		params Params
		err    error
	)

	switch t {
	case OperationCreatePosition:
		var p CreatePositionParams
		err = decodeInto(raw, &p)
		params = p
	case OperationAddLiquidity:
		var p AddLiquidityParams
		err = decodeInto(raw, &p)
		params = p
	case OperationRemoveLiquidity:
		var p RemoveLiquidityParams
		err = decodeInto(raw, &p)
		params = p
	case OperationSwap:
		var p SwapParams
		err = decodeInto(raw, &p)
		params = p
	case OperationRebalance:
		var p RebalanceParams
		err = decodeInto(raw, &p)
		params = p
	case OperationClaimFees:
		var p ClaimFeesParams
		err = decodeInto(raw, &p)
		params = p
	case OperationClosePosition:
		var p ClosePositionParams
		err = decodeInto(raw, &p)
		params = p
	default:
		return nil, fmt.Errorf("invalid operation type: %s", t)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to decode %s params: %w", t, err)
	}
	return params, nil
}

func decodeInto(raw json.RawMessage, dst interface{}) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, dst)
}
