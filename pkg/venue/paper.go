package venue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openfroyo/liqbatch/pkg/engine"
)

// PaperName is the venue label used in metrics and traces.
const PaperName = "paper"

// swapFeeRate is the pool fee taken from every simulated swap.
const swapFeeRate = 0.003

// paperCosts are the simulated fee costs per operation type.
var paperCosts = map[engine.OperationType]float64{
	engine.OperationCreatePosition:  0.012,
	engine.OperationAddLiquidity:    0.008,
	engine.OperationRemoveLiquidity: 0.008,
	engine.OperationSwap:            0.004,
	engine.OperationRebalance:       0.020,
	engine.OperationClaimFees:       0.003,
	engine.OperationClosePosition:   0.010,
}

// Failure describes an injected failure for one operation id.
type Failure struct {
	// Message is the failure message. The engine classifies it like any
	// venue error unless Transient is set.
	Message string

	// Transient makes the failure retryable.
	Transient bool

	// Times is how many calls fail before the operation succeeds.
	// Zero fails every call.
	Times int
}

// PaperOption configures a Paper venue.
type PaperOption func(*Paper)

// WithLatency sets the simulated latency of every call.
func WithLatency(d time.Duration) PaperOption {
	return func(p *Paper) {
		p.latency = d
	}
}

// WithPrice sets the price of a "BASE-QUOTE" pool in quote units per base unit.
func WithPrice(pool string, price float64) PaperOption {
	return func(p *Paper) {
		p.prices[pool] = price
	}
}

// WithFailure injects a failure for an operation id.
func WithFailure(operationID string, f Failure) PaperOption {
	return func(p *Paper) {
		p.failures[operationID] = f
	}
}

// Paper is an in-memory venue that never touches a real exchange.
type Paper struct {
	latency  time.Duration
	prices   map[string]float64
	failures map[string]Failure

	mu        sync.Mutex
	calls     map[string]int
	positions map[string]string
}

var _ engine.OperationExecutor = (*Paper)(nil)

// NewPaper creates a paper venue.
func NewPaper(opts ...PaperOption) *Paper {
	p := &Paper{
		prices:    make(map[string]float64),
		failures:  make(map[string]Failure),
		calls:     make(map[string]int),
		positions: make(map[string]string),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Execute simulates the operation.
func (p *Paper) Execute(ctx context.Context, op engine.Operation) (*engine.OperationOutcome, error) {
	var outcome *engine.OperationOutcome
	err := recordCall(ctx, PaperName, op, func(ctx context.Context) error {
		var err error
		outcome, err = p.execute(ctx, op)
		return err
	})
	return outcome, err
}

func (p *Paper) execute(ctx context.Context, op engine.Operation) (*engine.OperationOutcome, error) {
	started := time.Now()

	if p.latency > 0 {
		timer := time.NewTimer(p.latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	p.mu.Lock()
	p.calls[op.ID]++
	call := p.calls[op.ID]
	p.mu.Unlock()

	cost := paperCosts[op.Type]
	if settings, ok := engine.CostSettingsFromContext(ctx); ok && settings.Enabled && settings.FeeMultiplier > 0 {
		cost *= settings.FeeMultiplier
	}

	if f, ok := p.failures[op.ID]; ok && (f.Times == 0 || call <= f.Times) {
		message := f.Message
		if message == "" {
			message = "simulated venue failure"
		}
		if f.Transient {
			return nil, engine.NewTransientError(message, nil).WithOperation(op.ID)
		}
		return &engine.OperationOutcome{
			Success:  false,
			Cost:     cost,
			Duration: time.Since(started),
			Error:    message,
		}, nil
	}

	metadata, err := p.fill(op)
	if err != nil {
		return nil, err
	}
	metadata["tx_id"] = uuid.New().String()

	return &engine.OperationOutcome{
		Success:  true,
		Cost:     cost,
		Duration: time.Since(started),
		Metadata: metadata,
	}, nil
}

// fill computes the simulated venue result for op.
func (p *Paper) fill(op engine.Operation) (map[string]interface{}, error) {
	metadata := make(map[string]interface{})

	switch params := op.Params.(type) {
	case engine.CreatePositionParams:
		positionID := "pos-" + uuid.New().String()[:8]
		p.mu.Lock()
		p.positions[params.ResourceKey()] = positionID
		p.mu.Unlock()
		metadata["position_id"] = positionID
		metadata["liquidity"] = params.Amount0 + params.Amount1*p.inversePrice(params.Pool)

	case engine.AddLiquidityParams:
		metadata["position_id"] = p.position(params.ResourceKey(), params.PositionID)
		metadata["liquidity"] = params.AmountA + params.AmountB*p.inversePrice(params.Pool)

	case engine.RemoveLiquidityParams:
		metadata["position_id"] = p.position(params.ResourceKey(), params.PositionID)
		share := params.Liquidity
		if share == 0 {
			share = params.Percent
		}
		metadata["amount_a"] = share / 2
		metadata["amount_b"] = share / 2 * p.price(params.Pool)

	case engine.SwapParams:
		out := p.quote(params) * (1 - swapFeeRate)
		if params.MinAmountOut > 0 && out < params.MinAmountOut {
			return nil, engine.NewPermanentError(
				fmt.Sprintf("execution reverted: output %.6f below minimum %.6f", out, params.MinAmountOut), nil,
			).WithCode(engine.ErrCodeExecutionFailed).WithOperation(op.ID)
		}
		metadata["amount_out"] = out

	case engine.RebalanceParams:
		metadata["position_id"] = params.PositionID

	case engine.ClaimFeesParams:
		metadata["position_id"] = params.PositionID

	case engine.ClosePositionParams:
		metadata["position_id"] = params.PositionID
		p.mu.Lock()
		if p.positions[params.ResourceKey()] == params.PositionID {
			delete(p.positions, params.ResourceKey())
		}
		p.mu.Unlock()

	default:
		return nil, engine.NewPermanentError(fmt.Sprintf("paper venue cannot execute %s", op.Type), nil).
			WithCode(engine.ErrCodeValidation).WithOperation(op.ID)
	}

	return metadata, nil
}

// quote converts a swap input into the other token at the pool price.
func (p *Paper) quote(params engine.SwapParams) float64 {
	base, _ := parsePool(params.Pool)
	if strings.EqualFold(params.TokenIn, base) {
		return params.AmountIn * p.price(params.Pool)
	}
	return params.AmountIn * p.inversePrice(params.Pool)
}

func (p *Paper) price(pool string) float64 {
	if price, ok := p.prices[pool]; ok && price > 0 {
		return price
	}
	return 1
}

func (p *Paper) inversePrice(pool string) float64 {
	return 1 / p.price(pool)
}

// position returns the requested position id, or the last one opened on key.
func (p *Paper) position(key, requested string) string {
	if requested != "" {
		return requested
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.positions[key]
}

// Calls returns how many times an operation id reached the venue.
func (p *Paper) Calls(operationID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[operationID]
}

// parsePool splits a pool like "ETH-USDC" into ("ETH", "USDC").
func parsePool(pool string) (base string, quote string) {
	parts := strings.Split(strings.TrimSpace(pool), "-")
	if len(parts) >= 2 {
		return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	}
	return "", ""
}
