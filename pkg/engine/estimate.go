package engine

import (
	"fmt"
	"math"
	"time"
)

// typeProfile holds the default estimates for one operation type.
type typeProfile struct {
	cost        float64
	duration    time.Duration
	failureRate float64
}

// defaultProfiles are used when the caller gives no estimate.
var defaultProfiles = map[OperationType]typeProfile{
	OperationCreatePosition:  {cost: 0.012, duration: 15 * time.Second, failureRate: 0.03},
	OperationAddLiquidity:    {cost: 0.008, duration: 12 * time.Second, failureRate: 0.02},
	OperationRemoveLiquidity: {cost: 0.008, duration: 12 * time.Second, failureRate: 0.02},
	OperationSwap:            {cost: 0.004, duration: 8 * time.Second, failureRate: 0.04},
	OperationRebalance:       {cost: 0.020, duration: 30 * time.Second, failureRate: 0.06},
	OperationClaimFees:       {cost: 0.003, duration: 6 * time.Second, failureRate: 0.01},
	OperationClosePosition:   {cost: 0.010, duration: 15 * time.Second, failureRate: 0.02},
}

// fillEstimates sets missing cost and duration estimates from the type defaults.
func fillEstimates(op *Operation) {
	profile := defaultProfiles[op.Type]
	if op.EstimatedCost == 0 {
		op.EstimatedCost = profile.cost
	}
	if op.EstimatedDuration == 0 {
		op.EstimatedDuration = profile.duration
	}
}

// estimatePlan computes the aggregate cost and duration estimate.
func estimatePlan(
	ordered []Operation,
	deps map[string][]string,
	groups [][]string,
	strategy Strategy,
) PlanEstimate {
	byID := make(map[string]Operation, len(ordered))
	var total float64
	var sum time.Duration
	for _, op := range ordered {
		byID[op.ID] = op
		total += op.EstimatedCost
		sum += op.EstimatedDuration
	}

	length, path := criticalPath(ordered, deps)

	est := PlanEstimate{
		TotalCost:    total,
		CriticalPath: path,
	}

	switch strategy {
	case StrategySequential:
		est.Duration = sum
	case StrategyParallel, StrategyHybrid:
		for _, group := range groups {
			var longest time.Duration
			for _, id := range group {
				if d := byID[id].EstimatedDuration; d > longest {
					longest = d
				}
			}
			est.Duration += longest
		}
	default:
		est.Duration = length
	}

	return est
}

// criticalPath returns the longest chain by estimated duration. ordered must
// be a topological order of deps.
func criticalPath(ordered []Operation, deps map[string][]string) (time.Duration, []string) {
	finish := make(map[string]time.Duration, len(ordered))
	prev := make(map[string]string, len(ordered))

	var (
		longest time.Duration
		last    string
	)
	for _, op := range ordered {
		var start time.Duration
		for _, dep := range deps[op.ID] {
			if finish[dep] > start {
				start = finish[dep]
				prev[op.ID] = dep
			}
		}
		finish[op.ID] = start + op.EstimatedDuration
		if finish[op.ID] > longest || last == "" {
			longest = finish[op.ID]
			last = op.ID
		}
	}

	path := make([]string, 0)
	for id := last; id != ""; id = prev[id] {
		path = append([]string{id}, path...)
	}
	return longest, path
}

// expectResult estimates the probability of full success, the expected cost
// and a risk score for the plan.
func expectResult(ordered []Operation, opts PlanOptions) ExpectedResult {
	if len(ordered) == 0 {
		return ExpectedResult{SuccessProbability: 1, RiskLevel: RiskLow}
	}

	success := 1.0
	var expectedCost float64
	destructive := 0
	for _, op := range ordered {
		p := defaultProfiles[op.Type].failureRate
		success *= 1 - p

		retries := 0.0
		if opts.Execution.FailureHandling == FailureRetry && opts.Execution.Retry.allows(op.Type) {
			retries = float64(opts.Execution.Retry.retries())
		}
		expectedCost += op.EstimatedCost * (1 + p*math.Max(1, retries))

		switch op.Type {
		case OperationRemoveLiquidity, OperationClosePosition, OperationRebalance:
			destructive++
		}
	}

	n := float64(len(ordered))
	failure := 1 - success
	destructiveShare := float64(destructive) / n
	size := math.Min(1, n/50)

	concurrency := 0.0
	if opts.Strategy != StrategySequential && opts.Execution.MaxConcurrency > 1 {
		concurrency = 0.1
	}

	score := math.Min(1, 0.5*failure+0.25*destructiveShare+0.15*size+concurrency)

	factors := make([]string, 0)
	if failure >= 0.1 {
		factors = append(factors, fmt.Sprintf("%.0f%% chance at least one operation fails", failure*100))
	}
	if destructiveShare >= 0.5 {
		factors = append(factors, fmt.Sprintf("%d of %d operations remove or move liquidity", destructive, len(ordered)))
	}
	if size >= 0.5 {
		factors = append(factors, fmt.Sprintf("large batch of %d operations", len(ordered)))
	}
	if concurrency > 0 {
		factors = append(factors, fmt.Sprintf("%s strategy with concurrency %d", opts.Strategy, opts.Execution.MaxConcurrency))
	}

	level := RiskLow
	switch {
	case score >= 0.6:
		level = RiskHigh
	case score >= 0.3:
		level = RiskMedium
	}

	return ExpectedResult{
		SuccessProbability: success,
		ExpectedCost:       expectedCost,
		RiskScore:          score,
		RiskLevel:          level,
		Factors:            factors,
	}
}
