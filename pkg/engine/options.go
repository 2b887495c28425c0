package engine

import "time"

// DefaultPlanOptions returns the options used for any field left unset.
func DefaultPlanOptions() PlanOptions {
	return PlanOptions{
		Strategy: StrategySequential,
		Execution: ExecutionOptions{
			FailureHandling: FailureAbortAll,
			MaxConcurrency:  5,
			BatchSize:       5,
			MaxGroupSize:    DefaultMaxGroupSize,
			Retry: RetryPolicy{
				MaxRetries: 3,
				BaseDelay:  time.Second,
				MaxDelay:   time.Minute,
			},
			OperationTimeout:      2 * time.Minute,
			DependencyFailureMode: DependencyFailureSkip,
			CacheTTL:              5 * time.Minute,
		},
		CostOptimization: CostOptimization{
			FeeMultiplier: 1.0,
		},
		Risk: RiskManagement{
			MaxFailureRate:    0.5,
			MinSampleSize:     3,
			MaxCostMultiplier: 2.0,
		},
		Rollback: RollbackPolicy{
			Triggers: []RollbackTrigger{
				TriggerFailureRate,
				TriggerCostExhausted,
				TriggerCallerAbort,
				TriggerTimeLimit,
				TriggerOperationFailure,
			},
			Order:       RollbackReverseCompletion,
			MaxAttempts: 1,
		},
	}
}

// Normalize fills zero-valued fields from base. An unset BatchSize follows
// this value's own MaxConcurrency when one is set, and base otherwise.
// Negative MaxRetries and CacheTTL are kept as the disabled markers
// RetryDisabled and CacheDisabled.
func (o PlanOptions) Normalize(base PlanOptions) PlanOptions {
	if o.Strategy == "" {
		o.Strategy = base.Strategy
	}

	e, b := &o.Execution, base.Execution
	ownConcurrency := e.MaxConcurrency != 0
	if e.FailureHandling == "" {
		e.FailureHandling = b.FailureHandling
	}
	if e.MaxConcurrency == 0 {
		e.MaxConcurrency = b.MaxConcurrency
	}
	if e.BatchSize == 0 {
		e.BatchSize = b.BatchSize
		if ownConcurrency || e.BatchSize == 0 {
			e.BatchSize = e.MaxConcurrency
		}
	}
	if e.MaxGroupSize == 0 {
		e.MaxGroupSize = b.MaxGroupSize
	}
	if e.Retry.MaxRetries == 0 {
		e.Retry.MaxRetries = b.Retry.MaxRetries
	}
	if e.Retry.BaseDelay == 0 {
		e.Retry.BaseDelay = b.Retry.BaseDelay
	}
	if e.Retry.MaxDelay == 0 {
		e.Retry.MaxDelay = b.Retry.MaxDelay
	}
	if e.Retry.NoRetryTypes == nil && b.Retry.NoRetryTypes != nil {
		e.Retry.NoRetryTypes = append([]OperationType(nil), b.Retry.NoRetryTypes...)
	}
	if e.OperationTimeout == 0 {
		e.OperationTimeout = b.OperationTimeout
	}
	if e.DependencyFailureMode == "" {
		e.DependencyFailureMode = b.DependencyFailureMode
	}
	if e.CacheTTL == 0 {
		e.CacheTTL = b.CacheTTL
	}

	if o.CostOptimization.FeeMultiplier == 0 {
		o.CostOptimization.FeeMultiplier = base.CostOptimization.FeeMultiplier
	}

	r, br := &o.Risk, base.Risk
	if r.MaxFailureRate == 0 {
		r.MaxFailureRate = br.MaxFailureRate
	}
	if r.MinSampleSize == 0 {
		r.MinSampleSize = br.MinSampleSize
	}
	if r.MaxCostMultiplier == 0 {
		r.MaxCostMultiplier = br.MaxCostMultiplier
	}
	if r.MaxExecutionTime == 0 {
		r.MaxExecutionTime = br.MaxExecutionTime
	}

	rb, bb := &o.Rollback, base.Rollback
	if rb.Triggers == nil {
		rb.Triggers = append([]RollbackTrigger(nil), bb.Triggers...)
	}
	if rb.Order == "" {
		rb.Order = bb.Order
	}
	if rb.MaxAttempts == 0 {
		rb.MaxAttempts = bb.MaxAttempts
	}

	return o
}

// validateEnums checks enum-typed fields that struct tags cannot express.
func (o PlanOptions) validateEnums() error {
	if err := o.Strategy.Validate(); err != nil {
		return err
	}
	if err := o.Execution.FailureHandling.Validate(); err != nil {
		return err
	}
	if err := o.Execution.DependencyFailureMode.Validate(); err != nil {
		return err
	}
	for _, t := range o.Execution.Retry.NoRetryTypes {
		if err := t.Validate(); err != nil {
			return err
		}
	}
	for _, t := range o.Rollback.Triggers {
		if err := t.Validate(); err != nil {
			return err
		}
	}
	return o.Rollback.Order.Validate()
}
