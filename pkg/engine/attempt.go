package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/openfroyo/liqbatch/pkg/telemetry"
)

// CacheNamespace is the cache namespace for replayable operation results.
const CacheNamespace = "operations"

// cacheEntry is the cached record of a successful operation.
type cacheEntry struct {
	OperationID string                 `json:"operation_id"`
	Cost        float64                `json:"cost"`
	CompletedAt time.Time              `json:"completed_at"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// attempt produces the terminal result of one operation: a cache replay, or
// one or more executor calls under the retry policy. It runs on worker
// goroutines and must not touch run state other than reads.
func (r *executionRun) attempt(op Operation) OperationResult {
	ctx := telemetry.WithOperationContext(r.ctx, r.ec.ID, op.ID, string(op.Type), op.Target())
	logger := telemetry.FromContext(ctx)

	result := OperationResult{
		OperationID: op.ID,
		Type:        op.Type,
		ResourceKey: op.Target(),
		StartedAt:   time.Now(),
		Metadata:    operationMetadata(op),
	}

	fingerprint, err := op.Fingerprint()
	if err != nil {
		logger.WithError(err).Warn("Failed to fingerprint operation, cache disabled for it")
	}

	if fingerprint != "" {
		if entry, ok := r.lookup(ctx, fingerprint); ok {
			result.Status = OperationStatusSuccess
			result.Cached = true
			result.CompletedAt = time.Now()
			result.Duration = result.CompletedAt.Sub(result.StartedAt)
			result.Metadata = mergeMetadata(result.Metadata, entry.Metadata)
			result.Metadata = mergeMetadata(result.Metadata, map[string]interface{}{
				"cached_cost": entry.Cost,
				"cached_at":   entry.CompletedAt,
			})
			telemetry.EndOperationContext(ctx, r.ec.ID, op.ID, string(op.Type), string(result.Status), 0, 0, true, nil)
			return result
		}
	}

	policy := r.opts.Execution.Retry
	retryable := r.opts.Execution.FailureHandling == FailureRetry && policy.allows(op.Type)

	var failure *EngineError
	for attempt := 1; ; attempt++ {
		result.Attempts = attempt

		outcome, err := r.invoke(ctx, op)
		if outcome != nil {
			result.Cost += outcome.Cost
			result.Metadata = mergeMetadata(result.Metadata, outcome.Metadata)
		}
		if err == nil {
			failure = nil
			break
		}
		failure = err

		if !retryable || !err.Recoverable() || attempt > policy.retries() || r.ec.Cancelled() {
			break
		}

		delay := backoff(policy, err, attempt)
		telemetry.RecordRetry(ctx, string(op.Type))
		logger.WithFields(map[string]interface{}{
			"attempt":  attempt,
			"class":    err.Class,
			"code":     err.Code,
			"delay_ms": delay.Milliseconds(),
		}).Warn("Operation failed, retrying")

		if !r.wait(delay) {
			break
		}
	}

	result.CompletedAt = time.Now()
	result.Duration = result.CompletedAt.Sub(result.StartedAt)

	if failure != nil {
		result.Status = OperationStatusFailed
		result.Error = failure
	} else {
		result.Status = OperationStatusSuccess
		if fingerprint != "" {
			r.store(ctx, fingerprint, op, result)
		}
	}

	var endErr error
	if failure != nil {
		endErr = failure
	}
	telemetry.EndOperationContext(ctx, r.ec.ID, op.ID, string(op.Type), string(result.Status),
		result.Cost, result.Attempts, false, endErr)

	return result
}

// invoke makes one executor call raced against the operation timeout.
// A panicking executor is reported as a permanent failure.
func (r *executionRun) invoke(ctx context.Context, op Operation) (*OperationOutcome, *EngineError) {
	timeout := op.Timeout
	if timeout <= 0 {
		timeout = r.opts.Execution.OperationTimeout
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type reply struct {
		outcome *OperationOutcome
		err     error
	}
	replies := make(chan reply, 1)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				replies <- reply{err: NewPermanentError(fmt.Sprintf("executor panicked: %v", p), nil).
					WithCode(ErrCodeInternal)}
			}
		}()
		outcome, err := r.engine.executor.Execute(callCtx, op)
		replies <- reply{outcome: outcome, err: err}
	}()

	select {
	case rep := <-replies:
		if rep.err != nil {
			return rep.outcome, classify(rep.err, op.ID)
		}
		if rep.outcome == nil {
			return nil, NewPermanentError("executor returned no outcome", nil).
				WithCode(ErrCodeInternal).WithOperation(op.ID)
		}
		if !rep.outcome.Success {
			message := rep.outcome.Error
			if message == "" {
				message = "operation reported failure"
			}
			return rep.outcome, classify(errors.New(message), op.ID)
		}
		return rep.outcome, nil

	case <-callCtx.Done():
		return nil, NewTransientError(fmt.Sprintf("operation timed out after %s", timeout), callCtx.Err()).
			WithCode(ErrCodeTimeout).WithOperation(op.ID)
	}
}

// wait sleeps for d and reports false when cancellation arrived first.
func (r *executionRun) wait(d time.Duration) bool {
	if d <= 0 {
		return !r.ec.Cancelled()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-r.ec.Done():
		return false
	}
}

// lookup returns a live cache entry for the fingerprint. Cache errors are
// logged and treated as a miss.
func (r *executionRun) lookup(ctx context.Context, fingerprint string) (cacheEntry, bool) {
	if r.engine.cache == nil || !r.opts.Execution.cacheEnabled() {
		return cacheEntry{}, false
	}

	data, ok, err := r.engine.cache.Get(ctx, CacheNamespace, fingerprint)
	if err != nil {
		telemetry.FromContext(ctx).WithError(err).Warn("Cache lookup failed")
		return cacheEntry{}, false
	}
	if !ok {
		return cacheEntry{}, false
	}

	var entry cacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		telemetry.FromContext(ctx).WithError(err).Warn("Ignoring unreadable cache entry")
		return cacheEntry{}, false
	}
	return entry, true
}

// store caches a successful result for the plan's cache TTL.
func (r *executionRun) store(ctx context.Context, fingerprint string, op Operation, result OperationResult) {
	if r.engine.cache == nil || !r.opts.Execution.cacheEnabled() {
		return
	}

	data, err := json.Marshal(cacheEntry{
		OperationID: op.ID,
		Cost:        result.Cost,
		CompletedAt: result.CompletedAt,
		Metadata:    result.Metadata,
	})
	if err != nil {
		telemetry.FromContext(ctx).WithError(err).Warn("Failed to encode cache entry")
		return
	}

	if err := r.engine.cache.Set(ctx, CacheNamespace, fingerprint, data, r.opts.Execution.CacheTTL); err != nil {
		telemetry.FromContext(ctx).WithError(err).Warn("Failed to cache operation result")
	}
}

// classify returns a private copy of the classified error bound to the
// operation, leaving any error shared by the executor untouched.
func classify(err error, operationID string) *EngineError {
	classified := *Classify(err)
	if classified.Details != nil {
		details := make(map[string]interface{}, len(classified.Details))
		for k, v := range classified.Details {
			details[k] = v
		}
		classified.Details = details
	}
	classified.OperationID = operationID
	return &classified
}

// backoff returns the delay before the given retry. Throttled failures back
// off five times longer and conflicts twice as long.
func backoff(policy RetryPolicy, err *EngineError, attempt int) time.Duration {
	delay := policy.BaseDelay
	switch err.Class {
	case ErrorClassThrottled:
		delay *= 5
	case ErrorClassConflict:
		delay *= 2
	}

	for i := 1; i < attempt; i++ {
		delay *= 2
		if policy.MaxDelay > 0 && delay >= policy.MaxDelay {
			break
		}
	}
	if policy.MaxDelay > 0 && delay > policy.MaxDelay {
		delay = policy.MaxDelay
	}
	return delay
}

// mergeMetadata copies src into dst, allocating dst when needed.
func mergeMetadata(dst, src map[string]interface{}) map[string]interface{} {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string]interface{}, len(src))
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
