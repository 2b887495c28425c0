package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event represents a telemetry event raised while planning or executing a batch.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies where the event originated.
	Source string `json:"source"`

	// ExecutionID is the associated execution ID, if applicable.
	ExecutionID string `json:"execution_id,omitempty"`

	// PlanID is the associated plan ID, if applicable.
	PlanID string `json:"plan_id,omitempty"`

	// OperationID is the associated operation ID, if applicable.
	OperationID string `json:"operation_id,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// EventType constants for common event types.
const (
	EventTypePlanCreated        = "plan.created"
	EventTypeExecutionStarted   = "execution.started"
	EventTypeExecutionCompleted = "execution.completed"
	EventTypeExecutionFailed    = "execution.failed"
	EventTypeOperationStarted   = "operation.started"
	EventTypeOperationCompleted = "operation.completed"
	EventTypeOperationFailed    = "operation.failed"
	EventTypeOperationSkipped   = "operation.skipped"
	EventTypeRollback           = "rollback.finished"
	EventTypePolicyViolation    = "policy.violation"
	EventTypeError              = "error"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher manages event publishing and subscriptions.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())

	ep := &EventPublisher{
		config:      cfg,
		buffer:      make(chan Event, cfg.BufferSize),
		subscribers: make([]subscriberEntry, 0),
		ctx:         ctx,
		cancel:      cancel,
	}

	// Start the event processing goroutine
	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}

	// Set ID and timestamp if not already set
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	// Send to buffer if async, otherwise process immediately
	if ep.config.EnableAsync {
		select {
		case ep.buffer <- event:
			return nil
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
			return fmt.Errorf("event buffer full, %s event dropped", event.Type)
		}
	}

	// Synchronous publishing
	ep.deliverEvent(event)
	return nil
}

// PublishPlanCreated publishes a plan created event.
func (ep *EventPublisher) PublishPlanCreated(planID, strategy string, operations int, estimatedCost float64) error {
	return ep.Publish(Event{
		Type:    EventTypePlanCreated,
		Source:  "planner",
		PlanID:  planID,
		Message: fmt.Sprintf("Plan %s created with %d operations (%s)", planID, operations, strategy),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"strategy":       strategy,
			"operations":     operations,
			"estimated_cost": estimatedCost,
		},
	})
}

// PublishExecutionStarted publishes an execution started event.
func (ep *EventPublisher) PublishExecutionStarted(executionID, planID, strategy string, total int) error {
	return ep.Publish(Event{
		Type:        EventTypeExecutionStarted,
		Source:      "engine",
		ExecutionID: executionID,
		PlanID:      planID,
		Message:     fmt.Sprintf("Execution %s of plan %s started", executionID, planID),
		Level:       EventLevelInfo,
		Data: map[string]interface{}{
			"strategy": strategy,
			"total":    total,
		},
	})
}

// PublishExecutionCompleted publishes an execution completed event.
func (ep *EventPublisher) PublishExecutionCompleted(executionID, status string, cost float64, duration time.Duration) error {
	return ep.Publish(Event{
		Type:        EventTypeExecutionCompleted,
		Source:      "engine",
		ExecutionID: executionID,
		Message:     fmt.Sprintf("Execution %s finished with status: %s", executionID, status),
		Level:       EventLevelInfo,
		Data: map[string]interface{}{
			"status":   status,
			"cost":     cost,
			"duration": duration.Seconds(),
		},
	})
}

// PublishExecutionFailed publishes an event for an execution that did not complete.
func (ep *EventPublisher) PublishExecutionFailed(executionID, status, reason string) error {
	return ep.Publish(Event{
		Type:        EventTypeExecutionFailed,
		Source:      "engine",
		ExecutionID: executionID,
		Message:     fmt.Sprintf("Execution %s %s: %s", executionID, status, reason),
		Level:       EventLevelError,
		Data: map[string]interface{}{
			"status": status,
			"reason": reason,
		},
	})
}

// PublishOperationStarted publishes an operation started event.
func (ep *EventPublisher) PublishOperationStarted(executionID, operationID, opType, resourceKey string) error {
	return ep.Publish(Event{
		Type:        EventTypeOperationStarted,
		Source:      "engine",
		ExecutionID: executionID,
		OperationID: operationID,
		Message:     fmt.Sprintf("Operation %s started: %s on %s", operationID, opType, resourceKey),
		Level:       EventLevelInfo,
		Data: map[string]interface{}{
			"type":         opType,
			"resource_key": resourceKey,
		},
	})
}

// PublishOperationCompleted publishes an operation completed event.
func (ep *EventPublisher) PublishOperationCompleted(executionID, operationID, opType string, cost float64, attempts int, cached bool) error {
	return ep.Publish(Event{
		Type:        EventTypeOperationCompleted,
		Source:      "engine",
		ExecutionID: executionID,
		OperationID: operationID,
		Message:     fmt.Sprintf("Operation %s completed", operationID),
		Level:       EventLevelInfo,
		Data: map[string]interface{}{
			"type":     opType,
			"cost":     cost,
			"attempts": attempts,
			"cached":   cached,
		},
	})
}

// PublishOperationFailed publishes an operation failed event.
func (ep *EventPublisher) PublishOperationFailed(executionID, operationID, opType, reason string) error {
	return ep.Publish(Event{
		Type:        EventTypeOperationFailed,
		Source:      "engine",
		ExecutionID: executionID,
		OperationID: operationID,
		Message:     fmt.Sprintf("Operation %s failed: %s", operationID, reason),
		Level:       EventLevelError,
		Data: map[string]interface{}{
			"type":   opType,
			"reason": reason,
		},
	})
}

// PublishOperationSkipped publishes an event for an operation that never ran.
func (ep *EventPublisher) PublishOperationSkipped(executionID, operationID, opType, reason string) error {
	return ep.Publish(Event{
		Type:        EventTypeOperationSkipped,
		Source:      "engine",
		ExecutionID: executionID,
		OperationID: operationID,
		Message:     fmt.Sprintf("Operation %s skipped: %s", operationID, reason),
		Level:       EventLevelWarning,
		Data: map[string]interface{}{
			"type":   opType,
			"reason": reason,
		},
	})
}

// PublishRollback publishes a rollback finished event.
func (ep *EventPublisher) PublishRollback(trigger string, compensated, failed int, duration time.Duration) error {
	level := EventLevelWarning
	if failed > 0 {
		level = EventLevelError
	}
	return ep.Publish(Event{
		Type:    EventTypeRollback,
		Source:  "rollback",
		Message: fmt.Sprintf("Rollback (%s) compensated %d operations, %d failed", trigger, compensated, failed),
		Level:   level,
		Data: map[string]interface{}{
			"trigger":     trigger,
			"compensated": compensated,
			"failed":      failed,
			"duration":    duration.Seconds(),
		},
	})
}

// PublishPolicyViolation publishes a policy violation event.
func (ep *EventPublisher) PublishPolicyViolation(planID, policyName, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypePolicyViolation,
		Source:  "policy_engine",
		PlanID:  planID,
		Message: fmt.Sprintf("Policy violation on plan %s: %s - %s", planID, policyName, reason),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"policy": policyName,
			"reason": reason,
		},
	})
}

// Subscribe adds a new event subscriber.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// processEvents processes events from the buffer asynchronously.
// A batch is delivered when it is full or the buffer runs dry.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	batch := make([]Event, 0, ep.config.MaxBatchSize)

	for {
		select {
		case event := <-ep.buffer:
			batch = append(batch, event)

			if len(batch) >= ep.config.MaxBatchSize || len(ep.buffer) == 0 {
				ep.flushBatch(batch)
				batch = batch[:0]
			}

		case <-ep.ctx.Done():
			// Drain whatever is still buffered before shutting down
			for {
				select {
				case event := <-ep.buffer:
					batch = append(batch, event)
				default:
					ep.flushBatch(batch)
					return
				}
			}
		}
	}
}

// flushBatch delivers a batch of events to subscribers.
func (ep *EventPublisher) flushBatch(events []Event) {
	for _, event := range events {
		ep.deliverEvent(event)
	}
}

// deliverEvent delivers an event to all subscribers in registration order.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown gracefully shuts down the event publisher.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled {
		return nil
	}

	// Signal shutdown
	ep.cancel()

	// Wait for processing to complete with timeout
	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// Common event filters.

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}

	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByExecutionID creates a filter that only allows events for a specific execution.
func FilterByExecutionID(executionID string) EventFilter {
	return func(event Event) bool {
		return event.ExecutionID == executionID
	}
}
