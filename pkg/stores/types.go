package stores

import (
	"context"
	"errors"
	"time"

	"github.com/openfroyo/liqbatch/pkg/engine"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// EventLevel represents the severity level of an event
type EventLevel string

const (
	EventLevelDebug   EventLevel = "debug"
	EventLevelInfo    EventLevel = "info"
	EventLevelWarning EventLevel = "warning"
	EventLevelError   EventLevel = "error"
)

// PlanRecord is the stored summary of an execution plan.
type PlanRecord struct {
	ID                string        `json:"id"`
	Strategy          string        `json:"strategy"`
	Operations        int           `json:"operations"`
	Rejected          int           `json:"rejected"`
	EstimatedCost     float64       `json:"estimated_cost"`
	EstimatedDuration time.Duration `json:"estimated_duration"`
	RiskLevel         string        `json:"risk_level"`
	Body              string        `json:"-"` // JSON of the full plan
	CreatedAt         time.Time     `json:"created_at"`
}

// ExecutionRecord is the stored summary of one execution.
type ExecutionRecord struct {
	ID               string        `json:"id"`
	PlanID           string        `json:"plan_id"`
	Strategy         string        `json:"strategy"`
	Status           string        `json:"status"`
	TotalCost        float64       `json:"total_cost"`
	EstimatedCost    float64       `json:"estimated_cost"`
	Succeeded        int           `json:"succeeded"`
	Failed           int           `json:"failed"`
	Skipped          int           `json:"skipped"`
	RolledBack       int           `json:"rolled_back"`
	HaltReason       *string       `json:"halt_reason,omitempty"`
	RollbackExecuted bool          `json:"rollback_executed"`
	Body             string        `json:"-"` // JSON of the full result
	StartedAt        time.Time     `json:"started_at"`
	CompletedAt      time.Time     `json:"completed_at"`
	Duration         time.Duration `json:"duration"`
}

// OperationRecord is the stored terminal result of one operation.
type OperationRecord struct {
	ExecutionID  string        `json:"execution_id"`
	OperationID  string        `json:"operation_id"`
	Position     int           `json:"position"`
	Type         string        `json:"type"`
	ResourceKey  string        `json:"resource_key"`
	Status       string        `json:"status"`
	Cost         float64       `json:"cost"`
	Attempts     int           `json:"attempts"`
	Cached       bool          `json:"cached"`
	ErrorClass   *string       `json:"error_class,omitempty"`
	ErrorCode    *string       `json:"error_code,omitempty"`
	ErrorMessage *string       `json:"error_message,omitempty"`
	SkipReason   *string       `json:"skip_reason,omitempty"`
	StartedAt    *time.Time    `json:"started_at,omitempty"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
	Duration     time.Duration `json:"duration"`
}

// RollbackStepRecord is one stored compensation step.
type RollbackStepRecord struct {
	ExecutionID string        `json:"execution_id"`
	Seq         int           `json:"seq"`
	OperationID string        `json:"operation_id"`
	Type        string        `json:"type"`
	Status      string        `json:"status"`
	Attempts    int           `json:"attempts"`
	Cost        float64       `json:"cost"`
	Duration    time.Duration `json:"duration"`
	Error       *string       `json:"error,omitempty"`
}

// Event represents an append-only log event
type Event struct {
	ID          int64      `json:"id"`
	EventID     string     `json:"event_id"`
	Type        string     `json:"type"`
	Source      string     `json:"source"`
	ExecutionID *string    `json:"execution_id,omitempty"`
	PlanID      *string    `json:"plan_id,omitempty"`
	OperationID *string    `json:"operation_id,omitempty"`
	Level       EventLevel `json:"level"`
	Message     string     `json:"message"`
	Details     *string    `json:"details,omitempty"` // JSON blob
	Timestamp   time.Time  `json:"timestamp"`
}

// EventFilter narrows GetEvents. Nil fields match everything.
type EventFilter struct {
	ExecutionID *string
	OperationID *string
	Level       *EventLevel
}

// CacheEntry is a stored cache value.
type CacheEntry struct {
	Namespace string     `json:"namespace"`
	Key       string     `json:"key"`
	Value     []byte     `json:"value"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// AuditEntry represents an audit trail entry
type AuditEntry struct {
	ID        int64     `json:"id"`
	Action    string    `json:"action"`              // e.g., "execution.started", "cache.invalidated"
	Actor     string    `json:"actor"`               // user or system identifier
	TargetID  *string   `json:"target_id,omitempty"` // plan/execution/etc ID
	Details   *string   `json:"details,omitempty"`   // JSON blob
	Timestamp time.Time `json:"timestamp"`
}

// Store defines the interface for the persistence layer
type Store interface {
	engine.Cache
	engine.PlanRecorder
	engine.HistoryRecorder

	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Plan operations
	GetPlan(ctx context.Context, id string) (*PlanRecord, error)
	LoadPlan(ctx context.Context, id string) (*engine.ExecutionPlan, error)
	ListPlans(ctx context.Context, limit, offset int) ([]*PlanRecord, error)

	// Execution operations
	GetExecution(ctx context.Context, id string) (*ExecutionRecord, error)
	LoadExecution(ctx context.Context, id string) (*engine.ExecutionResult, error)
	ListExecutions(ctx context.Context, status *string, limit, offset int) ([]*ExecutionRecord, error)
	ListOperationResults(ctx context.Context, executionID string) ([]*OperationRecord, error)
	ListRollbackSteps(ctx context.Context, executionID string) ([]*RollbackStepRecord, error)
	DeleteExecution(ctx context.Context, id string) error

	// Event operations
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, filter EventFilter, limit, offset int) ([]*Event, error)

	// Cache maintenance
	ListCacheEntries(ctx context.Context, namespace *string, limit, offset int) ([]*CacheEntry, error)
	PruneExpired(ctx context.Context) (int64, error)

	// Audit operations
	CreateAuditEntry(ctx context.Context, entry *AuditEntry) error
	ListAuditEntries(ctx context.Context, action *string, actor *string, limit, offset int) ([]*AuditEntry, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
