package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/openfroyo/liqbatch/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timeLayout is fixed-width UTC so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
	now func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

// Config holds SQLite store configuration
type Config struct {
	Path            string        `yaml:"path" validate:"required"`
	MaxOpenConns    int           `yaml:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `yaml:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" validate:"gte=0"`
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	// Every connection to :memory: opens a separate database
	if cfg.Path == ":memory:" {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{
		cfg: cfg,
		now: time.Now,
	}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate", s.cfg.Path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// withTx runs fn in a transaction, rolling back on error.
func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// SavePlan stores a plan, replacing any earlier copy with the same ID.
func (s *SQLiteStore) SavePlan(ctx context.Context, plan *engine.ExecutionPlan) error {
	body, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("failed to encode plan: %w", err)
	}

	query := `
		INSERT INTO plans (
			id, strategy, operations, rejected, estimated_cost, estimated_duration, risk_level, body, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			strategy = excluded.strategy,
			operations = excluded.operations,
			rejected = excluded.rejected,
			estimated_cost = excluded.estimated_cost,
			estimated_duration = excluded.estimated_duration,
			risk_level = excluded.risk_level,
			body = excluded.body
	`

	createdAt := plan.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}

	_, err = s.db.ExecContext(ctx, query,
		plan.ID,
		string(plan.Strategy),
		len(plan.Operations),
		len(plan.Rejected),
		plan.Estimate.TotalCost,
		int64(plan.Estimate.Duration),
		string(plan.Expected.RiskLevel),
		string(body),
		formatTime(createdAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save plan: %w", err)
	}

	return nil
}

const planColumns = `id, strategy, operations, rejected, estimated_cost, estimated_duration, risk_level, body, created_at`

func scanPlan(row interface{ Scan(...any) error }) (*PlanRecord, error) {
	rec := &PlanRecord{}
	var duration int64
	var createdAt string
	if err := row.Scan(
		&rec.ID,
		&rec.Strategy,
		&rec.Operations,
		&rec.Rejected,
		&rec.EstimatedCost,
		&duration,
		&rec.RiskLevel,
		&rec.Body,
		&createdAt,
	); err != nil {
		return nil, err
	}
	rec.EstimatedDuration = time.Duration(duration)
	rec.CreatedAt = parseTime(createdAt)
	return rec, nil
}

// GetPlan retrieves a plan summary by ID
func (s *SQLiteStore) GetPlan(ctx context.Context, id string) (*PlanRecord, error) {
	query := `SELECT ` + planColumns + ` FROM plans WHERE id = ?`

	rec, err := scanPlan(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("plan %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}

	return rec, nil
}

// LoadPlan retrieves and decodes a full plan by ID.
func (s *SQLiteStore) LoadPlan(ctx context.Context, id string) (*engine.ExecutionPlan, error) {
	rec, err := s.GetPlan(ctx, id)
	if err != nil {
		return nil, err
	}

	plan := &engine.ExecutionPlan{}
	if err := json.Unmarshal([]byte(rec.Body), plan); err != nil {
		return nil, fmt.Errorf("failed to decode plan %s: %w", id, err)
	}
	return plan, nil
}

// ListPlans lists plans, newest first
func (s *SQLiteStore) ListPlans(ctx context.Context, limit, offset int) ([]*PlanRecord, error) {
	query := `SELECT ` + planColumns + ` FROM plans ORDER BY created_at DESC LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer rows.Close()

	plans := []*PlanRecord{}
	for rows.Next() {
		rec, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		plans = append(plans, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating plans: %w", err)
	}

	return plans, nil
}

// RecordExecution stores a finished execution with its operation results and
// rollback steps in one transaction. Recording the same execution again
// replaces the earlier copy.
func (s *SQLiteStore) RecordExecution(ctx context.Context, result *engine.ExecutionResult) error {
	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode execution: %w", err)
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM executions WHERE id = ?`, result.ExecutionID); err != nil {
			return fmt.Errorf("failed to replace execution: %w", err)
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO executions (
				id, plan_id, strategy, status, total_cost, estimated_cost,
				succeeded, failed, skipped, rolled_back, halt_reason, rollback_executed,
				body, started_at, completed_at, duration
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			result.ExecutionID,
			result.PlanID,
			string(result.Strategy),
			string(result.Status),
			result.TotalCost,
			result.EstimatedCost,
			result.Metrics.Succeeded,
			result.Metrics.Failed,
			result.Metrics.Skipped,
			result.Metrics.RolledBack,
			nullString(result.HaltReason),
			result.RollbackExecuted,
			string(body),
			formatTime(result.StartedAt),
			formatTime(result.CompletedAt),
			int64(result.Duration),
		)
		if err != nil {
			return fmt.Errorf("failed to insert execution: %w", err)
		}

		for i, res := range result.Results {
			var class, code, message *string
			if res.Error != nil {
				class = nullString(string(res.Error.Class))
				code = nullString(res.Error.Code)
				message = nullString(res.Error.Error())
			}

			_, err := tx.ExecContext(ctx, `
				INSERT INTO operation_results (
					execution_id, operation_id, position, type, resource_key, status, cost, attempts, cached,
					error_class, error_code, error_message, skip_reason, started_at, completed_at, duration
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`,
				result.ExecutionID,
				res.OperationID,
				i,
				string(res.Type),
				res.ResourceKey,
				string(res.Status),
				res.Cost,
				res.Attempts,
				res.Cached,
				class,
				code,
				message,
				nullString(res.SkipReason),
				nullTime(res.StartedAt),
				nullTime(res.CompletedAt),
				int64(res.Duration),
			)
			if err != nil {
				return fmt.Errorf("failed to insert result for %s: %w", res.OperationID, err)
			}
		}

		if result.Rollback == nil {
			return nil
		}
		for i, step := range result.Rollback.Steps {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO rollback_steps (
					execution_id, seq, operation_id, type, status, attempts, cost, duration, error
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			`,
				result.ExecutionID,
				i+1,
				step.OperationID,
				string(step.Type),
				string(step.Status),
				step.Attempts,
				step.Cost,
				int64(step.Duration),
				nullString(step.Error),
			)
			if err != nil {
				return fmt.Errorf("failed to insert rollback step for %s: %w", step.OperationID, err)
			}
		}
		return nil
	})
}

const executionColumns = `id, plan_id, strategy, status, total_cost, estimated_cost,
	succeeded, failed, skipped, rolled_back, halt_reason, rollback_executed,
	body, started_at, completed_at, duration`

func scanExecution(row interface{ Scan(...any) error }) (*ExecutionRecord, error) {
	rec := &ExecutionRecord{}
	var startedAt, completedAt string
	var duration int64
	if err := row.Scan(
		&rec.ID,
		&rec.PlanID,
		&rec.Strategy,
		&rec.Status,
		&rec.TotalCost,
		&rec.EstimatedCost,
		&rec.Succeeded,
		&rec.Failed,
		&rec.Skipped,
		&rec.RolledBack,
		&rec.HaltReason,
		&rec.RollbackExecuted,
		&rec.Body,
		&startedAt,
		&completedAt,
		&duration,
	); err != nil {
		return nil, err
	}
	rec.StartedAt = parseTime(startedAt)
	rec.CompletedAt = parseTime(completedAt)
	rec.Duration = time.Duration(duration)
	return rec, nil
}

// GetExecution retrieves an execution summary by ID
func (s *SQLiteStore) GetExecution(ctx context.Context, id string) (*ExecutionRecord, error) {
	query := `SELECT ` + executionColumns + ` FROM executions WHERE id = ?`

	rec, err := scanExecution(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("execution %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}

	return rec, nil
}

// LoadExecution retrieves and decodes a full execution result by ID.
func (s *SQLiteStore) LoadExecution(ctx context.Context, id string) (*engine.ExecutionResult, error) {
	rec, err := s.GetExecution(ctx, id)
	if err != nil {
		return nil, err
	}

	result := &engine.ExecutionResult{}
	if err := json.Unmarshal([]byte(rec.Body), result); err != nil {
		return nil, fmt.Errorf("failed to decode execution %s: %w", id, err)
	}
	return result, nil
}

// ListExecutions lists executions, newest first, optionally filtered by status
func (s *SQLiteStore) ListExecutions(ctx context.Context, status *string, limit, offset int) ([]*ExecutionRecord, error) {
	query := `
		SELECT ` + executionColumns + `
		FROM executions
		WHERE (? IS NULL OR status = ?)
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, status, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	executions := []*ExecutionRecord{}
	for rows.Next() {
		rec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		executions = append(executions, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, nil
}

// ListOperationResults lists the stored results of an execution in plan order
func (s *SQLiteStore) ListOperationResults(ctx context.Context, executionID string) ([]*OperationRecord, error) {
	query := `
		SELECT execution_id, operation_id, position, type, resource_key, status, cost, attempts, cached,
			error_class, error_code, error_message, skip_reason, started_at, completed_at, duration
		FROM operation_results
		WHERE execution_id = ?
		ORDER BY position
	`

	rows, err := s.db.QueryContext(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list operation results: %w", err)
	}
	defer rows.Close()

	records := []*OperationRecord{}
	for rows.Next() {
		rec := &OperationRecord{}
		var startedAt, completedAt *string
		var duration int64
		err := rows.Scan(
			&rec.ExecutionID,
			&rec.OperationID,
			&rec.Position,
			&rec.Type,
			&rec.ResourceKey,
			&rec.Status,
			&rec.Cost,
			&rec.Attempts,
			&rec.Cached,
			&rec.ErrorClass,
			&rec.ErrorCode,
			&rec.ErrorMessage,
			&rec.SkipReason,
			&startedAt,
			&completedAt,
			&duration,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan operation result: %w", err)
		}
		rec.StartedAt = parseNullTime(startedAt)
		rec.CompletedAt = parseNullTime(completedAt)
		rec.Duration = time.Duration(duration)
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating operation results: %w", err)
	}

	return records, nil
}

// ListRollbackSteps lists the stored rollback steps of an execution in unwind order
func (s *SQLiteStore) ListRollbackSteps(ctx context.Context, executionID string) ([]*RollbackStepRecord, error) {
	query := `
		SELECT execution_id, seq, operation_id, type, status, attempts, cost, duration, error
		FROM rollback_steps
		WHERE execution_id = ?
		ORDER BY seq
	`

	rows, err := s.db.QueryContext(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rollback steps: %w", err)
	}
	defer rows.Close()

	steps := []*RollbackStepRecord{}
	for rows.Next() {
		step := &RollbackStepRecord{}
		var duration int64
		err := rows.Scan(
			&step.ExecutionID,
			&step.Seq,
			&step.OperationID,
			&step.Type,
			&step.Status,
			&step.Attempts,
			&step.Cost,
			&duration,
			&step.Error,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rollback step: %w", err)
		}
		step.Duration = time.Duration(duration)
		steps = append(steps, step)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rollback steps: %w", err)
	}

	return steps, nil
}

// DeleteExecution deletes an execution and, by cascade, its results and rollback steps
func (s *SQLiteStore) DeleteExecution(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM executions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete execution: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("execution %s: %w", id, ErrNotFound)
	}

	return nil
}

// AppendEvent appends an event to the event log
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *Event) error {
	query := `
		INSERT INTO events (event_id, type, source, execution_id, plan_id, operation_id, level, message, details, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	if event.Timestamp.IsZero() {
		event.Timestamp = s.now()
	}

	result, err := s.db.ExecContext(ctx, query,
		event.EventID,
		event.Type,
		event.Source,
		event.ExecutionID,
		event.PlanID,
		event.OperationID,
		string(event.Level),
		event.Message,
		event.Details,
		formatTime(event.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get event ID: %w", err)
	}

	event.ID = id
	return nil
}

// GetEvents retrieves events in the order they were appended
func (s *SQLiteStore) GetEvents(ctx context.Context, filter EventFilter, limit, offset int) ([]*Event, error) {
	query := `
		SELECT id, event_id, type, source, execution_id, plan_id, operation_id, level, message, details, timestamp
		FROM events
		WHERE (? IS NULL OR execution_id = ?)
		  AND (? IS NULL OR operation_id = ?)
		  AND (? IS NULL OR level = ?)
		ORDER BY id ASC
		LIMIT ? OFFSET ?
	`

	var level *string
	if filter.Level != nil {
		l := string(*filter.Level)
		level = &l
	}

	rows, err := s.db.QueryContext(ctx, query,
		filter.ExecutionID, filter.ExecutionID,
		filter.OperationID, filter.OperationID,
		level, level,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		event := &Event{}
		var level, timestamp string
		err := rows.Scan(
			&event.ID,
			&event.EventID,
			&event.Type,
			&event.Source,
			&event.ExecutionID,
			&event.PlanID,
			&event.OperationID,
			&level,
			&event.Message,
			&event.Details,
			&timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		event.Level = EventLevel(level)
		event.Timestamp = parseTime(timestamp)
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// CreateAuditEntry creates a new audit log entry
func (s *SQLiteStore) CreateAuditEntry(ctx context.Context, entry *AuditEntry) error {
	query := `
		INSERT INTO audit (action, actor, target_id, details, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`

	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now()
	}

	result, err := s.db.ExecContext(ctx, query,
		entry.Action,
		entry.Actor,
		entry.TargetID,
		entry.Details,
		formatTime(entry.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("failed to create audit entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get audit entry ID: %w", err)
	}

	entry.ID = id
	return nil
}

// ListAuditEntries lists audit entries with optional filters and pagination
func (s *SQLiteStore) ListAuditEntries(ctx context.Context, action *string, actor *string, limit, offset int) ([]*AuditEntry, error) {
	query := `
		SELECT id, action, actor, target_id, details, timestamp
		FROM audit
		WHERE (? IS NULL OR action = ?)
		  AND (? IS NULL OR actor = ?)
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, action, action, actor, actor, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	entries := []*AuditEntry{}
	for rows.Next() {
		entry := &AuditEntry{}
		var timestamp string
		err := rows.Scan(
			&entry.ID,
			&entry.Action,
			&entry.Actor,
			&entry.TargetID,
			&entry.Details,
			&timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entry.Timestamp = parseTime(timestamp)
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}

	return entries, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullTime(t time.Time) *string {
	if t.IsZero() {
		return nil
	}
	s := formatTime(t)
	return &s
}

func parseNullTime(s *string) *time.Time {
	if s == nil {
		return nil
	}
	t := parseTime(*s)
	return &t
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
