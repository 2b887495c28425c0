package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openfroyo/liqbatch/pkg/compensate"
	"github.com/openfroyo/liqbatch/pkg/config"
	"github.com/openfroyo/liqbatch/pkg/engine"
	"github.com/openfroyo/liqbatch/pkg/policy"
	"github.com/openfroyo/liqbatch/pkg/stores"
	"github.com/openfroyo/liqbatch/pkg/telemetry"
	"github.com/openfroyo/liqbatch/pkg/venue"
)

// app holds the components a command needs, built from settings.
type app struct {
	settings  *config.Settings
	telemetry *telemetry.Telemetry
	store     *stores.SQLiteStore
	policies  *policy.Engine
	venue     engine.OperationExecutor
	engine    *engine.Engine
}

// loadSettings reads the settings file, falling back to defaults when none is given.
func loadSettings() (*config.Settings, error) {
	settings := config.DefaultSettings()
	if configPath != "" {
		loaded, err := config.LoadSettings(configPath)
		if err != nil {
			return nil, err
		}
		settings = loaded
	}
	if storePath != "" {
		settings.Store.Path = storePath
	}
	return settings, nil
}

// newApp wires telemetry, store, policies, venue and engine. The returned
// context carries telemetry and must be used for all work done with the app.
func newApp(ctx context.Context, settings *config.Settings) (*app, context.Context, error) {
	tel, err := telemetry.NewTelemetry(settings.Telemetry)
	if err != nil {
		return nil, ctx, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	ctx = tel.WithContext(ctx)

	a := &app{settings: settings, telemetry: tel}

	if serveMetrics {
		if err := tel.StartMetricsServer(); err != nil {
			a.Close(ctx)
			return nil, ctx, fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	if a.store, err = openStore(ctx, settings.Store.Path); err != nil {
		a.Close(ctx)
		return nil, ctx, err
	}
	tel.Events.Subscribe(a.store.EventSink(tel.Logger), nil)

	if err := a.loadPolicies(ctx); err != nil {
		a.Close(ctx)
		return nil, ctx, err
	}

	a.venue = newVenue(settings.Venue)

	comp, err := newCompensator(settings.Compensation, a.venue, tel.Logger.Zerolog())
	if err != nil {
		a.Close(ctx)
		return nil, ctx, err
	}

	opts := []engine.EngineOption{
		engine.WithCompensator(comp),
		engine.WithHistory(a.store),
	}
	if settings.Store.Cache {
		opts = append(opts, engine.WithCache(a.store))
	}
	a.engine = engine.NewEngine(a.venue, opts...)

	return a, ctx, nil
}

// openStore opens and migrates the SQLite store at path.
func openStore(ctx context.Context, path string) (*stores.SQLiteStore, error) {
	store, err := stores.NewSQLiteStore(stores.Config{Path: path})
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to migrate store: %w", err)
	}
	return store, nil
}

func (a *app) loadPolicies(ctx context.Context) error {
	ps := a.settings.Policy

	policies, err := policy.NewEngine(a.telemetry.Logger.Zerolog(),
		policy.WithLimits(ps.Limits),
		policy.WithEnvironment(ps.Environment),
	)
	if err != nil {
		return fmt.Errorf("failed to create policy engine: %w", err)
	}

	if len(ps.Paths) > 0 {
		if err := policies.LoadPolicies(ctx, ps.Paths); err != nil {
			return fmt.Errorf("failed to load policies: %w", err)
		}
	}
	for _, name := range ps.Disabled {
		if err := policies.DisablePolicy(name); err != nil {
			return fmt.Errorf("failed to disable policy: %w", err)
		}
	}

	a.policies = policies
	return nil
}

// watchPolicies starts reloading policies from the configured paths until ctx is done.
func (a *app) watchPolicies(ctx context.Context) error {
	ps := a.settings.Policy
	if !ps.Watch || len(ps.Paths) == 0 {
		return nil
	}

	loader := policy.NewLoader(a.telemetry.Logger.Zerolog())
	return loader.Watch(ctx, ps.Paths, func(loaded []policy.Policy) error {
		if err := a.policies.ReplacePolicies(ctx, loaded); err != nil {
			return err
		}
		for _, name := range ps.Disabled {
			if err := a.policies.DisablePolicy(name); err != nil {
				log.Warn().Err(err).Str("policy", name).Msg("Failed to disable policy after reload")
			}
		}
		return nil
	})
}

func newVenue(vs config.VenueSettings) engine.OperationExecutor {
	if vs.Kind == config.VenueHTTP {
		return venue.NewHTTP(vs.URL, venue.WithHTTPClient(&http.Client{Timeout: vs.Timeout}))
	}

	opts := []venue.PaperOption{venue.WithLatency(vs.Latency)}
	for pool, price := range vs.Prices {
		opts = append(opts, venue.WithPrice(pool, price))
	}
	return venue.NewPaper(opts...)
}

func newCompensator(cs config.CompensationSettings, executor engine.OperationExecutor, logger zerolog.Logger) (*compensate.Registry, error) {
	var fallback engine.Compensator
	if cs.Inverse {
		fallback = compensate.NewInverse(executor)
	}

	registry := compensate.NewRegistry(logger, fallback)
	for opType, path := range cs.Scripts {
		script, err := compensate.LoadScript(path, executor)
		if err != nil {
			return nil, fmt.Errorf("failed to load compensation script for %s: %w", opType, err)
		}
		registry.Register(opType, script)
	}
	return registry, nil
}

// planner returns a planner using the app's policies. Plans are saved when record is set.
func (a *app) planner(record bool) *engine.Planner {
	opts := []engine.PlannerOption{
		engine.WithPolicyEvaluator(a.policies),
		engine.WithDefaultOptions(a.settings.Defaults),
	}
	if record {
		opts = append(opts, engine.WithPlanRecorder(a.store))
	}
	return engine.NewPlanner(opts...)
}

// planBatch loads a batch file and plans it.
func (a *app) planBatch(ctx context.Context, path string, record bool) (*config.Batch, *engine.ExecutionPlan, error) {
	batch, err := config.LoadBatch(path)
	if err != nil {
		return nil, nil, err
	}
	ops, err := batch.Operations()
	if err != nil {
		return nil, nil, err
	}
	plan, err := a.planner(record).Plan(ctx, ops, batch.PlanOptions())
	if err != nil {
		return batch, nil, err
	}
	return batch, plan, nil
}

// runBatch plans and executes a batch file, recording an audit entry for the run.
func (a *app) runBatch(ctx context.Context, path string, progress engine.ProgressFunc) (*engine.ExecutionResult, error) {
	batch, plan, err := a.planBatch(ctx, path, true)
	if err != nil {
		return nil, err
	}

	logger := log.With().Str("batch", batch.Name).Str("plan_id", plan.ID).Logger()
	logger.Info().
		Str("strategy", string(plan.Strategy)).
		Int("operations", len(plan.Operations)).
		Float64("estimated_cost", plan.Estimate.TotalCost).
		Msg("Executing plan")

	var opts []engine.ExecuteOption
	if progress != nil {
		opts = append(opts, engine.WithProgress(progress))
	}

	result, err := a.engine.Execute(ctx, plan, opts...)
	if err != nil {
		return nil, err
	}

	a.audit(ctx, "execution.completed", result.ExecutionID, map[string]interface{}{
		"batch":      batch.Name,
		"plan_id":    plan.ID,
		"status":     result.Status,
		"total_cost": result.TotalCost,
	})

	return result, nil
}

// audit records an audit entry, logging instead of failing on error.
func (a *app) audit(ctx context.Context, action, target string, details map[string]interface{}) {
	entry := &stores.AuditEntry{
		Action:   action,
		Actor:    actor(),
		TargetID: &target,
	}
	if details != nil {
		if body, err := marshalJSON(details); err == nil {
			s := string(body)
			entry.Details = &s
		}
	}
	if err := a.store.CreateAuditEntry(ctx, entry); err != nil {
		log.Warn().Err(err).Str("action", action).Msg("Failed to record audit entry")
	}
}

// Close flushes telemetry, then releases the store. Pending events are
// written to the store during the flush.
func (a *app) Close(ctx context.Context) {
	if a.telemetry != nil {
		if err := a.telemetry.Shutdown(context.WithoutCancel(ctx)); err != nil {
			log.Warn().Err(err).Msg("Failed to shut down telemetry")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close store")
		}
	}
}

func actor() string {
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return "liqbatch"
}
