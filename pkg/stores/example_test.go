package stores_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/openfroyo/liqbatch/pkg/engine"
	"github.com/openfroyo/liqbatch/pkg/stores"
)

// ExampleNewSQLiteStore demonstrates creating and initializing a new SQLite store.
func ExampleNewSQLiteStore() {
	store, err := stores.NewSQLiteStore(stores.Config{
		Path:            ":memory:", // Use in-memory database for example
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	})
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		log.Fatal(err)
	}

	if err := store.Migrate(ctx); err != nil {
		log.Fatal(err)
	}

	defer store.Close()

	fmt.Println("Store initialized successfully")
	// Output: Store initialized successfully
}

// ExampleSQLiteStore_RecordExecution demonstrates wiring the store into the
// planner and engine so plans and results are persisted.
func ExampleSQLiteStore_RecordExecution() {
	store, _ := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	ctx := context.Background()
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	planner := engine.NewPlanner(engine.WithPlanRecorder(store))
	plan, err := planner.Plan(ctx, []engine.Operation{
		{
			ID:     "claim",
			Type:   engine.OperationClaimFees,
			Params: engine.ClaimFeesParams{Pool: "ETH-USDC", User: "0xalice", PositionID: "pos-1"},
		},
	}, engine.DefaultPlanOptions())
	if err != nil {
		log.Fatal(err)
	}

	executor := engine.OperationExecutorFunc(func(ctx context.Context, op engine.Operation) (*engine.OperationOutcome, error) {
		return &engine.OperationOutcome{Success: true, Cost: 0.02}, nil
	})
	eng := engine.NewEngine(executor, engine.WithHistory(store), engine.WithCache(store))

	result, err := eng.Execute(ctx, plan, engine.WithExecutionID("exec-example"))
	if err != nil {
		log.Fatal(err)
	}

	rec, err := store.GetExecution(ctx, result.ExecutionID)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("Execution %s: %s (%d succeeded)\n", rec.ID, rec.Status, rec.Succeeded)
	// Output: Execution exec-example: completed (1 succeeded)
}

// ExampleSQLiteStore_AppendEvent demonstrates appending to and reading the event log.
func ExampleSQLiteStore_AppendEvent() {
	store, _ := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	ctx := context.Background()
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	executionID := "exec-1"
	for _, msg := range []string{"Execution started", "Execution completed"} {
		_ = store.AppendEvent(ctx, &stores.Event{
			EventID:     msg,
			Type:        "execution",
			Source:      "engine",
			ExecutionID: &executionID,
			Level:       stores.EventLevelInfo,
			Message:     msg,
		})
	}

	events, _ := store.GetEvents(ctx, stores.EventFilter{ExecutionID: &executionID}, 10, 0)
	for _, e := range events {
		fmt.Println(e.Message)
	}
	// Output:
	// Execution started
	// Execution completed
}
