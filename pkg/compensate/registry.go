package compensate

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/openfroyo/liqbatch/pkg/engine"
)

// Registry routes compensation to a compensator per operation type.
type Registry struct {
	mu       sync.RWMutex
	byType   map[engine.OperationType]engine.Compensator
	fallback engine.Compensator
	logger   zerolog.Logger
}

var _ engine.Compensator = (*Registry)(nil)

// NewRegistry creates a registry. fallback handles types with no registered
// compensator and may be nil.
func NewRegistry(logger zerolog.Logger, fallback engine.Compensator) *Registry {
	return &Registry{
		byType:   make(map[engine.OperationType]engine.Compensator),
		fallback: fallback,
		logger:   logger.With().Str("component", "compensate").Logger(),
	}
}

// Register sets the compensator for an operation type, replacing any previous one.
func (r *Registry) Register(t engine.OperationType, c engine.Compensator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byType[t] = c
}

// Lookup returns the compensator used for an operation type.
func (r *Registry) Lookup(t engine.OperationType) (engine.Compensator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.byType[t]; ok {
		return c, true
	}
	return r.fallback, r.fallback != nil
}

// Compensate dispatches to the compensator for op's type.
func (r *Registry) Compensate(ctx context.Context, op engine.Operation, result engine.OperationResult) (*engine.OperationOutcome, error) {
	c, ok := r.Lookup(op.Type)
	if !ok {
		return nil, notCompensable(op, "no compensator registered for "+string(op.Type))
	}

	r.logger.Debug().
		Str("operation_id", op.ID).
		Str("type", string(op.Type)).
		Msg("Compensating operation")

	return c.Compensate(ctx, op, result)
}
