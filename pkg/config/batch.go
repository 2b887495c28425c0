package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/liqbatch/pkg/engine"
)

// Batch is a batch file: a named set of operations and their plan options.
type Batch struct {
	// Name identifies the batch in logs and history.
	Name string `yaml:"name" validate:"required"`

	// Description is free text.
	Description string `yaml:"description,omitempty"`

	// Options are the plan options. Unset fields come from the planner defaults.
	Options engine.PlanOptions `yaml:"options" validate:"-"`

	// Specs are the operations as written in the file.
	Specs []OperationSpec `yaml:"operations" validate:"required,min=1,dive"`
}

// OperationSpec is one operation in a batch file.
type OperationSpec struct {
	ID                string                 `yaml:"id" validate:"required"`
	Type              engine.OperationType   `yaml:"type" validate:"required"`
	ResourceKey       string                 `yaml:"resource_key,omitempty"`
	Priority          int                    `yaml:"priority,omitempty"`
	DependsOn         []string               `yaml:"depends_on,omitempty"`
	EstimatedCost     float64                `yaml:"estimated_cost,omitempty" validate:"gte=0"`
	EstimatedDuration time.Duration          `yaml:"estimated_duration,omitempty" validate:"gte=0"`
	Timeout           time.Duration          `yaml:"timeout,omitempty" validate:"gte=0"`
	Metadata          map[string]string      `yaml:"metadata,omitempty"`
	Params            map[string]interface{} `yaml:"params"`
}

// LoadBatch reads and validates a batch file.
func LoadBatch(path string) (*Batch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read batch: %w", err)
	}
	return ParseBatch(data)
}

// ParseBatch parses and validates a YAML batch.
func ParseBatch(data []byte) (*Batch, error) {
	var b Batch
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("failed to parse batch: %w", err)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return &b, nil
}

// Validate checks the batch structure and enum values. Params are checked by
// the planner once decoded.
func (b *Batch) Validate() error {
	if err := validator.New().Struct(b); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}
	if err := validateOptionEnums(b.Options); err != nil {
		return fmt.Errorf("invalid batch options: %w", err)
	}
	for _, spec := range b.Specs {
		if err := spec.Type.Validate(); err != nil {
			return fmt.Errorf("operation %s: %w", spec.ID, err)
		}
	}
	return nil
}

// Operations converts the specs into engine operations with typed params.
func (b *Batch) Operations() ([]engine.Operation, error) {
	ops := make([]engine.Operation, 0, len(b.Specs))
	for _, spec := range b.Specs {
		op, err := spec.Operation()
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// PlanOptions returns the batch's plan options.
func (b *Batch) PlanOptions() engine.PlanOptions {
	return b.Options
}

// Operation converts the spec into an engine operation.
func (s OperationSpec) Operation() (engine.Operation, error) {
	raw, err := json.Marshal(s.Params)
	if err != nil {
		return engine.Operation{}, fmt.Errorf("operation %s: failed to encode params: %w", s.ID, err)
	}
	params, err := engine.DecodeParams(s.Type, raw)
	if err != nil {
		return engine.Operation{}, fmt.Errorf("operation %s: %w", s.ID, err)
	}

	return engine.Operation{
		ID:                s.ID,
		Type:              s.Type,
		ResourceKey:       s.ResourceKey,
		Priority:          s.Priority,
		Params:            params,
		DependsOn:         s.DependsOn,
		EstimatedCost:     s.EstimatedCost,
		EstimatedDuration: s.EstimatedDuration,
		Timeout:           s.Timeout,
		Metadata:          s.Metadata,
	}, nil
}
