package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/liqbatch/pkg/engine"
	"github.com/openfroyo/liqbatch/pkg/policy"
	"github.com/openfroyo/liqbatch/pkg/telemetry"
)

// Venue kinds.
const (
	VenuePaper = "paper"
	VenueHTTP  = "http"
)

// Settings is the operator configuration.
type Settings struct {
	// Store configures the SQLite store.
	Store StoreSettings `yaml:"store"`

	// Telemetry configures logging, tracing, metrics and events.
	Telemetry *telemetry.Config `yaml:"telemetry" validate:"required"`

	// Policy configures plan policies.
	Policy PolicySettings `yaml:"policy"`

	// Venue selects the execution venue.
	Venue VenueSettings `yaml:"venue"`

	// Compensation configures rollback compensators.
	Compensation CompensationSettings `yaml:"compensation"`

	// Inbox configures the batch drop directory.
	Inbox InboxSettings `yaml:"inbox"`

	// Defaults are the plan options used for anything a batch leaves unset.
	Defaults engine.PlanOptions `yaml:"defaults"`
}

// StoreSettings configures persistence.
type StoreSettings struct {
	// Path is the SQLite database file.
	Path string `yaml:"path" validate:"required"`

	// Cache enables replaying successful outcomes from the store cache.
	Cache bool `yaml:"cache"`
}

// PolicySettings configures the policy engine.
type PolicySettings struct {
	// Paths lists .rego and YAML policy files or directories.
	Paths []string `yaml:"paths"`

	// Watch reloads policies when files under Paths change.
	Watch bool `yaml:"watch"`

	// Environment is passed to policies as input.context.environment.
	Environment string `yaml:"environment"`

	// Limits are the bounds the builtin policies enforce.
	Limits policy.Limits `yaml:"limits"`

	// Disabled lists policy names to disable.
	Disabled []string `yaml:"disabled"`
}

// VenueSettings selects and configures the venue.
type VenueSettings struct {
	// Kind is paper or http.
	Kind string `yaml:"kind" validate:"required,oneof=paper http"`

	// URL is the bridge base URL for the http venue.
	URL string `yaml:"url" validate:"required_if=Kind http,omitempty,url"`

	// Timeout bounds one HTTP request.
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`

	// Latency is the simulated latency of the paper venue.
	Latency time.Duration `yaml:"latency" validate:"gte=0"`

	// Prices are paper venue pool prices in quote units per base unit.
	Prices map[string]float64 `yaml:"prices" validate:"dive,gt=0"`
}

// CompensationSettings configures how completed operations are undone.
type CompensationSettings struct {
	// Inverse enables the built-in inverse compensators.
	Inverse bool `yaml:"inverse"`

	// Scripts maps operation types to Starlark compensation scripts.
	Scripts map[engine.OperationType]string `yaml:"scripts"`
}

// InboxSettings configures the watched batch directory.
type InboxSettings struct {
	// Dir is the directory watched for batch files.
	Dir string `yaml:"dir"`
}

// DefaultSettings returns settings for a local paper-trading setup.
func DefaultSettings() *Settings {
	return &Settings{
		Store: StoreSettings{
			Path:  "liqbatch.db",
			Cache: true,
		},
		Telemetry: telemetry.DefaultConfig(),
		Venue: VenueSettings{
			Kind:    VenuePaper,
			Timeout: 30 * time.Second,
		},
		Compensation: CompensationSettings{
			Inverse: true,
		},
		Inbox: InboxSettings{
			Dir: "inbox",
		},
		Defaults: engine.DefaultPlanOptions(),
	}
}

// LoadSettings reads settings from path on top of DefaultSettings.
func LoadSettings(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}
	return ParseSettings(data)
}

// ParseSettings parses YAML settings on top of DefaultSettings.
func ParseSettings(data []byte) (*Settings, error) {
	s := DefaultSettings()
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks the settings.
func (s *Settings) Validate() error {
	if err := validator.New().Struct(s); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	if err := s.Telemetry.Validate(); err != nil {
		return fmt.Errorf("invalid telemetry settings: %w", err)
	}
	if err := validateOptionEnums(s.Defaults); err != nil {
		return fmt.Errorf("invalid default plan options: %w", err)
	}
	for t := range s.Compensation.Scripts {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("invalid compensation script key: %w", err)
		}
	}
	return nil
}

// validateOptionEnums checks the enum fields that are set.
func validateOptionEnums(o engine.PlanOptions) error {
	if o.Strategy != "" {
		if err := o.Strategy.Validate(); err != nil {
			return err
		}
	}
	if o.Execution.FailureHandling != "" {
		if err := o.Execution.FailureHandling.Validate(); err != nil {
			return err
		}
	}
	if o.Execution.DependencyFailureMode != "" {
		if err := o.Execution.DependencyFailureMode.Validate(); err != nil {
			return err
		}
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
	if o.Rollback.Order != "" {
		return o.Rollback.Order.Validate()
	}
	return nil
}
