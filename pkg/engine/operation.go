package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Operation is one requested state change submitted as part of a batch.
type Operation struct {
	// ID is the unique identifier for this operation within its batch.
	ID string `json:"id"`

	// Type is the kind of state change requested.
	Type OperationType `json:"type"`

	// ResourceKey identifies the shared target (pool and user).
	// When empty it is derived from Params.
	ResourceKey string `json:"resource_key,omitempty"`

	// Priority breaks ordering ties; higher runs first.
	Priority int `json:"priority"`

	// Params is the type-specific payload.
	Params Params `json:"params"`

	// DependsOn lists operation IDs that must complete before this one starts.
	DependsOn []string `json:"depends_on,omitempty"`

	// EstimatedCost is the caller's cost estimate in venue fee units.
	EstimatedCost float64 `json:"estimated_cost"`

	// EstimatedDuration is the caller's duration estimate.
	EstimatedDuration time.Duration `json:"estimated_duration"`

	// Timeout overrides the plan's per-operation timeout when set.
	Timeout time.Duration `json:"timeout,omitempty"`

	// Metadata holds caller labels that are copied into the result.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Target returns the resource key, deriving it from the params when unset.
func (o Operation) Target() string {
	if o.ResourceKey != "" {
		return o.ResourceKey
	}
	if o.Params != nil {
		return o.Params.ResourceKey()
	}
	return ""
}

// clone returns a copy that shares no mutable state with the original.
func (o Operation) clone() Operation {
	c := o
	if o.DependsOn != nil {
		c.DependsOn = append([]string(nil), o.DependsOn...)
	}
	if o.Metadata != nil {
		c.Metadata = make(map[string]string, len(o.Metadata))
		for k, v := range o.Metadata {
			c.Metadata[k] = v
		}
	}
	return c
}

// Fingerprint identifies parameter-identical operations regardless of ID.
// It is used as the cache key for idempotent replay.
func (o Operation) Fingerprint() (string, error) {
	payload, err := json.Marshal(o.Params)
	if err != nil {
		return "", fmt.Errorf("failed to marshal params: %w", err)
	}

	h := sha256.New()
	h.Write([]byte(o.Type))
	h.Write([]byte{0})
	h.Write([]byte(o.Target()))
	h.Write([]byte{0})
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// UnmarshalJSON decodes an operation, using the type field to pick the params variant.
func (o *Operation) UnmarshalJSON(data []byte) error {
	type alias Operation
	var raw struct {
		alias
		Params json.RawMessage `json:"params"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	params, err := DecodeParams(raw.Type, raw.Params)
	if err != nil {
		return err
	}

	*o = Operation(raw.alias)
	o.Params = params
	return nil
}
