package venue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/openfroyo/liqbatch/pkg/engine"
	"github.com/openfroyo/liqbatch/pkg/telemetry"
)

// HTTPName is the venue label used in metrics and traces.
const HTTPName = "http"

const defaultBridgeURL = "http://127.0.0.1:8787"

// maxErrorBody bounds how much of an error response is kept in the message.
const maxErrorBody = 4096

// HTTP submits operations to a venue bridge with POST /operations.
type HTTP struct {
	base      string
	hc        *http.Client
	userAgent string
}

var _ engine.OperationExecutor = (*HTTP)(nil)

// HTTPOption configures an HTTP venue.
type HTTPOption func(*HTTP)

// WithHTTPClient replaces the default client.
func WithHTTPClient(hc *http.Client) HTTPOption {
	return func(h *HTTP) {
		h.hc = hc
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) HTTPOption {
	return func(h *HTTP) {
		h.userAgent = ua
	}
}

// NewHTTP creates an HTTP venue for the bridge at base.
func NewHTTP(base string, opts ...HTTPOption) *HTTP {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		base = defaultBridgeURL
	}
	h := &HTTP{
		base:      base,
		hc:        &http.Client{Timeout: 30 * time.Second},
		userAgent: "liqbatch/venue",
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// operationRequest is the body of POST /operations.
type operationRequest struct {
	Operation     engine.Operation `json:"operation"`
	FeeMultiplier float64          `json:"fee_multiplier,omitempty"`
}

// operationResponse is the bridge's reply.
type operationResponse struct {
	Success    bool                   `json:"success"`
	Cost       float64                `json:"cost"`
	DurationMs int64                  `json:"duration_ms"`
	Error      string                 `json:"error,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// Execute posts the operation to the bridge.
func (h *HTTP) Execute(ctx context.Context, op engine.Operation) (*engine.OperationOutcome, error) {
	var outcome *engine.OperationOutcome
	err := recordCall(ctx, HTTPName, op, func(ctx context.Context) error {
		var err error
		outcome, err = h.post(ctx, op)
		return err
	})
	return outcome, err
}

func (h *HTTP) post(ctx context.Context, op engine.Operation) (*engine.OperationOutcome, error) {
	body := operationRequest{Operation: op}
	if settings, ok := engine.CostSettingsFromContext(ctx); ok && settings.Enabled {
		body.FeeMultiplier = settings.FeeMultiplier
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, engine.NewPermanentError("failed to encode operation", err).
			WithCode(engine.ErrCodeValidation).WithOperation(op.ID)
	}

	u := h.base + "/operations"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("newrequest operations: %w (url=%s)", err, u)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", h.userAgent)
	req.Header.Set("Idempotency-Key", op.ID)

	res, err := h.hc.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, engine.NewTransientError("venue request failed", err).WithOperation(op.ID)
	}
	defer res.Body.Close()

	if res.StatusCode >= 300 {
		return nil, statusError(op, res)
	}

	var out operationResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, engine.NewTransientError("failed to decode venue response", err).WithOperation(op.ID)
	}

	return &engine.OperationOutcome{
		Success:  out.Success,
		Cost:     out.Cost,
		Duration: time.Duration(out.DurationMs) * time.Millisecond,
		Error:    out.Error,
		Metadata: out.Metadata,
	}, nil
}

// statusError maps a non-2xx response onto an engine error class.
func statusError(op engine.Operation, res *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
	cause := fmt.Errorf("operations %d: %s", res.StatusCode, strings.TrimSpace(string(b)))

	var err *engine.EngineError
	switch {
	case res.StatusCode == http.StatusTooManyRequests:
		err = engine.NewThrottledError("venue rate limited", cause).WithCode(engine.ErrCodeRateLimited)
		if retryAfter := res.Header.Get("Retry-After"); retryAfter != "" {
			err = err.WithDetail("retry_after", retryAfter)
		}
	case res.StatusCode >= 500:
		err = engine.NewTransientError("venue unavailable", cause).WithCode(engine.ErrCodeExecutionFailed)
	default:
		err = engine.NewPermanentError("venue rejected operation", cause).WithCode(engine.ErrCodeExecutionFailed)
	}

	return err.WithOperation(op.ID).WithDetail("status", res.StatusCode)
}

// recordCall runs fn as a traced and timed venue call.
func recordCall(ctx context.Context, venue string, op engine.Operation, fn func(ctx context.Context) error) error {
	return telemetry.RecordVenueCall(ctx, venue, string(op.Type), fn)
}
