package stores

import (
	"context"
	"encoding/json"
	"time"

	"github.com/openfroyo/liqbatch/pkg/telemetry"
)

// EventSink returns a telemetry subscriber that appends every published event
// to the event log. Write failures are logged and dropped.
func (s *SQLiteStore) EventSink(logger *telemetry.Logger) telemetry.EventSubscriber {
	return func(event telemetry.Event) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := s.AppendEvent(ctx, FromTelemetryEvent(event)); err != nil {
			logger.WithError(err).WithField("event_type", event.Type).Warn("Failed to persist event")
		}
	}
}

// FromTelemetryEvent converts a published event into its stored form.
func FromTelemetryEvent(event telemetry.Event) *Event {
	stored := &Event{
		EventID:     event.ID,
		Type:        event.Type,
		Source:      event.Source,
		ExecutionID: nullString(event.ExecutionID),
		PlanID:      nullString(event.PlanID),
		OperationID: nullString(event.OperationID),
		Level:       EventLevel(event.Level),
		Message:     event.Message,
		Timestamp:   event.Timestamp,
	}

	if len(event.Data) > 0 {
		if details, err := json.Marshal(event.Data); err == nil {
			stored.Details = nullString(string(details))
		}
	}

	return stored
}
