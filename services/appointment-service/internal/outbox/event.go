package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event is a domain event staged in the same transaction as the change it
// describes. It is relayed to the Kafka topic named by EventType.
type Event struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	Traceparent   string
	Tracestate    string
	OccurredAt    time.Time
}

func NewEvent(aggregateType, aggregateID, eventType string, payload any, at time.Time) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Event{
		ID:            uuid.NewString(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       raw,
		OccurredAt:    at.UTC(),
	}, nil
}

// Record is a stored event awaiting relay.
type Record struct {
	Seq int64
	Event
}
