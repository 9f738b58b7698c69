package commands

import (
	"encoding/json"
	"time"

	"agora/contexts/governance/voting-session/domain/entities"
	"agora/contexts/governance/voting-session/ports"
)

const sourceService = "voting-session"

func newSessionEnvelope(
	eventID string,
	event entities.Event,
	occurredAt time.Time,
) (ports.EventEnvelope, error) {
	// Every event of a poll shares one partition so consumers see them in
	// the order they were committed.
	payload, err := json.Marshal(event.Data())
	if err != nil {
		return ports.EventEnvelope{}, err
	}
	return ports.EventEnvelope{
		EventID:          eventID,
		EventType:        string(event.Type),
		OccurredAt:       occurredAt.UTC(),
		SourceService:    sourceService,
		TraceID:          eventID,
		SchemaVersion:    1,
		PartitionKeyPath: "session_id",
		PartitionKey:     event.SessionID,
		Data:             payload,
	}, nil
}
