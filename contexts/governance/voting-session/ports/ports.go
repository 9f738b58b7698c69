package ports

import (
	"context"
	"time"

	"agora/contexts/governance/voting-session/domain/entities"
	contractsv1 "agora/contracts/gen/events/v1"
)

// SessionChanges is what a unit of work commits next to the session state.
type SessionChanges struct {
	Events []EventEnvelope
	// Idempotency, when set, is claimed in the same commit. A live record
	// already holding the key aborts the whole commit with
	// ErrIdempotencyConflict.
	Idempotency *IdempotencyRecord
}

// SessionWork runs one domain operation against a private copy of the
// session. Returning an error discards the copy.
type SessionWork func(session *entities.Session) (SessionChanges, error)

type SessionRepository interface {
	CreateSession(ctx context.Context, session entities.Session) error
	GetSession(ctx context.Context, sessionID string) (entities.Session, error)
	// UpdateSession serializes mutations of one session. The new state, the
	// outbox envelopes and the idempotency record are committed together or
	// not at all.
	UpdateSession(ctx context.Context, sessionID string, work SessionWork) (entities.Session, error)
}

type IdempotencyRecord struct {
	Key             string
	RequestHash     string
	ResponsePayload []byte
	CreatedAt       time.Time
	ExpiresAt       time.Time
}

// Live reports whether the record still holds its key at now.
func (r IdempotencyRecord) Live(now time.Time) bool {
	return r.ExpiresAt.IsZero() || !now.UTC().After(r.ExpiresAt.UTC())
}

// IdempotencyStore reads records claimed through SessionChanges.
type IdempotencyStore interface {
	GetRecord(ctx context.Context, key string, now time.Time) (IdempotencyRecord, bool, error)
}

type Clock interface {
	Now() time.Time
}

type IDGenerator interface {
	NewID(ctx context.Context) (string, error)
}

type EventEnvelope = contractsv1.Envelope

type OutboxMessage struct {
	OutboxID     string
	EventType    string
	PartitionKey string
	Payload      []byte
	CreatedAt    time.Time
}

type OutboxRepository interface {
	ListPendingOutbox(ctx context.Context, limit int) ([]OutboxMessage, error)
	MarkOutboxPublished(ctx context.Context, outboxID string, publishedAt time.Time) error
}

type EventPublisher interface {
	Publish(ctx context.Context, topic string, event EventEnvelope) error
}

type EventSubscriber interface {
	Subscribe(
		ctx context.Context,
		topic string,
		consumerGroup string,
		handler func(context.Context, EventEnvelope) error,
	) error
}

type EventDedupStore interface {
	ReserveEvent(ctx context.Context, eventID string, payloadHash string, expiresAt time.Time) (bool, error)
}

// ProposalValidator normalizes proposal text before it reaches the session.
type ProposalValidator interface {
	ValidateDescription(ctx context.Context, description string) (string, error)
}
