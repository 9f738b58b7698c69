package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"agora/contexts/governance/voting-session/domain/entities"
	domainerrors "agora/contexts/governance/voting-session/domain/errors"
	"agora/contexts/governance/voting-session/ports"

	"github.com/google/uuid"
)

type outboxRecord struct {
	message   ports.OutboxMessage
	sequence  uint64
	published bool
}

type dedupRecord struct {
	payloadHash string
	expiresAt   time.Time
}

// Store is the in-process adapter. A single mutex serializes every unit of
// work, which gives each session mutation exclusive access.
type Store struct {
	mu sync.RWMutex

	sessions    map[string]entities.Session
	idempotency map[string]ports.IdempotencyRecord
	outbox      map[string]outboxRecord
	eventDedup  map[string]dedupRecord
	sequence    uint64
}

func NewStore(seed []entities.Session) *Store {
	sessions := make(map[string]entities.Session, len(seed))
	for _, session := range seed {
		sessions[strings.TrimSpace(session.SessionID)] = session.Clone()
	}
	return &Store{
		sessions:    sessions,
		idempotency: make(map[string]ports.IdempotencyRecord),
		outbox:      make(map[string]outboxRecord),
		eventDedup:  make(map[string]dedupRecord),
	}
}

func (s *Store) CreateSession(_ context.Context, session entities.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sessionID := strings.TrimSpace(session.SessionID)
	if _, exists := s.sessions[sessionID]; exists {
		return domainerrors.ErrConflict
	}
	s.sessions[sessionID] = session.Clone()
	return nil
}

func (s *Store) GetSession(_ context.Context, sessionID string) (entities.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[strings.TrimSpace(sessionID)]
	if !ok {
		return entities.Session{}, domainerrors.ErrSessionNotFound
	}
	return session.Clone(), nil
}

// UpdateSession hands work a copy of the stored session and commits the copy
// together with its outbox envelopes and idempotency claim only when work
// succeeds and the claim is free.
func (s *Store) UpdateSession(
	_ context.Context,
	sessionID string,
	work ports.SessionWork,
) (entities.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessionID = strings.TrimSpace(sessionID)
	current, ok := s.sessions[sessionID]
	if !ok {
		return entities.Session{}, domainerrors.ErrSessionNotFound
	}
	draft := current.Clone()
	changes, err := work(&draft)
	if err != nil {
		return entities.Session{}, err
	}

	var claim *ports.IdempotencyRecord
	if changes.Idempotency != nil {
		record := *changes.Idempotency
		record.Key = strings.TrimSpace(record.Key)
		if existing, taken := s.idempotency[record.Key]; taken && existing.Live(record.CreatedAt) {
			return entities.Session{}, domainerrors.ErrIdempotencyConflict
		}
		record.RequestHash = strings.TrimSpace(record.RequestHash)
		record.ResponsePayload = append([]byte(nil), record.ResponsePayload...)
		record.CreatedAt = record.CreatedAt.UTC()
		record.ExpiresAt = record.ExpiresAt.UTC()
		claim = &record
	}

	staged := make([]outboxRecord, 0, len(changes.Events))
	for _, envelope := range changes.Events {
		record, err := s.newOutboxRecordLocked(envelope)
		if err != nil {
			return entities.Session{}, err
		}
		staged = append(staged, record)
	}
	for _, record := range staged {
		s.outbox[record.message.OutboxID] = record
	}
	if claim != nil {
		s.idempotency[claim.Key] = *claim
	}
	s.sessions[sessionID] = draft
	return draft.Clone(), nil
}

func (s *Store) GetRecord(_ context.Context, key string, now time.Time) (ports.IdempotencyRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key = strings.TrimSpace(key)
	record, ok := s.idempotency[key]
	if !ok {
		return ports.IdempotencyRecord{}, false, nil
	}
	if !record.Live(now) {
		delete(s.idempotency, key)
		return ports.IdempotencyRecord{}, false, nil
	}
	record.ResponsePayload = append([]byte(nil), record.ResponsePayload...)
	return record, true, nil
}

func (s *Store) newOutboxRecordLocked(envelope ports.EventEnvelope) (outboxRecord, error) {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return outboxRecord{}, err
	}
	outboxID := strings.TrimSpace(envelope.EventID)
	if outboxID == "" {
		outboxID = uuid.NewString()
	}
	if existing, ok := s.outbox[outboxID]; ok && !bytes.Equal(existing.message.Payload, payload) {
		return outboxRecord{}, domainerrors.ErrConflict
	}
	createdAt := envelope.OccurredAt.UTC()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	s.sequence++
	return outboxRecord{
		message: ports.OutboxMessage{
			OutboxID:     outboxID,
			EventType:    strings.TrimSpace(envelope.EventType),
			PartitionKey: strings.TrimSpace(envelope.PartitionKey),
			Payload:      payload,
			CreatedAt:    createdAt,
		},
		sequence: s.sequence,
	}, nil
}

func (s *Store) ListPendingOutbox(_ context.Context, limit int) ([]ports.OutboxMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	rows := make([]outboxRecord, 0, len(s.outbox))
	for _, row := range s.outbox {
		if row.published {
			continue
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].sequence < rows[j].sequence
	})
	if len(rows) > limit {
		rows = rows[:limit]
	}
	items := make([]ports.OutboxMessage, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.message)
	}
	return items, nil
}

func (s *Store) MarkOutboxPublished(_ context.Context, outboxID string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.outbox[strings.TrimSpace(outboxID)]
	if !ok {
		return domainerrors.ErrConflict
	}
	row.published = true
	s.outbox[strings.TrimSpace(outboxID)] = row
	return nil
}

func (s *Store) ReserveEvent(
	_ context.Context,
	eventID string,
	payloadHash string,
	expiresAt time.Time,
) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.TrimSpace(eventID)
	existing, ok := s.eventDedup[key]
	if ok {
		if !existing.expiresAt.IsZero() && time.Now().UTC().After(existing.expiresAt.UTC()) {
			delete(s.eventDedup, key)
		} else {
			if existing.payloadHash != strings.TrimSpace(payloadHash) {
				return false, domainerrors.ErrConflict
			}
			return true, nil
		}
	}

	s.eventDedup[key] = dedupRecord{
		payloadHash: strings.TrimSpace(payloadHash),
		expiresAt:   expiresAt.UTC(),
	}
	return false, nil
}

func (s *Store) Now() time.Time {
	return time.Now().UTC()
}

func (s *Store) NewID(_ context.Context) (string, error) {
	return uuid.NewString(), nil
}

var (
	_ ports.SessionRepository = (*Store)(nil)
	_ ports.IdempotencyStore  = (*Store)(nil)
	_ ports.OutboxRepository  = (*Store)(nil)
	_ ports.EventDedupStore   = (*Store)(nil)
	_ ports.Clock             = (*Store)(nil)
	_ ports.IDGenerator       = (*Store)(nil)
)
