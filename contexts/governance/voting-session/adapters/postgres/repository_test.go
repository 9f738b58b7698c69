package postgresadapter

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"agora/contexts/governance/voting-session/domain/entities"
	domainerrors "agora/contexts/governance/voting-session/domain/errors"
	"agora/contexts/governance/voting-session/ports"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	// Every connection to :memory: is a separate database.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewRepository(db, nil)
}

func seedSession(t *testing.T, repo *Repository) entities.Session {
	t.Helper()
	session, err := entities.NewSession("poll-1", "admin", time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if err := repo.CreateSession(context.Background(), session); err != nil {
		t.Fatalf("create session: %v", err)
	}
	return session
}

func envelopeFor(t *testing.T, eventID string, event entities.Event, at time.Time) ports.EventEnvelope {
	t.Helper()
	data, err := json.Marshal(event.Data())
	if err != nil {
		t.Fatalf("marshal data: %v", err)
	}
	return ports.EventEnvelope{
		EventID:          eventID,
		EventType:        string(event.Type),
		OccurredAt:       at,
		SourceService:    "voting-session",
		TraceID:          eventID,
		SchemaVersion:    1,
		PartitionKeyPath: "session_id",
		PartitionKey:     event.SessionID,
		Data:             data,
	}
}

func TestRepositoryCreateSessionRejectsDuplicate(t *testing.T) {
	repo := newTestRepository(t)
	session := seedSession(t, repo)

	if err := repo.CreateSession(context.Background(), session); !errors.Is(err, domainerrors.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if _, err := repo.GetSession(context.Background(), "missing"); !errors.Is(err, domainerrors.ErrSessionNotFound) {
		t.Fatalf("expected session not found, got %v", err)
	}
}

func TestRepositoryUpdateSessionPersistsStateAndOutbox(t *testing.T) {
	repo := newTestRepository(t)
	seedSession(t, repo)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	steps := []func(*entities.Session) (entities.Event, error){
		func(s *entities.Session) (entities.Event, error) { return s.RegisterVoter("admin", "alice") },
		func(s *entities.Session) (entities.Event, error) { return s.RegisterVoter("admin", "bob") },
		func(s *entities.Session) (entities.Event, error) { return s.DelegateVote("alice", "bob") },
		func(s *entities.Session) (entities.Event, error) { return s.StartProposalsRegistration("admin") },
		func(s *entities.Session) (entities.Event, error) {
			_, event, err := s.RegisterProposal("alice", "Build a park")
			return event, err
		},
		func(s *entities.Session) (entities.Event, error) {
			_, event, err := s.RegisterProposal("bob", "Fix the roads")
			return event, err
		},
		func(s *entities.Session) (entities.Event, error) { return s.WithdrawProposal("bob", 1) },
		func(s *entities.Session) (entities.Event, error) { return s.EndProposalsRegistration("admin") },
		func(s *entities.Session) (entities.Event, error) { return s.StartVotingSession("admin") },
		func(s *entities.Session) (entities.Event, error) { return s.Vote("alice", 0) },
	}
	for i, step := range steps {
		eventID := "event-" + string(rune('a'+i))
		stepAt := at.Add(time.Duration(i) * time.Second)
		if _, err := repo.UpdateSession(ctx, "poll-1", func(s *entities.Session) (ports.SessionChanges, error) {
			event, err := step(s)
			if err != nil {
				return ports.SessionChanges{}, err
			}
			return ports.SessionChanges{Events: []ports.EventEnvelope{envelopeFor(t, eventID, event, stepAt)}}, nil
		}); err != nil {
			t.Fatalf("step %d failed: %v", i, err)
		}
	}

	session, err := repo.GetSession(ctx, "poll-1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if session.Phase != entities.PhaseVotingSessionStarted {
		t.Fatalf("expected voting started, got %s", session.Phase)
	}
	alice := session.Voter("alice")
	if !alice.IsRegistered || !alice.HasVoted || alice.VotedProposalID != 0 || alice.Delegate != "bob" {
		t.Fatalf("unexpected alice record: %+v", alice)
	}
	if len(session.Proposals) != 2 {
		t.Fatalf("expected 2 slots, got %d", len(session.Proposals))
	}
	if session.Proposals[0].VoteCount != 1 || !session.Proposals[1].Withdrawn() {
		t.Fatalf("unexpected proposals: %+v", session.Proposals)
	}

	pending, err := repo.ListPendingOutbox(ctx, 100)
	if err != nil {
		t.Fatalf("list outbox: %v", err)
	}
	if len(pending) != len(steps) {
		t.Fatalf("expected %d outbox rows, got %d", len(steps), len(pending))
	}
	if pending[0].EventType != string(entities.EventVoterRegistered) || pending[len(pending)-1].EventType != string(entities.EventVoteCast) {
		t.Fatalf("outbox rows out of order: first=%s last=%s", pending[0].EventType, pending[len(pending)-1].EventType)
	}
	if err := repo.MarkOutboxPublished(ctx, pending[0].OutboxID, at); err != nil {
		t.Fatalf("mark published: %v", err)
	}
	remaining, err := repo.ListPendingOutbox(ctx, 100)
	if err != nil || len(remaining) != len(steps)-1 {
		t.Fatalf("expected %d pending rows, got %d err=%v", len(steps)-1, len(remaining), err)
	}
	if err := repo.MarkOutboxPublished(ctx, "unknown", at); !errors.Is(err, domainerrors.ErrConflict) {
		t.Fatalf("expected conflict for unknown outbox row, got %v", err)
	}
}

func TestRepositoryUpdateSessionRollsBackOnError(t *testing.T) {
	repo := newTestRepository(t)
	seedSession(t, repo)
	ctx := context.Background()

	_, err := repo.UpdateSession(ctx, "poll-1", func(s *entities.Session) (ports.SessionChanges, error) {
		if _, err := s.RegisterVoter("admin", "alice"); err != nil {
			return ports.SessionChanges{}, err
		}
		_, err := s.RegisterVoter("admin", "alice")
		return ports.SessionChanges{}, err
	})
	if !errors.Is(err, domainerrors.ErrAlreadyRegistered) {
		t.Fatalf("expected already registered, got %v", err)
	}

	session, err := repo.GetSession(ctx, "poll-1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if session.IsRegistered("alice") {
		t.Fatalf("failed unit of work must not persist voters")
	}
	pending, _ := repo.ListPendingOutbox(ctx, 10)
	if len(pending) != 0 {
		t.Fatalf("failed unit of work must not append outbox rows, got %d", len(pending))
	}
}

func TestRepositoryRemoveVoterDeletesRow(t *testing.T) {
	repo := newTestRepository(t)
	seedSession(t, repo)
	ctx := context.Background()

	apply := func(step func(*entities.Session) (entities.Event, error)) {
		t.Helper()
		if _, err := repo.UpdateSession(ctx, "poll-1", func(s *entities.Session) (ports.SessionChanges, error) {
			_, err := step(s)
			return ports.SessionChanges{}, err
		}); err != nil {
			t.Fatalf("update failed: %v", err)
		}
	}
	apply(func(s *entities.Session) (entities.Event, error) { return s.RegisterVoter("admin", "alice") })
	apply(func(s *entities.Session) (entities.Event, error) { return s.RemoveVoter("admin", "alice") })

	session, err := repo.GetSession(ctx, "poll-1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if len(session.Voters) != 0 {
		t.Fatalf("expected no voter rows, got %+v", session.Voters)
	}
}

func TestRepositoryTallyPersistsWinner(t *testing.T) {
	repo := newTestRepository(t)
	seedSession(t, repo)
	ctx := context.Background()

	_, err := repo.UpdateSession(ctx, "poll-1", func(s *entities.Session) (ports.SessionChanges, error) {
		steps := []func() error{
			func() error { _, err := s.RegisterVoter("admin", "alice"); return err },
			func() error { _, err := s.StartProposalsRegistration("admin"); return err },
			func() error { _, _, err := s.RegisterProposal("alice", "P1"); return err },
			func() error { _, err := s.EndProposalsRegistration("admin"); return err },
			func() error { _, err := s.StartVotingSession("admin"); return err },
			func() error { _, err := s.EndVotingSession("admin"); return err },
			func() error { _, err := s.TallyVotes("admin"); return err },
		}
		for _, step := range steps {
			if err := step(); err != nil {
				return ports.SessionChanges{}, err
			}
		}
		return ports.SessionChanges{}, nil
	})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}

	session, err := repo.GetSession(ctx, "poll-1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	winner, err := session.Winner()
	if err != nil || winner != 0 {
		t.Fatalf("expected persisted winner 0, got %d err=%v", winner, err)
	}
}

func TestRepositoryIdempotencyClaimSharesTransaction(t *testing.T) {
	repo := newTestRepository(t)
	seedSession(t, repo)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	register := func(identity string, at time.Time) error {
		_, err := repo.UpdateSession(ctx, "poll-1", func(s *entities.Session) (ports.SessionChanges, error) {
			event, err := s.RegisterVoter("admin", identity)
			if err != nil {
				return ports.SessionChanges{}, err
			}
			return ports.SessionChanges{
				Events: []ports.EventEnvelope{envelopeFor(t, "event-"+identity, event, at)},
				Idempotency: &ports.IdempotencyRecord{
					Key:             "idem-1",
					RequestHash:     "hash-" + identity,
					ResponsePayload: []byte(`{"ProposalID":0}`),
					CreatedAt:       at,
					ExpiresAt:       at.Add(time.Hour),
				},
			}, nil
		})
		return err
	}

	if err := register("alice", now); err != nil {
		t.Fatalf("first claim failed: %v", err)
	}
	if err := register("bob", now.Add(time.Minute)); !errors.Is(err, domainerrors.ErrIdempotencyConflict) {
		t.Fatalf("expected idempotency conflict, got %v", err)
	}

	session, err := repo.GetSession(ctx, "poll-1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if session.IsRegistered("bob") {
		t.Fatalf("rejected claim must roll back the voter row")
	}
	pending, _ := repo.ListPendingOutbox(ctx, 10)
	if len(pending) != 1 || pending[0].OutboxID != "event-alice" {
		t.Fatalf("rejected claim must roll back the outbox row, got %+v", pending)
	}

	got, found, err := repo.GetRecord(ctx, "idem-1", now)
	if err != nil || !found {
		t.Fatalf("expected record, found=%v err=%v", found, err)
	}
	if got.RequestHash != "hash-alice" || string(got.ResponsePayload) != `{"ProposalID":0}` {
		t.Fatalf("unexpected record: %+v", got)
	}

	// An expired holder is taken over by the next claim.
	if err := register("carol", now.Add(2*time.Hour)); err != nil {
		t.Fatalf("claim after expiry failed: %v", err)
	}
	got, found, err = repo.GetRecord(ctx, "idem-1", now.Add(2*time.Hour))
	if err != nil || !found || got.RequestHash != "hash-carol" {
		t.Fatalf("expected carol's record, got %+v found=%v err=%v", got, found, err)
	}
	if _, found, err := repo.GetRecord(ctx, "idem-1", now.Add(4*time.Hour)); err != nil || found {
		t.Fatalf("expected expired record to be dropped, found=%v err=%v", found, err)
	}
}

func TestRepositoryOutboxKeepsCommitOrderWithinOneTick(t *testing.T) {
	repo := newTestRepository(t)
	seedSession(t, repo)
	ctx := context.Background()
	tick := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	// Event ids sort opposite to commit order and every row shares one
	// timestamp, so only the sequence can keep the order.
	identities := []string{"zoe", "yann", "xia", "walt"}
	for _, identity := range identities {
		eventID := "event-" + identity
		if _, err := repo.UpdateSession(ctx, "poll-1", func(s *entities.Session) (ports.SessionChanges, error) {
			event, err := s.RegisterVoter("admin", identity)
			if err != nil {
				return ports.SessionChanges{}, err
			}
			return ports.SessionChanges{Events: []ports.EventEnvelope{envelopeFor(t, eventID, event, tick)}}, nil
		}); err != nil {
			t.Fatalf("register %s failed: %v", identity, err)
		}
	}

	pending, err := repo.ListPendingOutbox(ctx, 10)
	if err != nil {
		t.Fatalf("list outbox: %v", err)
	}
	if len(pending) != len(identities) {
		t.Fatalf("expected %d rows, got %d", len(identities), len(pending))
	}
	for i, identity := range identities {
		if pending[i].OutboxID != "event-"+identity {
			t.Fatalf("row %d: expected event-%s, got %s", i, identity, pending[i].OutboxID)
		}
	}
}

func TestRepositoryReserveEvent(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	expires := time.Now().Add(time.Hour)

	duplicate, err := repo.ReserveEvent(ctx, "event-1", "hash-1", expires)
	if err != nil || duplicate {
		t.Fatalf("first reservation should be new, duplicate=%v err=%v", duplicate, err)
	}
	duplicate, err = repo.ReserveEvent(ctx, "event-1", "hash-1", expires)
	if err != nil || !duplicate {
		t.Fatalf("second reservation should be a duplicate, duplicate=%v err=%v", duplicate, err)
	}
	if _, err := repo.ReserveEvent(ctx, "event-1", "hash-2", expires); !errors.Is(err, domainerrors.ErrConflict) {
		t.Fatalf("expected conflict for different payload, got %v", err)
	}
}
