package commands

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	application "agora/contexts/governance/voting-session/application"
	"agora/contexts/governance/voting-session/domain/entities"
	domainerrors "agora/contexts/governance/voting-session/domain/errors"
	"agora/contexts/governance/voting-session/ports"
)

// AdminCommand drives a phase transition or the tally.
type AdminCommand struct {
	CallerID       string
	IdempotencyKey string
}

// VoterCommand registers or removes a voter identity.
type VoterCommand struct {
	CallerID       string
	Identity       string
	IdempotencyKey string
}

type RegisterProposalCommand struct {
	CallerID       string
	Description    string
	IdempotencyKey string
}

// ProposalCommand targets an existing proposal slot. It backs withdraw,
// remove and vote.
type ProposalCommand struct {
	CallerID       string
	ProposalID     int
	IdempotencyKey string
}

type DelegateVoteCommand struct {
	CallerID       string
	Delegate       string
	IdempotencyKey string
}

type TransferOwnershipCommand struct {
	CallerID       string
	NewOwner       string
	IdempotencyKey string
}

// CommandResult carries the notification produced by a command. Replayed is
// set when an idempotency key matched an earlier identical request.
type CommandResult struct {
	Event      entities.Event
	ProposalID int
	Replayed   bool
}

// SessionUseCase runs every mutating operation of the poll. Each command is
// validated, checked against the idempotency store, and applied inside a
// single repository unit of work that also appends the outbox envelope.
type SessionUseCase struct {
	Sessions       ports.SessionRepository
	Idempotency    ports.IdempotencyStore
	Validator      ports.ProposalValidator
	Clock          ports.Clock
	IDGen          ports.IDGenerator
	SessionID      string
	IdempotencyTTL time.Duration
	Logger         *slog.Logger
}

// EnsureSession loads the configured poll, creating it with admin as
// administrator on first use. An existing poll keeps its administrator.
func (uc SessionUseCase) EnsureSession(ctx context.Context, admin string) (entities.Session, error) {
	logger := application.ResolveLogger(uc.Logger, "application")
	session, err := uc.Sessions.GetSession(ctx, uc.SessionID)
	if err == nil {
		return session, nil
	}
	if !errors.Is(err, domainerrors.ErrSessionNotFound) {
		return entities.Session{}, err
	}

	session, err = entities.NewSession(uc.SessionID, admin, uc.now())
	if err != nil {
		return entities.Session{}, err
	}
	if err := uc.Sessions.CreateSession(ctx, session); err != nil {
		if errors.Is(err, domainerrors.ErrConflict) {
			return uc.Sessions.GetSession(ctx, uc.SessionID)
		}
		logger.Error("voting session create failed",
			"event", "voting_session_create_failed",
			"session_id", uc.SessionID,
			"error", err.Error(),
		)
		return entities.Session{}, err
	}
	logger.Info("voting session created",
		"event", "voting_session_created",
		"session_id", session.SessionID,
		"admin", session.Admin,
	)
	return session, nil
}

func (uc SessionUseCase) StartProposalsRegistration(ctx context.Context, cmd AdminCommand) (CommandResult, error) {
	return uc.transition(ctx, "start_proposals_registration", cmd, (*entities.Session).StartProposalsRegistration)
}

func (uc SessionUseCase) EndProposalsRegistration(ctx context.Context, cmd AdminCommand) (CommandResult, error) {
	return uc.transition(ctx, "end_proposals_registration", cmd, (*entities.Session).EndProposalsRegistration)
}

func (uc SessionUseCase) StartVotingSession(ctx context.Context, cmd AdminCommand) (CommandResult, error) {
	return uc.transition(ctx, "start_voting_session", cmd, (*entities.Session).StartVotingSession)
}

func (uc SessionUseCase) EndVotingSession(ctx context.Context, cmd AdminCommand) (CommandResult, error) {
	return uc.transition(ctx, "end_voting_session", cmd, (*entities.Session).EndVotingSession)
}

func (uc SessionUseCase) TallyVotes(ctx context.Context, cmd AdminCommand) (CommandResult, error) {
	return uc.transition(ctx, "tally_votes", cmd, (*entities.Session).TallyVotes)
}

func (uc SessionUseCase) RegisterVoter(ctx context.Context, cmd VoterCommand) (CommandResult, error) {
	identity := strings.TrimSpace(cmd.Identity)
	return uc.execute(ctx, operation{
		name:           "register_voter",
		callerID:       cmd.CallerID,
		idempotencyKey: cmd.IdempotencyKey,
		fields:         map[string]string{"identity": identity},
	}, func(session *entities.Session) (entities.Event, int, error) {
		event, err := session.RegisterVoter(cmd.CallerID, identity)
		return event, 0, err
	})
}

func (uc SessionUseCase) RemoveVoter(ctx context.Context, cmd VoterCommand) (CommandResult, error) {
	identity := strings.TrimSpace(cmd.Identity)
	return uc.execute(ctx, operation{
		name:           "remove_voter",
		callerID:       cmd.CallerID,
		idempotencyKey: cmd.IdempotencyKey,
		fields:         map[string]string{"identity": identity},
	}, func(session *entities.Session) (entities.Event, int, error) {
		event, err := session.RemoveVoter(cmd.CallerID, identity)
		return event, 0, err
	})
}

func (uc SessionUseCase) RegisterProposal(ctx context.Context, cmd RegisterProposalCommand) (CommandResult, error) {
	description := cmd.Description
	if uc.Validator != nil {
		validated, err := uc.Validator.ValidateDescription(ctx, description)
		if err != nil {
			logger := application.ResolveLogger(uc.Logger, "application")
			logger.Warn("proposal description rejected",
				"event", "voting_proposal_description_rejected",
				"caller_id", strings.TrimSpace(cmd.CallerID),
				"error", err.Error(),
			)
			return CommandResult{}, err
		}
		description = validated
	}
	return uc.execute(ctx, operation{
		name:           "register_proposal",
		callerID:       cmd.CallerID,
		idempotencyKey: cmd.IdempotencyKey,
		fields:         map[string]string{"description": description},
	}, func(session *entities.Session) (entities.Event, int, error) {
		proposalID, event, err := session.RegisterProposal(cmd.CallerID, description)
		return event, proposalID, err
	})
}

func (uc SessionUseCase) WithdrawProposal(ctx context.Context, cmd ProposalCommand) (CommandResult, error) {
	return uc.onProposal(ctx, "withdraw_proposal", cmd, (*entities.Session).WithdrawProposal)
}

func (uc SessionUseCase) RemoveProposal(ctx context.Context, cmd ProposalCommand) (CommandResult, error) {
	return uc.onProposal(ctx, "remove_proposal", cmd, (*entities.Session).RemoveProposal)
}

func (uc SessionUseCase) Vote(ctx context.Context, cmd ProposalCommand) (CommandResult, error) {
	return uc.onProposal(ctx, "vote", cmd, (*entities.Session).Vote)
}

func (uc SessionUseCase) DelegateVote(ctx context.Context, cmd DelegateVoteCommand) (CommandResult, error) {
	delegate := strings.TrimSpace(cmd.Delegate)
	return uc.execute(ctx, operation{
		name:           "delegate_vote",
		callerID:       cmd.CallerID,
		idempotencyKey: cmd.IdempotencyKey,
		fields:         map[string]string{"delegate": delegate},
	}, func(session *entities.Session) (entities.Event, int, error) {
		event, err := session.DelegateVote(cmd.CallerID, delegate)
		return event, 0, err
	})
}

func (uc SessionUseCase) TransferOwnership(ctx context.Context, cmd TransferOwnershipCommand) (CommandResult, error) {
	newOwner := strings.TrimSpace(cmd.NewOwner)
	return uc.execute(ctx, operation{
		name:           "transfer_ownership",
		callerID:       cmd.CallerID,
		idempotencyKey: cmd.IdempotencyKey,
		fields:         map[string]string{"new_owner": newOwner},
	}, func(session *entities.Session) (entities.Event, int, error) {
		event, err := session.TransferOwnership(cmd.CallerID, newOwner)
		return event, 0, err
	})
}

type operation struct {
	name           string
	callerID       string
	idempotencyKey string
	fields         map[string]string
}

type sessionMutation func(session *entities.Session) (entities.Event, int, error)

func (uc SessionUseCase) transition(
	ctx context.Context,
	name string,
	cmd AdminCommand,
	apply func(*entities.Session, string) (entities.Event, error),
) (CommandResult, error) {
	return uc.execute(ctx, operation{
		name:           name,
		callerID:       cmd.CallerID,
		idempotencyKey: cmd.IdempotencyKey,
	}, func(session *entities.Session) (entities.Event, int, error) {
		event, err := apply(session, cmd.CallerID)
		return event, event.ProposalID, err
	})
}

func (uc SessionUseCase) onProposal(
	ctx context.Context,
	name string,
	cmd ProposalCommand,
	apply func(*entities.Session, string, int) (entities.Event, error),
) (CommandResult, error) {
	return uc.execute(ctx, operation{
		name:           name,
		callerID:       cmd.CallerID,
		idempotencyKey: cmd.IdempotencyKey,
		fields:         map[string]string{"proposal_id": strconv.Itoa(cmd.ProposalID)},
	}, func(session *entities.Session) (entities.Event, int, error) {
		event, err := apply(session, cmd.CallerID, cmd.ProposalID)
		return event, cmd.ProposalID, err
	})
}

func (uc SessionUseCase) execute(ctx context.Context, op operation, mutate sessionMutation) (CommandResult, error) {
	logger := application.ResolveLogger(uc.Logger, "application")
	callerID := strings.TrimSpace(op.callerID)
	idempotencyKey := strings.TrimSpace(op.idempotencyKey)
	logger.Info("voting command processing started",
		"event", "voting_"+op.name+"_started",
		"session_id", uc.SessionID,
		"caller_id", callerID,
	)
	if callerID == "" {
		logger.Warn("voting command caller missing",
			"event", "voting_"+op.name+"_caller_missing",
			"session_id", uc.SessionID,
		)
		return CommandResult{}, domainerrors.ErrCallerRequired
	}

	now := uc.now()
	requestHash := hashOperation(op, callerID)
	if idempotencyKey != "" {
		replay, found, err := uc.lookupReplay(ctx, op, callerID, idempotencyKey, requestHash, now)
		if err != nil || found {
			return replay, err
		}
	}

	var result CommandResult
	_, err := uc.Sessions.UpdateSession(ctx, uc.SessionID, func(session *entities.Session) (ports.SessionChanges, error) {
		event, proposalID, err := mutate(session)
		if err != nil {
			return ports.SessionChanges{}, err
		}
		session.UpdatedAt = now
		eventID, err := uc.IDGen.NewID(ctx)
		if err != nil {
			return ports.SessionChanges{}, err
		}
		envelope, err := newSessionEnvelope(eventID, event, now)
		if err != nil {
			return ports.SessionChanges{}, err
		}
		result = CommandResult{Event: event, ProposalID: proposalID}
		changes := ports.SessionChanges{Events: []ports.EventEnvelope{envelope}}
		if idempotencyKey != "" {
			payload, err := json.Marshal(result)
			if err != nil {
				return ports.SessionChanges{}, err
			}
			changes.Idempotency = &ports.IdempotencyRecord{
				Key:             idempotencyKey,
				RequestHash:     requestHash,
				ResponsePayload: payload,
				CreatedAt:       now,
				ExpiresAt:       now.Add(uc.resolveIdempotencyTTL()),
			}
		}
		return changes, nil
	})
	if err != nil && idempotencyKey != "" {
		// A concurrent request with the same key may have committed while
		// this one ran. Nothing was committed here, so answer as the later
		// arrival would have been answered.
		replay, found, lookupErr := uc.lookupReplay(ctx, op, callerID, idempotencyKey, requestHash, now)
		if found || errors.Is(lookupErr, domainerrors.ErrIdempotencyConflict) {
			return replay, lookupErr
		}
	}
	if err != nil {
		logger.Warn("voting command rejected",
			"event", "voting_"+op.name+"_rejected",
			"session_id", uc.SessionID,
			"caller_id", callerID,
			"error", err.Error(),
		)
		return CommandResult{}, err
	}

	logger.Info("voting command applied",
		"event", "voting_"+op.name+"_applied",
		"session_id", uc.SessionID,
		"caller_id", callerID,
		"event_type", string(result.Event.Type),
		"proposal_id", result.ProposalID,
	)
	return result, nil
}

// lookupReplay returns the stored response for key when it was recorded for
// the same request. A record for a different request is a conflict.
func (uc SessionUseCase) lookupReplay(
	ctx context.Context,
	op operation,
	callerID string,
	key string,
	requestHash string,
	now time.Time,
) (CommandResult, bool, error) {
	logger := application.ResolveLogger(uc.Logger, "application")
	record, found, err := uc.Idempotency.GetRecord(ctx, key, now)
	if err != nil {
		logger.Error("voting command idempotency lookup failed",
			"event", "voting_"+op.name+"_idempotency_lookup_failed",
			"session_id", uc.SessionID,
			"caller_id", callerID,
			"error", err.Error(),
		)
		return CommandResult{}, false, err
	}
	if !found {
		return CommandResult{}, false, nil
	}
	if record.RequestHash != requestHash {
		logger.Warn("voting command idempotency conflict",
			"event", "voting_"+op.name+"_idempotency_conflict",
			"session_id", uc.SessionID,
			"caller_id", callerID,
		)
		return CommandResult{}, false, domainerrors.ErrIdempotencyConflict
	}
	var replay CommandResult
	if err := json.Unmarshal(record.ResponsePayload, &replay); err != nil {
		return CommandResult{}, false, err
	}
	replay.Replayed = true
	logger.Info("voting command replayed",
		"event", "voting_"+op.name+"_replayed",
		"session_id", uc.SessionID,
		"caller_id", callerID,
	)
	return replay, true, nil
}

func (uc SessionUseCase) now() time.Time {
	now := time.Now().UTC()
	if uc.Clock != nil {
		now = uc.Clock.Now().UTC()
	}
	return now
}

func (uc SessionUseCase) resolveIdempotencyTTL() time.Duration {
	if uc.IdempotencyTTL <= 0 {
		return 7 * 24 * time.Hour
	}
	return uc.IdempotencyTTL
}

func hashOperation(op operation, callerID string) string {
	payload := map[string]string{
		"caller_id": callerID,
		"op":        op.name,
	}
	for key, value := range op.fields {
		payload[key] = value
	}
	raw, _ := json.Marshal(payload)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
