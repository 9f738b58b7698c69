package queries

import (
	"context"
	"strings"

	"agora/contexts/governance/voting-session/domain/entities"
	domainerrors "agora/contexts/governance/voting-session/domain/errors"
	"agora/contexts/governance/voting-session/ports"
)

type ProposalView struct {
	ProposalID  int
	Description string
	VoteCount   uint64
	Withdrawn   bool
}

type VoterView struct {
	Identity string
	entities.Voter
}

// Results is the public snapshot of a poll. WinningProposalID is nil until
// the votes are tallied.
type Results struct {
	SessionID         string
	Admin             string
	Phase             entities.Phase
	Proposals         []ProposalView
	RegisteredVoters  int
	TotalVotes        uint64
	WinningProposalID *int
}

type WinnerView struct {
	ProposalID  int
	Description string
	VoteCount   uint64
}

type SessionQueries struct {
	Sessions  ports.SessionRepository
	SessionID string
}

func (q SessionQueries) Status(ctx context.Context) (entities.Phase, error) {
	session, err := q.Sessions.GetSession(ctx, q.SessionID)
	if err != nil {
		return 0, err
	}
	return session.Phase, nil
}

func (q SessionQueries) Owner(ctx context.Context) (string, error) {
	session, err := q.Sessions.GetSession(ctx, q.SessionID)
	if err != nil {
		return "", err
	}
	return session.Admin, nil
}

func (q SessionQueries) WinningProposalID(ctx context.Context) (int, error) {
	session, err := q.Sessions.GetSession(ctx, q.SessionID)
	if err != nil {
		return 0, err
	}
	return session.Winner()
}

// Winner returns the winning slot. A withdrawn winner reports an empty
// description.
func (q SessionQueries) Winner(ctx context.Context) (WinnerView, error) {
	session, err := q.Sessions.GetSession(ctx, q.SessionID)
	if err != nil {
		return WinnerView{}, err
	}
	proposalID, err := session.Winner()
	if err != nil {
		return WinnerView{}, err
	}
	proposal, err := session.Proposal(proposalID)
	if err != nil {
		return WinnerView{}, err
	}
	return WinnerView{
		ProposalID:  proposalID,
		Description: proposal.Description,
		VoteCount:   proposal.VoteCount,
	}, nil
}

// Voter returns the record for identity; unknown identities read as the
// default record rather than an error.
func (q SessionQueries) Voter(ctx context.Context, identity string) (VoterView, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return VoterView{}, domainerrors.ErrInvalidIdentity
	}
	session, err := q.Sessions.GetSession(ctx, q.SessionID)
	if err != nil {
		return VoterView{}, err
	}
	return VoterView{Identity: identity, Voter: session.Voter(identity)}, nil
}

func (q SessionQueries) Proposal(ctx context.Context, proposalID int) (ProposalView, error) {
	session, err := q.Sessions.GetSession(ctx, q.SessionID)
	if err != nil {
		return ProposalView{}, err
	}
	proposal, err := session.Proposal(proposalID)
	if err != nil {
		return ProposalView{}, err
	}
	return toProposalView(proposalID, proposal), nil
}

func (q SessionQueries) Proposals(ctx context.Context) ([]ProposalView, error) {
	session, err := q.Sessions.GetSession(ctx, q.SessionID)
	if err != nil {
		return nil, err
	}
	return toProposalViews(session.Proposals), nil
}

func (q SessionQueries) Results(ctx context.Context) (Results, error) {
	session, err := q.Sessions.GetSession(ctx, q.SessionID)
	if err != nil {
		return Results{}, err
	}
	registered := 0
	for _, voter := range session.Voters {
		if voter.IsRegistered {
			registered++
		}
	}
	results := Results{
		SessionID:        session.SessionID,
		Admin:            session.Admin,
		Phase:            session.Phase,
		Proposals:        toProposalViews(session.Proposals),
		RegisteredVoters: registered,
		TotalVotes:       session.TotalVotes(),
	}
	if winner, err := session.Winner(); err == nil {
		results.WinningProposalID = &winner
	}
	return results, nil
}

func toProposalViews(items []entities.Proposal) []ProposalView {
	views := make([]ProposalView, 0, len(items))
	for i, proposal := range items {
		views = append(views, toProposalView(i, proposal))
	}
	return views
}

func toProposalView(proposalID int, proposal entities.Proposal) ProposalView {
	return ProposalView{
		ProposalID:  proposalID,
		Description: proposal.Description,
		VoteCount:   proposal.VoteCount,
		Withdrawn:   proposal.Withdrawn(),
	}
}
