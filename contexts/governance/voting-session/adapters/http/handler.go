package httpadapter

import (
	"context"
	"log/slog"

	"agora/contexts/governance/voting-session/application/commands"
	"agora/contexts/governance/voting-session/application/queries"
	"agora/contexts/governance/voting-session/domain/entities"
	domainerrors "agora/contexts/governance/voting-session/domain/errors"
	httptransport "agora/contexts/governance/voting-session/transport/http"
)

type Handler struct {
	Session commands.SessionUseCase
	Queries queries.SessionQueries
	Logger  *slog.Logger
}

func (h Handler) StartProposalsRegistrationHandler(ctx context.Context, callerID string, idempotencyKey string) (httptransport.CommandResponse, error) {
	return commandResponse(h.Session.StartProposalsRegistration(ctx, adminCommand(callerID, idempotencyKey)))
}

func (h Handler) EndProposalsRegistrationHandler(ctx context.Context, callerID string, idempotencyKey string) (httptransport.CommandResponse, error) {
	return commandResponse(h.Session.EndProposalsRegistration(ctx, adminCommand(callerID, idempotencyKey)))
}

func (h Handler) StartVotingSessionHandler(ctx context.Context, callerID string, idempotencyKey string) (httptransport.CommandResponse, error) {
	return commandResponse(h.Session.StartVotingSession(ctx, adminCommand(callerID, idempotencyKey)))
}

func (h Handler) EndVotingSessionHandler(ctx context.Context, callerID string, idempotencyKey string) (httptransport.CommandResponse, error) {
	return commandResponse(h.Session.EndVotingSession(ctx, adminCommand(callerID, idempotencyKey)))
}

func (h Handler) TallyVotesHandler(ctx context.Context, callerID string, idempotencyKey string) (httptransport.CommandResponse, error) {
	return commandResponse(h.Session.TallyVotes(ctx, adminCommand(callerID, idempotencyKey)))
}

func (h Handler) RegisterVoterHandler(
	ctx context.Context,
	callerID string,
	idempotencyKey string,
	req httptransport.RegisterVoterRequest,
) (httptransport.CommandResponse, error) {
	return commandResponse(h.Session.RegisterVoter(ctx, commands.VoterCommand{
		CallerID:       callerID,
		Identity:       req.Identity,
		IdempotencyKey: idempotencyKey,
	}))
}

func (h Handler) RemoveVoterHandler(
	ctx context.Context,
	callerID string,
	idempotencyKey string,
	identity string,
) (httptransport.CommandResponse, error) {
	return commandResponse(h.Session.RemoveVoter(ctx, commands.VoterCommand{
		CallerID:       callerID,
		Identity:       identity,
		IdempotencyKey: idempotencyKey,
	}))
}

func (h Handler) RegisterProposalHandler(
	ctx context.Context,
	callerID string,
	idempotencyKey string,
	req httptransport.RegisterProposalRequest,
) (httptransport.CommandResponse, error) {
	return commandResponse(h.Session.RegisterProposal(ctx, commands.RegisterProposalCommand{
		CallerID:       callerID,
		Description:    req.Description,
		IdempotencyKey: idempotencyKey,
	}))
}

func (h Handler) WithdrawProposalHandler(
	ctx context.Context,
	callerID string,
	idempotencyKey string,
	proposalID int,
) (httptransport.CommandResponse, error) {
	return commandResponse(h.Session.WithdrawProposal(ctx, commands.ProposalCommand{
		CallerID:       callerID,
		ProposalID:     proposalID,
		IdempotencyKey: idempotencyKey,
	}))
}

func (h Handler) RemoveProposalHandler(
	ctx context.Context,
	callerID string,
	idempotencyKey string,
	proposalID int,
) (httptransport.CommandResponse, error) {
	return commandResponse(h.Session.RemoveProposal(ctx, commands.ProposalCommand{
		CallerID:       callerID,
		ProposalID:     proposalID,
		IdempotencyKey: idempotencyKey,
	}))
}

func (h Handler) DelegateVoteHandler(
	ctx context.Context,
	callerID string,
	idempotencyKey string,
	req httptransport.DelegateVoteRequest,
) (httptransport.CommandResponse, error) {
	return commandResponse(h.Session.DelegateVote(ctx, commands.DelegateVoteCommand{
		CallerID:       callerID,
		Delegate:       req.Delegate,
		IdempotencyKey: idempotencyKey,
	}))
}

func (h Handler) VoteHandler(
	ctx context.Context,
	callerID string,
	idempotencyKey string,
	req httptransport.VoteRequest,
) (httptransport.CommandResponse, error) {
	if req.ProposalID == nil {
		return httptransport.CommandResponse{}, domainerrors.ErrInvalidProposal
	}
	return commandResponse(h.Session.Vote(ctx, commands.ProposalCommand{
		CallerID:       callerID,
		ProposalID:     *req.ProposalID,
		IdempotencyKey: idempotencyKey,
	}))
}

func (h Handler) TransferOwnershipHandler(
	ctx context.Context,
	callerID string,
	idempotencyKey string,
	req httptransport.TransferOwnershipRequest,
) (httptransport.CommandResponse, error) {
	return commandResponse(h.Session.TransferOwnership(ctx, commands.TransferOwnershipCommand{
		CallerID:       callerID,
		NewOwner:       req.NewOwner,
		IdempotencyKey: idempotencyKey,
	}))
}

func (h Handler) StatusHandler(ctx context.Context) (httptransport.PhaseResponse, error) {
	phase, err := h.Queries.Status(ctx)
	if err != nil {
		return httptransport.PhaseResponse{}, err
	}
	return phaseResponse(phase), nil
}

func (h Handler) OwnerHandler(ctx context.Context) (httptransport.OwnerResponse, error) {
	owner, err := h.Queries.Owner(ctx)
	if err != nil {
		return httptransport.OwnerResponse{}, err
	}
	return httptransport.OwnerResponse{Owner: owner}, nil
}

func (h Handler) WinnerHandler(ctx context.Context) (httptransport.WinnerResponse, error) {
	winner, err := h.Queries.Winner(ctx)
	if err != nil {
		return httptransport.WinnerResponse{}, err
	}
	return httptransport.WinnerResponse{
		ProposalID:  winner.ProposalID,
		Description: winner.Description,
		VoteCount:   winner.VoteCount,
	}, nil
}

func (h Handler) VoterHandler(ctx context.Context, identity string) (httptransport.VoterResponse, error) {
	voter, err := h.Queries.Voter(ctx, identity)
	if err != nil {
		return httptransport.VoterResponse{}, err
	}
	return httptransport.VoterResponse{
		Identity:        voter.Identity,
		IsRegistered:    voter.IsRegistered,
		HasVoted:        voter.HasVoted,
		VotedProposalID: voter.VotedProposalID,
		Delegate:        voter.Delegate,
	}, nil
}

func (h Handler) ProposalHandler(ctx context.Context, proposalID int) (httptransport.ProposalResponse, error) {
	proposal, err := h.Queries.Proposal(ctx, proposalID)
	if err != nil {
		return httptransport.ProposalResponse{}, err
	}
	return proposalResponse(proposal), nil
}

func (h Handler) ProposalsHandler(ctx context.Context) (httptransport.ProposalListResponse, error) {
	proposals, err := h.Queries.Proposals(ctx)
	if err != nil {
		return httptransport.ProposalListResponse{}, err
	}
	return httptransport.ProposalListResponse{Items: proposalResponses(proposals)}, nil
}

func (h Handler) SessionHandler(ctx context.Context) (httptransport.SessionResponse, error) {
	results, err := h.Queries.Results(ctx)
	if err != nil {
		return httptransport.SessionResponse{}, err
	}
	return httptransport.SessionResponse{
		SessionID:         results.SessionID,
		Owner:             results.Admin,
		Status:            phaseResponse(results.Phase),
		RegisteredVoters:  results.RegisteredVoters,
		TotalVotes:        results.TotalVotes,
		Proposals:         proposalResponses(results.Proposals),
		WinningProposalID: results.WinningProposalID,
	}, nil
}

func adminCommand(callerID string, idempotencyKey string) commands.AdminCommand {
	return commands.AdminCommand{
		CallerID:       callerID,
		IdempotencyKey: idempotencyKey,
	}
}

func commandResponse(result commands.CommandResult, err error) (httptransport.CommandResponse, error) {
	if err != nil {
		return httptransport.CommandResponse{}, err
	}
	response := httptransport.CommandResponse{
		Event: httptransport.EventResponse{
			Type: string(result.Event.Type),
			Data: result.Event.Data(),
		},
		Replayed: result.Replayed,
	}
	if carriesProposal(result.Event) {
		proposalID := result.ProposalID
		response.ProposalID = &proposalID
	}
	return response, nil
}

func carriesProposal(event entities.Event) bool {
	switch event.Type {
	case entities.EventProposalRegistered,
		entities.EventProposalWithdrawn,
		entities.EventProposalRemoved,
		entities.EventVoteCast:
		return true
	case entities.EventWorkflowStatusChanged:
		return event.NewPhase == entities.PhaseVotesTallied
	}
	return false
}

func phaseResponse(phase entities.Phase) httptransport.PhaseResponse {
	return httptransport.PhaseResponse{
		Code: int(phase),
		Name: phase.String(),
	}
}

func proposalResponse(proposal queries.ProposalView) httptransport.ProposalResponse {
	return httptransport.ProposalResponse{
		ProposalID:  proposal.ProposalID,
		Description: proposal.Description,
		VoteCount:   proposal.VoteCount,
		Withdrawn:   proposal.Withdrawn,
	}
}

func proposalResponses(items []queries.ProposalView) []httptransport.ProposalResponse {
	out := make([]httptransport.ProposalResponse, 0, len(items))
	for _, item := range items {
		out = append(out, proposalResponse(item))
	}
	return out
}
