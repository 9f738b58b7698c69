package entities

import (
	"errors"
	"testing"
	"time"

	domainerrors "agora/contexts/governance/voting-session/domain/errors"
)

const admin = "admin"

func newTestSession(t *testing.T) Session {
	t.Helper()
	session, err := NewSession("poll-1", admin, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("new session failed: %v", err)
	}
	return session
}

// must fails the test on error and otherwise returns the event.
func must(t *testing.T) func(Event, error) Event {
	t.Helper()
	return func(event Event, err error) Event {
		t.Helper()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		return event
	}
}

func openProposals(t *testing.T, s *Session, voters ...string) {
	t.Helper()
	for _, voter := range voters {
		must(t)(s.RegisterVoter(admin, voter))
	}
	must(t)(s.StartProposalsRegistration(admin))
}

func openVoting(t *testing.T, s *Session) {
	t.Helper()
	must(t)(s.EndProposalsRegistration(admin))
	must(t)(s.StartVotingSession(admin))
}

func TestSessionTieGoesToLowestIndex(t *testing.T) {
	s := newTestSession(t)
	openProposals(t, &s, "A", "B")
	if _, _, err := s.RegisterProposal("A", "P1"); err != nil {
		t.Fatalf("register proposal failed: %v", err)
	}
	if _, _, err := s.RegisterProposal("B", "P2"); err != nil {
		t.Fatalf("register proposal failed: %v", err)
	}
	openVoting(t, &s)
	must(t)(s.Vote("A", 0))
	must(t)(s.Vote("B", 1))
	must(t)(s.EndVotingSession(admin))
	event := must(t)(s.TallyVotes(admin))

	if event.Type != EventWorkflowStatusChanged || event.PreviousPhase != PhaseVotingSessionEnded || event.NewPhase != PhaseVotesTallied {
		t.Fatalf("unexpected tally event: %+v", event)
	}
	winner, err := s.Winner()
	if err != nil {
		t.Fatalf("winner failed: %v", err)
	}
	if winner != 0 {
		t.Fatalf("expected winner 0, got %d", winner)
	}
	proposal, err := s.Proposal(winner)
	if err != nil || proposal.Description != "P1" {
		t.Fatalf("expected P1, got %+v err=%v", proposal, err)
	}
}

func TestVoteBeforeVotingOpens(t *testing.T) {
	s := newTestSession(t)
	must(t)(s.RegisterVoter(admin, "A"))

	_, err := s.Vote("A", 0)
	if !errors.Is(err, domainerrors.ErrVotingNotOpen) {
		t.Fatalf("expected voting not open, got %v", err)
	}
	if !errors.Is(err, domainerrors.ErrInvalidPhase) {
		t.Fatalf("expected voting not open to match invalid phase, got %v", err)
	}
}

func TestDelegateVoteFailures(t *testing.T) {
	s := newTestSession(t)
	must(t)(s.RegisterVoter(admin, "A"))

	if _, err := s.DelegateVote("A", "stranger"); !errors.Is(err, domainerrors.ErrDelegateNotRegistered) {
		t.Fatalf("expected delegate not registered, got %v", err)
	}
	if _, err := s.DelegateVote("A", "A"); !errors.Is(err, domainerrors.ErrSelfDelegation) {
		t.Fatalf("expected self delegation, got %v", err)
	}
	if _, err := s.DelegateVote("stranger", "A"); !errors.Is(err, domainerrors.ErrNotRegistered) {
		t.Fatalf("expected not registered, got %v", err)
	}
	if s.Voter("A").Delegate != "" {
		t.Fatalf("failed delegation must not record a delegate")
	}
}

func TestDoubleVoteKeepsCount(t *testing.T) {
	s := newTestSession(t)
	openProposals(t, &s, "A", "B")
	if _, _, err := s.RegisterProposal("A", "P1"); err != nil {
		t.Fatalf("register proposal failed: %v", err)
	}
	openVoting(t, &s)
	must(t)(s.Vote("A", 0))

	if _, err := s.Vote("A", 0); !errors.Is(err, domainerrors.ErrAlreadyVoted) {
		t.Fatalf("expected already voted, got %v", err)
	}
	if s.Proposals[0].VoteCount != 1 {
		t.Fatalf("expected vote count 1, got %d", s.Proposals[0].VoteCount)
	}
}

func TestWinnerBeforeTally(t *testing.T) {
	s := newTestSession(t)
	if _, err := s.Winner(); !errors.Is(err, domainerrors.ErrNotTalliedYet) {
		t.Fatalf("expected not tallied yet, got %v", err)
	}
}

func TestAdminTransitionsAdvanceOneStep(t *testing.T) {
	s := newTestSession(t)
	openProposals(t, &s, "A")
	if _, _, err := s.RegisterProposal("A", "P1"); err != nil {
		t.Fatalf("register proposal failed: %v", err)
	}

	transitions := []func(string) (Event, error){
		s.EndProposalsRegistration,
		s.StartVotingSession,
		s.EndVotingSession,
		s.TallyVotes,
	}
	previous := s.Phase
	for _, transition := range transitions {
		if _, err := transition("A"); !errors.Is(err, domainerrors.ErrUnauthorized) {
			t.Fatalf("expected unauthorized, got %v", err)
		}
		event := must(t)(transition(admin))
		if event.PreviousPhase != previous || event.NewPhase != previous+1 {
			t.Fatalf("expected %s -> %s, got %+v", previous, previous+1, event)
		}
		previous = s.Phase
	}
	if s.Phase != PhaseVotesTallied {
		t.Fatalf("expected votes tallied, got %s", s.Phase)
	}
	if _, err := s.StartProposalsRegistration(admin); !errors.Is(err, domainerrors.ErrInvalidPhase) {
		t.Fatalf("expected invalid phase, got %v", err)
	}
}

func TestUnauthorizedCheckedBeforePhase(t *testing.T) {
	s := newTestSession(t)
	must(t)(s.StartProposalsRegistration(admin))

	if _, err := s.StartProposalsRegistration("intruder"); !errors.Is(err, domainerrors.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if _, err := s.RegisterVoter("intruder", "A"); !errors.Is(err, domainerrors.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if _, err := s.RegisterVoter(admin, "A"); !errors.Is(err, domainerrors.ErrInvalidPhase) {
		t.Fatalf("expected invalid phase, got %v", err)
	}
}

func TestTallyWithoutProposals(t *testing.T) {
	s := newTestSession(t)
	must(t)(s.StartProposalsRegistration(admin))
	openVoting(t, &s)
	must(t)(s.EndVotingSession(admin))

	if _, err := s.TallyVotes(admin); !errors.Is(err, domainerrors.ErrNoProposals) {
		t.Fatalf("expected no proposals, got %v", err)
	}
	if s.Phase != PhaseVotingSessionEnded {
		t.Fatalf("failed tally must not advance phase, got %s", s.Phase)
	}
}

func TestTallyAllWithdrawnPicksFirstSlot(t *testing.T) {
	s := newTestSession(t)
	openProposals(t, &s, "A")
	for _, description := range []string{"P1", "P2"} {
		if _, _, err := s.RegisterProposal("A", description); err != nil {
			t.Fatalf("register proposal failed: %v", err)
		}
	}
	must(t)(s.WithdrawProposal("A", 0))
	must(t)(s.RemoveProposal(admin, 1))
	openVoting(t, &s)
	must(t)(s.EndVotingSession(admin))
	must(t)(s.TallyVotes(admin))

	winner, err := s.Winner()
	if err != nil || winner != 0 {
		t.Fatalf("expected winner 0, got %d err=%v", winner, err)
	}
}

func TestTallyPicksHighestCount(t *testing.T) {
	s := newTestSession(t)
	openProposals(t, &s, "A", "B", "C")
	for _, description := range []string{"P1", "P2", "P3"} {
		if _, _, err := s.RegisterProposal("A", description); err != nil {
			t.Fatalf("register proposal failed: %v", err)
		}
	}
	openVoting(t, &s)
	must(t)(s.Vote("A", 0))
	must(t)(s.Vote("B", 2))
	must(t)(s.Vote("C", 2))
	must(t)(s.EndVotingSession(admin))
	must(t)(s.TallyVotes(admin))

	winner, _ := s.Winner()
	if winner != 2 {
		t.Fatalf("expected winner 2, got %d", winner)
	}
	if s.TotalVotes() != 3 {
		t.Fatalf("expected 3 total votes, got %d", s.TotalVotes())
	}
}

func TestWithdrawKeepsSlotsAndCounts(t *testing.T) {
	s := newTestSession(t)
	openProposals(t, &s, "A", "B")
	for _, description := range []string{"P1", "P2", "P3"} {
		if _, _, err := s.RegisterProposal("A", description); err != nil {
			t.Fatalf("register proposal failed: %v", err)
		}
	}
	must(t)(s.WithdrawProposal("B", 1))

	if len(s.Proposals) != 3 {
		t.Fatalf("expected 3 slots, got %d", len(s.Proposals))
	}
	if !s.Proposals[1].Withdrawn() || s.Proposals[2].Description != "P3" {
		t.Fatalf("unexpected slots after withdraw: %+v", s.Proposals)
	}
	if _, err := s.WithdrawProposal("A", 3); !errors.Is(err, domainerrors.ErrInvalidProposal) {
		t.Fatalf("expected invalid proposal, got %v", err)
	}

	id, _, err := s.RegisterProposal("A", "P4")
	if err != nil || id != 3 {
		t.Fatalf("expected new proposal at index 3, got %d err=%v", id, err)
	}

	openVoting(t, &s)
	if _, err := s.Vote("A", 1); !errors.Is(err, domainerrors.ErrInvalidProposal) {
		t.Fatalf("expected invalid proposal for withdrawn slot, got %v", err)
	}
	if s.Voter("A").HasVoted {
		t.Fatalf("failed vote must not mark voter")
	}
}

func TestRemoveVoterResetsRecord(t *testing.T) {
	s := newTestSession(t)
	must(t)(s.RegisterVoter(admin, "A"))
	must(t)(s.RegisterVoter(admin, "B"))
	must(t)(s.DelegateVote("A", "B"))

	event := must(t)(s.RemoveVoter(admin, "A"))
	if event.Type != EventVoterRemoved || event.Voter != "A" {
		t.Fatalf("unexpected event: %+v", event)
	}
	if s.Voter("A") != (Voter{}) {
		t.Fatalf("expected default record, got %+v", s.Voter("A"))
	}
	if _, err := s.RemoveVoter(admin, "A"); !errors.Is(err, domainerrors.ErrNotRegistered) {
		t.Fatalf("expected not registered, got %v", err)
	}
	must(t)(s.RegisterVoter(admin, "A"))
	if _, err := s.RegisterVoter(admin, "A"); !errors.Is(err, domainerrors.ErrAlreadyRegistered) {
		t.Fatalf("expected already registered, got %v", err)
	}
}

func TestDelegationDoesNotTransferWeight(t *testing.T) {
	s := newTestSession(t)
	openProposals(t, &s, "A", "B")
	if _, _, err := s.RegisterProposal("A", "P1"); err != nil {
		t.Fatalf("register proposal failed: %v", err)
	}
	must(t)(s.DelegateVote("A", "B"))
	openVoting(t, &s)
	must(t)(s.Vote("B", 0))
	must(t)(s.Vote("A", 0))

	if s.Proposals[0].VoteCount != 2 {
		t.Fatalf("expected one count per direct vote, got %d", s.Proposals[0].VoteCount)
	}
	if _, err := s.DelegateVote("A", "B"); !errors.Is(err, domainerrors.ErrAlreadyVoted) {
		t.Fatalf("expected already voted, got %v", err)
	}
}

func TestProposalOperationsRequirePhase(t *testing.T) {
	s := newTestSession(t)
	must(t)(s.RegisterVoter(admin, "A"))

	if _, _, err := s.RegisterProposal("A", "P1"); !errors.Is(err, domainerrors.ErrProposalsNotOpen) {
		t.Fatalf("expected proposals not open, got %v", err)
	}
	if _, _, err := s.RegisterProposal("B", "P1"); !errors.Is(err, domainerrors.ErrNotRegistered) {
		t.Fatalf("expected not registered, got %v", err)
	}
	if _, err := s.RemoveProposal("A", 0); !errors.Is(err, domainerrors.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	must(t)(s.StartProposalsRegistration(admin))
	if _, _, err := s.RegisterProposal("A", ""); !errors.Is(err, domainerrors.ErrInvalidDescription) {
		t.Fatalf("expected invalid description, got %v", err)
	}
	if _, err := s.RemoveProposal(admin, 0); !errors.Is(err, domainerrors.ErrInvalidProposal) {
		t.Fatalf("expected invalid proposal, got %v", err)
	}
}

func TestTransferOwnership(t *testing.T) {
	s := newTestSession(t)
	if _, err := s.TransferOwnership("A", "B"); !errors.Is(err, domainerrors.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if _, err := s.TransferOwnership(admin, " "); !errors.Is(err, domainerrors.ErrInvalidIdentity) {
		t.Fatalf("expected invalid identity, got %v", err)
	}
	event := must(t)(s.TransferOwnership(admin, "B"))
	if event.PreviousOwner != admin || event.NewOwner != "B" {
		t.Fatalf("unexpected event: %+v", event)
	}
	if _, err := s.StartProposalsRegistration(admin); !errors.Is(err, domainerrors.ErrUnauthorized) {
		t.Fatalf("previous owner must lose admin rights, got %v", err)
	}
	must(t)(s.StartProposalsRegistration("B"))
}

func TestCloneIsIndependent(t *testing.T) {
	s := newTestSession(t)
	openProposals(t, &s, "A")
	if _, _, err := s.RegisterProposal("A", "P1"); err != nil {
		t.Fatalf("register proposal failed: %v", err)
	}

	clone := s.Clone()
	must(t)(clone.WithdrawProposal("A", 0))
	clone.Voters["B"] = Voter{IsRegistered: true}

	if s.Proposals[0].Description != "P1" {
		t.Fatalf("clone mutated original proposals")
	}
	if s.IsRegistered("B") {
		t.Fatalf("clone mutated original voters")
	}
}

func TestPhaseNames(t *testing.T) {
	for code := PhaseRegisteringVoters; code <= PhaseVotesTallied; code++ {
		parsed, ok := ParsePhase(code.String())
		if !ok || parsed != code {
			t.Fatalf("phase %d did not round trip through %q", code, code.String())
		}
	}
	if _, ok := PhaseVotesTallied.Next(); ok {
		t.Fatalf("votes tallied must not have a successor")
	}
	if Phase(9).String() != "Unknown" {
		t.Fatalf("expected unknown name for out of range phase")
	}
}
