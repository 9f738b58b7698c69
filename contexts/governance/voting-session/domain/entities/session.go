package entities

import (
	"strings"
	"time"

	domainerrors "agora/contexts/governance/voting-session/domain/errors"
)

type Voter struct {
	IsRegistered    bool
	HasVoted        bool
	VotedProposalID int
	Delegate        string
}

// Proposal is a slot in the proposal list. An empty Description marks a
// withdrawn or removed slot; its VoteCount is kept.
type Proposal struct {
	Description string
	VoteCount   uint64
}

func (p Proposal) Withdrawn() bool {
	return p.Description == ""
}

// Session holds the whole state of one poll. Every mutating method checks
// all of its preconditions before touching state, so a returned error means
// nothing changed.
type Session struct {
	SessionID         string
	Admin             string
	Phase             Phase
	Voters            map[string]Voter
	Proposals         []Proposal
	WinningProposalID *int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func NewSession(sessionID string, admin string, now time.Time) (Session, error) {
	admin = strings.TrimSpace(admin)
	if admin == "" {
		return Session{}, domainerrors.ErrInvalidIdentity
	}
	return Session{
		SessionID: strings.TrimSpace(sessionID),
		Admin:     admin,
		Phase:     PhaseRegisteringVoters,
		Voters:    make(map[string]Voter),
		Proposals: []Proposal{},
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}, nil
}

// Clone returns a deep copy so a failed unit of work can be discarded.
func (s Session) Clone() Session {
	out := s
	out.Voters = make(map[string]Voter, len(s.Voters))
	for id, voter := range s.Voters {
		out.Voters[id] = voter
	}
	out.Proposals = append([]Proposal(nil), s.Proposals...)
	if s.WinningProposalID != nil {
		winner := *s.WinningProposalID
		out.WinningProposalID = &winner
	}
	return out
}

// Voter returns the record for identity. Unknown identities read as the
// zero record.
func (s Session) Voter(identity string) Voter {
	return s.Voters[strings.TrimSpace(identity)]
}

func (s Session) IsRegistered(identity string) bool {
	return s.Voter(identity).IsRegistered
}

func (s Session) Proposal(proposalID int) (Proposal, error) {
	if proposalID < 0 || proposalID >= len(s.Proposals) {
		return Proposal{}, domainerrors.ErrInvalidProposal
	}
	return s.Proposals[proposalID], nil
}

func (s Session) Winner() (int, error) {
	if s.Phase != PhaseVotesTallied || s.WinningProposalID == nil {
		return 0, domainerrors.ErrNotTalliedYet
	}
	return *s.WinningProposalID, nil
}

func (s Session) TotalVotes() uint64 {
	var total uint64
	for _, proposal := range s.Proposals {
		total += proposal.VoteCount
	}
	return total
}

func (s *Session) StartProposalsRegistration(caller string) (Event, error) {
	return s.advance(caller, PhaseRegisteringVoters)
}

func (s *Session) EndProposalsRegistration(caller string) (Event, error) {
	return s.advance(caller, PhaseProposalsRegistrationStarted)
}

func (s *Session) StartVotingSession(caller string) (Event, error) {
	return s.advance(caller, PhaseProposalsRegistrationEnded)
}

func (s *Session) EndVotingSession(caller string) (Event, error) {
	return s.advance(caller, PhaseVotingSessionStarted)
}

// TallyVotes scans the proposals in index order and keeps the first slot
// with the highest count, so ties go to the lowest index. Withdrawn slots
// take part with whatever count they kept.
func (s *Session) TallyVotes(caller string) (Event, error) {
	if err := s.requireAdmin(caller); err != nil {
		return Event{}, err
	}
	if s.Phase != PhaseVotingSessionEnded {
		return Event{}, domainerrors.ErrInvalidPhase
	}
	if len(s.Proposals) == 0 {
		return Event{}, domainerrors.ErrNoProposals
	}

	winner := 0
	for i := 1; i < len(s.Proposals); i++ {
		if s.Proposals[i].VoteCount > s.Proposals[winner].VoteCount {
			winner = i
		}
	}
	s.WinningProposalID = &winner
	event := s.setPhase(PhaseVotesTallied)
	event.ProposalID = winner
	return event, nil
}

func (s *Session) RegisterVoter(caller string, identity string) (Event, error) {
	if err := s.requireAdmin(caller); err != nil {
		return Event{}, err
	}
	if s.Phase != PhaseRegisteringVoters {
		return Event{}, domainerrors.ErrInvalidPhase
	}
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return Event{}, domainerrors.ErrInvalidIdentity
	}
	if s.Voters[identity].IsRegistered {
		return Event{}, domainerrors.ErrAlreadyRegistered
	}

	s.ensureVoters()
	s.Voters[identity] = Voter{IsRegistered: true}
	return Event{Type: EventVoterRegistered, SessionID: s.SessionID, Voter: identity}, nil
}

// RemoveVoter resets the whole record, so the identity reads as never
// registered afterwards.
func (s *Session) RemoveVoter(caller string, identity string) (Event, error) {
	if err := s.requireAdmin(caller); err != nil {
		return Event{}, err
	}
	if s.Phase != PhaseRegisteringVoters {
		return Event{}, domainerrors.ErrInvalidPhase
	}
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return Event{}, domainerrors.ErrInvalidIdentity
	}
	if !s.Voters[identity].IsRegistered {
		return Event{}, domainerrors.ErrNotRegistered
	}

	delete(s.Voters, identity)
	return Event{Type: EventVoterRemoved, SessionID: s.SessionID, Voter: identity}, nil
}

func (s *Session) RegisterProposal(caller string, description string) (int, Event, error) {
	if err := s.requireVoter(caller); err != nil {
		return 0, Event{}, err
	}
	if s.Phase != PhaseProposalsRegistrationStarted {
		return 0, Event{}, domainerrors.ErrProposalsNotOpen
	}
	if description == "" {
		return 0, Event{}, domainerrors.ErrInvalidDescription
	}

	s.Proposals = append(s.Proposals, Proposal{Description: description})
	proposalID := len(s.Proposals) - 1
	return proposalID, Event{Type: EventProposalRegistered, SessionID: s.SessionID, ProposalID: proposalID}, nil
}

// WithdrawProposal lets any registered voter clear a slot. Authorship is not
// tracked.
func (s *Session) WithdrawProposal(caller string, proposalID int) (Event, error) {
	if err := s.requireVoter(caller); err != nil {
		return Event{}, err
	}
	if s.Phase != PhaseProposalsRegistrationStarted {
		return Event{}, domainerrors.ErrProposalsNotOpen
	}
	if proposalID < 0 || proposalID >= len(s.Proposals) {
		return Event{}, domainerrors.ErrInvalidProposal
	}

	s.Proposals[proposalID].Description = ""
	return Event{Type: EventProposalWithdrawn, SessionID: s.SessionID, ProposalID: proposalID}, nil
}

func (s *Session) RemoveProposal(caller string, proposalID int) (Event, error) {
	if err := s.requireAdmin(caller); err != nil {
		return Event{}, err
	}
	if s.Phase != PhaseProposalsRegistrationStarted {
		return Event{}, domainerrors.ErrProposalsNotOpen
	}
	if proposalID < 0 || proposalID >= len(s.Proposals) {
		return Event{}, domainerrors.ErrInvalidProposal
	}

	s.Proposals[proposalID].Description = ""
	return Event{Type: EventProposalRemoved, SessionID: s.SessionID, ProposalID: proposalID}, nil
}

// DelegateVote records the relationship only. No weight moves and the
// delegator keeps the right to vote directly.
func (s *Session) DelegateVote(caller string, to string) (Event, error) {
	caller = strings.TrimSpace(caller)
	to = strings.TrimSpace(to)
	if err := s.requireVoter(caller); err != nil {
		return Event{}, err
	}
	if s.Voters[caller].HasVoted {
		return Event{}, domainerrors.ErrAlreadyVoted
	}
	if !s.Voters[to].IsRegistered {
		return Event{}, domainerrors.ErrDelegateNotRegistered
	}
	if to == caller {
		return Event{}, domainerrors.ErrSelfDelegation
	}

	voter := s.Voters[caller]
	voter.Delegate = to
	s.Voters[caller] = voter
	return Event{Type: EventVoteDelegated, SessionID: s.SessionID, Voter: caller, Delegate: to}, nil
}

func (s *Session) Vote(caller string, proposalID int) (Event, error) {
	caller = strings.TrimSpace(caller)
	if err := s.requireVoter(caller); err != nil {
		return Event{}, err
	}
	if s.Phase != PhaseVotingSessionStarted {
		return Event{}, domainerrors.ErrVotingNotOpen
	}
	if s.Voters[caller].HasVoted {
		return Event{}, domainerrors.ErrAlreadyVoted
	}
	if proposalID < 0 || proposalID >= len(s.Proposals) || s.Proposals[proposalID].Withdrawn() {
		return Event{}, domainerrors.ErrInvalidProposal
	}

	voter := s.Voters[caller]
	voter.HasVoted = true
	voter.VotedProposalID = proposalID
	s.Voters[caller] = voter
	s.Proposals[proposalID].VoteCount++
	return Event{Type: EventVoteCast, SessionID: s.SessionID, Voter: caller, ProposalID: proposalID}, nil
}

func (s *Session) TransferOwnership(caller string, newOwner string) (Event, error) {
	if err := s.requireAdmin(caller); err != nil {
		return Event{}, err
	}
	newOwner = strings.TrimSpace(newOwner)
	if newOwner == "" {
		return Event{}, domainerrors.ErrInvalidIdentity
	}

	previous := s.Admin
	s.Admin = newOwner
	return Event{
		Type:          EventOwnershipTransferred,
		SessionID:     s.SessionID,
		PreviousOwner: previous,
		NewOwner:      newOwner,
	}, nil
}

func (s *Session) advance(caller string, from Phase) (Event, error) {
	if err := s.requireAdmin(caller); err != nil {
		return Event{}, err
	}
	if s.Phase != from {
		return Event{}, domainerrors.ErrInvalidPhase
	}
	next, _ := from.Next()
	return s.setPhase(next), nil
}

func (s *Session) setPhase(next Phase) Event {
	previous := s.Phase
	s.Phase = next
	return Event{
		Type:          EventWorkflowStatusChanged,
		SessionID:     s.SessionID,
		PreviousPhase: previous,
		NewPhase:      next,
	}
}

func (s *Session) requireAdmin(caller string) error {
	if strings.TrimSpace(caller) != s.Admin || s.Admin == "" {
		return domainerrors.ErrUnauthorized
	}
	return nil
}

func (s *Session) requireVoter(caller string) error {
	if !s.Voters[strings.TrimSpace(caller)].IsRegistered {
		return domainerrors.ErrNotRegistered
	}
	return nil
}

func (s *Session) ensureVoters() {
	if s.Voters == nil {
		s.Voters = make(map[string]Voter)
	}
}
