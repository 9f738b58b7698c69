package http

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type PhaseResponse struct {
	Code int    `json:"code"`
	Name string `json:"name"`
}

type RegisterVoterRequest struct {
	Identity string `json:"identity"`
}

type RegisterProposalRequest struct {
	Description string `json:"description"`
}

type DelegateVoteRequest struct {
	Delegate string `json:"delegate"`
}

type VoteRequest struct {
	ProposalID *int `json:"proposal_id"`
}

type TransferOwnershipRequest struct {
	NewOwner string `json:"new_owner"`
}

// EventResponse is the notification produced by a successful command.
type EventResponse struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

type CommandResponse struct {
	Event      EventResponse `json:"event"`
	ProposalID *int          `json:"proposal_id,omitempty"`
	Replayed   bool          `json:"replayed"`
}

type VoterResponse struct {
	Identity        string `json:"identity"`
	IsRegistered    bool   `json:"is_registered"`
	HasVoted        bool   `json:"has_voted"`
	VotedProposalID int    `json:"voted_proposal_id"`
	Delegate        string `json:"delegate,omitempty"`
}

type ProposalResponse struct {
	ProposalID  int    `json:"proposal_id"`
	Description string `json:"description"`
	VoteCount   uint64 `json:"vote_count"`
	Withdrawn   bool   `json:"withdrawn"`
}

type ProposalListResponse struct {
	Items []ProposalResponse `json:"items"`
}

type WinnerResponse struct {
	ProposalID  int    `json:"proposal_id"`
	Description string `json:"description"`
	VoteCount   uint64 `json:"vote_count"`
}

type OwnerResponse struct {
	Owner string `json:"owner"`
}

type SessionResponse struct {
	SessionID         string             `json:"session_id"`
	Owner             string             `json:"owner"`
	Status            PhaseResponse      `json:"status"`
	RegisteredVoters  int                `json:"registered_voters"`
	TotalVotes        uint64             `json:"total_votes"`
	Proposals         []ProposalResponse `json:"proposals"`
	WinningProposalID *int               `json:"winning_proposal_id,omitempty"`
}
