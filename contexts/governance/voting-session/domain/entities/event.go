package entities

type EventType string

const (
	EventWorkflowStatusChanged EventType = "workflow_status.changed"
	EventVoterRegistered       EventType = "voter.registered"
	EventVoterRemoved          EventType = "voter.removed"
	EventProposalRegistered    EventType = "proposal.registered"
	EventProposalWithdrawn     EventType = "proposal.withdrawn"
	EventProposalRemoved       EventType = "proposal.removed"
	EventVoteDelegated         EventType = "vote.delegated"
	EventVoteCast              EventType = "vote.cast"
	EventOwnershipTransferred  EventType = "ownership.transferred"
)

// AllEventTypes lists every notification a session can emit.
var AllEventTypes = []EventType{
	EventWorkflowStatusChanged,
	EventVoterRegistered,
	EventVoterRemoved,
	EventProposalRegistered,
	EventProposalWithdrawn,
	EventProposalRemoved,
	EventVoteDelegated,
	EventVoteCast,
	EventOwnershipTransferred,
}

// Event is the notification produced by a successful session operation.
// Only the fields relevant to Type are populated.
type Event struct {
	Type          EventType
	SessionID     string
	PreviousPhase Phase
	NewPhase      Phase
	Voter         string
	Delegate      string
	ProposalID    int
	PreviousOwner string
	NewOwner      string
}

// Data returns the event payload keyed the way it is published.
func (e Event) Data() map[string]any {
	data := map[string]any{
		"session_id": e.SessionID,
	}
	switch e.Type {
	case EventWorkflowStatusChanged:
		data["previous_status"] = int(e.PreviousPhase)
		data["new_status"] = int(e.NewPhase)
		data["previous_status_name"] = e.PreviousPhase.String()
		data["new_status_name"] = e.NewPhase.String()
		if e.NewPhase == PhaseVotesTallied {
			data["winning_proposal_id"] = e.ProposalID
		}
	case EventVoterRegistered, EventVoterRemoved:
		data["voter"] = e.Voter
	case EventProposalRegistered, EventProposalWithdrawn, EventProposalRemoved:
		data["proposal_id"] = e.ProposalID
	case EventVoteDelegated:
		data["from"] = e.Voter
		data["to"] = e.Delegate
	case EventVoteCast:
		data["voter"] = e.Voter
		data["proposal_id"] = e.ProposalID
	case EventOwnershipTransferred:
		data["previous_owner"] = e.PreviousOwner
		data["new_owner"] = e.NewOwner
	}
	return data
}
