package entities

// Phase is the workflow status of a voting session. Values are ordered and
// only ever advance one step at a time.
type Phase int

const (
	PhaseRegisteringVoters Phase = iota
	PhaseProposalsRegistrationStarted
	PhaseProposalsRegistrationEnded
	PhaseVotingSessionStarted
	PhaseVotingSessionEnded
	PhaseVotesTallied
)

var phaseNames = [...]string{
	"RegisteringVoters",
	"ProposalsRegistrationStarted",
	"ProposalsRegistrationEnded",
	"VotingSessionStarted",
	"VotingSessionEnded",
	"VotesTallied",
}

func (p Phase) String() string {
	if !p.Valid() {
		return "Unknown"
	}
	return phaseNames[p]
}

func (p Phase) Valid() bool {
	return p >= PhaseRegisteringVoters && p <= PhaseVotesTallied
}

// Next returns the unique successor phase. VotesTallied has none.
func (p Phase) Next() (Phase, bool) {
	if !p.Valid() || p == PhaseVotesTallied {
		return p, false
	}
	return p + 1, true
}

func ParsePhase(name string) (Phase, bool) {
	for i, candidate := range phaseNames {
		if candidate == name {
			return Phase(i), true
		}
	}
	return 0, false
}
