package errors

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthorized          = errors.New("caller is not the administrator")
	ErrInvalidPhase          = errors.New("invalid workflow status")
	ErrProposalsNotOpen      = fmt.Errorf("%w: proposals registration is not open", ErrInvalidPhase)
	ErrVotingNotOpen         = fmt.Errorf("%w: voting session is not open", ErrInvalidPhase)
	ErrAlreadyRegistered     = errors.New("voter is already registered")
	ErrNotRegistered         = errors.New("voter is not registered")
	ErrAlreadyVoted          = errors.New("voter has already voted")
	ErrInvalidProposal       = errors.New("invalid proposal id")
	ErrSelfDelegation        = errors.New("self-delegation is not allowed")
	ErrDelegateNotRegistered = errors.New("delegate is not a registered voter")
	ErrNoProposals           = errors.New("no proposals to tally")
	ErrNotTalliedYet         = errors.New("votes have not been tallied yet")
	ErrInvalidIdentity       = errors.New("invalid identity")
	ErrInvalidDescription    = errors.New("invalid proposal description")
	ErrCallerRequired        = errors.New("caller identity is required")
	ErrSessionNotFound       = errors.New("voting session not found")
	ErrIdempotencyConflict   = errors.New("idempotency key conflict")
	ErrConflict              = errors.New("voting session conflict")
)
