package dispatch

import (
	"errors"

	"callcenter-dispatch/internal/agents"
	"callcenter-dispatch/internal/calls"
)

var (
	// ErrAgentBusy means the agent already holds a call.
	ErrAgentBusy = errors.New("agent is busy")
	// ErrAgentUnavailable means the agent is inactive or not in a dialable presence.
	ErrAgentUnavailable = errors.New("agent is unavailable")
	// ErrNotAssigned means the caller is not the session's assigned agent.
	ErrNotAssigned = errors.New("session is not assigned to agent")
	// ErrInvalidState means the session is not in a status that allows the operation.
	ErrInvalidState = errors.New("invalid session state")

	ErrInvalidArgument = errors.New("invalid argument")
	ErrContactNotFound = errors.New("contact not found")
	ErrCollaborator    = errors.New("collaborator failure")
	ErrManualStatus    = errors.New("status cannot be set manually")
)

// stateErr maps lower-layer transition errors to ErrInvalidState.
func stateErr(err error) error {
	if errors.Is(err, calls.ErrInvalidTransition) {
		return errors.Join(ErrInvalidState, err)
	}
	return err
}

// claimErr maps a lost claim to ErrAgentBusy.
func claimErr(err error) error {
	if errors.Is(err, agents.ErrClaimConflict) {
		return errors.Join(ErrAgentBusy, err)
	}
	return err
}
