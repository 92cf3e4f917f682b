package dispatch

import (
	"context"
	"errors"

	"callcenter-dispatch/internal/activity"
	"callcenter-dispatch/internal/agents"
	"callcenter-dispatch/internal/calls"
)

// ChangeStatus is a manual presence change. ON_CALL is owned by dispatch and
// cannot be set by hand. An agent holding a live call cannot change status;
// a call pointer left behind by an ended session is cleared.
func (s *Service) ChangeStatus(ctx context.Context, tenantID, agentID string, status agents.Status) (agents.Agent, error) {
	if !status.Valid() {
		return agents.Agent{}, agents.ErrInvalidStatus
	}
	if status == agents.StatusOnCall {
		return agents.Agent{}, ErrManualStatus
	}
	a, err := s.agents.Get(ctx, tenantID, agentID)
	if err != nil {
		return agents.Agent{}, err
	}
	if !a.Active {
		return agents.Agent{}, ErrAgentUnavailable
	}

	prev := a.Status
	if a.CurrentCallID != nil {
		live, lerr := s.liveSession(ctx, tenantID, *a.CurrentCallID)
		if lerr != nil {
			return agents.Agent{}, lerr
		}
		if live {
			return agents.Agent{}, ErrAgentBusy
		}
		s.log.Info("clearing stale call pointer", "agent_id", agentID, "session_id", *a.CurrentCallID)
		a, err = s.agents.Release(ctx, tenantID, agentID, *a.CurrentCallID, status)
	} else {
		a, err = s.agents.SetStatus(ctx, tenantID, agentID, status)
	}
	if err != nil {
		return agents.Agent{}, err
	}
	s.cancelWrapUp(tenantID, agentID)
	s.LogActivity(ctx, tenantID, agentID, activity.TypeStatusChange, map[string]any{
		"from": string(prev),
		"to":   string(status),
	})
	s.publishPresence(ctx, a)
	return a, nil
}

func (s *Service) liveSession(ctx context.Context, tenantID, sessionID string) (bool, error) {
	sess, err := s.calls.Get(ctx, tenantID, sessionID)
	if errors.Is(err, calls.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return sess.Status != calls.SessionEnded, nil
}

// Login binds the caller to their extension and makes an OFFLINE agent
// AVAILABLE. Logging in again from a second client leaves presence as is.
func (s *Service) Login(ctx context.Context, tenantID, userID, extension string) (agents.Agent, error) {
	if tenantID == "" || userID == "" || extension == "" {
		return agents.Agent{}, ErrInvalidArgument
	}
	a, err := s.agents.GetByExtension(ctx, tenantID, extension)
	if err != nil {
		return agents.Agent{}, err
	}
	if a.UserID != userID {
		return agents.Agent{}, ErrNotAssigned
	}
	if !a.Active {
		return agents.Agent{}, ErrAgentUnavailable
	}

	if a.Status == agents.StatusOffline {
		updated, err := s.agents.CompareAndSetStatus(ctx, tenantID, a.ID, agents.StatusOffline, agents.StatusAvailable, false)
		switch {
		case err == nil:
			a = updated
			s.publishPresence(ctx, a)
		case errors.Is(err, agents.ErrClaimConflict):
			// Another client logged in first.
			if a, err = s.agents.Get(ctx, tenantID, a.ID); err != nil {
				return agents.Agent{}, err
			}
		default:
			return agents.Agent{}, err
		}
	}
	s.LogActivity(ctx, tenantID, a.ID, activity.TypeLogin, map[string]any{"extension": extension})
	return a, nil
}

// Logout sets the agent OFFLINE. A call in progress keeps its pointer and
// the agent stays OFFLINE once it ends.
func (s *Service) Logout(ctx context.Context, tenantID, agentID, reason string) (agents.Agent, error) {
	a, err := s.agents.Get(ctx, tenantID, agentID)
	if err != nil {
		return agents.Agent{}, err
	}
	if a.Status == agents.StatusOffline {
		return a, nil
	}
	prev := a.Status
	if a, err = s.agents.SetStatus(ctx, tenantID, agentID, agents.StatusOffline); err != nil {
		return agents.Agent{}, err
	}
	s.cancelWrapUp(tenantID, agentID)
	s.LogActivity(ctx, tenantID, agentID, activity.TypeLogout, map[string]any{
		"from":   string(prev),
		"reason": reason,
	})
	s.publishPresence(ctx, a)
	return a, nil
}
