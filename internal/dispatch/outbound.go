package dispatch

import (
	"context"
	"errors"
	"fmt"

	"callcenter-dispatch/internal/activity"
	"callcenter-dispatch/internal/agents"
	"callcenter-dispatch/internal/calls"
	"callcenter-dispatch/internal/contacts"
	"callcenter-dispatch/internal/telephony"

	"github.com/google/uuid"
)

// DialOutbound places a call from the agent's extension to phoneNumber.
//
// The agent must be AVAILABLE with no active session. The session starts in
// INITIATED and the agent is claimed ON_CALL before the control plane is
// asked to place the call; a placement failure ends the session and frees
// the agent before the error is returned.
func (s *Service) DialOutbound(ctx context.Context, tenantID, agentID, phoneNumber string, contactID *string) (calls.Session, error) {
	to := contacts.NormalizePhone(phoneNumber)
	if tenantID == "" || agentID == "" || to == "" {
		return calls.Session{}, ErrInvalidArgument
	}

	a, err := s.agents.Get(ctx, tenantID, agentID)
	if err != nil {
		return calls.Session{}, err
	}
	if err := dialable(a); err != nil {
		return calls.Session{}, err
	}
	active, err := s.calls.FindActiveForAgent(ctx, tenantID, agentID)
	if err != nil {
		return calls.Session{}, err
	}
	if active != nil {
		return calls.Session{}, ErrAgentBusy
	}

	contact, err := s.resolveContact(ctx, tenantID, contactID, to)
	if err != nil {
		return calls.Session{}, err
	}

	sessionID := uuid.NewString()
	a, err = s.agents.Claim(ctx, tenantID, agentID, sessionID)
	if err != nil {
		return calls.Session{}, claimErr(err)
	}

	log, err := s.calls.CreateLog(ctx, tenantID, calls.NewLog{
		Direction: calls.DirectionOutbound,
		From:      a.Extension,
		To:        to,
	})
	if err != nil {
		s.releaseAfterFailure(ctx, tenantID, agentID, sessionID)
		return calls.Session{}, err
	}

	var cid *string
	if contact != nil {
		cid = &contact.ID
	}
	sess, err := s.calls.Create(ctx, tenantID, calls.NewSession{
		ID:        sessionID,
		CallLogID: log.ID,
		AgentID:   &agentID,
		ContactID: cid,
		Status:    calls.SessionInitiated,
	})
	if err != nil {
		s.releaseAfterFailure(ctx, tenantID, agentID, sessionID)
		s.failLog(ctx, tenantID, log.ID)
		return calls.Session{}, err
	}

	s.LogActivity(ctx, tenantID, agentID, activity.TypeCallStarted, map[string]any{
		"sessionId": sess.ID,
		"callId":    log.ID,
		"direction": string(calls.DirectionOutbound),
		"to":        to,
	})
	s.publishPresence(ctx, a)
	s.publishState(ctx, sess, map[string]any{"direction": string(calls.DirectionOutbound), "to": to})

	res, err := s.telephony.Originate(ctx, telephony.OriginateRequest{
		TenantID:      tenantID,
		CallLogID:     log.ID,
		SessionID:     sess.ID,
		Endpoint:      telephony.SIPURI(a.Extension, s.sipDomain),
		FromExtension: a.Extension,
		To:            to,
	})
	if err != nil {
		s.log.Warn("call placement failed, compensating",
			"tenant_id", tenantID,
			"agent_id", agentID,
			"session_id", sess.ID,
			"err", err,
		)
		s.compensatePlacement(ctx, sess)
		return calls.Session{}, fmt.Errorf("%w: originate: %w", ErrCollaborator, err)
	}
	if _, err := s.calls.AttachProviderID(ctx, tenantID, log.ID, res.ProviderCallID); err != nil {
		s.log.Error("attach provider call id failed", "call_log_id", log.ID, "provider_call_id", res.ProviderCallID, "err", err)
	}
	return sess, nil
}

func dialable(a agents.Agent) error {
	switch {
	case !a.Active:
		return ErrAgentUnavailable
	case a.CurrentCallID != nil, a.Status == agents.StatusOnCall:
		return ErrAgentBusy
	case a.Status != agents.StatusAvailable:
		return ErrAgentUnavailable
	default:
		return nil
	}
}

// resolveContact looks the contact up by id when given, else by number. A
// miss by number is not an error.
func (s *Service) resolveContact(ctx context.Context, tenantID string, contactID *string, phone string) (*contacts.Contact, error) {
	if s.contacts == nil {
		return nil, nil
	}
	if contactID != nil && *contactID != "" {
		c, err := s.contacts.Get(ctx, tenantID, *contactID)
		if err != nil {
			return nil, fmt.Errorf("%w: contact lookup: %w", ErrCollaborator, err)
		}
		if c == nil {
			return nil, ErrContactNotFound
		}
		return c, nil
	}
	if phone == "" {
		return nil, nil
	}
	c, err := s.contacts.FindByPhone(ctx, tenantID, phone)
	if err != nil {
		return nil, fmt.Errorf("%w: contact lookup: %w", ErrCollaborator, err)
	}
	return c, nil
}

// compensatePlacement ends the session and frees the agent after the control
// plane refused the call. It runs detached from ctx: a placement that failed
// because the caller went away must still be rolled back.
func (s *Service) compensatePlacement(ctx context.Context, sess calls.Session) {
	ctx, cancel := detached(ctx)
	defer cancel()

	ended, err := s.calls.Transition(ctx, sess.TenantID, sess.ID, calls.SessionEnded)
	if err != nil {
		s.log.Error("compensation: end session failed", "session_id", sess.ID, "err", err)
	} else {
		sess = ended
	}
	s.failLog(ctx, sess.TenantID, sess.CallLogID)
	if sess.AgentID != nil {
		s.releaseAfterFailure(ctx, sess.TenantID, *sess.AgentID, sess.ID)
		s.LogActivity(ctx, sess.TenantID, *sess.AgentID, activity.TypeCallEnded, map[string]any{
			"sessionId": sess.ID,
			"callId":    sess.CallLogID,
			"duration":  sess.DurationSeconds,
			"reason":    "placement_failed",
		})
	}
	s.publishEnded(ctx, sess)
}

// releaseAfterFailure frees an agent claimed for a call that never started.
func (s *Service) releaseAfterFailure(ctx context.Context, tenantID, agentID, sessionID string) {
	ctx, cancel := detached(ctx)
	defer cancel()

	a, err := s.agents.Release(ctx, tenantID, agentID, sessionID, agents.StatusAvailable)
	if err != nil {
		s.log.Error("compensation: release agent failed", "agent_id", agentID, "session_id", sessionID, "err", err)
		return
	}
	s.publishPresence(ctx, a)
}

func (s *Service) failLog(ctx context.Context, tenantID, logID string) {
	ctx, cancel := detached(ctx)
	defer cancel()

	if _, err := s.calls.UpdateLogStatus(ctx, tenantID, logID, calls.LogStatusFailed, -1); err != nil && !errors.Is(err, calls.ErrLogNotFound) {
		s.log.Error("mark call log failed", "call_log_id", logID, "err", err)
	}
}
