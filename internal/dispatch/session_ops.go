package dispatch

import (
	"context"
	"errors"
	"fmt"

	"callcenter-dispatch/internal/activity"
	"callcenter-dispatch/internal/agents"
	"callcenter-dispatch/internal/calls"
	"callcenter-dispatch/internal/contacts"
	"callcenter-dispatch/internal/events"
	"callcenter-dispatch/internal/telephony"
)

// AnswerCall connects a RINGING session assigned to agentID. An outbound
// session still in INITIATED is stepped through RINGING first, since the
// carrier's ringing callback may not have arrived yet.
func (s *Service) AnswerCall(ctx context.Context, tenantID, agentID, sessionID string) (calls.Session, error) {
	sess, err := s.assignedSession(ctx, tenantID, agentID, sessionID)
	if err != nil {
		return calls.Session{}, err
	}
	switch sess.Status {
	case calls.SessionInitiated:
		if sess, err = s.calls.Transition(ctx, tenantID, sessionID, calls.SessionRinging); err != nil {
			return calls.Session{}, stateErr(err)
		}
	case calls.SessionRinging:
	default:
		return calls.Session{}, fmt.Errorf("answer in %s: %w", sess.Status, ErrInvalidState)
	}

	sess, err = s.calls.Transition(ctx, tenantID, sessionID, calls.SessionConnected)
	if err != nil {
		return calls.Session{}, stateErr(err)
	}

	// The claim already holds the agent on this session; Attach only restores
	// ON_CALL (e.g. after a disconnect) and fails once a hangup released it.
	before, err := s.agents.Get(ctx, tenantID, agentID)
	if err != nil {
		return calls.Session{}, err
	}
	a, err := s.agents.Attach(ctx, tenantID, agentID, sess.ID)
	if errors.Is(err, agents.ErrClaimConflict) {
		return calls.Session{}, fmt.Errorf("answer released session: %w", ErrInvalidState)
	}
	if err != nil {
		return calls.Session{}, err
	}
	if before.Status != a.Status {
		s.publishPresence(ctx, a)
	}

	if _, err := s.calls.UpdateLogStatus(ctx, tenantID, sess.CallLogID, calls.LogStatusInProgress, -1); err != nil {
		s.log.Error("call log status update failed", "call_log_id", sess.CallLogID, "err", err)
	}
	s.LogActivity(ctx, tenantID, agentID, activity.TypeCallAnswered, map[string]any{
		"sessionId": sess.ID,
		"callId":    sess.CallLogID,
	})
	s.publishState(ctx, sess, nil)
	return sess, nil
}

// HangupCall ends a session assigned to agentID and puts the agent in
// WRAP_UP. The control plane is asked to drop the call; its failure is
// logged since the session has already ended for the agent.
func (s *Service) HangupCall(ctx context.Context, tenantID, agentID, sessionID string) (calls.Session, error) {
	sess, err := s.assignedSession(ctx, tenantID, agentID, sessionID)
	if err != nil {
		return calls.Session{}, err
	}
	if sess.Status == calls.SessionEnded {
		return calls.Session{}, fmt.Errorf("hangup ended session: %w", ErrInvalidState)
	}

	if err := s.telephony.Hangup(ctx, s.controlRequest(ctx, sess)); err != nil {
		s.log.Warn("control plane hangup failed", "session_id", sess.ID, "err", err)
	}
	return s.endSession(ctx, sess, "agent_hangup")
}

// endSession moves the session to ENDED, releases its agent into WRAP_UP and
// arms the wrap-up timer. Shared by agent hangups and carrier callbacks.
func (s *Service) endSession(ctx context.Context, sess calls.Session, reason string) (calls.Session, error) {
	ended, err := s.calls.Transition(ctx, sess.TenantID, sess.ID, calls.SessionEnded)
	if err != nil {
		return calls.Session{}, stateErr(err)
	}

	l, err := s.calls.GetLog(ctx, sess.TenantID, ended.CallLogID)
	if err == nil && !l.Status.Terminal() {
		if _, err := s.calls.UpdateLogStatus(ctx, sess.TenantID, l.ID, calls.LogStatusCompleted, ended.DurationSeconds); err != nil {
			s.log.Error("call log status update failed", "call_log_id", l.ID, "err", err)
		}
	}

	if ended.AgentID != nil {
		s.releaseIntoWrapUp(ctx, ended.TenantID, *ended.AgentID, ended.ID)
		s.LogActivity(ctx, ended.TenantID, *ended.AgentID, activity.TypeCallEnded, map[string]any{
			"sessionId": ended.ID,
			"callId":    ended.CallLogID,
			"duration":  ended.DurationSeconds,
			"reason":    reason,
		})
	}
	s.publishEnded(ctx, ended)
	return ended, nil
}

// releaseIntoWrapUp clears the agent's call pointer when it still points at
// sessionID. An agent that went OFFLINE during the call stays OFFLINE.
func (s *Service) releaseIntoWrapUp(ctx context.Context, tenantID, agentID, sessionID string) {
	a, err := s.agents.Get(ctx, tenantID, agentID)
	if err != nil {
		s.log.Error("release agent: lookup failed", "agent_id", agentID, "err", err)
		return
	}
	to := agents.StatusWrapUp
	if a.Status == agents.StatusOffline {
		to = agents.StatusOffline
	}
	a, err = s.agents.Release(ctx, tenantID, agentID, sessionID, to)
	if errors.Is(err, agents.ErrClaimConflict) {
		s.log.Debug("release skipped, agent holds another call", "agent_id", agentID, "session_id", sessionID)
		return
	}
	if err != nil {
		s.log.Error("release agent failed", "agent_id", agentID, "session_id", sessionID, "err", err)
		return
	}
	s.publishPresence(ctx, a)
	if to == agents.StatusWrapUp {
		s.scheduleWrapUp(tenantID, agentID, sessionID, s.wrapUpFor(a))
	}
}

// TransferTarget is either another agent of the tenant or an external number.
type TransferTarget struct {
	AgentID string `json:"agentId,omitempty"`
	Number  string `json:"number,omitempty"`
}

// TransferCall hands a CONNECTED or ON_HOLD session to another agent or to
// an external number. The transferring agent goes to WRAP_UP. An agent target
// is claimed first so a busy target fails the transfer with ErrAgentBusy;
// an external transfer ends the session for the call center.
func (s *Service) TransferCall(ctx context.Context, tenantID, agentID, sessionID string, target TransferTarget) (calls.Session, error) {
	if (target.AgentID == "") == (target.Number == "") {
		return calls.Session{}, ErrInvalidArgument
	}
	sess, err := s.assignedSession(ctx, tenantID, agentID, sessionID)
	if err != nil {
		return calls.Session{}, err
	}
	if sess.Status != calls.SessionConnected && sess.Status != calls.SessionOnHold {
		return calls.Session{}, fmt.Errorf("transfer in %s: %w", sess.Status, ErrInvalidState)
	}
	if target.AgentID != "" {
		return s.transferToAgent(ctx, sess, agentID, target.AgentID)
	}
	return s.transferToNumber(ctx, sess, agentID, target.Number)
}

func (s *Service) transferToAgent(ctx context.Context, sess calls.Session, fromAgentID, toAgentID string) (calls.Session, error) {
	if toAgentID == fromAgentID {
		return calls.Session{}, ErrInvalidArgument
	}
	tenantID := sess.TenantID

	dest, err := s.agents.Claim(ctx, tenantID, toAgentID, sess.ID)
	if err != nil {
		return calls.Session{}, claimErr(err)
	}

	req := telephony.TransferRequest{
		CallControlRequest: s.controlRequest(ctx, sess),
		Target:             telephony.SIPURI(dest.Extension, s.sipDomain),
	}
	if err := s.telephony.Transfer(ctx, req); err != nil {
		s.releaseAfterFailure(ctx, tenantID, toAgentID, sess.ID)
		return calls.Session{}, fmt.Errorf("%w: transfer: %w", ErrCollaborator, err)
	}

	if _, err := s.calls.Reassign(ctx, tenantID, sess.ID, &toAgentID); err != nil {
		s.releaseAfterFailure(ctx, tenantID, toAgentID, sess.ID)
		return calls.Session{}, stateErr(err)
	}
	moved, err := s.calls.AppendTransferHistory(ctx, tenantID, sess.ID, fromAgentID, toAgentID)
	if err != nil {
		return calls.Session{}, err
	}

	s.releaseIntoWrapUp(ctx, tenantID, fromAgentID, sess.ID)
	s.LogActivity(ctx, tenantID, fromAgentID, activity.TypeCallTransferred, map[string]any{
		"sessionId": sess.ID,
		"callId":    sess.CallLogID,
		"toAgentId": toAgentID,
	})
	s.LogActivity(ctx, tenantID, toAgentID, activity.TypeCallStarted, map[string]any{
		"sessionId":   sess.ID,
		"callId":      sess.CallLogID,
		"fromAgentId": fromAgentID,
	})

	s.publishPresence(ctx, dest)
	s.publishIncoming(ctx, moved, toAgentID, nil)
	s.publishState(ctx, moved, map[string]any{"transferredFrom": fromAgentID, "transferredTo": toAgentID})
	return moved, nil
}

func (s *Service) transferToNumber(ctx context.Context, sess calls.Session, fromAgentID, number string) (calls.Session, error) {
	to := contacts.NormalizePhone(number)
	if to == "" {
		return calls.Session{}, ErrInvalidArgument
	}
	req := telephony.TransferRequest{CallControlRequest: s.controlRequest(ctx, sess), Target: to}
	if err := s.telephony.Transfer(ctx, req); err != nil {
		return calls.Session{}, fmt.Errorf("%w: transfer: %w", ErrCollaborator, err)
	}
	if _, err := s.calls.AppendTransferHistory(ctx, sess.TenantID, sess.ID, fromAgentID, to); err != nil {
		return calls.Session{}, err
	}
	s.LogActivity(ctx, sess.TenantID, fromAgentID, activity.TypeCallTransferred, map[string]any{
		"sessionId": sess.ID,
		"callId":    sess.CallLogID,
		"toNumber":  to,
	})
	return s.endSession(ctx, sess, "transferred_external")
}

// HoldCall puts a CONNECTED session on hold.
func (s *Service) HoldCall(ctx context.Context, tenantID, agentID, sessionID string) (calls.Session, error) {
	return s.setHold(ctx, tenantID, agentID, sessionID, true)
}

// ResumeCall takes an ON_HOLD session back to CONNECTED.
func (s *Service) ResumeCall(ctx context.Context, tenantID, agentID, sessionID string) (calls.Session, error) {
	return s.setHold(ctx, tenantID, agentID, sessionID, false)
}

func (s *Service) setHold(ctx context.Context, tenantID, agentID, sessionID string, on bool) (calls.Session, error) {
	sess, err := s.assignedSession(ctx, tenantID, agentID, sessionID)
	if err != nil {
		return calls.Session{}, err
	}
	from, to := calls.SessionConnected, calls.SessionOnHold
	if !on {
		from, to = calls.SessionOnHold, calls.SessionConnected
	}
	if sess.Status != from {
		return calls.Session{}, fmt.Errorf("hold=%t in %s: %w", on, sess.Status, ErrInvalidState)
	}
	if err := s.telephony.Hold(ctx, s.controlRequest(ctx, sess), on); err != nil {
		return calls.Session{}, fmt.Errorf("%w: hold: %w", ErrCollaborator, err)
	}
	sess, err = s.calls.Transition(ctx, tenantID, sessionID, to)
	if err != nil {
		return calls.Session{}, stateErr(err)
	}
	s.publishState(ctx, sess, map[string]any{"hold": on})
	return sess, nil
}

// MuteCall mutes or unmutes the agent leg. Session status is unchanged.
func (s *Service) MuteCall(ctx context.Context, tenantID, agentID, sessionID string, on bool) (calls.Session, error) {
	sess, err := s.assignedSession(ctx, tenantID, agentID, sessionID)
	if err != nil {
		return calls.Session{}, err
	}
	if sess.Status != calls.SessionConnected && sess.Status != calls.SessionOnHold {
		return calls.Session{}, fmt.Errorf("mute in %s: %w", sess.Status, ErrInvalidState)
	}
	if err := s.telephony.Mute(ctx, s.controlRequest(ctx, sess), on); err != nil {
		return calls.Session{}, fmt.Errorf("%w: mute: %w", ErrCollaborator, err)
	}
	s.publishState(ctx, sess, map[string]any{"muted": on})
	return sess, nil
}

// UpdateNotes records notes and disposition. Allowed after the call ended so
// agents can finish them during wrap-up.
func (s *Service) UpdateNotes(ctx context.Context, tenantID, agentID, sessionID string, notes, disposition *string) (calls.Session, error) {
	if _, err := s.assignedSession(ctx, tenantID, agentID, sessionID); err != nil {
		return calls.Session{}, err
	}
	sess, err := s.calls.RecordNotes(ctx, tenantID, sessionID, notes, disposition)
	if err != nil {
		return calls.Session{}, err
	}
	s.publishState(ctx, sess, map[string]any{"notesUpdated": true})
	return sess, nil
}

func (s *Service) publishIncoming(ctx context.Context, sess calls.Session, agentID string, contact *contacts.Contact) {
	from, to := "", ""
	if l, err := s.calls.GetLog(ctx, sess.TenantID, sess.CallLogID); err == nil {
		from, to = l.From, l.To
	}
	in := events.CallIncoming{
		CallID:    sess.CallLogID,
		SessionID: sess.ID,
		From:      from,
		To:        to,
	}
	if sess.QueueID != nil {
		in.QueueID = *sess.QueueID
	}
	if contact != nil {
		in.Contact = contact
	}
	s.publish(ctx, sess.TenantID, agentID, events.TypeCallIncoming, in)
}
