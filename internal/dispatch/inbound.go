package dispatch

import (
	"context"
	"errors"
	"fmt"

	"callcenter-dispatch/internal/activity"
	"callcenter-dispatch/internal/agents"
	"callcenter-dispatch/internal/calls"
	"callcenter-dispatch/internal/contacts"
	"callcenter-dispatch/internal/queues"
	"callcenter-dispatch/internal/telephony"

	"github.com/google/uuid"
)

// maxClaimAttempts bounds the retries after losing an agent to a concurrent dispatch.
const maxClaimAttempts = 8

// Assignment is the outcome of routing one inbound call.
type Assignment struct {
	Session calls.Session     `json:"session"`
	Agent   *agents.Agent     `json:"agent,omitempty"`
	Contact *contacts.Contact `json:"contact,omitempty"`
}

// RouteInboundCall creates a RINGING session for the call log. With a queue
// the router picks the agent; without one the first AVAILABLE agent in
// extension order is used. The agent is claimed ON_CALL before the session
// is written, so two concurrent inbound calls can never reserve the same
// agent. When nobody is available the session is created unassigned and
// the caller stays queued.
func (s *Service) RouteInboundCall(ctx context.Context, tenantID, callLogID string, queueID *string) (Assignment, error) {
	if tenantID == "" || callLogID == "" {
		return Assignment{}, ErrInvalidArgument
	}
	l, err := s.calls.GetLog(ctx, tenantID, callLogID)
	if err != nil {
		return Assignment{}, err
	}

	sessionID := uuid.NewString()
	agent, err := s.claimNext(ctx, tenantID, queueID, sessionID)
	if err != nil {
		return Assignment{}, err
	}

	contact, err := s.resolveContact(ctx, tenantID, nil, contacts.NormalizePhone(l.From))
	if err != nil {
		// The caller is already waiting; route without the contact.
		s.log.Error("inbound contact lookup failed", "tenant_id", tenantID, "call_log_id", l.ID, "err", err)
	}

	in := calls.NewSession{
		ID:        sessionID,
		CallLogID: l.ID,
		QueueID:   queueID,
		Status:    calls.SessionRinging,
	}
	if agent != nil {
		in.AgentID = &agent.ID
	}
	if contact != nil {
		in.ContactID = &contact.ID
	}
	sess, err := s.calls.Create(ctx, tenantID, in)
	if err != nil {
		if agent != nil {
			s.releaseAfterFailure(ctx, tenantID, agent.ID, sessionID)
		}
		return Assignment{}, err
	}

	if _, err := s.calls.UpdateLogStatus(ctx, tenantID, l.ID, calls.LogStatusRinging, -1); err != nil {
		s.log.Error("call log status update failed", "call_log_id", l.ID, "err", err)
	}

	meta := map[string]any{"direction": string(calls.DirectionInbound), "from": l.From}
	if queueID != nil {
		meta["queueId"] = *queueID
	}
	if agent != nil {
		s.LogActivity(ctx, tenantID, agent.ID, activity.TypeCallStarted, map[string]any{
			"sessionId": sess.ID,
			"callId":    l.ID,
			"direction": string(calls.DirectionInbound),
			"from":      l.From,
		})
		s.publishPresence(ctx, *agent)
		s.publishIncoming(ctx, sess, agent.ID, contact)
	} else {
		meta["queued"] = true
	}
	s.publishState(ctx, sess, meta)

	return Assignment{Session: sess, Agent: agent, Contact: contact}, nil
}

// claimNext picks and claims an agent, skipping agents lost to concurrent
// claims. nil means nobody is available.
func (s *Service) claimNext(ctx context.Context, tenantID string, queueID *string, sessionID string) (*agents.Agent, error) {
	exclude := map[string]struct{}{}
	for attempt := 0; attempt < maxClaimAttempts; attempt++ {
		candidate, err := s.pick(ctx, tenantID, queueID, exclude)
		if err != nil || candidate == nil {
			return nil, err
		}
		a, err := s.agents.Claim(ctx, tenantID, candidate.ID, sessionID)
		if errors.Is(err, agents.ErrClaimConflict) {
			s.log.Debug("lost agent claim, retrying", "agent_id", candidate.ID, "session_id", sessionID)
			exclude[candidate.ID] = struct{}{}
			continue
		}
		if err != nil {
			return nil, err
		}
		return &a, nil
	}
	return nil, nil
}

func (s *Service) pick(ctx context.Context, tenantID string, queueID *string, exclude map[string]struct{}) (*agents.Agent, error) {
	if queueID != nil && *queueID != "" {
		return s.router.RouteExcluding(ctx, tenantID, *queueID, exclude)
	}
	avail, err := s.agents.FindAvailable(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	for _, a := range avail {
		if _, skip := exclude[a.ID]; !skip {
			return &a, nil
		}
	}
	return nil, nil
}

// HandleInboundCall is the telephony webhook entry point: it records the
// call, resolves the dialed number to a queue and routes it. Provider
// retries for an already recorded call return the existing decision.
func (s *Service) HandleInboundCall(ctx context.Context, req telephony.InboundCallRequest) (telephony.InboundCallResult, error) {
	if req.TenantID == "" || req.ProviderCallID == "" {
		return telephony.InboundCallResult{}, ErrInvalidArgument
	}

	if existing, err := s.calls.GetLogByProviderID(ctx, req.ProviderCallID); err == nil {
		return s.replayInbound(ctx, existing)
	} else if !errors.Is(err, calls.ErrLogNotFound) {
		return telephony.InboundCallResult{}, err
	}

	q, err := s.queueForNumber(ctx, req.TenantID, req.To)
	if err != nil {
		return telephony.InboundCallResult{}, err
	}

	l, err := s.calls.CreateLog(ctx, req.TenantID, calls.NewLog{
		Direction:      calls.DirectionInbound,
		From:           req.From,
		To:             req.To,
		ProviderCallID: req.ProviderCallID,
	})
	if err != nil {
		return telephony.InboundCallResult{}, err
	}
	if req.RawPayload != "" {
		if _, err := s.calls.AppendFlowEvent(ctx, req.TenantID, l.ID, "webhook", req.RawPayload); err != nil {
			s.log.Warn("flow event append failed", "call_log_id", l.ID, "err", err)
		}
	}

	var queueID *string
	if q != nil {
		queueID = &q.ID
	}
	asg, err := s.RouteInboundCall(ctx, req.TenantID, l.ID, queueID)
	if err != nil {
		s.failLog(ctx, req.TenantID, l.ID)
		return telephony.InboundCallResult{}, err
	}
	return s.inboundResult(asg.Session, asg.Agent, q), nil
}

func (s *Service) queueForNumber(ctx context.Context, tenantID, number string) (*queues.Queue, error) {
	if s.queues == nil || number == "" {
		return nil, nil
	}
	q, err := s.queues.GetByNumber(ctx, tenantID, number)
	if errors.Is(err, queues.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !q.Active {
		return nil, nil
	}
	return &q, nil
}

func (s *Service) replayInbound(ctx context.Context, l calls.CallLog) (telephony.InboundCallResult, error) {
	list, err := s.calls.List(ctx, l.TenantID, calls.SessionFilter{CallLogID: l.ID})
	if err != nil {
		return telephony.InboundCallResult{}, err
	}
	if len(list) == 0 || list[len(list)-1].Status == calls.SessionEnded {
		return telephony.InboundCallResult{TenantID: l.TenantID, CallLogID: l.ID, Action: telephony.InboundCallActionHangup}, nil
	}
	sess := list[len(list)-1]

	var a *agents.Agent
	if sess.AgentID != nil {
		got, err := s.agents.Get(ctx, l.TenantID, *sess.AgentID)
		if err != nil {
			return telephony.InboundCallResult{}, err
		}
		a = &got
	}
	var q *queues.Queue
	if sess.QueueID != nil && s.queues != nil {
		if got, err := s.queues.Get(ctx, l.TenantID, *sess.QueueID); err == nil {
			q = &got
		}
	}
	return s.inboundResult(sess, a, q), nil
}

func (s *Service) inboundResult(sess calls.Session, a *agents.Agent, q *queues.Queue) telephony.InboundCallResult {
	res := telephony.InboundCallResult{
		TenantID:  sess.TenantID,
		CallLogID: sess.CallLogID,
		SessionID: sess.ID,
	}
	if a != nil {
		res.Action = telephony.InboundCallActionConnect
		res.ConnectTo = telephony.SIPURI(a.Extension, s.sipDomain)
		return res
	}
	res.Action = telephony.InboundCallActionEnqueue
	if q != nil {
		res.QueueName = q.Name
		res.HoldMusic = q.Settings.HoldMusic
	}
	return res
}

// HandleStatusCallback applies a carrier status to the call log. A terminal
// status ends any live session the same way an agent hangup does. For
// outbound calls ringing and answered progress the session as well.
func (s *Service) HandleStatusCallback(ctx context.Context, cb telephony.StatusCallback) error {
	status := calls.LogStatus(cb.Status)
	if cb.ProviderCallID == "" || !status.Valid() {
		return ErrInvalidArgument
	}
	l, err := s.calls.GetLogByProviderID(ctx, cb.ProviderCallID)
	if errors.Is(err, calls.ErrLogNotFound) {
		s.log.Warn("status callback for unknown call", "provider_call_id", cb.ProviderCallID, "status", cb.Status)
		return nil
	}
	if err != nil {
		return err
	}
	if l.Status.Terminal() {
		// Already settled, e.g. by an agent hangup; keep the carrier's duration.
		if cb.DurationSeconds >= 0 {
			_, err = s.calls.UpdateLogStatus(ctx, l.TenantID, l.ID, l.Status, cb.DurationSeconds)
		}
		return err
	}
	if l, err = s.calls.UpdateLogStatus(ctx, l.TenantID, l.ID, status, cb.DurationSeconds); err != nil {
		return err
	}

	sessions, err := s.calls.List(ctx, l.TenantID, calls.SessionFilter{CallLogID: l.ID})
	if err != nil {
		return err
	}
	for _, sess := range sessions {
		if sess.Status == calls.SessionEnded {
			continue
		}
		if err := s.progress(ctx, l, sess, status); err != nil {
			return fmt.Errorf("session %s: %w", sess.ID, err)
		}
	}
	return nil
}

func (s *Service) progress(ctx context.Context, l calls.CallLog, sess calls.Session, status calls.LogStatus) error {
	if status.Terminal() {
		_, err := s.endSession(ctx, sess, "carrier_"+string(status))
		return err
	}
	if l.Direction != calls.DirectionOutbound {
		return nil
	}

	var next []calls.SessionStatus
	switch {
	case status == calls.LogStatusRinging && sess.Status == calls.SessionInitiated:
		next = []calls.SessionStatus{calls.SessionRinging}
	case status == calls.LogStatusInProgress && sess.Status == calls.SessionInitiated:
		next = []calls.SessionStatus{calls.SessionRinging, calls.SessionConnected}
	case status == calls.LogStatusInProgress && sess.Status == calls.SessionRinging:
		next = []calls.SessionStatus{calls.SessionConnected}
	}
	for _, st := range next {
		updated, err := s.calls.Transition(ctx, sess.TenantID, sess.ID, st)
		if err != nil {
			return stateErr(err)
		}
		sess = updated
	}
	if len(next) > 0 {
		s.publishState(ctx, sess, map[string]any{"carrierStatus": string(status)})
	}
	return nil
}
