package dispatch

import (
	"context"
	"errors"
	"time"

	"callcenter-dispatch/internal/activity"
	"callcenter-dispatch/internal/agents"
)

// wrapUpFor returns the agent's configured wrap-up, or the service default.
func (s *Service) wrapUpFor(a agents.Agent) time.Duration {
	if a.Settings.WrapUpSeconds > 0 {
		return time.Duration(a.Settings.WrapUpSeconds) * time.Second
	}
	return s.defaultWrapUp
}

func wrapUpKey(tenantID, agentID string) string { return tenantID + "/" + agentID }

// scheduleWrapUp arms the agent's one-shot wrap-up timer for sessionID. An
// agent has at most one pending wrap-up: a newer call replaces the older
// timer, and a timer that fires after being replaced or cancelled does
// nothing. At fire time the agent returns to AVAILABLE only if it is still
// in WRAP_UP with no call.
func (s *Service) scheduleWrapUp(tenantID, agentID, sessionID string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	key := wrapUpKey(tenantID, agentID)
	if prev, ok := s.timers[key]; ok {
		prev.timer.Stop()
	}
	s.timers[key] = wrapUpTimer{
		sessionID: sessionID,
		timer: s.after(d, func() {
			if !s.takeWrapUp(key, sessionID) {
				s.log.Debug("stale wrap-up timer ignored", "agent_id", agentID, "session_id", sessionID)
				return
			}
			s.finishWrapUp(context.Background(), tenantID, agentID, sessionID)
		}),
	}
}

// takeWrapUp removes the pending wrap-up when it still belongs to sessionID.
func (s *Service) takeWrapUp(key, sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.timers[key]
	if !ok || cur.sessionID != sessionID {
		return false
	}
	delete(s.timers, key)
	return true
}

// cancelWrapUp drops the agent's pending wrap-up after a manual presence change.
func (s *Service) cancelWrapUp(tenantID, agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := wrapUpKey(tenantID, agentID)
	if cur, ok := s.timers[key]; ok {
		cur.timer.Stop()
		delete(s.timers, key)
	}
}

func (s *Service) finishWrapUp(ctx context.Context, tenantID, agentID, sessionID string) {
	a, err := s.agents.CompareAndSetStatus(ctx, tenantID, agentID, agents.StatusWrapUp, agents.StatusAvailable, true)
	if errors.Is(err, agents.ErrClaimConflict) {
		s.log.Debug("wrap-up timer ignored, agent state moved on", "agent_id", agentID, "session_id", sessionID)
		return
	}
	if err != nil {
		s.log.Error("wrap-up transition failed", "tenant_id", tenantID, "agent_id", agentID, "session_id", sessionID, "err", err)
		return
	}
	s.LogActivity(ctx, tenantID, agentID, activity.TypeStatusChange, map[string]any{
		"from":      string(agents.StatusWrapUp),
		"to":        string(agents.StatusAvailable),
		"reason":    "wrap_up_elapsed",
		"sessionId": sessionID,
	})
	s.publishPresence(ctx, a)
}

// PendingWrapUps is the number of armed wrap-up timers.
func (s *Service) PendingWrapUps() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}
