package reporting

import (
	"context"
	"errors"
	"time"

	"callcenter-dispatch/internal/activity"
	"callcenter-dispatch/internal/agents"
	"callcenter-dispatch/internal/calls"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Sources are read-only views over the dispatch stores. Every method is
// tenant scoped.
type SessionSource interface {
	Count(ctx context.Context, tenantID string, f calls.SessionFilter) (int, error)
	List(ctx context.Context, tenantID string, f calls.SessionFilter) ([]calls.Session, error)
}

type AgentSource interface {
	Get(ctx context.Context, tenantID, agentID string) (agents.Agent, error)
	List(ctx context.Context, tenantID string, f agents.ListFilter) ([]agents.Agent, error)
}

type ActivitySource interface {
	List(ctx context.Context, tenantID string, f activity.Filter) ([]activity.Entry, error)
}

type Service struct {
	sessions SessionSource
	agents   AgentSource
	activity ActivitySource
	clock    func() time.Time
}

func NewService(sessions SessionSource, agentSrc AgentSource, activitySrc ActivitySource) *Service {
	return &Service{sessions: sessions, agents: agentSrc, activity: activitySrc, clock: time.Now}
}

func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

func (s *Service) RealTimeStats(ctx context.Context, tenantID string) (RealTimeStats, error) {
	if tenantID == "" {
		return RealTimeStats{}, ErrInvalidRequest
	}

	out := RealTimeStats{
		TenantID:       tenantID,
		AgentsByStatus: map[agents.Status]int{},
		GeneratedAt:    s.clock().UTC(),
	}

	var err error
	out.WaitingCalls, err = s.sessions.Count(ctx, tenantID, calls.SessionFilter{
		Statuses: []calls.SessionStatus{calls.SessionRinging},
	})
	if err != nil {
		return RealTimeStats{}, err
	}
	out.UnassignedCalls, err = s.sessions.Count(ctx, tenantID, calls.SessionFilter{
		Statuses:   []calls.SessionStatus{calls.SessionRinging},
		Unassigned: true,
	})
	if err != nil {
		return RealTimeStats{}, err
	}
	out.ActiveCalls, err = s.sessions.Count(ctx, tenantID, calls.SessionFilter{
		Statuses: []calls.SessionStatus{calls.SessionConnected, calls.SessionOnHold},
	})
	if err != nil {
		return RealTimeStats{}, err
	}

	list, err := s.agents.List(ctx, tenantID, agents.ListFilter{ActiveOnly: true})
	if err != nil {
		return RealTimeStats{}, err
	}
	out.TotalAgents = len(list)
	for _, a := range list {
		out.AgentsByStatus[a.Status]++
	}
	return out, nil
}

func (s *Service) AgentMetrics(ctx context.Context, req AgentMetricsRequest) (AgentMetrics, error) {
	if req.TenantID == "" || req.AgentID == "" || !req.Range.valid() {
		return AgentMetrics{}, ErrInvalidRequest
	}
	if _, err := s.agents.Get(ctx, req.TenantID, req.AgentID); err != nil {
		return AgentMetrics{}, err
	}
	return s.agentMetrics(ctx, req.TenantID, req.AgentID, req.Range)
}

func (s *Service) TeamMetrics(ctx context.Context, req TeamMetricsRequest) (TeamMetrics, error) {
	if req.TenantID == "" || !req.Range.valid() {
		return TeamMetrics{}, ErrInvalidRequest
	}

	ids := req.AgentIDs
	if len(ids) == 0 {
		list, err := s.agents.List(ctx, req.TenantID, agents.ListFilter{ActiveOnly: true})
		if err != nil {
			return TeamMetrics{}, err
		}
		for _, a := range list {
			ids = append(ids, a.ID)
		}
	}

	out := TeamMetrics{Range: req.Range, Agents: make([]AgentMetrics, 0, len(ids))}
	for _, id := range ids {
		m, err := s.agentMetrics(ctx, req.TenantID, id, req.Range)
		if err != nil {
			return TeamMetrics{}, err
		}
		out.TotalCalls += m.TotalCalls
		out.AnsweredCalls += m.AnsweredCalls
		out.MissedCalls += m.MissedCalls
		out.TalkSeconds += m.TalkSeconds
		out.Agents = append(out.Agents, m)
	}
	if out.AnsweredCalls > 0 {
		out.AverageTalkSeconds = out.TalkSeconds / out.AnsweredCalls
	}
	if out.TotalCalls > 0 {
		out.AnswerRate = float64(out.AnsweredCalls) / float64(out.TotalCalls)
	}
	return out, nil
}

// agentMetrics counts sessions the agent holds that started inside the
// range. A session transferred away counts for the agent it ended with.
func (s *Service) agentMetrics(ctx context.Context, tenantID, agentID string, r TimeRange) (AgentMetrics, error) {
	rows, err := s.sessions.List(ctx, tenantID, calls.SessionFilter{
		AgentIDs:    []string{agentID},
		StartedFrom: r.From,
		StartedTo:   r.To,
	})
	if err != nil {
		return AgentMetrics{}, err
	}

	out := AgentMetrics{AgentID: agentID, Range: r}
	for _, sess := range rows {
		out.TotalCalls++
		switch {
		case sess.AnsweredAt != nil:
			out.AnsweredCalls++
			out.TalkSeconds += sess.DurationSeconds
			if sess.Status != calls.SessionEnded {
				out.ActiveCalls++
			}
		case sess.Status == calls.SessionEnded:
			out.MissedCalls++
		default:
			out.ActiveCalls++
		}
	}
	if out.AnsweredCalls > 0 {
		out.AverageTalkSeconds = out.TalkSeconds / out.AnsweredCalls
	}

	if s.activity == nil {
		return out, nil
	}
	entries, err := s.activity.List(ctx, tenantID, activity.Filter{
		AgentIDs: []string{agentID},
		Types:    []activity.Type{activity.TypeCallTransferred, activity.TypeStatusChange, activity.TypeLogin},
		From:     r.From,
		To:       r.To,
	})
	if err != nil {
		return AgentMetrics{}, err
	}
	for _, e := range entries {
		switch e.Type {
		case activity.TypeCallTransferred:
			out.TransfersOut++
		case activity.TypeStatusChange:
			out.StatusChanges++
		case activity.TypeLogin:
			out.Logins++
		}
	}
	return out, nil
}
