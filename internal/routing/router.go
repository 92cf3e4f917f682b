package routing

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"callcenter-dispatch/internal/agents"
	"callcenter-dispatch/internal/calls"
	"callcenter-dispatch/internal/queues"
)

// Router picks the next agent for a queued call.
//
// Route has no side effects: it never claims the agent it returns. Callers
// reserve the agent with an atomic claim and call RouteExcluding when the
// claim is lost to a concurrent dispatch.
type Router struct {
	Queues   QueueSource
	Agents   AgentSource
	Sessions SessionSource

	// rng is guarded by mu; *rand.Rand is not safe for concurrent use.
	mu  sync.Mutex
	rng *rand.Rand

	Now func() time.Time
}

type QueueSource interface {
	Get(ctx context.Context, tenantID, id string) (queues.Queue, error)
}

type AgentSource interface {
	List(ctx context.Context, tenantID string, f agents.ListFilter) ([]agents.Agent, error)
}

type SessionSource interface {
	Count(ctx context.Context, tenantID string, f calls.SessionFilter) (int, error)
	List(ctx context.Context, tenantID string, f calls.SessionFilter) ([]calls.Session, error)
}

func NewRouter(q QueueSource, a AgentSource, s SessionSource, rng *rand.Rand) *Router {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Router{Queues: q, Agents: a, Sessions: s, rng: rng, Now: time.Now}
}

// loadStatuses are the session statuses counted by fewestcalls.
var loadStatuses = []calls.SessionStatus{calls.SessionConnected, calls.SessionRinging}

// Route returns the selected agent, or nil when the queue is inactive, has no
// members, or no member is available.
func (r *Router) Route(ctx context.Context, tenantID, queueID string) (*agents.Agent, error) {
	return r.RouteExcluding(ctx, tenantID, queueID, nil)
}

// RouteExcluding is Route with the given agent ids removed from the candidate set.
func (r *Router) RouteExcluding(ctx context.Context, tenantID, queueID string, exclude map[string]struct{}) (*agents.Agent, error) {
	q, err := r.Queues.Get(ctx, tenantID, queueID)
	if err != nil {
		return nil, err
	}
	if !q.Active || len(q.AgentIDs) == 0 {
		return nil, nil
	}

	candidates, err := r.candidates(ctx, tenantID, q, exclude)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	strategy := q.Settings.Strategy
	if strategy == "" {
		strategy = queues.DefaultStrategy
	}

	var picked agents.Agent
	switch strategy {
	case queues.StrategyFewestCalls:
		picked, err = r.fewestCalls(ctx, tenantID, candidates)
		if err != nil {
			return nil, err
		}
	case queues.StrategyRandom:
		r.mu.Lock()
		picked = candidates[r.rng.Intn(len(candidates))]
		r.mu.Unlock()
	case queues.StrategyRingAll:
		// Simultaneous ringing belongs to the telephony plane; dispatch
		// reserves a single agent, the first in membership order.
		picked = candidates[0]
	case queues.StrategyLeastRecent:
		picked = longestIdle(candidates)
	default:
		return nil, fmt.Errorf("routing: unknown strategy %q", strategy)
	}
	return &picked, nil
}

// candidates are the AVAILABLE active members, in membership order.
func (r *Router) candidates(ctx context.Context, tenantID string, q queues.Queue, exclude map[string]struct{}) ([]agents.Agent, error) {
	avail, err := r.Agents.List(ctx, tenantID, agents.ListFilter{
		Statuses:   []agents.Status{agents.StatusAvailable},
		ActiveOnly: true,
		UserIDs:    q.AgentIDs,
	})
	if err != nil {
		return nil, err
	}
	return inMembershipOrder(q.AgentIDs, avail, exclude), nil
}

func inMembershipOrder(members []string, list []agents.Agent, exclude map[string]struct{}) []agents.Agent {
	byUser := make(map[string]agents.Agent, len(list))
	for _, a := range list {
		byUser[a.UserID] = a
	}
	out := make([]agents.Agent, 0, len(list))
	for _, uid := range members {
		a, ok := byUser[uid]
		if !ok {
			continue
		}
		if _, skip := exclude[a.ID]; skip {
			continue
		}
		out = append(out, a)
	}
	return out
}

func (r *Router) fewestCalls(ctx context.Context, tenantID string, candidates []agents.Agent) (agents.Agent, error) {
	best := -1
	var picked agents.Agent
	for _, a := range candidates {
		n, err := r.Sessions.Count(ctx, tenantID, calls.SessionFilter{
			Statuses: loadStatuses,
			AgentIDs: []string{a.ID},
		})
		if err != nil {
			return agents.Agent{}, err
		}
		// Strict less-than keeps the earliest member on ties.
		if best < 0 || n < best {
			best, picked = n, a
		}
	}
	return picked, nil
}

// longestIdle picks the agent whose status changed least recently; since
// candidates are AVAILABLE this is the agent idle the longest.
func longestIdle(candidates []agents.Agent) agents.Agent {
	picked := candidates[0]
	for _, a := range candidates[1:] {
		if a.StatusChangedAt.Before(picked.StatusChangedAt) {
			picked = a
		}
	}
	return picked
}

// QueueStatus is a point-in-time view of one queue.
type QueueStatus struct {
	QueueID            string `json:"queue_id"`
	WaitingCount       int    `json:"waiting_count"`
	AgentCount         int    `json:"agent_count"`
	AvailableCount     int    `json:"available_count"`
	LongestWaitSeconds int    `json:"longest_wait_seconds"`
}

// Status reports ringing sessions routed through the queue and the members
// that are logged in (AVAILABLE or ON_CALL).
func (r *Router) Status(ctx context.Context, tenantID, queueID string) (QueueStatus, error) {
	q, err := r.Queues.Get(ctx, tenantID, queueID)
	if err != nil {
		return QueueStatus{}, err
	}
	st := QueueStatus{QueueID: q.ID}

	waiting, err := r.Sessions.List(ctx, tenantID, calls.SessionFilter{
		Statuses: []calls.SessionStatus{calls.SessionRinging},
		QueueID:  q.ID,
	})
	if err != nil {
		return QueueStatus{}, err
	}
	st.WaitingCount = len(waiting)
	if len(waiting) > 0 {
		// List is ordered by StartedAt; the first one has waited longest.
		wait := r.Now().Sub(waiting[0].StartedAt)
		if wait > 0 {
			st.LongestWaitSeconds = int(wait / time.Second)
		}
	}

	if len(q.AgentIDs) == 0 {
		return st, nil
	}
	members, err := r.Agents.List(ctx, tenantID, agents.ListFilter{
		Statuses:   []agents.Status{agents.StatusAvailable, agents.StatusOnCall},
		ActiveOnly: true,
		UserIDs:    q.AgentIDs,
	})
	if err != nil {
		return QueueStatus{}, err
	}
	st.AgentCount = len(members)
	for _, a := range members {
		if a.Status == agents.StatusAvailable {
			st.AvailableCount++
		}
	}
	return st, nil
}
