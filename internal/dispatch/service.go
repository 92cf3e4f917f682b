// Package dispatch orchestrates agents, call sessions and queue routing into
// call-center operations: dial, answer, hang up, route, transfer and presence.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"callcenter-dispatch/internal/activity"
	"callcenter-dispatch/internal/agents"
	"callcenter-dispatch/internal/calls"
	"callcenter-dispatch/internal/contacts"
	"callcenter-dispatch/internal/events"
	"callcenter-dispatch/internal/queues"
	"callcenter-dispatch/internal/telephony"
)

// Router selects a queue member. Implemented by routing.Router.
type Router interface {
	RouteExcluding(ctx context.Context, tenantID, queueID string, exclude map[string]struct{}) (*agents.Agent, error)
}

// QueueLookup resolves inbound numbers to queues.
type QueueLookup interface {
	Get(ctx context.Context, tenantID, id string) (queues.Queue, error)
	GetByNumber(ctx context.Context, tenantID, number string) (queues.Queue, error)
}

type Deps struct {
	Agents    *agents.Service
	Calls     *calls.Service
	Router    Router
	Queues    QueueLookup
	Activity  *activity.Service
	Contacts  contacts.Directory
	Telephony telephony.Controller
	Events    events.Publisher
	Log       *slog.Logger

	// SIPDomain builds agent dial targets.
	SIPDomain string
	// DefaultWrapUp applies when an agent has no wrap-up setting.
	DefaultWrapUp time.Duration
}

// Service is the dispatch orchestrator.
//
// Rules:
// - Agents are reserved with an atomic claim, never read-then-write.
// - Sessions are re-read immediately before every transition.
// - A failed call placement is compensated: session ENDED, agent AVAILABLE.
// - Activity log writes are best-effort and never fail the operation.
type Service struct {
	agents    *agents.Service
	calls     *calls.Service
	router    Router
	queues    QueueLookup
	activity  *activity.Service
	contacts  contacts.Directory
	telephony telephony.Controller
	events    events.Publisher
	log       *slog.Logger

	sipDomain     string
	defaultWrapUp time.Duration

	clock func() time.Time
	after func(d time.Duration, f func()) Timer

	mu     sync.Mutex
	timers map[string]wrapUpTimer
	closed bool
}

// Timer is the handle of a scheduled wrap-up; *time.Timer satisfies it.
type Timer interface {
	Stop() bool
}

// wrapUpTimer is the single pending wrap-up of an agent.
type wrapUpTimer struct {
	sessionID string
	timer     Timer
}

// rollbackTimeout bounds compensation writes that outlive the request.
const rollbackTimeout = 5 * time.Second

// detached keeps ctx values but drops its cancellation, so a compensation
// started after the caller went away still reaches the store.
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
}

func NewService(d Deps) *Service {
	s := &Service{
		agents:        d.Agents,
		calls:         d.Calls,
		router:        d.Router,
		queues:        d.Queues,
		activity:      d.Activity,
		contacts:      d.Contacts,
		telephony:     d.Telephony,
		events:        d.Events,
		log:           d.Log,
		sipDomain:     d.SIPDomain,
		defaultWrapUp: d.DefaultWrapUp,
		clock:         time.Now,
		after:         func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) },
		timers:        map[string]wrapUpTimer{},
	}
	if s.events == nil {
		s.events = events.Nop{}
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.telephony == nil {
		s.telephony = telephony.NoopController{Log: s.log}
	}
	if s.defaultWrapUp <= 0 {
		s.defaultWrapUp = 30 * time.Second
	}
	if s.sipDomain == "" {
		s.sipDomain = "pbx.local"
	}
	return s
}

// WithClock is for tests.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// WithScheduler replaces time.AfterFunc, for tests.
func (s *Service) WithScheduler(after func(d time.Duration, f func()) Timer) *Service {
	s.after = after
	return s
}

func (s *Service) now() time.Time { return s.clock().UTC() }

// Close stops pending wrap-up timers. Agents left in WRAP_UP are recovered by
// a manual status change.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for key, w := range s.timers {
		w.timer.Stop()
		delete(s.timers, key)
	}
}

func (s *Service) publish(ctx context.Context, tenantID, agentID string, typ events.Type, data any) {
	s.events.Publish(ctx, events.Event{
		Type:     typ,
		TenantID: tenantID,
		AgentID:  agentID,
		Data:     data,
		At:       s.now(),
	})
}

func (s *Service) publishPresence(ctx context.Context, a agents.Agent) {
	s.publish(ctx, a.TenantID, "", events.TypePresenceUpdate, events.PresenceUpdate{
		AgentID: a.ID,
		UserID:  a.UserID,
		Status:  string(a.Status),
	})
}

func (s *Service) publishState(ctx context.Context, sess calls.Session, metadata map[string]any) {
	s.publish(ctx, sess.TenantID, "", events.TypeCallStateChanged, events.CallStateChanged{
		SessionID: sess.ID,
		CallID:    sess.CallLogID,
		Status:    string(sess.Status),
		Metadata:  metadata,
	})
}

func (s *Service) publishEnded(ctx context.Context, sess calls.Session) {
	s.publishState(ctx, sess, map[string]any{"duration": sess.DurationSeconds})
	s.publish(ctx, sess.TenantID, "", events.TypeCallEnded, events.CallEnded{
		CallID:    sess.CallLogID,
		SessionID: sess.ID,
		Duration:  sess.DurationSeconds,
	})
}

// LogActivity appends an activity entry. Failures are reported at error
// level and never returned.
func (s *Service) LogActivity(ctx context.Context, tenantID, agentID string, typ activity.Type, metadata map[string]any) {
	if s.activity == nil {
		return
	}
	if _, err := s.activity.Log(ctx, tenantID, agentID, typ, metadata); err != nil {
		s.log.Error("activity log write failed",
			"tenant_id", tenantID,
			"agent_id", agentID,
			"type", string(typ),
			"err", err,
		)
	}
}

// assignedSession re-reads the session and checks it belongs to agentID.
func (s *Service) assignedSession(ctx context.Context, tenantID, agentID, sessionID string) (calls.Session, error) {
	if agentID == "" || sessionID == "" {
		return calls.Session{}, ErrInvalidArgument
	}
	sess, err := s.calls.Get(ctx, tenantID, sessionID)
	if err != nil {
		return calls.Session{}, err
	}
	if !sess.AssignedTo(agentID) {
		return calls.Session{}, ErrNotAssigned
	}
	return sess, nil
}

func (s *Service) controlRequest(ctx context.Context, sess calls.Session) telephony.CallControlRequest {
	req := telephony.CallControlRequest{TenantID: sess.TenantID, SessionID: sess.ID}
	if l, err := s.calls.GetLog(ctx, sess.TenantID, sess.CallLogID); err == nil {
		req.ProviderCallID = l.ProviderCallID
	}
	return req
}
