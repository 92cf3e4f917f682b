package reporting

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"callcenter-dispatch/internal/activity"
	"callcenter-dispatch/internal/agents"
	"callcenter-dispatch/internal/calls"
	"callcenter-dispatch/internal/dispatch"
	"callcenter-dispatch/internal/queues"
	"callcenter-dispatch/internal/routing"
	"callcenter-dispatch/pkg/logger"

	"golang.org/x/crypto/bcrypt"
)

type fixture struct {
	now      time.Time
	agents   *agents.Service
	calls    *calls.Service
	activity *activity.MemoryRepo
	svc      *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{now: time.Unix(1700000000, 0).UTC()}
	clock := func() time.Time { return f.now }
	f.agents = agents.NewService(agents.NewMemoryRepo()).WithClock(clock).WithHashCost(bcrypt.MinCost)
	f.calls = calls.NewService(calls.NewMemoryRepo()).WithClock(clock)
	f.activity = activity.NewMemoryRepo()
	f.svc = NewService(f.calls, f.agents, f.activity).WithClock(clock)
	return f
}

func (f *fixture) agent(t *testing.T, user, ext string) agents.Agent {
	t.Helper()
	a, err := f.agents.Provision(context.Background(), "t1", user, ext, "pw", agents.Settings{})
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	return a
}

// call creates a session for agentID and walks it through the given statuses,
// advancing the clock by step between transitions.
func (f *fixture) call(t *testing.T, agentID string, step time.Duration, path ...calls.SessionStatus) calls.Session {
	t.Helper()
	ctx := context.Background()
	l, err := f.calls.CreateLog(ctx, "t1", calls.NewLog{Direction: calls.DirectionInbound, From: "+14155550100", To: "+14155550199"})
	if err != nil {
		t.Fatalf("log: %v", err)
	}
	var agentPtr *string
	if agentID != "" {
		agentPtr = &agentID
	}
	sess, err := f.calls.Create(ctx, "t1", calls.NewSession{CallLogID: l.ID, AgentID: agentPtr, Status: calls.SessionRinging})
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	for _, next := range path {
		f.now = f.now.Add(step)
		sess, err = f.calls.Transition(ctx, "t1", sess.ID, next)
		if err != nil {
			t.Fatalf("transition %s: %v", next, err)
		}
	}
	return sess
}

func (f *fixture) window() TimeRange {
	return TimeRange{From: f.now.Add(-time.Hour), To: f.now.Add(time.Hour)}
}

func TestRealTimeStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a1 := f.agent(t, "u1", "1001")
	a2 := f.agent(t, "u2", "1002")
	a3 := f.agent(t, "u3", "1003")
	if _, err := f.agents.SetStatus(ctx, "t1", a1.ID, agents.StatusAvailable); err != nil {
		t.Fatalf("status: %v", err)
	}
	if _, err := f.agents.SetStatus(ctx, "t1", a2.ID, agents.StatusAvailable); err != nil {
		t.Fatalf("status: %v", err)
	}
	if _, err := f.agents.Deactivate(ctx, "t1", a3.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	f.call(t, "", 0)
	f.call(t, a1.ID, 0)
	f.call(t, a2.ID, time.Second, calls.SessionConnected)
	f.call(t, a2.ID, time.Second, calls.SessionConnected, calls.SessionEnded)

	st, err := f.svc.RealTimeStats(ctx, "t1")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.WaitingCalls != 2 || st.UnassignedCalls != 1 || st.ActiveCalls != 1 {
		t.Fatalf("unexpected call counts: %+v", st)
	}
	if st.TotalAgents != 2 || st.AgentsByStatus[agents.StatusAvailable] != 2 {
		t.Fatalf("unexpected agent counts: %+v", st)
	}

	other, err := f.svc.RealTimeStats(ctx, "t2")
	if err != nil {
		t.Fatalf("stats t2: %v", err)
	}
	if other.WaitingCalls != 0 || other.TotalAgents != 0 {
		t.Fatalf("tenant isolation broken: %+v", other)
	}
}

func TestAgentMetrics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.agent(t, "u1", "1001")

	f.call(t, a.ID, 30*time.Second, calls.SessionConnected, calls.SessionEnded)
	f.call(t, a.ID, 90*time.Second, calls.SessionConnected, calls.SessionEnded)
	f.call(t, a.ID, time.Second, calls.SessionEnded)
	f.call(t, a.ID, time.Second, calls.SessionConnected)

	for _, e := range []activity.Entry{
		{ID: "e1", TenantID: "t1", AgentID: a.ID, Type: activity.TypeLogin, CreatedAt: f.now},
		{ID: "e2", TenantID: "t1", AgentID: a.ID, Type: activity.TypeStatusChange, CreatedAt: f.now},
		{ID: "e3", TenantID: "t1", AgentID: a.ID, Type: activity.TypeCallTransferred, CreatedAt: f.now},
		{ID: "e4", TenantID: "t1", AgentID: a.ID, Type: activity.TypeStatusChange, CreatedAt: f.now.Add(-48 * time.Hour)},
	} {
		if err := f.activity.Append(ctx, e); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	m, err := f.svc.AgentMetrics(ctx, AgentMetricsRequest{TenantID: "t1", AgentID: a.ID, Range: f.window()})
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	if m.TotalCalls != 4 || m.AnsweredCalls != 3 || m.MissedCalls != 1 || m.ActiveCalls != 1 {
		t.Fatalf("unexpected call metrics: %+v", m)
	}
	if m.TalkSeconds != 120 || m.AverageTalkSeconds != 40 {
		t.Fatalf("unexpected talk time: %+v", m)
	}
	if m.Logins != 1 || m.StatusChanges != 1 || m.TransfersOut != 1 {
		t.Fatalf("unexpected activity metrics: %+v", m)
	}
}

func TestAgentMetricsValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.AgentMetrics(ctx, AgentMetricsRequest{TenantID: "t1", AgentID: "a", Range: TimeRange{From: f.now, To: f.now}})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for empty range, got %v", err)
	}
	_, err = f.svc.AgentMetrics(ctx, AgentMetricsRequest{TenantID: "t1", AgentID: "missing", Range: f.window()})
	if !errors.Is(err, agents.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTeamMetrics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a1 := f.agent(t, "u1", "1001")
	a2 := f.agent(t, "u2", "1002")

	f.call(t, a1.ID, 60*time.Second, calls.SessionConnected, calls.SessionEnded)
	f.call(t, a2.ID, 20*time.Second, calls.SessionConnected, calls.SessionEnded)
	f.call(t, a2.ID, time.Second, calls.SessionEnded)

	all, err := f.svc.TeamMetrics(ctx, TeamMetricsRequest{TenantID: "t1", Range: f.window()})
	if err != nil {
		t.Fatalf("team: %v", err)
	}
	if len(all.Agents) != 2 || all.TotalCalls != 3 || all.AnsweredCalls != 2 || all.MissedCalls != 1 {
		t.Fatalf("unexpected team metrics: %+v", all)
	}
	if all.TalkSeconds != 80 || all.AverageTalkSeconds != 40 {
		t.Fatalf("unexpected talk time: %+v", all)
	}
	if all.AnswerRate < 0.66 || all.AnswerRate > 0.67 {
		t.Fatalf("unexpected answer rate %v", all.AnswerRate)
	}

	one, err := f.svc.TeamMetrics(ctx, TeamMetricsRequest{TenantID: "t1", AgentIDs: []string{a2.ID}, Range: f.window()})
	if err != nil {
		t.Fatalf("team subset: %v", err)
	}
	if len(one.Agents) != 1 || one.TotalCalls != 2 {
		t.Fatalf("unexpected subset metrics: %+v", one)
	}
}

// An inbound call nobody can take stays RINGING without an agent and shows
// up as waiting.
func TestRealTimeStatsCountsUnroutedInbound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	clock := func() time.Time { return f.now }

	q := queues.NewService(queues.NewMemoryRepo())
	router := routing.NewRouter(q, f.agents, f.calls, rand.New(rand.NewSource(1)))
	d := dispatch.NewService(dispatch.Deps{
		Agents:   f.agents,
		Calls:    f.calls,
		Router:   router,
		Queues:   q,
		Activity: activity.NewService(f.activity),
		Log:      logger.Discard(),
	}).WithClock(clock)
	defer d.Close()

	l, err := f.calls.CreateLog(ctx, "t1", calls.NewLog{Direction: calls.DirectionInbound, From: "+14155550100", To: "+14155550199"})
	if err != nil {
		t.Fatalf("log: %v", err)
	}
	res, err := d.RouteInboundCall(ctx, "t1", l.ID, nil)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if res.Agent != nil || res.Session.Status != calls.SessionRinging {
		t.Fatalf("expected unassigned ringing session, got %+v", res)
	}

	st, err := f.svc.RealTimeStats(ctx, "t1")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.WaitingCalls < 1 {
		t.Fatalf("expected waiting calls, got %+v", st)
	}
}
