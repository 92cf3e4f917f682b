package routing

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"callcenter-dispatch/internal/agents"
	"callcenter-dispatch/internal/calls"
	"callcenter-dispatch/internal/queues"
)

type fixture struct {
	agents   *agents.MemoryRepo
	sessions *calls.Service
	queues   *queues.Service
	router   *Router
	base     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	base := time.Unix(1700000000, 0).UTC()
	f := &fixture{
		agents:   agents.NewMemoryRepo(),
		sessions: calls.NewService(calls.NewMemoryRepo()).WithClock(func() time.Time { return base }),
		queues:   queues.NewService(queues.NewMemoryRepo()),
		base:     base,
	}
	f.router = NewRouter(f.queues, agents.NewService(f.agents), f.sessions, rand.New(rand.NewSource(1)))
	f.router.Now = func() time.Time { return base.Add(45 * time.Second) }
	return f
}

func (f *fixture) agent(t *testing.T, id, user, ext string, status agents.Status, idleSince time.Duration) {
	t.Helper()
	err := f.agents.Insert(context.Background(), agents.Agent{
		ID:              id,
		TenantID:        "t1",
		UserID:          user,
		Extension:       ext,
		Active:          true,
		Status:          status,
		StatusChangedAt: f.base.Add(-idleSince),
	})
	if err != nil {
		t.Fatalf("insert agent: %v", err)
	}
}

func (f *fixture) queue(t *testing.T, strategy queues.Strategy, members ...string) queues.Queue {
	t.Helper()
	q, err := f.queues.Create(context.Background(), "t1", queues.NewQueue{
		Name:     "Q1",
		Number:   "500",
		AgentIDs: members,
		Settings: queues.Settings{Strategy: strategy},
	})
	if err != nil {
		t.Fatalf("create queue: %v", err)
	}
	return q
}

func (f *fixture) session(t *testing.T, agentID string, status calls.SessionStatus, queueID *string) {
	t.Helper()
	var agent *string
	if agentID != "" {
		agent = &agentID
	}
	_, err := f.sessions.Create(context.Background(), "t1", calls.NewSession{CallLogID: "log", AgentID: agent, QueueID: queueID, Status: status})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
}

func TestRoute_FewestCallsPicksLeastLoaded(t *testing.T) {
	f := newFixture(t)
	f.agent(t, "a1", "u1", "1001", agents.StatusAvailable, 0)
	f.agent(t, "a2", "u2", "1002", agents.StatusAvailable, 0)
	q := f.queue(t, queues.StrategyFewestCalls, "u1", "u2")

	f.session(t, "a2", calls.SessionRinging, nil)
	f.session(t, "a2", calls.SessionRinging, nil)

	got, err := f.router.Route(context.Background(), "t1", q.ID)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if got == nil || got.UserID != "u1" {
		t.Fatalf("expected u1, got %+v", got)
	}
}

func TestRoute_FewestCallsTieUsesMembershipOrder(t *testing.T) {
	f := newFixture(t)
	f.agent(t, "a1", "u1", "1001", agents.StatusAvailable, 0)
	f.agent(t, "a2", "u2", "1002", agents.StatusAvailable, 0)
	// u2 listed first even though its extension sorts later.
	q := f.queue(t, queues.StrategyFewestCalls, "u2", "u1")

	got, _ := f.router.Route(context.Background(), "t1", q.ID)
	if got == nil || got.UserID != "u2" {
		t.Fatalf("expected u2 on tie, got %+v", got)
	}
}

func TestRoute_NoAvailableMembersReturnsNil(t *testing.T) {
	f := newFixture(t)
	f.agent(t, "a1", "u1", "1001", agents.StatusOnCall, 0)
	f.agent(t, "a2", "u2", "1002", agents.StatusAway, 0)
	f.agent(t, "a3", "u3", "1003", agents.StatusAvailable, 0)
	q := f.queue(t, queues.StrategyLeastRecent, "u1", "u2")

	got, err := f.router.Route(context.Background(), "t1", q.ID)
	if err != nil || got != nil {
		t.Fatalf("expected nil agent and no error, got %+v err=%v", got, err)
	}
}

func TestRoute_InactiveOrEmptyQueueReturnsNil(t *testing.T) {
	f := newFixture(t)
	f.agent(t, "a1", "u1", "1001", agents.StatusAvailable, 0)
	empty := f.queue(t, queues.StrategyLeastRecent)
	if got, err := f.router.Route(context.Background(), "t1", empty.ID); err != nil || got != nil {
		t.Fatalf("empty queue must route to nobody, got %+v err=%v", got, err)
	}

	_, _ = f.queues.SetMembers(context.Background(), "t1", empty.ID, []string{"u1"})
	_, _ = f.queues.Deactivate(context.Background(), "t1", empty.ID)
	if got, err := f.router.Route(context.Background(), "t1", empty.ID); err != nil || got != nil {
		t.Fatalf("inactive queue must route to nobody, got %+v err=%v", got, err)
	}
}

func TestRoute_LeastRecentPicksLongestIdle(t *testing.T) {
	f := newFixture(t)
	f.agent(t, "a1", "u1", "1001", agents.StatusAvailable, 10*time.Second)
	f.agent(t, "a2", "u2", "1002", agents.StatusAvailable, 5*time.Minute)
	f.agent(t, "a3", "u3", "1003", agents.StatusAvailable, time.Minute)
	q := f.queue(t, queues.StrategyLeastRecent, "u1", "u2", "u3")

	got, _ := f.router.Route(context.Background(), "t1", q.ID)
	if got == nil || got.ID != "a2" {
		t.Fatalf("expected longest idle a2, got %+v", got)
	}
}

func TestRoute_RingAllReturnsFirstMember(t *testing.T) {
	f := newFixture(t)
	f.agent(t, "a1", "u1", "1001", agents.StatusAvailable, time.Hour)
	f.agent(t, "a2", "u2", "1002", agents.StatusAvailable, 0)
	q := f.queue(t, queues.StrategyRingAll, "u2", "u1")

	got, _ := f.router.Route(context.Background(), "t1", q.ID)
	if got == nil || got.ID != "a2" {
		t.Fatalf("expected first member a2, got %+v", got)
	}
}

func TestRoute_RandomStaysWithinCandidates(t *testing.T) {
	f := newFixture(t)
	f.agent(t, "a1", "u1", "1001", agents.StatusAvailable, 0)
	f.agent(t, "a2", "u2", "1002", agents.StatusAvailable, 0)
	f.agent(t, "a3", "u3", "1003", agents.StatusOffline, 0)
	q := f.queue(t, queues.StrategyRandom, "u1", "u2", "u3")

	seen := map[string]int{}
	for i := 0; i < 50; i++ {
		got, err := f.router.Route(context.Background(), "t1", q.ID)
		if err != nil || got == nil {
			t.Fatalf("route: %+v err=%v", got, err)
		}
		seen[got.ID]++
	}
	if seen["a3"] != 0 {
		t.Fatalf("offline agent selected")
	}
	if seen["a1"] == 0 || seen["a2"] == 0 {
		t.Fatalf("expected both candidates over 50 draws, got %v", seen)
	}
}

func TestRouteExcluding_SkipsLostClaims(t *testing.T) {
	f := newFixture(t)
	f.agent(t, "a1", "u1", "1001", agents.StatusAvailable, time.Hour)
	f.agent(t, "a2", "u2", "1002", agents.StatusAvailable, 0)
	q := f.queue(t, queues.StrategyLeastRecent, "u1", "u2")

	got, _ := f.router.RouteExcluding(context.Background(), "t1", q.ID, map[string]struct{}{"a1": {}})
	if got == nil || got.ID != "a2" {
		t.Fatalf("expected a2, got %+v", got)
	}
	got, _ = f.router.RouteExcluding(context.Background(), "t1", q.ID, map[string]struct{}{"a1": {}, "a2": {}})
	if got != nil {
		t.Fatalf("expected nil when every candidate is excluded")
	}
}

func TestStatus_CountsPerQueue(t *testing.T) {
	f := newFixture(t)
	f.agent(t, "a1", "u1", "1001", agents.StatusAvailable, 0)
	f.agent(t, "a2", "u2", "1002", agents.StatusOnCall, 0)
	f.agent(t, "a3", "u3", "1003", agents.StatusAway, 0)
	q := f.queue(t, queues.StrategyLeastRecent, "u1", "u2", "u3")

	other := "other-queue"
	f.session(t, "", calls.SessionRinging, &q.ID)
	f.session(t, "", calls.SessionRinging, &q.ID)
	f.session(t, "", calls.SessionRinging, &other)

	st, err := f.router.Status(context.Background(), "t1", q.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.WaitingCount != 2 {
		t.Fatalf("expected 2 waiting, got %d", st.WaitingCount)
	}
	if st.AgentCount != 2 || st.AvailableCount != 1 {
		t.Fatalf("expected 2 logged-in members with 1 available, got %+v", st)
	}
	if st.LongestWaitSeconds != 45 {
		t.Fatalf("expected 45s longest wait, got %d", st.LongestWaitSeconds)
	}
}

func TestRoute_UnknownQueue(t *testing.T) {
	f := newFixture(t)
	if _, err := f.router.Route(context.Background(), "t1", "nope"); err == nil {
		t.Fatalf("expected not found error")
	}
}
