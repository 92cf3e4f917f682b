package calls

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestService() (*Service, *fakeClock) {
	clk := &fakeClock{t: time.Unix(1700000000, 0).UTC()}
	return NewService(NewMemoryRepo()).WithClock(clk.now), clk
}

func strp(s string) *string { return &s }

func mustSession(t *testing.T, svc *Service, agentID *string) Session {
	t.Helper()
	ctx := context.Background()
	l, err := svc.CreateLog(ctx, "t1", NewLog{Direction: DirectionOutbound, From: "1001", To: "+15551230000"})
	if err != nil {
		t.Fatalf("create log: %v", err)
	}
	s, err := svc.Create(ctx, "t1", NewSession{CallLogID: l.ID, AgentID: agentID})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return s
}

func TestCreate_StartsInitiated(t *testing.T) {
	svc, _ := newTestService()
	s := mustSession(t, svc, strp("a1"))
	if s.Status != SessionInitiated || s.AnsweredAt != nil || s.EndedAt != nil {
		t.Fatalf("unexpected new session %+v", s)
	}
	if _, err := svc.Create(context.Background(), "t1", NewSession{CallLogID: "x", Status: SessionConnected}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestTransition_StampsAndComputesDuration(t *testing.T) {
	svc, clk := newTestService()
	ctx := context.Background()
	s := mustSession(t, svc, strp("a1"))

	if _, err := svc.Transition(ctx, "t1", s.ID, SessionRinging); err != nil {
		t.Fatalf("ringing: %v", err)
	}
	clk.advance(2 * time.Second)
	s, err := svc.Transition(ctx, "t1", s.ID, SessionConnected)
	if err != nil {
		t.Fatalf("connected: %v", err)
	}
	answered := *s.AnsweredAt

	clk.advance(42*time.Second + 900*time.Millisecond)
	s, err = svc.Transition(ctx, "t1", s.ID, SessionEnded)
	if err != nil {
		t.Fatalf("ended: %v", err)
	}
	if s.DurationSeconds != 42 {
		t.Fatalf("expected floored duration 42, got %d", s.DurationSeconds)
	}
	if !s.AnsweredAt.Equal(answered) {
		t.Fatalf("answeredAt must not move")
	}
}

func TestTransition_SameStatusKeepsTimestamps(t *testing.T) {
	svc, clk := newTestService()
	ctx := context.Background()
	s := mustSession(t, svc, strp("a1"))

	_, _ = svc.Transition(ctx, "t1", s.ID, SessionRinging)
	first, _ := svc.Transition(ctx, "t1", s.ID, SessionConnected)
	clk.advance(5 * time.Second)
	second, err := svc.Transition(ctx, "t1", s.ID, SessionConnected)
	if err != nil {
		t.Fatalf("repeat connected: %v", err)
	}
	if !second.AnsweredAt.Equal(*first.AnsweredAt) {
		t.Fatalf("answeredAt re-stamped")
	}
	if !second.UpdatedAt.After(first.UpdatedAt) {
		t.Fatalf("same-status write must still persist")
	}

	ended, _ := svc.Transition(ctx, "t1", s.ID, SessionEnded)
	clk.advance(5 * time.Second)
	again, err := svc.Transition(ctx, "t1", s.ID, SessionEnded)
	if err != nil {
		t.Fatalf("repeat ended: %v", err)
	}
	if !again.EndedAt.Equal(*ended.EndedAt) || again.DurationSeconds != ended.DurationSeconds {
		t.Fatalf("endedAt or duration changed on repeat")
	}
}

func TestTransition_NeverAnsweredHasZeroDuration(t *testing.T) {
	svc, clk := newTestService()
	ctx := context.Background()
	s := mustSession(t, svc, nil)

	clk.advance(30 * time.Second)
	s, err := svc.Transition(ctx, "t1", s.ID, SessionEnded)
	if err != nil {
		t.Fatalf("INITIATED -> ENDED must be legal: %v", err)
	}
	if s.DurationSeconds != 0 || s.AnsweredAt != nil {
		t.Fatalf("expected zero duration, got %d", s.DurationSeconds)
	}
}

func TestTransition_RejectsIllegal(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	s := mustSession(t, svc, strp("a1"))

	if _, err := svc.Transition(ctx, "t1", s.ID, SessionConnected); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("INITIATED -> CONNECTED must fail, got %v", err)
	}
	_, _ = svc.Transition(ctx, "t1", s.ID, SessionEnded)
	if _, err := svc.Transition(ctx, "t1", s.ID, SessionRinging); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("ENDED is terminal, got %v", err)
	}
	if _, err := svc.Transition(ctx, "t1", "missing", SessionEnded); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCanTransition_Table(t *testing.T) {
	cases := []struct {
		from, to SessionStatus
		ok       bool
	}{
		{SessionInitiated, SessionRinging, true},
		{SessionInitiated, SessionEnded, true},
		{SessionInitiated, SessionOnHold, false},
		{SessionRinging, SessionConnected, true},
		{SessionRinging, SessionOnHold, false},
		{SessionConnected, SessionOnHold, true},
		{SessionOnHold, SessionConnected, true},
		{SessionOnHold, SessionEnded, true},
		{SessionEnded, SessionConnected, false},
		{SessionEnded, SessionEnded, true},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.ok {
			t.Fatalf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.ok)
		}
	}
}

func TestRecordNotes_Partial(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	s := mustSession(t, svc, strp("a1"))

	s, _ = svc.RecordNotes(ctx, "t1", s.ID, strp("called back"), nil)
	s, err := svc.RecordNotes(ctx, "t1", s.ID, nil, strp("resolved"))
	if err != nil {
		t.Fatalf("notes: %v", err)
	}
	if s.Notes != "called back" || s.Disposition != "resolved" {
		t.Fatalf("unexpected notes %q disposition %q", s.Notes, s.Disposition)
	}
}

func TestAppendTransferHistory_Appends(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	s := mustSession(t, svc, strp("a1"))

	_, _ = svc.AppendTransferHistory(ctx, "t1", s.ID, "a1", "a2")
	s, err := svc.AppendTransferHistory(ctx, "t1", s.ID, "a2", "+15550000000")
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if len(s.TransferHistory) != 2 || s.TransferHistory[0].To != "a2" || s.TransferHistory[1].From != "a2" {
		t.Fatalf("unexpected history %+v", s.TransferHistory)
	}
}

func TestFindActiveForAgent(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	got, err := svc.FindActiveForAgent(ctx, "t1", "a1")
	if err != nil || got != nil {
		t.Fatalf("expected none, got %+v err=%v", got, err)
	}

	s := mustSession(t, svc, strp("a1"))
	if got, _ := svc.FindActiveForAgent(ctx, "t1", "a1"); got != nil {
		t.Fatalf("INITIATED is not active")
	}
	_, _ = svc.Transition(ctx, "t1", s.ID, SessionRinging)
	got, _ = svc.FindActiveForAgent(ctx, "t1", "a1")
	if got == nil || got.ID != s.ID {
		t.Fatalf("expected ringing session to be active")
	}
	_, _ = svc.Transition(ctx, "t1", s.ID, SessionEnded)
	if got, _ := svc.FindActiveForAgent(ctx, "t1", "a1"); got != nil {
		t.Fatalf("ENDED is not active")
	}
}

func TestCount_FiltersByQueueAndUnassigned(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	l, _ := svc.CreateLog(ctx, "t1", NewLog{Direction: DirectionInbound, From: "+1555", To: "500"})
	_, _ = svc.Create(ctx, "t1", NewSession{CallLogID: l.ID, QueueID: strp("q1"), Status: SessionRinging})
	_, _ = svc.Create(ctx, "t1", NewSession{CallLogID: l.ID, QueueID: strp("q2"), Status: SessionRinging})
	_, _ = svc.Create(ctx, "t1", NewSession{CallLogID: l.ID, AgentID: strp("a1"), Status: SessionRinging})

	n, _ := svc.Count(ctx, "t1", SessionFilter{Statuses: []SessionStatus{SessionRinging}})
	if n != 3 {
		t.Fatalf("expected 3 ringing, got %d", n)
	}
	n, _ = svc.Count(ctx, "t1", SessionFilter{Statuses: []SessionStatus{SessionRinging}, QueueID: "q1"})
	if n != 1 {
		t.Fatalf("expected 1 in q1, got %d", n)
	}
	n, _ = svc.Count(ctx, "t1", SessionFilter{Unassigned: true})
	if n != 2 {
		t.Fatalf("expected 2 unassigned, got %d", n)
	}
}

func TestCallLog_StatusAndFlow(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	l, _ := svc.CreateLog(ctx, "t1", NewLog{Direction: DirectionOutbound, From: "1001", To: "+15551230000"})
	if _, err := svc.AttachProviderID(ctx, "t1", l.ID, "prov-1"); err != nil {
		t.Fatalf("attach: %v", err)
	}
	byProvider, err := svc.GetLogByProviderID(ctx, "prov-1")
	if err != nil || byProvider.ID != l.ID {
		t.Fatalf("lookup by provider id failed: %v", err)
	}

	l, _ = svc.UpdateLogStatus(ctx, "t1", l.ID, LogStatusInProgress, -1)
	l, _ = svc.UpdateLogStatus(ctx, "t1", l.ID, LogStatusCompleted, 61)
	if l.Status != LogStatusCompleted || l.DurationSeconds != 61 {
		t.Fatalf("unexpected log %+v", l)
	}
	if len(l.FlowEvents) != 3 {
		t.Fatalf("expected created + 2 status events, got %d", len(l.FlowEvents))
	}
	if _, err := svc.UpdateLogStatus(ctx, "t1", l.ID, LogStatus("weird"), 0); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if _, err := svc.GetLog(ctx, "t2", l.ID); !errors.Is(err, ErrLogNotFound) {
		t.Fatalf("expected tenant isolation")
	}
}
