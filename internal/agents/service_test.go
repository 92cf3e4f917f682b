package agents

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

func newTestService() (*Service, *MemoryRepo) {
	repo := NewMemoryRepo()
	svc := NewService(repo)
	svc.hashCost = bcrypt.MinCost
	return svc, repo
}

func mustProvision(t *testing.T, svc *Service, tenant, user, ext string) Agent {
	t.Helper()
	a, err := svc.Provision(context.Background(), tenant, user, ext, "secret", Settings{})
	if err != nil {
		t.Fatalf("provision %s: %v", ext, err)
	}
	return a
}

func TestProvision_StartsOfflineWithHashedCredential(t *testing.T) {
	svc, _ := newTestService()

	a := mustProvision(t, svc, "t1", "u1", "1001")
	if a.Status != StatusOffline || !a.Active {
		t.Fatalf("expected active OFFLINE agent, got %+v", a)
	}
	if a.CredentialHash == "" || a.CredentialHash == "secret" {
		t.Fatalf("expected hashed credential")
	}
	if a.Settings.MaxConcurrentCalls != 1 {
		t.Fatalf("expected default max concurrent calls 1, got %d", a.Settings.MaxConcurrentCalls)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(a.CredentialHash), []byte("secret")); err != nil {
		t.Fatalf("stored hash does not match credential: %v", err)
	}
}

func TestProvision_DuplicateExtensionPerTenant(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	mustProvision(t, svc, "t1", "u1", "1001")
	if _, err := svc.Provision(ctx, "t1", "u2", "1001", "x", Settings{}); !errors.Is(err, ErrDuplicateExtension) {
		t.Fatalf("expected ErrDuplicateExtension, got %v", err)
	}
	if _, err := svc.Provision(ctx, "t1", "u1", "1002", "x", Settings{}); !errors.Is(err, ErrDuplicateUser) {
		t.Fatalf("expected ErrDuplicateUser, got %v", err)
	}
	// Same extension in another tenant is fine.
	mustProvision(t, svc, "t2", "u1", "1001")
}

func TestProvision_RejectsBadExtension(t *testing.T) {
	svc, _ := newTestService()
	if _, err := svc.Provision(context.Background(), "t1", "u1", "10a1", "x", Settings{}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestFindAvailable_OrderedByExtension(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	c := mustProvision(t, svc, "t1", "u3", "1003")
	a := mustProvision(t, svc, "t1", "u1", "1001")
	b := mustProvision(t, svc, "t1", "u2", "1002")
	mustProvision(t, svc, "t1", "u4", "1000")

	for _, ag := range []Agent{c, a, b} {
		if _, err := svc.SetStatus(ctx, "t1", ag.ID, StatusAvailable); err != nil {
			t.Fatalf("set status: %v", err)
		}
	}
	if _, err := svc.Deactivate(ctx, "t1", b.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	got, err := svc.FindAvailable(ctx, "t1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(got) != 2 || got[0].Extension != "1001" || got[1].Extension != "1003" {
		t.Fatalf("unexpected available set: %+v", got)
	}
}

func TestSetStatus_StampsChangeTimeOnlyOnChange(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	now := time.Unix(1700000000, 0).UTC()
	svc.WithClock(func() time.Time { return now })

	a := mustProvision(t, svc, "t1", "u1", "1001")
	now = now.Add(time.Minute)
	a, _ = svc.SetStatus(ctx, "t1", a.ID, StatusAvailable)
	first := a.StatusChangedAt

	now = now.Add(time.Minute)
	a, _ = svc.SetStatus(ctx, "t1", a.ID, StatusAvailable)
	if !a.StatusChangedAt.Equal(first) {
		t.Fatalf("same-status write must not move StatusChangedAt")
	}
	if _, err := svc.SetStatus(ctx, "t1", a.ID, Status("LUNCH")); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
}

func TestClaim_OnlyOneConcurrentWinner(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	a := mustProvision(t, svc, "t1", "u1", "1001")
	if _, err := svc.SetStatus(ctx, "t1", a.ID, StatusAvailable); err != nil {
		t.Fatalf("set status: %v", err)
	}

	var (
		wg        sync.WaitGroup
		wins      int32
		conflicts int32
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Claim(ctx, "t1", a.ID, string(rune('a'+i)))
			switch {
			case err == nil:
				atomic.AddInt32(&wins, 1)
			case errors.Is(err, ErrClaimConflict):
				atomic.AddInt32(&conflicts, 1)
			}
		}(i)
	}
	wg.Wait()

	if wins != 1 || conflicts != 15 {
		t.Fatalf("expected 1 win and 15 conflicts, got %d/%d", wins, conflicts)
	}
	got, _ := svc.Get(ctx, "t1", a.ID)
	if got.Status != StatusOnCall || got.CurrentCallID == nil {
		t.Fatalf("expected ON_CALL with current call, got %+v", got)
	}
}

func TestClaim_RequiresAvailable(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	a := mustProvision(t, svc, "t1", "u1", "1001")
	for _, st := range []Status{StatusOffline, StatusWrapUp, StatusBusy, StatusAway} {
		_, _ = svc.SetStatus(ctx, "t1", a.ID, st)
		if _, err := svc.Claim(ctx, "t1", a.ID, "s1"); !errors.Is(err, ErrClaimConflict) {
			t.Fatalf("claim from %s: expected conflict, got %v", st, err)
		}
	}
}

func TestAttach_OnlyWhileHoldingSession(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	a := mustProvision(t, svc, "t1", "u1", "1001")
	_, _ = svc.SetStatus(ctx, "t1", a.ID, StatusAvailable)
	if _, err := svc.Claim(ctx, "t1", a.ID, "s1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	_, _ = svc.SetStatus(ctx, "t1", a.ID, StatusOffline)

	got, err := svc.Attach(ctx, "t1", a.ID, "s1")
	if err != nil || got.Status != StatusOnCall {
		t.Fatalf("attach held session: %+v err=%v", got, err)
	}
	if _, err := svc.Attach(ctx, "t1", a.ID, "other"); !errors.Is(err, ErrClaimConflict) {
		t.Fatalf("expected conflict for a different session, got %v", err)
	}

	if _, err := svc.Release(ctx, "t1", a.ID, "s1", StatusWrapUp); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := svc.Attach(ctx, "t1", a.ID, "s1"); !errors.Is(err, ErrClaimConflict) {
		t.Fatalf("expected conflict after release, got %v", err)
	}
	got, _ = svc.Get(ctx, "t1", a.ID)
	if got.Status != StatusWrapUp || got.CurrentCallID != nil {
		t.Fatalf("released agent must stay in wrap-up, got %+v", got)
	}
}

func TestCompareAndSetStatus_RequireIdle(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	a := mustProvision(t, svc, "t1", "u1", "1001")
	_, _ = svc.SetStatus(ctx, "t1", a.ID, StatusWrapUp)
	sid := "s1"
	_, _ = svc.SetCurrentCall(ctx, "t1", a.ID, &sid)

	if _, err := svc.CompareAndSetStatus(ctx, "t1", a.ID, StatusWrapUp, StatusAvailable, true); !errors.Is(err, ErrClaimConflict) {
		t.Fatalf("expected conflict while a call is attached, got %v", err)
	}
	_, _ = svc.SetCurrentCall(ctx, "t1", a.ID, nil)
	got, err := svc.CompareAndSetStatus(ctx, "t1", a.ID, StatusWrapUp, StatusAvailable, true)
	if err != nil || got.Status != StatusAvailable {
		t.Fatalf("expected AVAILABLE, got %+v err=%v", got, err)
	}
}

func TestRelease_OnlyMatchingSession(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	a := mustProvision(t, svc, "t1", "u1", "1001")
	_, _ = svc.SetStatus(ctx, "t1", a.ID, StatusAvailable)
	if _, err := svc.Claim(ctx, "t1", a.ID, "s2"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := svc.Release(ctx, "t1", a.ID, "s1", StatusWrapUp); !errors.Is(err, ErrClaimConflict) {
		t.Fatalf("expected conflict releasing a stale session, got %v", err)
	}
	got, err := svc.Release(ctx, "t1", a.ID, "s2", StatusWrapUp)
	if err != nil || got.Status != StatusWrapUp || got.CurrentCallID != nil {
		t.Fatalf("unexpected release result %+v err=%v", got, err)
	}
}

func TestDeactivate_RejectsAgentOnCall(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	a := mustProvision(t, svc, "t1", "u1", "1001")
	_, _ = svc.SetStatus(ctx, "t1", a.ID, StatusAvailable)
	_, _ = svc.Claim(ctx, "t1", a.ID, "s1")
	if _, err := svc.Deactivate(ctx, "t1", a.ID); !errors.Is(err, ErrClaimConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestUpdateSettings_Partial(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	a := mustProvision(t, svc, "t1", "u1", "1001")
	wrap := 5
	got, err := svc.UpdateSettings(ctx, "t1", a.ID, SettingsPatch{WrapUpSeconds: &wrap})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.Settings.WrapUpSeconds != 5 || got.Settings.MaxConcurrentCalls != 1 {
		t.Fatalf("unexpected settings %+v", got.Settings)
	}
	neg := -1
	if _, err := svc.UpdateSettings(ctx, "t1", a.ID, SettingsPatch{WrapUpSeconds: &neg}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestGet_TenantIsolation(t *testing.T) {
	svc, _ := newTestService()
	a := mustProvision(t, svc, "t1", "u1", "1001")
	if _, err := svc.Get(context.Background(), "t2", a.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound across tenants, got %v", err)
	}
}
