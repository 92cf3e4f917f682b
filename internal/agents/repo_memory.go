package agents

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory repository for tests and single-process deployments.
type MemoryRepo struct {
	mu     sync.Mutex
	agents map[string]Agent
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{agents: make(map[string]Agent)}
}

func (r *MemoryRepo) Insert(ctx context.Context, a Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.agents {
		if existing.TenantID != a.TenantID {
			continue
		}
		if existing.Extension == a.Extension {
			return ErrDuplicateExtension
		}
		if existing.UserID == a.UserID {
			return ErrDuplicateUser
		}
	}
	r.agents[a.ID] = clone(a)
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, tenantID, id string) (Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[id]
	if !ok || a.TenantID != tenantID {
		return Agent{}, ErrNotFound
	}
	return clone(a), nil
}

func (r *MemoryRepo) GetByUser(ctx context.Context, tenantID, userID string) (Agent, error) {
	return r.findOne(tenantID, func(a Agent) bool { return a.UserID == userID })
}

func (r *MemoryRepo) GetByExtension(ctx context.Context, tenantID, extension string) (Agent, error) {
	return r.findOne(tenantID, func(a Agent) bool { return a.Extension == extension })
}

func (r *MemoryRepo) findOne(tenantID string, pred func(Agent) bool) (Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.agents {
		if a.TenantID == tenantID && pred(a) {
			return clone(a), nil
		}
	}
	return Agent{}, ErrNotFound
}

func (r *MemoryRepo) List(ctx context.Context, tenantID string, f ListFilter) ([]Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Agent, 0)
	for _, a := range r.agents {
		if a.TenantID == tenantID && f.match(a) {
			out = append(out, clone(a))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Extension == out[j].Extension {
			return out[i].ID < out[j].ID
		}
		return out[i].Extension < out[j].Extension
	})
	return out, nil
}

func (r *MemoryRepo) SetStatus(ctx context.Context, tenantID, id string, status Status, now time.Time) (Agent, error) {
	return r.update(tenantID, id, func(a *Agent) error {
		setStatus(a, status, now)
		return nil
	})
}

func (r *MemoryRepo) SetCurrentCall(ctx context.Context, tenantID, id string, sessionID *string, now time.Time) (Agent, error) {
	return r.update(tenantID, id, func(a *Agent) error {
		a.CurrentCallID = copyPtr(sessionID)
		a.UpdatedAt = now
		return nil
	})
}

func (r *MemoryRepo) Claim(ctx context.Context, tenantID, id, sessionID string, now time.Time) (Agent, error) {
	return r.update(tenantID, id, func(a *Agent) error {
		if !a.Active || a.CurrentCallID != nil || a.Status != StatusAvailable {
			return ErrClaimConflict
		}
		setStatus(a, StatusOnCall, now)
		a.CurrentCallID = &sessionID
		return nil
	})
}

func (r *MemoryRepo) Attach(ctx context.Context, tenantID, id, sessionID string, now time.Time) (Agent, error) {
	return r.update(tenantID, id, func(a *Agent) error {
		if a.CurrentCallID == nil || *a.CurrentCallID != sessionID {
			return ErrClaimConflict
		}
		setStatus(a, StatusOnCall, now)
		a.UpdatedAt = now
		return nil
	})
}

func (r *MemoryRepo) CompareAndSetStatus(ctx context.Context, tenantID, id string, from, to Status, requireIdle bool, now time.Time) (Agent, error) {
	return r.update(tenantID, id, func(a *Agent) error {
		if a.Status != from || (requireIdle && a.CurrentCallID != nil) {
			return ErrClaimConflict
		}
		setStatus(a, to, now)
		return nil
	})
}

func (r *MemoryRepo) Release(ctx context.Context, tenantID, id, sessionID string, to Status, now time.Time) (Agent, error) {
	return r.update(tenantID, id, func(a *Agent) error {
		if a.CurrentCallID != nil && *a.CurrentCallID != sessionID {
			return ErrClaimConflict
		}
		a.CurrentCallID = nil
		setStatus(a, to, now)
		return nil
	})
}

func (r *MemoryRepo) UpdateSettings(ctx context.Context, tenantID, id string, s Settings, now time.Time) (Agent, error) {
	return r.update(tenantID, id, func(a *Agent) error {
		a.Settings = s
		a.UpdatedAt = now
		return nil
	})
}

func (r *MemoryRepo) SetActive(ctx context.Context, tenantID, id string, active bool, now time.Time) (Agent, error) {
	return r.update(tenantID, id, func(a *Agent) error {
		a.Active = active
		if !active {
			setStatus(a, StatusOffline, now)
		}
		a.UpdatedAt = now
		return nil
	})
}

func (r *MemoryRepo) update(tenantID, id string, fn func(a *Agent) error) (Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[id]
	if !ok || a.TenantID != tenantID {
		return Agent{}, ErrNotFound
	}
	if err := fn(&a); err != nil {
		return Agent{}, err
	}
	r.agents[id] = a
	return clone(a), nil
}

func setStatus(a *Agent, s Status, now time.Time) {
	if a.Status != s {
		a.StatusChangedAt = now
	}
	a.Status = s
	a.UpdatedAt = now
}

func clone(a Agent) Agent {
	a.CurrentCallID = copyPtr(a.CurrentCallID)
	return a
}

func copyPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
