package calls

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepo is an in-memory repository for tests and single-process deployments.
type MemoryRepo struct {
	mu       sync.Mutex
	logs     map[string]CallLog
	sessions map[string]Session
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		logs:     make(map[string]CallLog),
		sessions: make(map[string]Session),
	}
}

func (r *MemoryRepo) InsertLog(ctx context.Context, l CallLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs[l.ID] = cloneLog(l)
	return nil
}

func (r *MemoryRepo) GetLog(ctx context.Context, tenantID, id string) (CallLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.logs[id]
	if !ok || l.TenantID != tenantID {
		return CallLog{}, ErrLogNotFound
	}
	return cloneLog(l), nil
}

func (r *MemoryRepo) GetLogByProviderID(ctx context.Context, providerCallID string) (CallLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.logs {
		if providerCallID != "" && l.ProviderCallID == providerCallID {
			return cloneLog(l), nil
		}
	}
	return CallLog{}, ErrLogNotFound
}

func (r *MemoryRepo) UpdateLog(ctx context.Context, tenantID, id string, fn func(*CallLog) error) (CallLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.logs[id]
	if !ok || l.TenantID != tenantID {
		return CallLog{}, ErrLogNotFound
	}
	l = cloneLog(l)
	if err := fn(&l); err != nil {
		return CallLog{}, err
	}
	r.logs[id] = l
	return cloneLog(l), nil
}

func (r *MemoryRepo) InsertSession(ctx context.Context, s Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = cloneSession(s)
	return nil
}

func (r *MemoryRepo) GetSession(ctx context.Context, tenantID, id string) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || s.TenantID != tenantID {
		return Session{}, ErrNotFound
	}
	return cloneSession(s), nil
}

func (r *MemoryRepo) UpdateSession(ctx context.Context, tenantID, id string, fn func(*Session) error) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || s.TenantID != tenantID {
		return Session{}, ErrNotFound
	}
	s = cloneSession(s)
	if err := fn(&s); err != nil {
		return Session{}, err
	}
	r.sessions[id] = s
	return cloneSession(s), nil
}

func (r *MemoryRepo) ListSessions(ctx context.Context, tenantID string, f SessionFilter) ([]Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Session, 0)
	for _, s := range r.sessions {
		if s.TenantID == tenantID && f.match(s) {
			out = append(out, cloneSession(s))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out, nil
}

func (r *MemoryRepo) CountSessions(ctx context.Context, tenantID string, f SessionFilter) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.sessions {
		if s.TenantID == tenantID && f.match(s) {
			n++
		}
	}
	return n, nil
}

func cloneLog(l CallLog) CallLog {
	l.FlowEvents = append([]FlowEvent(nil), l.FlowEvents...)
	return l
}

func cloneSession(s Session) Session {
	s.AgentID = copyStr(s.AgentID)
	s.ContactID = copyStr(s.ContactID)
	s.QueueID = copyStr(s.QueueID)
	s.AnsweredAt = copyTime(s.AnsweredAt)
	s.EndedAt = copyTime(s.EndedAt)
	s.TransferHistory = append([]TransferEntry(nil), s.TransferHistory...)
	return s
}
