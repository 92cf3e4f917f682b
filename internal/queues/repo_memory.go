package queues

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepo is an in-memory repository for tests and single-process deployments.
type MemoryRepo struct {
	mu     sync.RWMutex
	queues map[string]Queue
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{queues: make(map[string]Queue)}
}

func (r *MemoryRepo) Insert(ctx context.Context, q Queue) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.numberTaken(q) {
		return ErrDuplicateNumber
	}
	r.queues[q.ID] = clone(q)
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, tenantID, id string) (Queue, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	q, ok := r.queues[id]
	if !ok || q.TenantID != tenantID {
		return Queue{}, ErrNotFound
	}
	return clone(q), nil
}

func (r *MemoryRepo) GetByNumber(ctx context.Context, tenantID, number string) (Queue, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, q := range r.queues {
		if q.TenantID == tenantID && q.Number == number {
			return clone(q), nil
		}
	}
	return Queue{}, ErrNotFound
}

func (r *MemoryRepo) List(ctx context.Context, tenantID string, activeOnly bool) ([]Queue, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Queue, 0)
	for _, q := range r.queues {
		if q.TenantID != tenantID || (activeOnly && !q.Active) {
			continue
		}
		out = append(out, clone(q))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (r *MemoryRepo) Update(ctx context.Context, q Queue) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.queues[q.ID]
	if !ok || cur.TenantID != q.TenantID {
		return ErrNotFound
	}
	if r.numberTaken(q) {
		return ErrDuplicateNumber
	}
	r.queues[q.ID] = clone(q)
	return nil
}

func (r *MemoryRepo) numberTaken(q Queue) bool {
	for _, existing := range r.queues {
		if existing.ID != q.ID && existing.TenantID == q.TenantID && existing.Number == q.Number {
			return true
		}
	}
	return false
}

func clone(q Queue) Queue {
	q.AgentIDs = append([]string(nil), q.AgentIDs...)
	return q
}
