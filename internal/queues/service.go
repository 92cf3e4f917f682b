package queues

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Service administers queues. Routing reads queues but never writes them.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

type NewQueue struct {
	Name     string   `json:"name"`
	Number   string   `json:"number"`
	AgentIDs []string `json:"agent_ids"`
	Settings Settings `json:"settings"`
}

func (s *Service) Create(ctx context.Context, tenantID string, in NewQueue) (Queue, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Number = strings.TrimSpace(in.Number)
	if tenantID == "" || in.Name == "" || in.Number == "" {
		return Queue{}, ErrInvalidArgument
	}
	settings, err := normalizeSettings(in.Settings)
	if err != nil {
		return Queue{}, err
	}
	now := s.clock().UTC()
	q := Queue{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Name:      in.Name,
		Number:    in.Number,
		AgentIDs:  dedupe(in.AgentIDs),
		Active:    true,
		Settings:  settings,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Insert(ctx, q); err != nil {
		return Queue{}, err
	}
	return q, nil
}

func (s *Service) Get(ctx context.Context, tenantID, id string) (Queue, error) {
	return s.repo.Get(ctx, tenantID, id)
}

// GetByNumber resolves the dialed queue number of an inbound call.
func (s *Service) GetByNumber(ctx context.Context, tenantID, number string) (Queue, error) {
	return s.repo.GetByNumber(ctx, tenantID, strings.TrimSpace(number))
}

func (s *Service) List(ctx context.Context, tenantID string, activeOnly bool) ([]Queue, error) {
	return s.repo.List(ctx, tenantID, activeOnly)
}

func (s *Service) Update(ctx context.Context, tenantID, id string, p Patch) (Queue, error) {
	q, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return Queue{}, err
	}
	if p.Name != nil {
		if q.Name = strings.TrimSpace(*p.Name); q.Name == "" {
			return Queue{}, ErrInvalidArgument
		}
	}
	if p.Number != nil {
		if q.Number = strings.TrimSpace(*p.Number); q.Number == "" {
			return Queue{}, ErrInvalidArgument
		}
	}
	if p.Settings != nil {
		if q.Settings, err = normalizeSettings(*p.Settings); err != nil {
			return Queue{}, err
		}
	}
	if p.AgentIDs != nil {
		q.AgentIDs = dedupe(*p.AgentIDs)
	}
	q.UpdatedAt = s.clock().UTC()
	if err := s.repo.Update(ctx, q); err != nil {
		return Queue{}, err
	}
	return q, nil
}

// SetMembers replaces the membership list, keeping first-seen order.
func (s *Service) SetMembers(ctx context.Context, tenantID, id string, agentIDs []string) (Queue, error) {
	return s.Update(ctx, tenantID, id, Patch{AgentIDs: &agentIDs})
}

func (s *Service) Deactivate(ctx context.Context, tenantID, id string) (Queue, error) {
	q, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return Queue{}, err
	}
	q.Active = false
	q.UpdatedAt = s.clock().UTC()
	if err := s.repo.Update(ctx, q); err != nil {
		return Queue{}, err
	}
	return q, nil
}

func normalizeSettings(st Settings) (Settings, error) {
	if st.Strategy == "" {
		st.Strategy = DefaultStrategy
	}
	if !st.Strategy.Valid() || st.TimeoutSeconds < 0 || st.MaxWaitSeconds < 0 {
		return Settings{}, ErrInvalidArgument
	}
	return st, nil
}

func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
