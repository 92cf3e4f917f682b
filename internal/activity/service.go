package activity

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for activity entries.
// It is append-only: no Update or Delete.
type Repository interface {
	Append(ctx context.Context, e Entry) error
	// List returns entries ordered by CreatedAt ascending.
	List(ctx context.Context, tenantID string, f Filter) ([]Entry, error)
}

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEntry = errors.New("activity: invalid entry")

// Log appends one entry for the agent.
func (s *Service) Log(ctx context.Context, tenantID, agentID string, typ Type, metadata map[string]any) (Entry, error) {
	if s.repo == nil {
		return Entry{}, errors.New("activity: repository not configured")
	}
	if tenantID == "" || agentID == "" || !typ.Valid() {
		return Entry{}, ErrInvalidEntry
	}
	e := Entry{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		AgentID:   agentID,
		Type:      typ,
		Metadata:  metadata,
		CreatedAt: s.clock().UTC(),
	}
	if err := s.repo.Append(ctx, e); err != nil {
		return Entry{}, err
	}
	return e, nil
}

func (s *Service) List(ctx context.Context, tenantID string, f Filter) ([]Entry, error) {
	return s.repo.List(ctx, tenantID, f)
}
