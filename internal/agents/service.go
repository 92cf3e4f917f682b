package agents

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Service is the agent directory: provisioning, presence and the atomic
// claim used by dispatch. It emits no events; callers do.
type Service struct {
	repo Repository
	// clock is injectable for deterministic tests.
	clock    func() time.Time
	hashCost int
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now, hashCost: bcrypt.DefaultCost}
}

// WithClock overrides the time source.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// WithHashCost sets the bcrypt cost for new credentials.
func (s *Service) WithHashCost(cost int) *Service {
	s.hashCost = cost
	return s
}

func (s *Service) now() time.Time { return s.clock().UTC() }

const defaultMaxConcurrentCalls = 1

// Provision creates an agent in OFFLINE for the given tenant user.
func (s *Service) Provision(ctx context.Context, tenantID, userID, extension, credential string, settings Settings) (Agent, error) {
	extension = strings.TrimSpace(extension)
	if tenantID == "" || userID == "" || !validExtension(extension) || credential == "" {
		return Agent{}, ErrInvalidArgument
	}
	if settings.WrapUpSeconds < 0 || settings.MaxConcurrentCalls < 0 {
		return Agent{}, ErrInvalidArgument
	}
	if settings.MaxConcurrentCalls == 0 {
		settings.MaxConcurrentCalls = defaultMaxConcurrentCalls
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(credential), s.hashCost)
	if err != nil {
		return Agent{}, fmt.Errorf("hash credential: %w", err)
	}

	now := s.now()
	a := Agent{
		ID:              uuid.NewString(),
		TenantID:        tenantID,
		UserID:          userID,
		Extension:       extension,
		CredentialHash:  string(hash),
		Active:          true,
		Status:          StatusOffline,
		Settings:        settings,
		StatusChangedAt: now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.Insert(ctx, a); err != nil {
		return Agent{}, err
	}
	return a, nil
}

// SetStatus writes presence unconditionally; there is no transition table.
func (s *Service) SetStatus(ctx context.Context, tenantID, agentID string, status Status) (Agent, error) {
	if !status.Valid() {
		return Agent{}, ErrInvalidStatus
	}
	return s.repo.SetStatus(ctx, tenantID, agentID, status, s.now())
}

func (s *Service) SetCurrentCall(ctx context.Context, tenantID, agentID string, sessionID *string) (Agent, error) {
	return s.repo.SetCurrentCall(ctx, tenantID, agentID, sessionID, s.now())
}

// FindAvailable returns active AVAILABLE agents ordered by extension.
func (s *Service) FindAvailable(ctx context.Context, tenantID string) ([]Agent, error) {
	return s.repo.List(ctx, tenantID, ListFilter{Statuses: []Status{StatusAvailable}, ActiveOnly: true})
}

// Claim atomically reserves an idle AVAILABLE agent for sessionID.
func (s *Service) Claim(ctx context.Context, tenantID, agentID, sessionID string) (Agent, error) {
	if sessionID == "" {
		return Agent{}, ErrInvalidArgument
	}
	return s.repo.Claim(ctx, tenantID, agentID, sessionID, s.now())
}

// Attach marks the agent ON_CALL for sessionID, only while the agent still
// points at that session. ErrClaimConflict means the call was released.
func (s *Service) Attach(ctx context.Context, tenantID, agentID, sessionID string) (Agent, error) {
	if sessionID == "" {
		return Agent{}, ErrInvalidArgument
	}
	return s.repo.Attach(ctx, tenantID, agentID, sessionID, s.now())
}

func (s *Service) CompareAndSetStatus(ctx context.Context, tenantID, agentID string, from, to Status, requireIdle bool) (Agent, error) {
	if !from.Valid() || !to.Valid() {
		return Agent{}, ErrInvalidStatus
	}
	return s.repo.CompareAndSetStatus(ctx, tenantID, agentID, from, to, requireIdle, s.now())
}

// Release detaches sessionID from the agent and sets the given status.
func (s *Service) Release(ctx context.Context, tenantID, agentID, sessionID string, to Status) (Agent, error) {
	if !to.Valid() {
		return Agent{}, ErrInvalidStatus
	}
	return s.repo.Release(ctx, tenantID, agentID, sessionID, to, s.now())
}

func (s *Service) Get(ctx context.Context, tenantID, agentID string) (Agent, error) {
	return s.repo.Get(ctx, tenantID, agentID)
}

func (s *Service) GetByUser(ctx context.Context, tenantID, userID string) (Agent, error) {
	return s.repo.GetByUser(ctx, tenantID, userID)
}

func (s *Service) GetByExtension(ctx context.Context, tenantID, extension string) (Agent, error) {
	return s.repo.GetByExtension(ctx, tenantID, strings.TrimSpace(extension))
}

func (s *Service) List(ctx context.Context, tenantID string, f ListFilter) ([]Agent, error) {
	for _, st := range f.Statuses {
		if !st.Valid() {
			return nil, ErrInvalidStatus
		}
	}
	return s.repo.List(ctx, tenantID, f)
}

func (s *Service) UpdateSettings(ctx context.Context, tenantID, agentID string, patch SettingsPatch) (Agent, error) {
	a, err := s.repo.Get(ctx, tenantID, agentID)
	if err != nil {
		return Agent{}, err
	}
	next := patch.apply(a.Settings)
	if next.WrapUpSeconds < 0 || next.MaxConcurrentCalls < 1 {
		return Agent{}, ErrInvalidArgument
	}
	return s.repo.UpdateSettings(ctx, tenantID, agentID, next, s.now())
}

// Deactivate soft-disables an idle agent and forces it OFFLINE.
func (s *Service) Deactivate(ctx context.Context, tenantID, agentID string) (Agent, error) {
	a, err := s.repo.Get(ctx, tenantID, agentID)
	if err != nil {
		return Agent{}, err
	}
	if !a.Idle() {
		return Agent{}, fmt.Errorf("deactivate agent on a call: %w", ErrClaimConflict)
	}
	return s.repo.SetActive(ctx, tenantID, agentID, false, s.now())
}

func validExtension(ext string) bool {
	if ext == "" || len(ext) > 16 {
		return false
	}
	for _, r := range ext {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
