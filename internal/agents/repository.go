package agents

import (
	"context"
	"time"
)

// Repository persists agents. Every conditional method is atomic per row:
// the memory implementation holds a mutex, Postgres uses UPDATE ... WHERE.
type Repository interface {
	Insert(ctx context.Context, a Agent) error
	Get(ctx context.Context, tenantID, id string) (Agent, error)
	GetByUser(ctx context.Context, tenantID, userID string) (Agent, error)
	GetByExtension(ctx context.Context, tenantID, extension string) (Agent, error)
	// List returns agents ordered by extension ascending.
	List(ctx context.Context, tenantID string, f ListFilter) ([]Agent, error)

	SetStatus(ctx context.Context, tenantID, id string, status Status, now time.Time) (Agent, error)
	SetCurrentCall(ctx context.Context, tenantID, id string, sessionID *string, now time.Time) (Agent, error)

	// Claim sets status ON_CALL and the current call when the agent is active,
	// idle and AVAILABLE.
	Claim(ctx context.Context, tenantID, id, sessionID string, now time.Time) (Agent, error)
	// Attach sets status ON_CALL while the current call is sessionID.
	Attach(ctx context.Context, tenantID, id, sessionID string, now time.Time) (Agent, error)
	// CompareAndSetStatus moves from -> to; with requireIdle the agent must have no current call.
	CompareAndSetStatus(ctx context.Context, tenantID, id string, from, to Status, requireIdle bool, now time.Time) (Agent, error)
	// Release clears the current call and sets status, only while the agent
	// still points at sessionID (or at nothing).
	Release(ctx context.Context, tenantID, id, sessionID string, to Status, now time.Time) (Agent, error)

	UpdateSettings(ctx context.Context, tenantID, id string, s Settings, now time.Time) (Agent, error)
	SetActive(ctx context.Context, tenantID, id string, active bool, now time.Time) (Agent, error)
}
