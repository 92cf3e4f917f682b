package calls

import "context"

// Repository persists call logs and sessions. Update* methods apply fn to the
// freshly loaded row under a per-row lock and persist the result; if fn
// returns an error nothing is written.
type Repository interface {
	InsertLog(ctx context.Context, l CallLog) error
	GetLog(ctx context.Context, tenantID, id string) (CallLog, error)
	GetLogByProviderID(ctx context.Context, providerCallID string) (CallLog, error)
	UpdateLog(ctx context.Context, tenantID, id string, fn func(*CallLog) error) (CallLog, error)

	InsertSession(ctx context.Context, s Session) error
	GetSession(ctx context.Context, tenantID, id string) (Session, error)
	UpdateSession(ctx context.Context, tenantID, id string, fn func(*Session) error) (Session, error)
	// ListSessions returns matches ordered by StartedAt ascending.
	ListSessions(ctx context.Context, tenantID string, f SessionFilter) ([]Session, error)
	CountSessions(ctx context.Context, tenantID string, f SessionFilter) (int, error)
}
