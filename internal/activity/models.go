package activity

import "time"

// Entry is an immutable, append-only agent activity record.
//
// Invariants:
// - Entries are never updated or deleted.
// - tenant_id and agent_id are required.
// - Writes are best-effort from the dispatcher's point of view; failures are
//   logged but never fail the call operation that produced them.
type Entry struct {
	ID       string `json:"id" db:"id"`
	TenantID string `json:"tenant_id" db:"tenant_id"`
	AgentID  string `json:"agent_id" db:"agent_id"`
	Type     Type   `json:"type" db:"type"`

	// Metadata carries previous/new status, call id, duration and similar facts.
	Metadata map[string]any `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type Type string

const (
	TypeStatusChange    Type = "STATUS_CHANGE"
	TypeCallStarted     Type = "CALL_STARTED"
	TypeCallAnswered    Type = "CALL_ANSWERED"
	TypeCallEnded       Type = "CALL_ENDED"
	TypeCallTransferred Type = "CALL_TRANSFERRED"
	TypeLogin           Type = "LOGIN"
	TypeLogout          Type = "LOGOUT"
)

func (t Type) Valid() bool {
	switch t {
	case TypeStatusChange, TypeCallStarted, TypeCallAnswered, TypeCallEnded,
		TypeCallTransferred, TypeLogin, TypeLogout:
		return true
	default:
		return false
	}
}

// Filter narrows List. Zero value lists everything for the tenant.
type Filter struct {
	AgentIDs []string
	Types    []Type
	From     time.Time
	To       time.Time
}

func (f Filter) match(e Entry) bool {
	if len(f.AgentIDs) > 0 && !contains(f.AgentIDs, e.AgentID) {
		return false
	}
	if len(f.Types) > 0 {
		ok := false
		for _, t := range f.Types {
			if t == e.Type {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if !f.From.IsZero() && e.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !e.CreatedAt.Before(f.To) {
		return false
	}
	return true
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
