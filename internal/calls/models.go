package calls

import (
	"errors"
	"time"
)

// CallLog holds the network-level facts of one phone call.
//
// Multi-tenant invariant: TenantID is required on every row.
// Logs are created on inbound arrival or outbound dial and never deleted.
type CallLog struct {
	ID        string    `json:"id" db:"id"`
	TenantID  string    `json:"tenant_id" db:"tenant_id"`
	Direction Direction `json:"direction" db:"direction"`

	From  string `json:"from" db:"from_number"`
	To    string `json:"to" db:"to_number"`
	Trunk string `json:"trunk,omitempty" db:"trunk"`

	// ProviderCallID is the telephony control plane's id for the call.
	ProviderCallID string `json:"provider_call_id,omitempty" db:"provider_call_id"`

	Status          LogStatus `json:"status" db:"status"`
	DurationSeconds int       `json:"duration" db:"duration_seconds"`
	Disposition     string    `json:"disposition,omitempty" db:"disposition"`

	FlowEvents []FlowEvent `json:"flow_events" db:"flow_events"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type FlowEvent struct {
	At     time.Time `json:"at"`
	Type   string    `json:"type"`
	Detail string    `json:"detail,omitempty"`
}

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

type LogStatus string

const (
	LogStatusInitiated  LogStatus = "initiated"
	LogStatusRinging    LogStatus = "ringing"
	LogStatusInProgress LogStatus = "in_progress"
	LogStatusCompleted  LogStatus = "completed"
	LogStatusFailed     LogStatus = "failed"
	LogStatusNoAnswer   LogStatus = "no_answer"
	LogStatusBusy       LogStatus = "busy"
	LogStatusCanceled   LogStatus = "canceled"
)

func (s LogStatus) Valid() bool {
	switch s {
	case LogStatusInitiated, LogStatusRinging, LogStatusInProgress, LogStatusCompleted,
		LogStatusFailed, LogStatusNoAnswer, LogStatusBusy, LogStatusCanceled:
		return true
	default:
		return false
	}
}

// Terminal reports whether the carrier considers the call finished.
func (s LogStatus) Terminal() bool {
	switch s {
	case LogStatusCompleted, LogStatusFailed, LogStatusNoAnswer, LogStatusBusy, LogStatusCanceled:
		return true
	default:
		return false
	}
}

// Session is the agent-facing overlay on a CallLog.
// Sessions are never deleted; ENDED is terminal.
type Session struct {
	ID        string `json:"id" db:"id"`
	TenantID  string `json:"tenant_id" db:"tenant_id"`
	CallLogID string `json:"call_log_id" db:"call_log_id"`

	AgentID   *string `json:"agent_id,omitempty" db:"agent_id"`
	ContactID *string `json:"contact_id,omitempty" db:"contact_id"`
	// QueueID is set for sessions routed through a queue.
	QueueID *string `json:"queue_id,omitempty" db:"queue_id"`

	Status SessionStatus `json:"status" db:"status"`

	StartedAt       time.Time  `json:"started_at" db:"started_at"`
	AnsweredAt      *time.Time `json:"answered_at,omitempty" db:"answered_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty" db:"ended_at"`
	DurationSeconds int        `json:"duration" db:"duration_seconds"`

	Notes       string `json:"notes,omitempty" db:"notes"`
	Disposition string `json:"disposition,omitempty" db:"disposition"`

	TransferHistory []TransferEntry `json:"transfer_history" db:"transfer_history"`

	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// AssignedTo reports whether agentID owns the session.
func (s Session) AssignedTo(agentID string) bool {
	return s.AgentID != nil && *s.AgentID == agentID
}

type TransferEntry struct {
	From string    `json:"from"`
	To   string    `json:"to"`
	At   time.Time `json:"at"`
}

type SessionStatus string

const (
	SessionInitiated SessionStatus = "INITIATED"
	SessionRinging   SessionStatus = "RINGING"
	SessionConnected SessionStatus = "CONNECTED"
	SessionOnHold    SessionStatus = "ON_HOLD"
	SessionEnded     SessionStatus = "ENDED"
)

// ActiveStatuses are the statuses in which a session occupies its agent.
var ActiveStatuses = []SessionStatus{SessionRinging, SessionConnected, SessionOnHold}

func (s SessionStatus) Valid() bool {
	switch s {
	case SessionInitiated, SessionRinging, SessionConnected, SessionOnHold, SessionEnded:
		return true
	default:
		return false
	}
}

// CanTransition reports whether from -> to is legal. A same-status write is
// always legal; it persists without changing timestamps.
func CanTransition(from, to SessionStatus) bool {
	if from == to {
		return true
	}
	switch from {
	case SessionInitiated:
		return to == SessionRinging || to == SessionEnded
	case SessionRinging:
		return to == SessionConnected || to == SessionEnded
	case SessionConnected:
		return to == SessionOnHold || to == SessionEnded
	case SessionOnHold:
		return to == SessionConnected || to == SessionEnded
	default:
		return false
	}
}

// SessionFilter narrows Count and List. Zero value matches every session of the tenant.
type SessionFilter struct {
	Statuses  []SessionStatus
	AgentIDs  []string
	QueueID   string
	CallLogID string
	// Unassigned restricts to sessions without an agent.
	Unassigned bool
	// StartedFrom and StartedTo bound StartedAt, inclusive and exclusive.
	StartedFrom time.Time
	StartedTo   time.Time
}

func (f SessionFilter) match(s Session) bool {
	if len(f.Statuses) > 0 {
		ok := false
		for _, st := range f.Statuses {
			if st == s.Status {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if len(f.AgentIDs) > 0 {
		ok := false
		for _, id := range f.AgentIDs {
			if s.AssignedTo(id) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.QueueID != "" && (s.QueueID == nil || *s.QueueID != f.QueueID) {
		return false
	}
	if f.CallLogID != "" && s.CallLogID != f.CallLogID {
		return false
	}
	if f.Unassigned && s.AgentID != nil {
		return false
	}
	if !f.StartedFrom.IsZero() && s.StartedAt.Before(f.StartedFrom) {
		return false
	}
	if !f.StartedTo.IsZero() && !s.StartedAt.Before(f.StartedTo) {
		return false
	}
	return true
}

var (
	ErrNotFound          = errors.New("call session not found")
	ErrLogNotFound       = errors.New("call log not found")
	ErrInvalidTransition = errors.New("invalid session transition")
	ErrInvalidArgument   = errors.New("invalid argument")
)
