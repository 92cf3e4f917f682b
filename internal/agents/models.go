package agents

import (
	"errors"
	"time"
)

// Agent is a tenant-scoped telephony extension bound to one user.
//
// Invariants:
// - (tenant_id, extension) and (tenant_id, user_id) are unique.
// - CurrentCallID references at most one call session.
// - Agents are soft-disabled via Active and never hard-deleted.
type Agent struct {
	ID       string `json:"id" db:"id"`
	TenantID string `json:"tenant_id" db:"tenant_id"`
	UserID   string `json:"user_id" db:"user_id"`

	Extension string `json:"extension" db:"extension"`
	// CredentialHash is a bcrypt hash of the SIP/device credential.
	CredentialHash string `json:"-" db:"credential_hash"`

	Active bool   `json:"active" db:"active"`
	Status Status `json:"status" db:"status"`

	CurrentCallID *string `json:"current_call_id,omitempty" db:"current_call_id"`

	Settings Settings `json:"settings" db:"settings"`

	// StatusChangedAt is the last time Status took a new value.
	StatusChangedAt time.Time `json:"status_changed_at" db:"status_changed_at"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// Idle reports whether the agent has no call attached.
func (a Agent) Idle() bool { return a.CurrentCallID == nil }

type Settings struct {
	RingTone           string `json:"ring_tone,omitempty"`
	AutoAnswer         bool   `json:"auto_answer"`
	WrapUpSeconds      int    `json:"wrap_up_seconds"`
	MaxConcurrentCalls int    `json:"max_concurrent_calls"`
}

// SettingsPatch carries a partial settings update; nil fields are left unchanged.
type SettingsPatch struct {
	RingTone           *string `json:"ring_tone,omitempty"`
	AutoAnswer         *bool   `json:"auto_answer,omitempty"`
	WrapUpSeconds      *int    `json:"wrap_up_seconds,omitempty"`
	MaxConcurrentCalls *int    `json:"max_concurrent_calls,omitempty"`
}

func (p SettingsPatch) apply(s Settings) Settings {
	if p.RingTone != nil {
		s.RingTone = *p.RingTone
	}
	if p.AutoAnswer != nil {
		s.AutoAnswer = *p.AutoAnswer
	}
	if p.WrapUpSeconds != nil {
		s.WrapUpSeconds = *p.WrapUpSeconds
	}
	if p.MaxConcurrentCalls != nil {
		s.MaxConcurrentCalls = *p.MaxConcurrentCalls
	}
	return s
}

// Status is the agent's presence.
type Status string

const (
	StatusOffline   Status = "OFFLINE"
	StatusAvailable Status = "AVAILABLE"
	StatusBusy      Status = "BUSY"
	StatusAway      Status = "AWAY"
	StatusOnCall    Status = "ON_CALL"
	StatusWrapUp    Status = "WRAP_UP"
)

func (s Status) Valid() bool {
	switch s {
	case StatusOffline, StatusAvailable, StatusBusy, StatusAway, StatusOnCall, StatusWrapUp:
		return true
	default:
		return false
	}
}

// ListFilter narrows List results. Zero value lists every agent of the tenant.
type ListFilter struct {
	Statuses   []Status
	ActiveOnly bool
	UserIDs    []string
}

func (f ListFilter) match(a Agent) bool {
	if f.ActiveOnly && !a.Active {
		return false
	}
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, a.Status) {
		return false
	}
	if len(f.UserIDs) > 0 {
		found := false
		for _, u := range f.UserIDs {
			if u == a.UserID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func containsStatus(set []Status, s Status) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

var (
	ErrNotFound           = errors.New("agent not found")
	ErrDuplicateExtension = errors.New("extension already exists for tenant")
	ErrDuplicateUser      = errors.New("user already has an extension")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInvalidStatus      = errors.New("invalid agent status")
	// ErrClaimConflict means a conditional update did not match: the agent
	// is not in an allowed status, is inactive, or already has a call.
	ErrClaimConflict = errors.New("agent state changed concurrently")
)
