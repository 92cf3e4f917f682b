package queues

import (
	"errors"
	"time"
)

// Queue is a named pool of agents reached through a tenant-unique number.
// AgentIDs holds user ids in membership order; it is not a foreign key.
type Queue struct {
	ID       string   `json:"id" db:"id"`
	TenantID string   `json:"tenant_id" db:"tenant_id"`
	Name     string   `json:"name" db:"name"`
	Number   string   `json:"number" db:"number"`
	AgentIDs []string `json:"agent_ids" db:"agent_ids"`
	Active   bool     `json:"active" db:"active"`
	Settings Settings `json:"settings" db:"settings"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Settings struct {
	Strategy       Strategy `json:"strategy"`
	TimeoutSeconds int      `json:"timeout_seconds"`
	MaxWaitSeconds int      `json:"max_wait_seconds"`
	HoldMusic      string   `json:"hold_music,omitempty"`
}

// Strategy selects one agent among the available queue members.
type Strategy string

const (
	StrategyFewestCalls Strategy = "fewestcalls"
	StrategyRandom      Strategy = "random"
	StrategyRingAll     Strategy = "ringall"
	StrategyLeastRecent Strategy = "leastrecent"

	DefaultStrategy = StrategyLeastRecent
)

func (s Strategy) Valid() bool {
	switch s {
	case StrategyFewestCalls, StrategyRandom, StrategyRingAll, StrategyLeastRecent:
		return true
	default:
		return false
	}
}

// Patch is a partial queue update; nil fields are left unchanged.
type Patch struct {
	Name     *string   `json:"name,omitempty"`
	Number   *string   `json:"number,omitempty"`
	Settings *Settings `json:"settings,omitempty"`
	AgentIDs *[]string `json:"agent_ids,omitempty"`
}

var (
	ErrNotFound        = errors.New("queue not found")
	ErrDuplicateNumber = errors.New("queue number already exists for tenant")
	ErrInvalidArgument = errors.New("invalid argument")
)
