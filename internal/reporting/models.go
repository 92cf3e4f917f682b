package reporting

import (
	"time"

	"callcenter-dispatch/internal/agents"
)

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

func (r TimeRange) valid() bool {
	return !r.From.IsZero() && !r.To.IsZero() && r.To.After(r.From)
}

// RealTimeStats is a point-in-time snapshot of one tenant.
type RealTimeStats struct {
	TenantID string `json:"tenant_id"`

	// WaitingCalls counts RINGING sessions, assigned or not.
	WaitingCalls int `json:"waiting_calls"`
	// UnassignedCalls is the subset of WaitingCalls with no agent yet.
	UnassignedCalls int `json:"unassigned_calls"`
	// ActiveCalls counts CONNECTED and ON_HOLD sessions.
	ActiveCalls int `json:"active_calls"`

	TotalAgents    int                   `json:"total_agents"`
	AgentsByStatus map[agents.Status]int `json:"agents_by_status"`

	GeneratedAt time.Time `json:"generated_at"`
}

// AgentMetricsRequest asks for one agent's figures over a range.
type AgentMetricsRequest struct {
	TenantID string    `json:"tenant_id"`
	AgentID  string    `json:"agent_id"`
	Range    TimeRange `json:"range"`
}

type AgentMetrics struct {
	AgentID string    `json:"agent_id"`
	Range   TimeRange `json:"range"`

	TotalCalls    int `json:"total_calls"`
	AnsweredCalls int `json:"answered_calls"`
	MissedCalls   int `json:"missed_calls"`
	ActiveCalls   int `json:"active_calls"`

	TalkSeconds        int `json:"talk_seconds"`
	AverageTalkSeconds int `json:"average_talk_seconds"`

	TransfersOut  int `json:"transfers_out"`
	StatusChanges int `json:"status_changes"`
	Logins        int `json:"logins"`
}

// TeamMetricsRequest aggregates several agents. An empty AgentIDs means
// every active agent of the tenant.
type TeamMetricsRequest struct {
	TenantID string    `json:"tenant_id"`
	AgentIDs []string  `json:"agent_ids,omitempty"`
	Range    TimeRange `json:"range"`
}

type TeamMetrics struct {
	Range TimeRange `json:"range"`

	TotalCalls         int     `json:"total_calls"`
	AnsweredCalls      int     `json:"answered_calls"`
	MissedCalls        int     `json:"missed_calls"`
	TalkSeconds        int     `json:"talk_seconds"`
	AverageTalkSeconds int     `json:"average_talk_seconds"`
	AnswerRate         float64 `json:"answer_rate"`

	Agents []AgentMetrics `json:"agents"`
}
