// Package realtime is the agent-facing websocket channel: it authenticates
// agent clients, keeps them in tenant and agent groups, relays their
// commands to dispatch and pushes domain events back out.
//
// The connection registry is process-local. Running several instances needs
// the Redis relay for events and sticky routing of an agent's connections;
// presence bookkeeping itself is not shared.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"callcenter-dispatch/internal/events"
)

func tenantGroup(id string) string { return "tenant:" + id }
func agentGroup(id string) string  { return "agent:" + id }

// Hub maintains the set of active agent connections, grouped by tenant and agent.
type Hub struct {
	mu     sync.RWMutex
	groups map[string]map[*Client]struct{}

	// presence serializes an agent's connects with the offline decision
	// taken when its last connection leaves.
	presenceMu sync.Mutex
	presence   map[string]*agentLock

	log *slog.Logger
}

type agentLock struct {
	mu   sync.Mutex
	refs int
}

func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		groups:   map[string]map[*Client]struct{}{},
		presence: map[string]*agentLock{},
		log:      log,
	}
}

func (h *Hub) lockAgent(agentID string) func() {
	h.presenceMu.Lock()
	l, ok := h.presence[agentID]
	if !ok {
		l = &agentLock{}
		h.presence[agentID] = l
	}
	l.refs++
	h.presenceMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		h.presenceMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(h.presence, agentID)
		}
		h.presenceMu.Unlock()
	}
}

// join registers c. It waits for an offline transition of the same agent
// that is still in flight.
func (h *Hub) join(c *Client) {
	unlock := h.lockAgent(c.agentID)
	defer unlock()
	h.add(c)
}

// leave unregisters c and runs onLast when it was the agent's last
// connection. No connection of that agent can join while onLast runs.
func (h *Hub) leave(c *Client, onLast func()) {
	unlock := h.lockAgent(c.agentID)
	defer unlock()
	if h.remove(c) == 0 && onLast != nil {
		onLast()
	}
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, g := range []string{tenantGroup(c.tenantID), agentGroup(c.agentID)} {
		set, ok := h.groups[g]
		if !ok {
			set = map[*Client]struct{}{}
			h.groups[g] = set
		}
		set[c] = struct{}{}
	}
	h.log.Debug("agent connected", "agent_id", c.agentID, "connections", len(h.groups[agentGroup(c.agentID)]))
}

// remove drops c from its groups and returns how many connections the agent
// still has.
func (h *Hub) remove(c *Client) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, g := range []string{tenantGroup(c.tenantID), agentGroup(c.agentID)} {
		if set, ok := h.groups[g]; ok {
			delete(set, c)
			if len(set) == 0 {
				delete(h.groups, g)
			}
		}
	}
	remaining := len(h.groups[agentGroup(c.agentID)])
	h.log.Debug("agent disconnected", "agent_id", c.agentID, "remaining", remaining)
	return remaining
}

// AgentConnections is the number of live connections for the agent.
func (h *Hub) AgentConnections(agentID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[agentGroup(agentID)])
}

// ClientCount is the number of live connections in the tenant.
func (h *Hub) ClientCount(tenantID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[tenantGroup(tenantID)])
}

// Publish implements events.Publisher. Events with an AgentID go to that
// agent's group, everything else to the whole tenant.
func (h *Hub) Publish(_ context.Context, e events.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		h.log.Error("failed to marshal event", "type", string(e.Type), "err", err)
		return
	}
	g := tenantGroup(e.TenantID)
	if e.AgentID != "" {
		g = agentGroup(e.AgentID)
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.groups[g]))
	for c := range h.groups[g] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.safeSend(data)
	}
}
