// Package events defines the domain events emitted by dispatch and the
// contract used to fan them out to connected agent clients.
package events

import (
	"context"
	"sync"
	"time"
)

type Type string

const (
	TypePresenceUpdate   Type = "presence.update"
	TypeCallIncoming     Type = "call.incoming"
	TypeCallStateChanged Type = "call.stateChanged"
	TypeCallEnded        Type = "call.ended"
)

// Event is one server-initiated push. AgentID set means the event goes to
// that agent's group only; empty means the whole tenant.
type Event struct {
	Type     Type      `json:"type"`
	TenantID string    `json:"tenantId"`
	AgentID  string    `json:"agentId,omitempty"`
	Data     any       `json:"data"`
	At       time.Time `json:"at"`
}

type PresenceUpdate struct {
	AgentID string `json:"agentId"`
	UserID  string `json:"userId"`
	Status  string `json:"status"`
}

type CallIncoming struct {
	CallID    string `json:"callId"`
	SessionID string `json:"sessionId"`
	From      string `json:"from"`
	To        string `json:"to"`
	QueueID   string `json:"queueId,omitempty"`
	Contact   any    `json:"contact"`
}

type CallStateChanged struct {
	SessionID string         `json:"sessionId"`
	CallID    string         `json:"callId"`
	Status    string         `json:"status"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type CallEnded struct {
	CallID    string `json:"callId"`
	SessionID string `json:"sessionId"`
	Duration  int    `json:"duration"`
}

// Publisher delivers events. Implementations must not block on slow consumers.
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

// Multi fans one event out to several publishers in order.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) {
	for _, p := range m {
		if p != nil {
			p.Publish(ctx, e)
		}
	}
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}

// Recorder keeps published events in memory, for tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns the recorded events of type t, in publish order.
func (r *Recorder) OfType(t Type) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
