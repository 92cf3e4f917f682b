package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"callcenter-dispatch/internal/agents"
	"callcenter-dispatch/internal/calls"
)

// Dispatcher is the subset of dispatch.Service driven by agent clients.
type Dispatcher interface {
	Login(ctx context.Context, tenantID, userID, extension string) (agents.Agent, error)
	Logout(ctx context.Context, tenantID, agentID, reason string) (agents.Agent, error)
	ChangeStatus(ctx context.Context, tenantID, agentID string, status agents.Status) (agents.Agent, error)
	AnswerCall(ctx context.Context, tenantID, agentID, sessionID string) (calls.Session, error)
	HangupCall(ctx context.Context, tenantID, agentID, sessionID string) (calls.Session, error)
	DialOutbound(ctx context.Context, tenantID, agentID, phoneNumber string, contactID *string) (calls.Session, error)
}

// Principal is the authenticated agent behind a connection.
type Principal struct {
	TenantID string
	AgentID  string
	UserID   string
}

// inbound is a command frame sent by an agent client.
type inbound struct {
	ID   string          `json:"id,omitempty"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ack answers one command: {ok, data} on success, {error} otherwise.
type ack struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Command string `json:"command,omitempty"`
	OK      bool   `json:"ok"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

type CommandFunc func(ctx context.Context, s Principal, data json.RawMessage) (any, error)

var ErrUnknownCommand = errors.New("unknown command")

// Commands maps command names to handlers.
type Commands struct {
	handlers map[string]CommandFunc
}

// NewCommands registers the agent commands backed by d.
func NewCommands(d Dispatcher) *Commands {
	c := &Commands{handlers: map[string]CommandFunc{}}
	c.Register("agent.login", func(ctx context.Context, s Principal, data json.RawMessage) (any, error) {
		var in struct {
			Extension string `json:"extension"`
		}
		if err := decode(data, &in); err != nil {
			return nil, err
		}
		return d.Login(ctx, s.TenantID, s.UserID, in.Extension)
	})
	c.Register("agent.statusChange", func(ctx context.Context, s Principal, data json.RawMessage) (any, error) {
		var in struct {
			Status agents.Status `json:"status"`
		}
		if err := decode(data, &in); err != nil {
			return nil, err
		}
		return d.ChangeStatus(ctx, s.TenantID, s.AgentID, in.Status)
	})
	c.Register("call.answer", func(ctx context.Context, s Principal, data json.RawMessage) (any, error) {
		id, err := callID(data)
		if err != nil {
			return nil, err
		}
		return d.AnswerCall(ctx, s.TenantID, s.AgentID, id)
	})
	c.Register("call.hangup", func(ctx context.Context, s Principal, data json.RawMessage) (any, error) {
		id, err := callID(data)
		if err != nil {
			return nil, err
		}
		return d.HangupCall(ctx, s.TenantID, s.AgentID, id)
	})
	c.Register("call.dial", func(ctx context.Context, s Principal, data json.RawMessage) (any, error) {
		var in struct {
			PhoneNumber string  `json:"phoneNumber"`
			ContactID   *string `json:"contactId,omitempty"`
		}
		if err := decode(data, &in); err != nil {
			return nil, err
		}
		return d.DialOutbound(ctx, s.TenantID, s.AgentID, in.PhoneNumber, in.ContactID)
	})
	return c
}

func (c *Commands) Register(name string, fn CommandFunc) {
	c.handlers[name] = fn
}

// Names lists the registered commands, sorted.
func (c *Commands) Names() []string {
	out := make([]string, 0, len(c.handlers))
	for name := range c.handlers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Handle runs one command. Panics in handlers are turned into errors so a
// misbehaving command cannot take the connection down.
func (c *Commands) Handle(ctx context.Context, s Principal, name string, data json.RawMessage) (out any, err error) {
	fn, ok := c.handlers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}
	defer func() {
		if p := recover(); p != nil {
			out, err = nil, fmt.Errorf("command %s failed: %v", name, p)
		}
	}()
	return fn(ctx, s, data)
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return errors.New("missing data")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("invalid data: %w", err)
	}
	return nil
}

// callID accepts {"callId": ...} and {"sessionId": ...}.
func callID(data json.RawMessage) (string, error) {
	var in struct {
		CallID    string `json:"callId"`
		SessionID string `json:"sessionId"`
	}
	if err := decode(data, &in); err != nil {
		return "", err
	}
	if in.CallID != "" {
		return in.CallID, nil
	}
	if in.SessionID != "" {
		return in.SessionID, nil
	}
	return "", errors.New("callId required")
}
