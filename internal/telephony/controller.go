package telephony

import (
	"context"
	"errors"
	"time"
)

// Controller is the telephony control plane as seen by dispatch.
//
// Rules:
// - No signaling here: implementations only ask the control plane to act.
// - All requests are tenant-scoped.
// - Outcomes arrive later through the status webhook.
type Controller interface {
	Name() string
	HealthCheck(ctx context.Context) error

	Originate(ctx context.Context, req OriginateRequest) (OriginateResult, error)
	Transfer(ctx context.Context, req TransferRequest) error
	Hold(ctx context.Context, req CallControlRequest, on bool) error
	Mute(ctx context.Context, req CallControlRequest, on bool) error
	Hangup(ctx context.Context, req CallControlRequest) error
}

// OriginateRequest places an outbound call from an agent extension.
type OriginateRequest struct {
	TenantID  string `json:"tenant_id"`
	CallLogID string `json:"call_log_id"`
	SessionID string `json:"session_id"`

	// Endpoint is the agent leg, e.g. sip:1001@pbx.local.
	Endpoint      string `json:"endpoint"`
	FromExtension string `json:"from_extension"`
	To            string `json:"to"`
}

type OriginateResult struct {
	ProviderCallID string `json:"provider_call_id"`
}

type CallControlRequest struct {
	TenantID       string `json:"tenant_id"`
	SessionID      string `json:"session_id"`
	ProviderCallID string `json:"provider_call_id"`
}

// TransferRequest moves the remote party to Target: a SIP URI or a phone number.
type TransferRequest struct {
	CallControlRequest
	Target string `json:"target"`
}

// ErrControlPlane wraps every failure reported by the control plane.
var ErrControlPlane = errors.New("telephony control plane failure")

// InboundCallRequest represents an inbound call event received from the provider.
type InboundCallRequest struct {
	TenantID string `json:"tenant_id"`

	// ProviderCallID is the provider's unique identifier for this call.
	ProviderCallID string `json:"provider_call_id"`

	// From and To are E.164 where possible.
	From string `json:"from"`
	To   string `json:"to"`

	OccurredAt time.Time `json:"occurred_at"`

	// RawPayload is optional for debugging; stored as a flow event detail.
	RawPayload string `json:"raw_payload,omitempty"`
}

// InboundCallResult tells the provider what to do with the inbound leg.
type InboundCallResult struct {
	TenantID  string `json:"tenant_id"`
	CallLogID string `json:"call_log_id"`
	SessionID string `json:"session_id,omitempty"`

	Action InboundCallAction `json:"action"`

	// ConnectTo is used when Action == "connect".
	ConnectTo string `json:"connect_to,omitempty"`
	// QueueName and HoldMusic are used when Action == "enqueue".
	QueueName string `json:"queue_name,omitempty"`
	HoldMusic string `json:"hold_music,omitempty"`
}

type InboundCallAction string

const (
	InboundCallActionReject  InboundCallAction = "reject"
	InboundCallActionConnect InboundCallAction = "connect"
	InboundCallActionEnqueue InboundCallAction = "enqueue"
	InboundCallActionHangup  InboundCallAction = "hangup"
)

// StatusCallback is a carrier progress report for a call.
type StatusCallback struct {
	ProviderCallID  string `json:"provider_call_id"`
	Status          string `json:"status"`
	DurationSeconds int    `json:"duration_seconds"`
}

// InboundHandler is implemented by the dispatcher. Keeping it here keeps the
// webhook code free of business logic and of an import on dispatch.
type InboundHandler interface {
	HandleInboundCall(ctx context.Context, req InboundCallRequest) (InboundCallResult, error)
	HandleStatusCallback(ctx context.Context, cb StatusCallback) error
}

// SIPURI builds the dial target for an agent extension.
func SIPURI(extension, domain string) string {
	return "sip:" + extension + "@" + domain
}
