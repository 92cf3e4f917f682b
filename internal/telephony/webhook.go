package telephony

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"callcenter-dispatch/internal/calls"
	"callcenter-dispatch/internal/contacts"
)

// VoiceForm captures the subset of voice webhook fields we care about.
// Providers send application/x-www-form-urlencoded (Twilio field names).
type VoiceForm struct {
	CallSid      string `json:"CallSid"`
	AccountSid   string `json:"AccountSid,omitempty"`
	From         string `json:"From"`
	To           string `json:"To"`
	Direction    string `json:"Direction,omitempty"`
	CallStatus   string `json:"CallStatus,omitempty"`
	CallDuration string `json:"CallDuration,omitempty"`
	CallerName   string `json:"CallerName,omitempty"`
}

func ParseVoiceForm(r *http.Request) (VoiceForm, error) {
	if err := r.ParseForm(); err != nil {
		return VoiceForm{}, err
	}
	return VoiceForm{
		CallSid:      strings.TrimSpace(r.PostFormValue("CallSid")),
		AccountSid:   r.PostFormValue("AccountSid"),
		From:         normalizeParty(r.PostFormValue("From")),
		To:           normalizeParty(r.PostFormValue("To")),
		Direction:    r.PostFormValue("Direction"),
		CallStatus:   strings.TrimSpace(r.PostFormValue("CallStatus")),
		CallDuration: strings.TrimSpace(r.PostFormValue("CallDuration")),
		CallerName:   r.PostFormValue("CallerName"),
	}, nil
}

// normalizeParty keeps values like "anonymous" as-is; numbers are normalized.
func normalizeParty(s string) string {
	s = strings.TrimSpace(s)
	if n := contacts.NormalizePhone(s); n != "" {
		return n
	}
	return s
}

func (f VoiceForm) ToInboundCallRequest(tenantID string, occurredAt time.Time) InboundCallRequest {
	raw, _ := json.Marshal(f)
	return InboundCallRequest{
		TenantID:       tenantID,
		ProviderCallID: f.CallSid,
		From:           f.From,
		To:             f.To,
		OccurredAt:     occurredAt,
		RawPayload:     string(raw),
	}
}

// ToStatusCallback maps provider vocabulary to a StatusCallback. ok is false
// for statuses we do not track.
func (f VoiceForm) ToStatusCallback() (StatusCallback, bool) {
	st, ok := MapProviderStatus(f.CallStatus)
	if !ok {
		return StatusCallback{}, false
	}
	d := -1
	if f.CallDuration != "" {
		if n, err := strconv.Atoi(f.CallDuration); err == nil && n >= 0 {
			d = n
		}
	}
	return StatusCallback{ProviderCallID: f.CallSid, Status: string(st), DurationSeconds: d}, true
}

// MapProviderStatus translates provider call statuses to call log statuses.
func MapProviderStatus(s string) (calls.LogStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "queued", "initiated":
		return calls.LogStatusInitiated, true
	case "ringing":
		return calls.LogStatusRinging, true
	case "in-progress", "in_progress", "answered":
		return calls.LogStatusInProgress, true
	case "completed":
		return calls.LogStatusCompleted, true
	case "busy":
		return calls.LogStatusBusy, true
	case "failed":
		return calls.LogStatusFailed, true
	case "no-answer", "no_answer":
		return calls.LogStatusNoAnswer, true
	case "canceled", "cancelled":
		return calls.LogStatusCanceled, true
	default:
		return "", false
	}
}
