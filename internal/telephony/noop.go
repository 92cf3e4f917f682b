package telephony

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// NoopController accepts every request without reaching a control plane.
// It is selected when no TELEPHONY_BASE_URL is configured.
type NoopController struct {
	Log *slog.Logger
}

func (p NoopController) Name() string { return "noop" }

func (p NoopController) HealthCheck(ctx context.Context) error { return nil }

func (p NoopController) Originate(ctx context.Context, req OriginateRequest) (OriginateResult, error) {
	id := "noop-" + uuid.NewString()
	p.log().Debug("noop originate", "session_id", req.SessionID, "to", req.To, "provider_call_id", id)
	return OriginateResult{ProviderCallID: id}, nil
}

func (p NoopController) Transfer(ctx context.Context, req TransferRequest) error {
	p.log().Debug("noop transfer", "session_id", req.SessionID, "target", req.Target)
	return nil
}

func (p NoopController) Hold(ctx context.Context, req CallControlRequest, on bool) error {
	p.log().Debug("noop hold", "session_id", req.SessionID, "on", on)
	return nil
}

func (p NoopController) Mute(ctx context.Context, req CallControlRequest, on bool) error {
	p.log().Debug("noop mute", "session_id", req.SessionID, "on", on)
	return nil
}

func (p NoopController) Hangup(ctx context.Context, req CallControlRequest) error {
	p.log().Debug("noop hangup", "session_id", req.SessionID)
	return nil
}

func (p NoopController) log() *slog.Logger {
	if p.Log == nil {
		return slog.Default()
	}
	return p.Log
}
