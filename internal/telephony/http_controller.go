package telephony

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPController drives a REST control plane (ARI-style JSON API):
//
//	POST   /calls                 originate
//	POST   /calls/{id}/transfer   blind transfer
//	POST   /calls/{id}/hold       {"on": bool}
//	POST   /calls/{id}/mute       {"on": bool}
//	DELETE /calls/{id}            hangup
//	GET    /health
type HTTPController struct {
	baseURL    string
	token      string
	httpClient *http.Client
	log        *slog.Logger
}

func NewHTTPController(baseURL, token string, timeout time.Duration, log *slog.Logger) *HTTPController {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &HTTPController{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}
}

type apiError struct {
	Message string `json:"message"`
}

func (c *HTTPController) Name() string { return "http" }

func (c *HTTPController) HealthCheck(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

func (c *HTTPController) Originate(ctx context.Context, req OriginateRequest) (OriginateResult, error) {
	c.log.Debug("originating call", "session_id", req.SessionID, "endpoint", req.Endpoint, "to", req.To)

	var res OriginateResult
	if err := c.do(ctx, http.MethodPost, "/calls", req, &res); err != nil {
		return OriginateResult{}, err
	}
	if res.ProviderCallID == "" {
		return OriginateResult{}, fmt.Errorf("%w: originate returned no call id", ErrControlPlane)
	}

	c.log.Info("call originated", "session_id", req.SessionID, "provider_call_id", res.ProviderCallID)
	return res, nil
}

func (c *HTTPController) Transfer(ctx context.Context, req TransferRequest) error {
	body := map[string]string{"target": req.Target, "session_id": req.SessionID}
	return c.do(ctx, http.MethodPost, callPath(req.ProviderCallID, "transfer"), body, nil)
}

func (c *HTTPController) Hold(ctx context.Context, req CallControlRequest, on bool) error {
	return c.do(ctx, http.MethodPost, callPath(req.ProviderCallID, "hold"), map[string]bool{"on": on}, nil)
}

func (c *HTTPController) Mute(ctx context.Context, req CallControlRequest, on bool) error {
	return c.do(ctx, http.MethodPost, callPath(req.ProviderCallID, "mute"), map[string]bool{"on": on}, nil)
}

func (c *HTTPController) Hangup(ctx context.Context, req CallControlRequest) error {
	return c.do(ctx, http.MethodDelete, callPath(req.ProviderCallID, ""), nil, nil)
}

func callPath(providerCallID, action string) string {
	p := "/calls/" + url.PathEscape(providerCallID)
	if action != "" {
		p += "/" + action
	}
	return p
}

func (c *HTTPController) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrControlPlane, method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrControlPlane, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr apiError
		if err := json.Unmarshal(data, &apiErr); err == nil && apiErr.Message != "" {
			return fmt.Errorf("%w (%d): %s", ErrControlPlane, resp.StatusCode, apiErr.Message)
		}
		return fmt.Errorf("%w: status %d: %s", ErrControlPlane, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("%w: decode response: %v", ErrControlPlane, err)
		}
	}
	return nil
}
