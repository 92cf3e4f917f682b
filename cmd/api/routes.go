package main

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"callcenter-dispatch/internal/config"
	"callcenter-dispatch/internal/dispatch"
	"callcenter-dispatch/internal/httpapi"
	"callcenter-dispatch/internal/realtime"
	"callcenter-dispatch/internal/telephony"
	"callcenter-dispatch/pkg/logger"

	"github.com/gin-gonic/gin"
)

// registerPublicRoutes mounts health and provider webhooks.
// Keep this file free of business logic. Handlers delegate to internal modules.
func registerPublicRoutes(r *gin.Engine, cfg config.Config, d *dispatch.Service, checks map[string]healthCheck) {
	r.GET("/healthz", healthHandler(checks))

	// The provider is configured with one webhook URL per tenant carrying
	// ?tenant=<id>; the dialed number must belong to that tenant.
	h := telephony.WebhookHandler{
		Dispatcher: d,
		TenantResolver: func(c *gin.Context, toNumber string) (string, error) {
			tenantID := strings.TrimSpace(c.Query("tenant"))
			if tenantID == "" {
				return "", errors.New("tenant query parameter required")
			}
			return tenantID, nil
		},
		Secret: cfg.Telephony.WebhookSecret,
	}
	hooks := r.Group("/webhooks/telephony")
	{
		hooks.POST("/inbound", h.HandleInboundCall)
		hooks.POST("/status", h.HandleStatusCallback)
	}
}

// healthCheck pings one backing store.
type healthCheck func(ctx context.Context) error

// healthHandler reports 503 when any configured store fails its ping.
func healthHandler(checks map[string]healthCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := http.StatusOK
		results := make(gin.H, len(checks))
		for name, check := range checks {
			if err := check(c.Request.Context()); err != nil {
				logger.FromGin(c).Warn("health check failed", "check", name, "err", err)
				results[name] = "down"
				status = http.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}
		overall := "ok"
		if status != http.StatusOK {
			overall = "degraded"
		}
		c.JSON(status, gin.H{"status": overall, "checks": results})
	}
}

func registerRealtimeRoutes(r *gin.Engine, cfg config.Config, h *realtime.Handler) {
	h.CheckOrigin = originChecker(cfg.Realtime.AllowedOrigins)
	r.GET("/v1/realtime", h.Serve)
}

// originChecker allows browsers from the configured origins. Non-browser
// clients send no Origin header and are always allowed.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.TrimRight(strings.ToLower(o), "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil || u.Host == "" {
			return false
		}
		_, ok := set[strings.ToLower(u.Scheme+"://"+u.Host)]
		return ok
	}
}

func registerProtectedRoutes(r *gin.Engine, authMW gin.HandlerFunc, h httpapi.Handlers) {
	v1 := r.Group("/v1")
	v1.Use(authMW)
	h.Register(v1)
}
