package telephony

import (
	"crypto/subtle"
	"net/http"
	"time"

	"callcenter-dispatch/pkg/logger"

	"github.com/gin-gonic/gin"
)

// WebhookHandler converts provider webhooks to internal types, delegates to
// the dispatcher, and writes TwiML. No business logic here.
//
// Tenant scoping: the tenant is resolved by TenantResolver, typically from
// the per-tenant webhook URL configured at the provider.
type WebhookHandler struct {
	Dispatcher InboundHandler

	TenantResolver func(c *gin.Context, toNumber string) (string, error)

	// Secret, when set, must match the X-Webhook-Token header.
	Secret string

	Now func() time.Time
}

const webhookTokenHeader = "X-Webhook-Token"

func (h WebhookHandler) authorized(c *gin.Context) bool {
	if h.Secret == "" {
		return true
	}
	got := c.GetHeader(webhookTokenHeader)
	return subtle.ConstantTimeCompare([]byte(got), []byte(h.Secret)) == 1
}

func (h WebhookHandler) HandleInboundCall(c *gin.Context) {
	log := logger.FromGin(c)

	now := h.Now
	if now == nil {
		now = time.Now
	}
	if h.Dispatcher == nil || h.TenantResolver == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "telephony webhook not configured"})
		return
	}
	if !h.authorized(c) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid webhook token"})
		return
	}

	form, err := ParseVoiceForm(c.Request)
	if err != nil || form.CallSid == "" {
		log.Warn("inbound webhook parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}

	tenantID, err := h.TenantResolver(c, form.To)
	if err != nil || tenantID == "" {
		log.Warn("tenant resolution failed", "to", form.To, "err", err)
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown destination"})
		return
	}

	res, err := h.Dispatcher.HandleInboundCall(c.Request.Context(), form.ToInboundCallRequest(tenantID, now().UTC()))
	if err != nil {
		// The caller still needs an answer; reject rather than leave the leg hanging.
		log.Error("inbound call dispatch failed", "tenant_id", tenantID, "provider_call_id", form.CallSid, "err", err)
		res = InboundCallResult{TenantID: tenantID, Action: InboundCallActionReject}
	}

	twiml, err := RenderTwiML(res)
	if err != nil {
		log.Error("twiml render failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "twiml failed"})
		return
	}

	c.Header("Content-Type", "application/xml")
	c.String(http.StatusOK, twiml)
}

func (h WebhookHandler) HandleStatusCallback(c *gin.Context) {
	log := logger.FromGin(c)

	if h.Dispatcher == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "telephony webhook not configured"})
		return
	}
	if !h.authorized(c) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid webhook token"})
		return
	}

	form, err := ParseVoiceForm(c.Request)
	if err != nil || form.CallSid == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}
	cb, ok := form.ToStatusCallback()
	if !ok {
		log.Debug("ignoring untracked call status", "status", form.CallStatus, "provider_call_id", form.CallSid)
		c.Status(http.StatusNoContent)
		return
	}

	if err := h.Dispatcher.HandleStatusCallback(c.Request.Context(), cb); err != nil {
		log.Error("status callback failed", "provider_call_id", cb.ProviderCallID, "status", cb.Status, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "status update failed"})
		return
	}
	c.Status(http.StatusNoContent)
}
