package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"callcenter-dispatch/internal/agents"
	"callcenter-dispatch/internal/auth"
	"callcenter-dispatch/internal/calls"
	"callcenter-dispatch/internal/dispatch"
	"callcenter-dispatch/internal/queues"
	"callcenter-dispatch/internal/rbac"
	"callcenter-dispatch/internal/reporting"
	"callcenter-dispatch/internal/routing"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Dispatch *dispatch.Service
	Agents   *agents.Service
	Calls    *calls.Service
	Queues   *queues.Service
	Router   *routing.Router
	Reports  *reporting.Service
}

var (
	errForbidden = errors.New("forbidden")
	errNoAgent   = errors.New("caller has no agent extension")
)

func identity(c *gin.Context) (auth.Identity, bool) {
	id, err := auth.FromContext(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "identity required"})
		return auth.Identity{}, false
	}
	return id, true
}

// actingAgent resolves the agent a call command runs as. Managers may name
// any agent with ?agent_id=; everyone else acts as their own extension.
func (h Handlers) actingAgent(c *gin.Context, id auth.Identity) (string, error) {
	requested := strings.TrimSpace(c.Query("agent_id"))
	if requested != "" && rbac.CanManage(id.Role) {
		return requested, nil
	}
	a, err := h.Agents.GetByUser(c.Request.Context(), id.TenantID, id.UserID)
	if errors.Is(err, agents.ErrNotFound) {
		return "", errNoAgent
	}
	if err != nil {
		return "", err
	}
	if requested != "" && requested != a.ID {
		return "", errForbidden
	}
	return a.ID, nil
}

// RequireTenantAndAnyRole bundles the tenant and role checks every /v1 group uses.
func RequireTenantAndAnyRole(roles ...string) []gin.HandlerFunc {
	return []gin.HandlerFunc{rbac.RequireTenant(), rbac.RequireAnyRole(roles...)}
}

func bindJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return false
	}
	return true
}
