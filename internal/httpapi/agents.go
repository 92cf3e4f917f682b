package httpapi

import (
	"net/http"

	"callcenter-dispatch/internal/agents"
	"callcenter-dispatch/internal/rbac"

	"github.com/gin-gonic/gin"
)

type createAgentRequest struct {
	UserID     string          `json:"user_id"`
	Extension  string          `json:"extension"`
	Credential string          `json:"credential"`
	Settings   agents.Settings `json:"settings"`
}

func (h Handlers) CreateAgent(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	var req createAgentRequest
	if !bindJSON(c, &req) {
		return
	}
	a, err := h.Agents.Provision(c.Request.Context(), id.TenantID, req.UserID, req.Extension, req.Credential, req.Settings)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, a)
}

func (h Handlers) ListAgents(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	f := agents.ListFilter{ActiveOnly: c.Query("active") == "true"}
	if st := c.Query("status"); st != "" {
		f.Statuses = []agents.Status{agents.Status(st)}
	}
	list, err := h.Agents.List(c.Request.Context(), id.TenantID, f)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agents": list})
}

func (h Handlers) GetAgent(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	a, err := h.Agents.Get(c.Request.Context(), id.TenantID, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h Handlers) UpdateAgentSettings(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	var patch agents.SettingsPatch
	if !bindJSON(c, &patch) {
		return
	}
	a, err := h.Agents.UpdateSettings(c.Request.Context(), id.TenantID, c.Param("id"), patch)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

type statusRequest struct {
	Status agents.Status `json:"status"`
}

// SetAgentStatus is open to agents for their own extension and to managers
// for any.
func (h Handlers) SetAgentStatus(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	var req statusRequest
	if !bindJSON(c, &req) {
		return
	}
	agentID := c.Param("id")
	if !rbac.CanManage(id.Role) {
		own, err := h.Agents.GetByUser(c.Request.Context(), id.TenantID, id.UserID)
		if err != nil || own.ID != agentID {
			writeError(c, errForbidden)
			return
		}
	}
	a, err := h.Dispatch.ChangeStatus(c.Request.Context(), id.TenantID, agentID, req.Status)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h Handlers) DeactivateAgent(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	a, err := h.Agents.Deactivate(c.Request.Context(), id.TenantID, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}
