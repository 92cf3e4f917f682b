package httpapi

import (
	"net/http"

	"callcenter-dispatch/internal/queues"

	"github.com/gin-gonic/gin"
)

func (h Handlers) CreateQueue(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	var req queues.NewQueue
	if !bindJSON(c, &req) {
		return
	}
	q, err := h.Queues.Create(c.Request.Context(), id.TenantID, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, q)
}

func (h Handlers) ListQueues(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	list, err := h.Queues.List(c.Request.Context(), id.TenantID, c.Query("active") == "true")
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"queues": list})
}

func (h Handlers) GetQueue(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	q, err := h.Queues.Get(c.Request.Context(), id.TenantID, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

func (h Handlers) UpdateQueue(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	var patch queues.Patch
	if !bindJSON(c, &patch) {
		return
	}
	q, err := h.Queues.Update(c.Request.Context(), id.TenantID, c.Param("id"), patch)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

func (h Handlers) DeactivateQueue(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	q, err := h.Queues.Deactivate(c.Request.Context(), id.TenantID, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

func (h Handlers) QueueStatus(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	st, err := h.Router.Status(c.Request.Context(), id.TenantID, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}
