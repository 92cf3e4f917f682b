package httpapi

import (
	"net/http"

	"callcenter-dispatch/internal/calls"
	"callcenter-dispatch/internal/dispatch"

	"github.com/gin-gonic/gin"
)

type dialRequest struct {
	PhoneNumber string  `json:"phone_number"`
	ContactID   *string `json:"contact_id,omitempty"`
}

func (h Handlers) DialCall(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	var req dialRequest
	if !bindJSON(c, &req) {
		return
	}
	agentID, err := h.actingAgent(c, id)
	if err != nil {
		writeError(c, err)
		return
	}
	sess, err := h.Dispatch.DialOutbound(c.Request.Context(), id.TenantID, agentID, req.PhoneNumber, req.ContactID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sess)
}

// sessionCommand runs fn as the acting agent against the :id session.
func (h Handlers) sessionCommand(fn func(c *gin.Context, tenantID, agentID, sessionID string) (calls.Session, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := identity(c)
		if !ok {
			return
		}
		agentID, err := h.actingAgent(c, id)
		if err != nil {
			writeError(c, err)
			return
		}
		sess, err := fn(c, id.TenantID, agentID, c.Param("id"))
		if c.IsAborted() {
			return
		}
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, sess)
	}
}

func (h Handlers) AnswerCall() gin.HandlerFunc {
	return h.sessionCommand(func(c *gin.Context, tenantID, agentID, sessionID string) (calls.Session, error) {
		return h.Dispatch.AnswerCall(c.Request.Context(), tenantID, agentID, sessionID)
	})
}

func (h Handlers) HangupCall() gin.HandlerFunc {
	return h.sessionCommand(func(c *gin.Context, tenantID, agentID, sessionID string) (calls.Session, error) {
		return h.Dispatch.HangupCall(c.Request.Context(), tenantID, agentID, sessionID)
	})
}

type transferRequest struct {
	AgentID string `json:"agent_id,omitempty"`
	Number  string `json:"number,omitempty"`
}

func (h Handlers) TransferCall() gin.HandlerFunc {
	return h.sessionCommand(func(c *gin.Context, tenantID, agentID, sessionID string) (calls.Session, error) {
		var req transferRequest
		if !bindJSON(c, &req) {
			return calls.Session{}, nil
		}
		target := dispatch.TransferTarget{AgentID: req.AgentID, Number: req.Number}
		return h.Dispatch.TransferCall(c.Request.Context(), tenantID, agentID, sessionID, target)
	})
}

func (h Handlers) HoldCall() gin.HandlerFunc {
	return h.sessionCommand(func(c *gin.Context, tenantID, agentID, sessionID string) (calls.Session, error) {
		return h.Dispatch.HoldCall(c.Request.Context(), tenantID, agentID, sessionID)
	})
}

func (h Handlers) ResumeCall() gin.HandlerFunc {
	return h.sessionCommand(func(c *gin.Context, tenantID, agentID, sessionID string) (calls.Session, error) {
		return h.Dispatch.ResumeCall(c.Request.Context(), tenantID, agentID, sessionID)
	})
}

type muteRequest struct {
	Muted *bool `json:"muted"`
}

func (h Handlers) MuteCall() gin.HandlerFunc {
	return h.sessionCommand(func(c *gin.Context, tenantID, agentID, sessionID string) (calls.Session, error) {
		// An empty body mutes.
		on := true
		if c.Request.ContentLength > 0 {
			var req muteRequest
			if !bindJSON(c, &req) {
				return calls.Session{}, nil
			}
			if req.Muted != nil {
				on = *req.Muted
			}
		}
		return h.Dispatch.MuteCall(c.Request.Context(), tenantID, agentID, sessionID, on)
	})
}

type notesRequest struct {
	Notes       *string `json:"notes,omitempty"`
	Disposition *string `json:"disposition,omitempty"`
}

func (h Handlers) UpdateNotes() gin.HandlerFunc {
	return h.sessionCommand(func(c *gin.Context, tenantID, agentID, sessionID string) (calls.Session, error) {
		var req notesRequest
		if !bindJSON(c, &req) {
			return calls.Session{}, nil
		}
		return h.Dispatch.UpdateNotes(c.Request.Context(), tenantID, agentID, sessionID, req.Notes, req.Disposition)
	})
}

func (h Handlers) GetCall(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	sess, err := h.Calls.Get(c.Request.Context(), id.TenantID, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	l, err := h.Calls.GetLog(c.Request.Context(), id.TenantID, sess.CallLogID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": sess, "call": l})
}
