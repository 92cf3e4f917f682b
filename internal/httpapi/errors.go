package httpapi

import (
	"errors"
	"net/http"

	"callcenter-dispatch/internal/agents"
	"callcenter-dispatch/internal/calls"
	"callcenter-dispatch/internal/dispatch"
	"callcenter-dispatch/internal/queues"
	"callcenter-dispatch/internal/reporting"
	"callcenter-dispatch/internal/telephony"
	"callcenter-dispatch/pkg/logger"

	"github.com/gin-gonic/gin"
)

// statusFor classifies domain errors: validation 400, not found 404,
// state conflict 409, collaborator failure 502, anything else 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errForbidden), errors.Is(err, errNoAgent):
		return http.StatusForbidden

	case errors.Is(err, dispatch.ErrInvalidArgument),
		errors.Is(err, dispatch.ErrManualStatus),
		errors.Is(err, agents.ErrInvalidArgument),
		errors.Is(err, agents.ErrInvalidStatus),
		errors.Is(err, agents.ErrDuplicateExtension),
		errors.Is(err, agents.ErrDuplicateUser),
		errors.Is(err, calls.ErrInvalidArgument),
		errors.Is(err, queues.ErrInvalidArgument),
		errors.Is(err, queues.ErrDuplicateNumber),
		errors.Is(err, reporting.ErrInvalidRequest):
		return http.StatusBadRequest

	case errors.Is(err, agents.ErrNotFound),
		errors.Is(err, calls.ErrNotFound),
		errors.Is(err, calls.ErrLogNotFound),
		errors.Is(err, queues.ErrNotFound),
		errors.Is(err, dispatch.ErrContactNotFound):
		return http.StatusNotFound

	case errors.Is(err, dispatch.ErrAgentBusy),
		errors.Is(err, dispatch.ErrAgentUnavailable),
		errors.Is(err, dispatch.ErrNotAssigned),
		errors.Is(err, dispatch.ErrInvalidState),
		errors.Is(err, calls.ErrInvalidTransition),
		errors.Is(err, agents.ErrClaimConflict):
		return http.StatusConflict

	case errors.Is(err, dispatch.ErrCollaborator),
		errors.Is(err, telephony.ErrControlPlane):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.FromGin(c).Error("request failed", "status", status, "err", err)
	}
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}
