package httpapi

import (
	"callcenter-dispatch/internal/rbac"

	"github.com/gin-gonic/gin"
)

// Register mounts the command API on an authenticated /v1 group.
func (h Handlers) Register(v1 *gin.RouterGroup) {
	anyRole := RequireTenantAndAnyRole(rbac.RoleOwner, rbac.RoleSupervisor, rbac.RoleAgent)
	managers := []gin.HandlerFunc{rbac.RequireTenant(), rbac.RequireManager()}

	callsGroup := v1.Group("/calls", anyRole...)
	{
		callsGroup.POST("/dial", h.DialCall)
		callsGroup.GET("/:id", h.GetCall)
		callsGroup.POST("/:id/answer", h.AnswerCall())
		callsGroup.POST("/:id/hangup", h.HangupCall())
		callsGroup.POST("/:id/transfer", h.TransferCall())
		callsGroup.POST("/:id/hold", h.HoldCall())
		callsGroup.POST("/:id/resume", h.ResumeCall())
		callsGroup.POST("/:id/mute", h.MuteCall())
		callsGroup.PATCH("/:id/notes", h.UpdateNotes())
	}

	agentsRead := v1.Group("/agents", anyRole...)
	{
		agentsRead.GET("", h.ListAgents)
		agentsRead.GET("/:id", h.GetAgent)
		agentsRead.PUT("/:id/status", h.SetAgentStatus)
	}
	agentsAdmin := v1.Group("/agents", managers...)
	{
		agentsAdmin.POST("", h.CreateAgent)
		agentsAdmin.PATCH("/:id/settings", h.UpdateAgentSettings)
		agentsAdmin.DELETE("/:id", h.DeactivateAgent)
	}

	queuesRead := v1.Group("/queues", anyRole...)
	{
		queuesRead.GET("", h.ListQueues)
		queuesRead.GET("/:id", h.GetQueue)
		queuesRead.GET("/:id/status", h.QueueStatus)
	}
	queuesAdmin := v1.Group("/queues", managers...)
	{
		queuesAdmin.POST("", h.CreateQueue)
		queuesAdmin.PUT("/:id", h.UpdateQueue)
		queuesAdmin.DELETE("/:id", h.DeactivateQueue)
	}

	stats := v1.Group("/stats", managers...)
	{
		stats.GET("/realtime", h.RealTimeStats)
		stats.GET("/agents/:id", h.AgentStats)
		stats.GET("/team", h.TeamStats)
	}
}
