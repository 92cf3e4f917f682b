package realtime

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"callcenter-dispatch/internal/agents"
	"callcenter-dispatch/internal/auth"
	"callcenter-dispatch/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// AgentLookup resolves the connecting user to their agent record.
type AgentLookup interface {
	GetByUser(ctx context.Context, tenantID, userID string) (agents.Agent, error)
}

// Handler upgrades authenticated agent requests to websocket connections.
type Handler struct {
	Hub        *Hub
	Auth       *auth.Manager
	Agents     AgentLookup
	Dispatcher Dispatcher
	Commands   *Commands

	// CheckOrigin defaults to allowing every origin; cmd/api restricts it
	// to REALTIME_ALLOWED_ORIGINS.
	CheckOrigin func(r *http.Request) bool

	Now func() time.Time
}

func (h *Handler) upgrader() websocket.Upgrader {
	check := h.CheckOrigin
	if check == nil {
		check = func(*http.Request) bool { return true }
	}
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     check,
	}
}

// Serve authenticates with the bearer credential (Authorization header or
// token query parameter), requires an agent record, then runs the
// connection until it closes. The last connection of an agent going away
// sets the agent OFFLINE.
func (h *Handler) Serve(c *gin.Context) {
	log := logger.FromGin(c)
	now := h.Now
	if now == nil {
		now = time.Now
	}

	token := auth.BearerToken(c.Request)
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
		return
	}
	claims, err := h.Auth.Verify(token, auth.TokenTypeAccess, now())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	a, err := h.Agents.GetByUser(c.Request.Context(), claims.TenantID, claims.UserID)
	if errors.Is(err, agents.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "no agent extension for user"})
		return
	}
	if err != nil {
		log.Error("agent lookup failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if !a.Active {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "agent extension disabled"})
		return
	}

	up := h.upgrader()
	conn, err := up.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		log.Warn("websocket upgrade failed", "err", err)
		return
	}

	cmds := h.Commands
	if cmds == nil {
		cmds = NewCommands(h.Dispatcher)
	}
	p := Principal{TenantID: claims.TenantID, AgentID: a.ID, UserID: claims.UserID}
	client := newClient(h.Hub, conn, cmds, p, log)
	h.Hub.join(client)

	go client.writePump()

	// The request context ends with the handler; commands outlive it only
	// as long as the connection does.
	ctx, cancel := context.WithCancel(context.Background())
	ctx = logger.With(ctx, client.log)
	client.readPump(ctx)
	cancel()

	h.Hub.leave(client, func() { h.disconnect(p, client.log) })
}

func (h *Handler) disconnect(p Principal, log *slog.Logger) {
	if h.Dispatcher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := h.Dispatcher.Logout(ctx, p.TenantID, p.AgentID, "disconnect"); err != nil {
		log.Error("offline on disconnect failed", "err", err)
	}
}
