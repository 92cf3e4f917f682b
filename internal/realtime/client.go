package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the agent.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the agent.
	pongWait = 30 * time.Second

	// Send pings with this period; must be less than pongWait.
	pingPeriod = 20 * time.Second

	maxMessageSize = 4096

	sendBuffer = 64
)

// Client is one websocket connection of an authenticated agent.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	tenantID string
	agentID  string
	userID   string

	commands *Commands
	log      *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

func newClient(hub *Hub, conn *websocket.Conn, cmds *Commands, s Principal, log *slog.Logger) *Client {
	return &Client{
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		tenantID: s.TenantID,
		agentID:  s.AgentID,
		userID:   s.UserID,
		commands: cmds,
		log:      log.With("agent_id", s.AgentID, "tenant_id", s.TenantID),
		done:     make(chan struct{}),
	}
}

// Close stops the write pump; the read pump exits when the socket closes.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// safeSend never blocks the publisher. A client whose buffer is full is
// too slow to keep up and is dropped.
func (c *Client) safeSend(data []byte) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- data:
	default:
		c.log.Warn("send buffer full, dropping client")
		c.Close()
	}
}

// readPump reads command frames until the connection fails.
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.Close()
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Debug("websocket read error", "err", err)
			}
			return
		}
		c.handleMessage(ctx, message)
	}
}

func (c *Client) handleMessage(ctx context.Context, message []byte) {
	var in inbound
	if err := json.Unmarshal(message, &in); err != nil {
		c.reply(ack{Type: "ack", Error: "malformed message"})
		return
	}
	data, err := c.commands.Handle(ctx, c.principal(), in.Type, in.Data)
	out := ack{Type: "ack", ID: in.ID, Command: in.Type}
	if err != nil {
		out.Error = err.Error()
	} else {
		out.OK = true
		out.Data = data
	}
	c.reply(out)
}

func (c *Client) principal() Principal {
	return Principal{TenantID: c.tenantID, AgentID: c.agentID, UserID: c.userID}
}

func (c *Client) reply(a ack) {
	data, err := json.Marshal(a)
	if err != nil {
		c.log.Error("failed to marshal ack", "err", err)
		return
	}
	c.safeSend(data)
}

// writePump drains the send buffer and keeps the connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
