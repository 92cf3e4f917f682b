package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"callcenter-dispatch/internal/events"
	"callcenter-dispatch/pkg/logger"
)

func testClient(hub *Hub, tenantID, agentID string, buf int) *Client {
	return &Client{
		hub:      hub,
		send:     make(chan []byte, buf),
		tenantID: tenantID,
		agentID:  agentID,
		log:      logger.Discard(),
		done:     make(chan struct{}),
	}
}

func drain(c *Client) []events.Event {
	var out []events.Event
	for {
		select {
		case raw := <-c.send:
			var e events.Event
			if err := json.Unmarshal(raw, &e); err == nil {
				out = append(out, e)
			}
		default:
			return out
		}
	}
}

func TestHubRoutesByGroup(t *testing.T) {
	hub := NewHub(logger.Discard())
	a1 := testClient(hub, "t1", "a1", 8)
	a1b := testClient(hub, "t1", "a1", 8)
	a2 := testClient(hub, "t1", "a2", 8)
	other := testClient(hub, "t2", "a9", 8)
	for _, c := range []*Client{a1, a1b, a2, other} {
		hub.add(c)
	}

	if got := hub.AgentConnections("a1"); got != 2 {
		t.Fatalf("expected 2 connections for a1, got %d", got)
	}
	if got := hub.ClientCount("t1"); got != 3 {
		t.Fatalf("expected 3 tenant connections, got %d", got)
	}

	ctx := context.Background()
	hub.Publish(ctx, events.Event{Type: events.TypeCallIncoming, TenantID: "t1", AgentID: "a1"})
	hub.Publish(ctx, events.Event{Type: events.TypePresenceUpdate, TenantID: "t1"})

	if got := drain(a1); len(got) != 2 || got[0].Type != events.TypeCallIncoming {
		t.Fatalf("a1: unexpected events %+v", got)
	}
	if got := drain(a1b); len(got) != 2 {
		t.Fatalf("a1b: expected both events, got %+v", got)
	}
	if got := drain(a2); len(got) != 1 || got[0].Type != events.TypePresenceUpdate {
		t.Fatalf("a2: expected tenant broadcast only, got %+v", got)
	}
	if got := drain(other); len(got) != 0 {
		t.Fatalf("other tenant received %+v", got)
	}
}

func TestHubRemoveReportsRemaining(t *testing.T) {
	hub := NewHub(logger.Discard())
	c1 := testClient(hub, "t1", "a1", 1)
	c2 := testClient(hub, "t1", "a1", 1)
	hub.add(c1)
	hub.add(c2)

	if got := hub.remove(c1); got != 1 {
		t.Fatalf("expected 1 remaining, got %d", got)
	}
	if got := hub.remove(c2); got != 0 {
		t.Fatalf("expected 0 remaining, got %d", got)
	}
	if got := hub.ClientCount("t1"); got != 0 {
		t.Fatalf("expected empty tenant group, got %d", got)
	}
}

func TestSlowClientIsDropped(t *testing.T) {
	hub := NewHub(logger.Discard())
	c := testClient(hub, "t1", "a1", 1)
	hub.add(c)

	ctx := context.Background()
	hub.Publish(ctx, events.Event{Type: events.TypePresenceUpdate, TenantID: "t1"})
	hub.Publish(ctx, events.Event{Type: events.TypePresenceUpdate, TenantID: "t1"})

	select {
	case <-c.done:
	default:
		t.Fatalf("expected client with full buffer to be closed")
	}
	// Further sends are ignored without blocking.
	hub.Publish(ctx, events.Event{Type: events.TypePresenceUpdate, TenantID: "t1"})
}

func TestHubLeaveBlocksJoinUntilOfflineDone(t *testing.T) {
	hub := NewHub(logger.Discard())
	first := testClient(hub, "t1", "a1", 1)
	hub.join(first)

	offlineStarted := make(chan struct{})
	releaseOffline := make(chan struct{})
	left := make(chan struct{})
	go func() {
		hub.leave(first, func() {
			close(offlineStarted)
			<-releaseOffline
		})
		close(left)
	}()
	<-offlineStarted

	second := testClient(hub, "t1", "a1", 1)
	joined := make(chan struct{})
	go func() {
		hub.join(second)
		close(joined)
	}()

	select {
	case <-joined:
		t.Fatalf("a new tab joined while the agent was being set offline")
	case <-time.After(50 * time.Millisecond):
	}

	close(releaseOffline)
	<-left
	select {
	case <-joined:
	case <-time.After(time.Second):
		t.Fatalf("join did not proceed after the offline transition")
	}
	if got := hub.AgentConnections("a1"); got != 1 {
		t.Fatalf("expected the new tab connected, got %d", got)
	}

	called := false
	other := testClient(hub, "t1", "a1", 1)
	hub.join(other)
	hub.leave(other, func() { called = true })
	if called {
		t.Fatalf("offline must not run while another connection remains")
	}
}
