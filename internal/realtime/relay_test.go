package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"callcenter-dispatch/internal/events"
	"callcenter-dispatch/pkg/logger"

	"github.com/redis/go-redis/v9"
)

// captureHook answers every command locally and records what it saw.
type captureHook struct {
	mu      sync.Mutex
	names   []string
	ctxErrs []error
}

func (h *captureHook) DialHook(next redis.DialHook) redis.DialHook { return next }

func (h *captureHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.names = append(h.names, cmd.Name())
		h.ctxErrs = append(h.ctxErrs, ctx.Err())
		return nil
	}
}

func (h *captureHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func TestRelayDeliverSkipsOwnEvents(t *testing.T) {
	rec := &events.Recorder{}
	r := NewRedisRelay(nil, "dispatch-events", rec, logger.Discard())
	ctx := context.Background()

	own, _ := json.Marshal(relayEnvelope{Origin: r.InstanceID(), Event: events.Event{Type: events.TypeCallEnded, TenantID: "t1"}})
	r.deliver(ctx, string(own))

	remote, _ := json.Marshal(relayEnvelope{Origin: "other-instance", Event: events.Event{Type: events.TypeCallIncoming, TenantID: "t1", AgentID: "a1"}})
	r.deliver(ctx, string(remote))

	r.deliver(ctx, "not json")

	got := rec.Events()
	if len(got) != 1 {
		t.Fatalf("expected one relayed event, got %+v", got)
	}
	if got[0].Type != events.TypeCallIncoming || got[0].AgentID != "a1" {
		t.Fatalf("unexpected event %+v", got[0])
	}
}

func TestRelayedEventsReachLocalClients(t *testing.T) {
	hub := NewHub(logger.Discard())
	c := testClient(hub, "t1", "a1", 4)
	hub.add(c)

	r := NewRedisRelay(nil, "dispatch-events", hub, logger.Discard())
	payload, _ := json.Marshal(relayEnvelope{
		Origin: "other-instance",
		Event: events.Event{
			Type:     events.TypeCallIncoming,
			TenantID: "t1",
			AgentID:  "a1",
			Data:     events.CallIncoming{CallID: "log-1", SessionID: "s-1"},
		},
	})
	r.deliver(context.Background(), string(payload))

	got := drain(c)
	if len(got) != 1 || got[0].Type != events.TypeCallIncoming {
		t.Fatalf("expected relayed call.incoming, got %+v", got)
	}
}

func TestRelayPublishOutlivesCanceledRequest(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:6379"})
	defer rdb.Close()
	hook := &captureHook{}
	rdb.AddHook(hook)

	r := NewRedisRelay(rdb, "dispatch-events", events.Nop{}, logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.Publish(ctx, events.Event{Type: events.TypeCallEnded, TenantID: "t1"})

	hook.mu.Lock()
	defer hook.mu.Unlock()
	if len(hook.names) != 1 || hook.names[0] != "publish" {
		t.Fatalf("expected one publish, got %v", hook.names)
	}
	if hook.ctxErrs[0] != nil {
		t.Fatalf("publish ran on a canceled context: %v", hook.ctxErrs[0])
	}
}
