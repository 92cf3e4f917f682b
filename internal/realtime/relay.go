package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"callcenter-dispatch/internal/events"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisRelay fans events out between instances over a Redis channel.
// Publish sends to Redis only; Run delivers events from other instances to
// the local publisher. Events tagged with this instance's id are skipped, so
// local delivery must be wired separately (events.Multi{hub, relay}).
type RedisRelay struct {
	rdb        *redis.Client
	channel    string
	instanceID string
	local      events.Publisher
	log        *slog.Logger
}

type relayEnvelope struct {
	Origin string       `json:"origin"`
	Event  events.Event `json:"event"`
}

func NewRedisRelay(rdb *redis.Client, channel string, local events.Publisher, log *slog.Logger) *RedisRelay {
	if log == nil {
		log = slog.Default()
	}
	return &RedisRelay{
		rdb:        rdb,
		channel:    channel,
		instanceID: uuid.NewString(),
		local:      local,
		log:        log,
	}
}

func (r *RedisRelay) InstanceID() string { return r.instanceID }

const relayPublishTimeout = 2 * time.Second

func (r *RedisRelay) Publish(ctx context.Context, e events.Event) {
	payload, err := json.Marshal(relayEnvelope{Origin: r.instanceID, Event: e})
	if err != nil {
		r.log.Error("relay marshal failed", "type", string(e.Type), "err", err)
		return
	}
	// Events of a request that just ended must still reach other instances.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), relayPublishTimeout)
	defer cancel()
	if err := r.rdb.Publish(ctx, r.channel, payload).Err(); err != nil {
		r.log.Error("relay publish failed", "channel", r.channel, "type", string(e.Type), "err", err)
	}
}

// Run subscribes to the relay channel until ctx is done.
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.rdb.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	r.log.Info("event relay subscribed", "channel", r.channel, "instance_id", r.instanceID)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.deliver(ctx, msg.Payload)
		}
	}
}

func (r *RedisRelay) deliver(ctx context.Context, payload string) {
	var env relayEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		r.log.Warn("relay message dropped", "err", err)
		return
	}
	if env.Origin == r.instanceID {
		return
	}
	r.local.Publish(ctx, env.Event)
}
