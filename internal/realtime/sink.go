package realtime

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// HubSink delivers events to the websocket clients of this process.
type HubSink struct {
	Hub *Hub
}

// Deliver implements Sink.
func (s HubSink) Deliver(_ context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	s.Hub.Broadcast(e.Room, data)
	return nil
}

// RedisBridge fans events out to every instance through a redis pub/sub
// channel.  Each instance publishes with Deliver and runs Listen to forward
// what arrives on the channel into its own hub.
type RedisBridge struct {
	rdb     *redis.Client
	channel string
	hub     *Hub
	log     *slog.Logger
}

// NewRedisBridge returns a bridge over channel.
func NewRedisBridge(rdb *redis.Client, channel string, hub *Hub, log *slog.Logger) *RedisBridge {
	if log == nil {
		log = slog.Default()
	}
	return &RedisBridge{rdb: rdb, channel: channel, hub: hub, log: log}
}

// Deliver implements Sink by publishing the event to the channel.
func (b *RedisBridge) Deliver(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, data).Err()
}

// envelope peeks at the room without decoding the payload.
type envelope struct {
	Room string `json:"room"`
}

// Listen subscribes to the channel and forwards every message to the local
// hub until ctx is cancelled.
func (b *RedisBridge) Listen(ctx context.Context) {
	sub := b.rdb.Subscribe(ctx, b.channel)
	defer func() { _ = sub.Close() }()
	ch := sub.Channel()
	b.log.Info("realtime bridge listening", "channel", b.channel)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil || env.Room == "" {
				b.log.Warn("realtime bridge: bad message", "error", err)
				continue
			}
			b.hub.Broadcast(env.Room, []byte(msg.Payload))
		}
	}
}
