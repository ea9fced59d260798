package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"marketchat/pkg/logger"
)

// Broker carries events to subscribers, possibly across instances.
type Broker interface {
	Publish(ctx context.Context, channel string, ev Event) error
	Close() error
}

// HubBroker delivers to the local hub only.
type HubBroker struct {
	Hub *Hub
}

func (b HubBroker) Publish(_ context.Context, channel string, ev Event) error {
	b.Hub.Publish(channel, ev)
	return nil
}

func (b HubBroker) Close() error { return nil }

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces pub/sub channels, e.g. "marketchat:".
	Prefix string
}

// RedisBroker publishes through Redis pub/sub and relays every event seen
// on the prefix back into the local hub, so subscribers on any instance
// receive it.
type RedisBroker struct {
	client *redis.Client
	prefix string
	hub    *Hub

	mu     sync.Mutex
	pubsub *redis.PubSub
	done   chan struct{}
}

func NewRedisBroker(ctx context.Context, opts RedisOptions, hub *Hub) (*RedisBroker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	b := &RedisBroker{client: client, prefix: opts.Prefix, hub: hub}
	b.start(ctx)
	logger.Info("redis_broker_connected", "addr", opts.Addr, "prefix", opts.Prefix)
	return b, nil
}

func (b *RedisBroker) start(ctx context.Context) {
	ps := b.client.PSubscribe(ctx, b.prefix+"*")
	b.mu.Lock()
	b.pubsub = ps
	b.done = make(chan struct{})
	b.mu.Unlock()

	go func() {
		defer close(b.done)
		for m := range ps.Channel() {
			var ev Event
			if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
				logger.Warn("redis_event_invalid", "channel", m.Channel, "error", err)
				continue
			}
			b.hub.Publish(strings.TrimPrefix(m.Channel, b.prefix), ev)
		}
	}()
}

func (b *RedisBroker) Publish(ctx context.Context, channel string, ev Event) error {
	ev.Channel = channel
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.prefix+channel, payload).Err()
}

func (b *RedisBroker) Close() error {
	b.mu.Lock()
	ps, done := b.pubsub, b.done
	b.mu.Unlock()
	if ps != nil {
		_ = ps.Close()
		<-done
	}
	return b.client.Close()
}
