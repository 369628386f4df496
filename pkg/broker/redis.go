package broker

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
)

// RedisBroker fans Publish/Subscribe out across processes via Redis
// Pub/Sub, for deployments where the job engine and the HTTP API (serving
// SSE streams) run as separate replicas and an in-process MemoryBroker
// can't bridge them.
type RedisBroker struct {
	client *redis.Client
}

// NewRedisBroker wraps an already-configured *redis.Client. Connection
// lifecycle (dial, auth, TLS) is the caller's responsibility, following
// pkg/config.Load's Redis.* fields.
func NewRedisBroker(client *redis.Client) *RedisBroker {
	return &RedisBroker{client: client}
}

func (b *RedisBroker) Publish(ctx context.Context, channel string, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, channel, data).Err()
}

type redisSub struct {
	pubsub *redis.PubSub
	events chan Event
	cancel context.CancelFunc
}

func (s *redisSub) Events() <-chan Event { return s.events }

func (s *redisSub) Close() {
	s.cancel()
	_ = s.pubsub.Close()
}

// Subscribe opens a Redis Pub/Sub subscription and translates its raw
// *redis.Message stream into Events, applying the same drop-oldest
// backpressure policy as MemoryBroker so a slow HTTP consumer can't stall
// the Redis client's receive loop.
func (b *RedisBroker) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	subCtx, cancel := context.WithCancel(ctx)
	pubsub := b.client.Subscribe(subCtx, channel)
	if _, err := pubsub.Receive(subCtx); err != nil {
		cancel()
		return nil, err
	}

	sub := &redisSub{pubsub: pubsub, events: make(chan Event, DefaultQueueCapacity), cancel: cancel}

	go func() {
		defer close(sub.events)
		ch := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					continue
				}
				select {
				case sub.events <- ev:
				default:
					select {
					case <-sub.events:
					default:
					}
					select {
					case sub.events <- ev:
					default:
					}
				}
			}
		}
	}()

	return sub, nil
}
