package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisChannel joins a Redis pub/sub channel. Every process on the device
// talks to the same local Redis, which stands in for a browser-style
// broadcast channel.
type RedisChannel struct {
	rdb       *redis.Client
	name      string
	origin    string
	pubsub    *redis.PubSub
	handlers  handlers
	closeOnce sync.Once
}

func NewRedisChannel(ctx context.Context, rdb *redis.Client, name string) (*RedisChannel, error) {
	if name == "" {
		name = DefaultChannel
	}
	pubsub := rdb.Subscribe(ctx, name)
	// Wait for the subscription to be confirmed so no event published after
	// this returns is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribing to %s: %w", name, err)
	}

	c := &RedisChannel{
		rdb:    rdb,
		name:   name,
		origin: uuid.NewString(),
		pubsub: pubsub,
	}
	c.handlers.origin = c.origin
	go c.listen()
	log.Printf("broadcast: joined redis channel %s as %s", name, c.origin)
	return c, nil
}

func (c *RedisChannel) listen() {
	for msg := range c.pubsub.Channel() {
		var e Event
		if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
			log.Printf("broadcast: dropping unreadable event on %s: %v", c.name, err)
			continue
		}
		c.handlers.dispatch(e)
	}
}

func (c *RedisChannel) Publish(ctx context.Context, e Event) error {
	e.Origin = c.origin
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return c.rdb.Publish(ctx, c.name, data).Err()
}

func (c *RedisChannel) Subscribe(h Handler) {
	c.handlers.add(h)
}

func (c *RedisChannel) Close() error {
	var err error
	c.closeOnce.Do(func() { err = c.pubsub.Close() })
	return err
}
