package peer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrUnknownPeer = errors.New("peer: address not registered")

// Directory resolves peer addresses to websocket endpoints.
type Directory interface {
	Register(ctx context.Context, address, endpoint string) error
	Resolve(ctx context.Context, address string) (string, error)
	Unregister(ctx context.Context, address string) error
}

// StaticDirectory is an in-memory Directory, shared by every session in one
// process or filled from configuration.
type StaticDirectory struct {
	mu        sync.RWMutex
	endpoints map[string]string
}

func NewStaticDirectory() *StaticDirectory {
	return &StaticDirectory{endpoints: make(map[string]string)}
}

func (d *StaticDirectory) Register(_ context.Context, address, endpoint string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.endpoints[address] = endpoint
	return nil
}

func (d *StaticDirectory) Resolve(_ context.Context, address string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ep, ok := d.endpoints[address]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownPeer, address)
	}
	return ep, nil
}

func (d *StaticDirectory) Unregister(_ context.Context, address string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.endpoints, address)
	return nil
}

const DefaultDirectoryTTL = 5 * time.Minute

// RedisDirectory keeps peer:<address> keys with a TTL, so a node that dies
// without unregistering drops out on its own. Register again to refresh.
type RedisDirectory struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisDirectory(rdb *redis.Client, ttl time.Duration) *RedisDirectory {
	if ttl <= 0 {
		ttl = DefaultDirectoryTTL
	}
	return &RedisDirectory{rdb: rdb, ttl: ttl}
}

func (d *RedisDirectory) TTL() time.Duration { return d.ttl }

func directoryKey(address string) string {
	return "peer:" + address
}

func (d *RedisDirectory) Register(ctx context.Context, address, endpoint string) error {
	return d.rdb.Set(ctx, directoryKey(address), endpoint, d.ttl).Err()
}

func (d *RedisDirectory) Resolve(ctx context.Context, address string) (string, error) {
	ep, err := d.rdb.Get(ctx, directoryKey(address)).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("%w: %s", ErrUnknownPeer, address)
	}
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", address, err)
	}
	return ep, nil
}

func (d *RedisDirectory) Unregister(ctx context.Context, address string) error {
	return d.rdb.Del(ctx, directoryKey(address)).Err()
}
