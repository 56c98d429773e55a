// Package redis backs the cache and pub/sub with a shared Redis server, so
// sessions, player lookups and document change fan-out work across several
// questd instances.
package redis

import (
	"context"
	"errors"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("cache: key not found")

const subscribeBuf = 256

// Config holds Redis connection settings. Prefix is prepended to every key
// and channel.
type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

func dial(cfg Config) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// RedisCache implements the cache KV and hash operations.
type RedisCache struct {
	client *goredis.Client
	prefix string
}

// NewCache connects to Redis and returns a cache.
func NewCache(cfg Config) (*RedisCache, error) {
	client, err := dial(cfg)
	if err != nil {
		return nil, err
	}
	return &RedisCache{client: client, prefix: cfg.Prefix}, nil
}

// Close releases the underlying connection pool.
func (r *RedisCache) Close() error { return r.client.Close() }

func (r *RedisCache) key(k string) string { return r.prefix + k }

func (r *RedisCache) Get(ctx context.Context, key string) (string, error) {
	v, err := r.client.Get(ctx, r.key(key)).Result()
	if errors.Is(err, goredis.Nil) {
		return "", ErrNotFound
	}
	return v, err
}

func (r *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, r.key(key), value, ttl).Err()
}

func (r *RedisCache) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = r.key(k)
	}
	return r.client.Del(ctx, full...).Err()
}

func (r *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(key)).Result()
	return n > 0, err
}

func (r *RedisCache) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return r.client.Expire(ctx, r.key(key), ttl).Err()
}

// HSet writes values into the hash at key. An empty map is a no-op.
func (r *RedisCache) HSet(ctx context.Context, key string, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	return r.client.HSet(ctx, r.key(key), values).Err()
}

func (r *RedisCache) HGet(ctx context.Context, key, field string) (string, error) {
	v, err := r.client.HGet(ctx, r.key(key), field).Result()
	if errors.Is(err, goredis.Nil) {
		return "", ErrNotFound
	}
	return v, err
}

// HGetAll returns an empty map for a missing key.
func (r *RedisCache) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return r.client.HGetAll(ctx, r.key(key)).Result()
}

// RedisMessage is a message received by RedisPubSub.Subscribe. Channel has
// the prefix removed.
type RedisMessage struct {
	Channel string
	Payload string
}

// RedisPubSub publishes and subscribes on prefixed Redis channels.
type RedisPubSub struct {
	client *goredis.Client
	prefix string
}

// NewPubSub connects to Redis and returns a pub/sub client.
func NewPubSub(cfg Config) (*RedisPubSub, error) {
	client, err := dial(cfg)
	if err != nil {
		return nil, err
	}
	return &RedisPubSub{client: client, prefix: cfg.Prefix}, nil
}

// Close releases the underlying connection pool.
func (r *RedisPubSub) Close() error { return r.client.Close() }

func (r *RedisPubSub) Publish(ctx context.Context, channel, message string) error {
	return r.client.Publish(ctx, r.prefix+channel, message).Err()
}

// Subscribe waits for the subscription to be confirmed so that messages
// published right after it returns are not lost.
func (r *RedisPubSub) Subscribe(ctx context.Context, channels ...string) (<-chan *RedisMessage, func(), error) {
	full := make([]string, len(channels))
	for i, c := range channels {
		full[i] = r.prefix + c
	}
	ps := r.client.Subscribe(ctx, full...)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, err
	}

	ch := make(chan *RedisMessage, subscribeBuf)
	go func() {
		defer close(ch)
		for msg := range ps.Channel() {
			ch <- &RedisMessage{
				Channel: strings.TrimPrefix(msg.Channel, r.prefix),
				Payload: msg.Payload,
			}
		}
	}()

	cancel := func() { _ = ps.Close() }
	return ch, cancel, nil
}
