package store

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisQueryTimeout = 5 * time.Second

// RedisBackend is the primary networked backend: an in-memory key/value
// service accessed over the network with credentials and optional
// transport encryption. Ready-state is established by a PING handshake with
// a bounded timeout at construction time; requests issued before a
// successful handshake never happen because New blocks on it.
type RedisBackend struct {
	client *redis.Client
}

// RedisOptions configures the primary backend connection: URL, username,
// password, logical DB index, and whether to use TLS.
type RedisOptions struct {
	URL      string
	Username string
	Password string
	DB       int
	TLS      bool
}

// NewRedisBackend parses opts, dials Redis, and verifies connectivity with a
// bounded PING. Requests issued before this returns never happen — the
// caller only gets a *RedisBackend once ready.
func NewRedisBackend(ctx context.Context, opts RedisOptions) (*RedisBackend, error) {
	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("store: redis: parse url: %w", err)
	}
	if opts.Username != "" {
		redisOpts.Username = opts.Username
	}
	if opts.Password != "" {
		redisOpts.Password = opts.Password
	}
	if opts.DB != 0 {
		redisOpts.DB = opts.DB
	}
	if opts.TLS {
		redisOpts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client := redis.NewClient(redisOpts)

	pingCtx, cancel := context.WithTimeout(ctx, redisQueryTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("store: redis: ping: %w", err)
	}

	return &RedisBackend{client: client}, nil
}

// NewRedisBackendFromClient wraps an already-connected client, for tests
// (miniredis) and for callers that manage the client lifecycle themselves.
func NewRedisBackendFromClient(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

func (b *RedisBackend) Name() string { return "redis" }

// Client exposes the underlying connection so other subsystems (the rate
// limiter) can share one Redis connection pool instead of opening a second.
func (b *RedisBackend) Client() *redis.Client { return b.client }

func (b *RedisBackend) Load(ctx context.Context, name string) ([]byte, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, redisQueryTimeout)
	defer cancel()

	val, err := b.client.Get(ctx, redisDocKey(name)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return val, true, nil
}

func (b *RedisBackend) Save(ctx context.Context, name string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, redisQueryTimeout)
	defer cancel()
	return b.client.Set(ctx, redisDocKey(name), data, 0).Err()
}

// Close releases the underlying connection pool.
func (b *RedisBackend) Close() error { return b.client.Close() }

func redisDocKey(name string) string { return "gateway:doc:" + name }
