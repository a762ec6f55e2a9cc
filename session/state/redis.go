package state

import (
	"context"
	"errors"

	"github.com/gravitational/trace"
	"github.com/redis/go-redis/v9"
)

// RedisStore shares one session between several processes or hosts.
type RedisStore struct {
	client redis.UniversalClient
	key    string
}

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Prefix is prepended to the tokens key, e.g. "tibanode:".
	Prefix string
}

func (c *RedisConfig) CheckAndSetDefaults() error {
	if c.Addr == "" {
		return trace.BadParameter("missing required value redis addr")
	}
	return nil
}

// NewRedisStore connects to the configured server.
func NewRedisStore(conf RedisConfig) (*RedisStore, error) {
	if err := conf.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	client := redis.NewClient(&redis.Options{
		Addr:     conf.Addr,
		Password: conf.Password,
		DB:       conf.DB,
	})
	return NewRedisStoreWithClient(client, conf.Prefix), nil
}

func NewRedisStoreWithClient(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, key: prefix + TokensKey}
}

func (r *RedisStore) Load(ctx context.Context) (*Credentials, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, trace.ConnectionProblem(err, "failed to read session from redis")
	}
	return unmarshal(data), nil
}

func (r *RedisStore) Save(ctx context.Context, creds *Credentials) error {
	data, err := marshal(creds)
	if err != nil {
		return trace.Wrap(err)
	}
	if err := r.client.Set(ctx, r.key, data, 0).Err(); err != nil {
		return trace.ConnectionProblem(err, "failed to write session to redis")
	}
	return nil
}

func (r *RedisStore) Clear(ctx context.Context) error {
	if err := r.client.Del(ctx, r.key).Err(); err != nil {
		return trace.ConnectionProblem(err, "failed to remove session from redis")
	}
	return nil
}

// Close releases the underlying connection pool.
func (r *RedisStore) Close() error {
	return trace.Wrap(r.client.Close())
}
