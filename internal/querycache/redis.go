package querycache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MarkoPoloResearchLab/mantlz/internal/model"
)

const (
	redisKeyPrefix   = "mantlz:cache:"
	redisPingTimeout = 5 * time.Second
)

// RedisStore shares cached form lists between gateway instances.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(redisURL string, ttl time.Duration) (*RedisStore, error) {
	options, parseErr := redis.ParseURL(redisURL)
	if parseErr != nil {
		return nil, fmt.Errorf("parse redis url: %w", parseErr)
	}
	client := redis.NewClient(options)

	pingCtx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
	defer cancel()
	if pingErr := client.Ping(pingCtx).Err(); pingErr != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", pingErr)
	}
	return NewRedisStoreWithClient(client, ttl), nil
}

func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

func (store *RedisStore) key(cacheKey string) string {
	return redisKeyPrefix + cacheKey
}

func (store *RedisStore) Get(ctx context.Context, key string) ([]model.Form, bool, error) {
	payload, getErr := store.client.Get(ctx, store.key(key)).Bytes()
	if errors.Is(getErr, redis.Nil) {
		return nil, false, nil
	}
	if getErr != nil {
		return nil, false, fmt.Errorf("get cached forms: %w", getErr)
	}
	var forms []model.Form
	if unmarshalErr := json.Unmarshal(payload, &forms); unmarshalErr != nil {
		return nil, false, fmt.Errorf("unmarshal cached forms: %w", unmarshalErr)
	}
	return forms, true, nil
}

func (store *RedisStore) Set(ctx context.Context, key string, forms []model.Form) error {
	if forms == nil {
		forms = []model.Form{}
	}
	payload, marshalErr := json.Marshal(forms)
	if marshalErr != nil {
		return fmt.Errorf("marshal cached forms: %w", marshalErr)
	}
	if setErr := store.client.Set(ctx, store.key(key), payload, store.ttl).Err(); setErr != nil {
		return fmt.Errorf("set cached forms: %w", setErr)
	}
	return nil
}

func (store *RedisStore) Delete(ctx context.Context, key string) error {
	if deleteErr := store.client.Del(ctx, store.key(key)).Err(); deleteErr != nil {
		return fmt.Errorf("delete cached forms: %w", deleteErr)
	}
	return nil
}

func (store *RedisStore) Close() error {
	return store.client.Close()
}
