package mantlz

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisDedupKeyPrefix        = "mantlz:dedup:"
	errorMessageRedisDedupHas  = "check dedup key"
	errorMessageRedisDedupAdd  = "record dedup key"
	errorMessageParseRedisURL  = "parse redis url"
	errorMessageConnectToRedis = "connect to redis"
	redisConnectTimeout        = 5 * time.Second
)

// DedupStore records which failures have already been shown to the user.
// A single store shared by several clients suppresses repeats across them.
// AddIfAbsent must record the key and report whether it was new in one atomic
// step, so concurrent callers see exactly one added=true.
type DedupStore interface {
	AddIfAbsent(ctx context.Context, key string) (bool, error)
}

func formNotFoundDedupKey(formID string) string {
	return fmt.Sprintf("form_%s_404", formID)
}

// MemoryDedupStore keeps dedup keys in process memory. Entries are never
// pruned for the life of the store.
type MemoryDedupStore struct {
	mutex sync.Mutex
	keys  map[string]struct{}
}

func NewMemoryDedupStore() *MemoryDedupStore {
	return &MemoryDedupStore{keys: make(map[string]struct{})}
}

func (store *MemoryDedupStore) Has(_ context.Context, key string) (bool, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	_, exists := store.keys[key]
	return exists, nil
}

func (store *MemoryDedupStore) AddIfAbsent(_ context.Context, key string) (bool, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if _, exists := store.keys[key]; exists {
		return false, nil
	}
	store.keys[key] = struct{}{}
	return true, nil
}

// Len returns the number of recorded keys.
func (store *MemoryDedupStore) Len() int {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return len(store.keys)
}

// RedisDedupStore shares dedup keys between processes, for server-rendered
// deployments where one user session spans several instances.
type RedisDedupStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisDedupStore connects to redisURL. A zero ttl keeps keys forever.
func NewRedisDedupStore(redisURL string, ttl time.Duration) (*RedisDedupStore, error) {
	options, parseErr := redis.ParseURL(redisURL)
	if parseErr != nil {
		return nil, fmt.Errorf("%s: %w", errorMessageParseRedisURL, parseErr)
	}
	client := redis.NewClient(options)

	pingContext, cancel := context.WithTimeout(context.Background(), redisConnectTimeout)
	defer cancel()
	if pingErr := client.Ping(pingContext).Err(); pingErr != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%s: %w", errorMessageConnectToRedis, pingErr)
	}
	return NewRedisDedupStoreWithClient(client, ttl), nil
}

func NewRedisDedupStoreWithClient(client *redis.Client, ttl time.Duration) *RedisDedupStore {
	return &RedisDedupStore{client: client, prefix: redisDedupKeyPrefix, ttl: ttl}
}

func (store *RedisDedupStore) key(dedupKey string) string {
	return store.prefix + dedupKey
}

func (store *RedisDedupStore) Has(ctx context.Context, key string) (bool, error) {
	count, existsErr := store.client.Exists(ctx, store.key(key)).Result()
	if existsErr != nil {
		return false, fmt.Errorf("%s: %w", errorMessageRedisDedupHas, existsErr)
	}
	return count > 0, nil
}

func (store *RedisDedupStore) AddIfAbsent(ctx context.Context, key string) (bool, error) {
	added, setErr := store.client.SetNX(ctx, store.key(key), time.Now().UTC().Format(time.RFC3339), store.ttl).Result()
	if setErr != nil {
		return false, fmt.Errorf("%s: %w", errorMessageRedisDedupAdd, setErr)
	}
	return added, nil
}

func (store *RedisDedupStore) Close() error {
	return store.client.Close()
}
