// Package querycache keeps fetched form lists per query key so repeated
// dashboard loads do not hit the forms backend.
package querycache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/MarkoPoloResearchLab/mantlz/internal/model"
)

// DefaultTTL bounds how long a cached form list is served.
const DefaultTTL = time.Minute

// LoadTimeout bounds a shared load. The load outlives the caller that started
// it so other waiters on the same key are not cancelled with it.
const LoadTimeout = 30 * time.Second

const formsKeyPrefix = "forms"

var ErrMissingLoader = errors.New("querycache: loader is required")

// Store persists cached form lists. Get reports a miss with false and no error.
type Store interface {
	Get(ctx context.Context, key string) ([]model.Form, bool, error)
	Set(ctx context.Context, key string, forms []model.Form) error
	Delete(ctx context.Context, key string) error
}

// LoadFunc fetches the forms for a key on a cache miss.
type LoadFunc func(ctx context.Context) ([]model.Form, error)

// FormsKey builds the cache key for an account's form list query.
func FormsKey(accountID string, limit int) string {
	return formsKeyPrefix + ":" + accountID + ":" + strconv.Itoa(limit)
}

// Cache serves form lists from a Store and loads misses once per key even
// under concurrent requests.
type Cache struct {
	store  Store
	group  singleflight.Group
	logger *zap.Logger
}

func New(store Store, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{store: store, logger: logger}
}

// Forms returns cached forms for key or loads and stores them. Store failures
// are logged and bypassed.
func (cache *Cache) Forms(ctx context.Context, key string, load LoadFunc) ([]model.Form, error) {
	if load == nil {
		return nil, ErrMissingLoader
	}
	cached, found, getErr := cache.store.Get(ctx, key)
	if getErr != nil {
		cache.logger.Warn("query_cache_get_failed", zap.String("key", key), zap.Error(getErr))
	}
	if found {
		return cached, nil
	}

	loadResults := cache.group.DoChan(key, func() (any, error) {
		loadContext, cancel := context.WithTimeout(context.WithoutCancel(ctx), LoadTimeout)
		defer cancel()
		forms, formsErr := load(loadContext)
		if formsErr != nil {
			return nil, formsErr
		}
		if setErr := cache.store.Set(loadContext, key, forms); setErr != nil {
			cache.logger.Warn("query_cache_set_failed", zap.String("key", key), zap.Error(setErr))
		}
		return forms, nil
	})
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("load forms: %w", ctx.Err())
	case result := <-loadResults:
		if result.Err != nil {
			return nil, fmt.Errorf("load forms: %w", result.Err)
		}
		return result.Val.([]model.Form), nil
	}
}

// Invalidate drops the cached value for key.
func (cache *Cache) Invalidate(ctx context.Context, key string) error {
	return cache.store.Delete(ctx, key)
}
