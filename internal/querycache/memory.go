package querycache

import (
	"context"
	"sync"
	"time"

	"github.com/MarkoPoloResearchLab/mantlz/internal/model"
)

type memoryEntry struct {
	forms     []model.Form
	expiresAt time.Time
}

// MemoryStore is an in-process Store with per-entry expiry.
type MemoryStore struct {
	mutex   sync.Mutex
	ttl     time.Duration
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		ttl:     ttl,
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (store *MemoryStore) Get(_ context.Context, key string) ([]model.Form, bool, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	entry, found := store.entries[key]
	if !found {
		return nil, false, nil
	}
	if !store.now().Before(entry.expiresAt) {
		delete(store.entries, key)
		return nil, false, nil
	}
	return append([]model.Form{}, entry.forms...), true, nil
}

func (store *MemoryStore) Set(_ context.Context, key string, forms []model.Form) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.entries[key] = memoryEntry{
		forms:     append([]model.Form{}, forms...),
		expiresAt: store.now().Add(store.ttl),
	}
	return nil
}

func (store *MemoryStore) Delete(_ context.Context, key string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	delete(store.entries, key)
	return nil
}
