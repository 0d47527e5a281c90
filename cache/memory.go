package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

type MemCache struct {
	mutex *sync.RWMutex
	db    map[string]Entry
	now   func() time.Time
}

func NewMemCache() MemCache {
	return MemCache{
		mutex: &sync.RWMutex{},
		db:    make(map[string]Entry),
		now:   time.Now,
	}
}

func (m MemCache) Get(ctx context.Context, key string) (Entry, bool, error) {
	m.mutex.RLock()
	entry, ok := m.db[key]
	m.mutex.RUnlock()
	if !ok {
		return Entry{}, false, nil
	}
	if entry.Expired(m.now()) {
		m.mutex.Lock()
		// only delete if nobody replaced it meanwhile
		if current, ok := m.db[key]; ok && current.Expired(m.now()) {
			delete(m.db, key)
		}
		m.mutex.Unlock()
		return Entry{}, false, nil
	}
	return entry.clone(), true, nil
}

func (m MemCache) Put(ctx context.Context, entry Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.db[entry.Key] = entry.clone()
	return nil
}

func (m MemCache) Purge(ctx context.Context, key string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.db, key)
	return nil
}

func (m MemCache) PurgePrefix(ctx context.Context, prefix string) (int, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	n := 0
	for key := range m.db {
		if strings.HasPrefix(key, prefix) {
			delete(m.db, key)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored entries, expired ones included.
func (m MemCache) Len() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.db)
}
