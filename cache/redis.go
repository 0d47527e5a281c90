package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache stores entries in Redis so that several edge instances share one cache.
// Entries expire through Redis key expiry.
type RedisCache struct {
	rdb       *redis.Client
	keyPrefix string
}

// NewRedisCache connects to the Redis server at url (redis://...) and checks it responds.
// Every key is stored with keyPrefix prepended.
func NewRedisCache(ctx context.Context, url, keyPrefix string) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis opts: %w", err)
	}
	rdb := redis.NewClient(opts)
	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctxPing).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisCache{rdb: rdb, keyPrefix: keyPrefix}, nil
}

func (r *RedisCache) Get(ctx context.Context, key string) (Entry, bool, error) {
	bytes, err := r.rdb.Get(ctx, r.keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	entry, err := bytesToEntry(bytes)
	if err != nil {
		return Entry{}, false, err
	}
	// key expiry has millisecond resolution
	if entry.Expired(time.Now()) {
		return Entry{}, false, nil
	}
	return entry, true, nil
}

func (r *RedisCache) Put(ctx context.Context, entry Entry) error {
	bytes, err := entryToBytes(entry)
	if err != nil {
		return err
	}
	var ttl time.Duration
	if !entry.Expires.IsZero() {
		ttl = time.Until(entry.Expires)
		if ttl <= 0 {
			return nil
		}
	}
	return r.rdb.Set(ctx, r.keyPrefix+entry.Key, bytes, ttl).Err()
}

func (r *RedisCache) Purge(ctx context.Context, key string) error {
	return r.rdb.Del(ctx, r.keyPrefix+key).Err()
}

func (r *RedisCache) PurgePrefix(ctx context.Context, prefix string) (int, error) {
	iter := r.rdb.Scan(ctx, 0, globEscape(r.keyPrefix+prefix)+"*", 500).Iterator()
	n := 0
	batch := make([]string, 0, 500)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		deleted, err := r.rdb.Del(ctx, batch...).Result()
		n += int(deleted)
		batch = batch[:0]
		return err
	}
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := flush(); err != nil {
				return n, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return n, err
	}
	return n, flush()
}

func (r *RedisCache) Close() error {
	return r.rdb.Close()
}

// globEscape escapes the characters SCAN MATCH treats as patterns.
func globEscape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)
	return r.Replace(s)
}
