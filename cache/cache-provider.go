// Package cache stores origin responses for the edge.
package cache

import (
	"context"
	"net/http"
	"time"
)

// CacheProvider is an interface for a cache provider.
// It stores and retrieves entries, which represent origin responses,
// and keeps track of when entries may be evicted.
// Operating on specific keys or key prefixes is very important
// in order for many origins to be able to be stored in the same cache.
//
// Implementations must be thread-safe! Writes to the same key are
// last-writer-wins.
type CacheProvider interface {
	// Get returns the entry stored under the given key, if it exists.
	// It also returns a boolean indicating whether retrieval was successful.
	// If the entry is past its Expires time, the boolean is false.
	Get(ctx context.Context, key string) (Entry, bool, error)
	// Put stores the entry under its key, replacing any previous entry.
	Put(ctx context.Context, entry Entry) error
	// Purge removes the entry for the given key.
	Purge(ctx context.Context, key string) error
	// PurgePrefix removes every entry whose key starts with prefix
	// and returns how many were removed.
	PurgePrefix(ctx context.Context, prefix string) (int, error)
}

// Entry is a stored origin response.
type Entry struct {
	Key string
	// When the response was received from the origin.
	StoredAt time.Time
	// Freshness lifetime declared by the origin, valid if HasLifetime.
	Lifetime    time.Duration
	HasLifetime bool
	// After this time the entry can never be fresh and may be evicted.
	Expires time.Time
	Status  int
	Header  http.Header
	Body    []byte
}

// Expired reports whether the entry may be evicted at now.
// An entry with a zero Expires never expires.
func (e Entry) Expired(now time.Time) bool {
	return !e.Expires.IsZero() && !now.Before(e.Expires)
}

// Age returns how long ago the entry was stored.
func (e Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.StoredAt)
}

func (e Entry) clone() Entry {
	c := e
	c.Header = e.Header.Clone()
	if e.Body != nil {
		c.Body = append([]byte(nil), e.Body...)
	}
	return c
}
