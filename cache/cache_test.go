package cache

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func testEntry(key string, expires time.Time) Entry {
	h := make(http.Header)
	h.Set("Content-Type", "text/javascript")
	h.Set("Cache-Control", "public, max-age=31536000, immutable")
	return Entry{
		Key:         key,
		StoredAt:    time.Now().Add(-time.Second),
		Lifetime:    365 * 24 * time.Hour,
		HasLifetime: true,
		Expires:     expires,
		Status:      http.StatusOK,
		Header:      h,
		Body:        []byte("console.log(1)"),
	}
}

func providers(t *testing.T) map[string]CacheProvider {
	sqliteCache, err := NewSQLiteCache(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { sqliteCache.Close() })
	p := map[string]CacheProvider{
		"memory": NewMemCache(),
		"sqlite": sqliteCache,
	}
	if url := os.Getenv("EDGE_TEST_REDIS_URL"); url != "" {
		redisCache, err := NewRedisCache(context.Background(), url, "edge-test:"+t.Name()+":")
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() {
			redisCache.PurgePrefix(context.Background(), "")
			redisCache.Close()
		})
		p["redis"] = redisCache
	}
	return p
}

func TestPutGet(t *testing.T) {
	ctx := context.Background()
	for name, p := range providers(t) {
		t.Run(name, func(t *testing.T) {
			entry := testEntry("assets:GET:/_next/static/app.js\t", time.Now().Add(time.Hour))
			if err := p.Put(ctx, entry); err != nil {
				t.Fatal(err)
			}
			got, ok, err := p.Get(ctx, entry.Key)
			if err != nil || !ok {
				t.Fatalf("Get: %v %v", ok, err)
			}
			if string(got.Body) != "console.log(1)" || got.Status != 200 {
				t.Fatalf("Entry is %+v", got)
			}
			if got.Header.Get("Content-Type") != "text/javascript" {
				t.Fatalf("Header is %v", got.Header)
			}
			if !got.HasLifetime || got.Lifetime != entry.Lifetime {
				t.Fatalf("Lifetime is %v", got.Lifetime)
			}
			if !got.StoredAt.Equal(entry.StoredAt) && got.StoredAt.Sub(entry.StoredAt).Abs() > time.Millisecond {
				t.Fatalf("Stored at %v, expected %v", got.StoredAt, entry.StoredAt)
			}
		})
	}
}

func TestGetMissing(t *testing.T) {
	for name, p := range providers(t) {
		t.Run(name, func(t *testing.T) {
			if _, ok, err := p.Get(context.Background(), "nope"); ok || err != nil {
				t.Fatalf("Get missing: %v %v", ok, err)
			}
		})
	}
}

func TestExpiredNotReturned(t *testing.T) {
	ctx := context.Background()
	for name, p := range providers(t) {
		t.Run(name, func(t *testing.T) {
			entry := testEntry("k", time.Now().Add(50*time.Millisecond))
			if err := p.Put(ctx, entry); err != nil {
				t.Fatal(err)
			}
			time.Sleep(100 * time.Millisecond)
			if _, ok, err := p.Get(ctx, "k"); ok || err != nil {
				t.Fatalf("Expired entry returned: %v %v", ok, err)
			}
		})
	}
}

func TestPurgePrefix(t *testing.T) {
	ctx := context.Background()
	for name, p := range providers(t) {
		t.Run(name, func(t *testing.T) {
			exp := time.Now().Add(time.Hour)
			for _, key := range []string{"a:GET:/img/1\t", "a:GET:/img/2\t", "a:GET:/img_x\t", "b:GET:/img/1\t"} {
				if err := p.Put(ctx, testEntry(key, exp)); err != nil {
					t.Fatal(err)
				}
			}
			n, err := p.PurgePrefix(ctx, "a:GET:/img/")
			if err != nil || n != 2 {
				t.Fatalf("Purged %d: %v", n, err)
			}
			for key, expect := range map[string]bool{"a:GET:/img/1\t": false, "a:GET:/img_x\t": true, "b:GET:/img/1\t": true} {
				if _, ok, _ := p.Get(ctx, key); ok != expect {
					t.Fatalf("Key %q present: %v", key, ok)
				}
			}
		})
	}
}

func TestConcurrentPut(t *testing.T) {
	ctx := context.Background()
	for name, p := range providers(t) {
		t.Run(name, func(t *testing.T) {
			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if err := p.Put(ctx, testEntry("same", time.Now().Add(time.Hour))); err != nil {
						t.Error(err)
					}
				}()
			}
			wg.Wait()
			if _, ok, err := p.Get(ctx, "same"); !ok || err != nil {
				t.Fatalf("Get after concurrent put: %v %v", ok, err)
			}
		})
	}
}

func TestMemCacheIsolatesEntries(t *testing.T) {
	ctx := context.Background()
	m := NewMemCache()
	entry := testEntry("k", time.Time{})
	m.Put(ctx, entry)
	entry.Body[0] = 'X'
	got, _, _ := m.Get(ctx, "k")
	got.Header.Set("Content-Type", "changed")
	again, _, _ := m.Get(ctx, "k")
	if string(again.Body) != "console.log(1)" || again.Header.Get("Content-Type") != "text/javascript" {
		t.Fatalf("Stored entry mutated: %+v", again)
	}
}

func TestSQLiteEvict(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLiteCache(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	s.Put(ctx, testEntry("old", time.Now().Add(-time.Minute)))
	s.Put(ctx, testEntry("new", time.Now().Add(time.Hour)))
	s.Put(ctx, testEntry("forever", time.Time{}))
	n, err := s.Evict(ctx)
	if err != nil || n != 1 {
		t.Fatalf("Evicted %d: %v", n, err)
	}
}

func TestSerializerKeepsKeyWithTab(t *testing.T) {
	entry := testEntry("o:GET:/x\t\nh:accept: */*", time.Now().Add(time.Hour))
	bts, err := entryToBytes(entry)
	if err != nil {
		t.Fatal(err)
	}
	got, err := bytesToEntry(bts)
	if err != nil {
		t.Fatal(err)
	}
	if got.Key != entry.Key {
		t.Fatalf("Key is %q", got.Key)
	}
	if got.Header.Get(storedAtHeaderName) != "" || got.Header.Get(keyHeaderName) != "" {
		t.Fatalf("Metadata headers left in %v", got.Header)
	}
}
