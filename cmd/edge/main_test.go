package main

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/always-cache/edge/cache"
	"github.com/always-cache/edge/config"
	cachekey "github.com/always-cache/edge/pkg/cache-key"
)

func TestInvalidateRefusesMemoryCache(t *testing.T) {
	cfg := config.Reference("s3://site", "https://compute.example/prod")
	if _, err := invalidate(context.Background(), cfg, "/*"); err == nil {
		t.Fatal("Memory cache invalidated from another process")
	}
}

func TestInvalidateSharedCache(t *testing.T) {
	ctx := context.Background()
	filename := filepath.Join(t.TempDir(), "cache.db")
	sqlite, err := cache.NewSQLiteCache(filename)
	if err != nil {
		t.Fatal(err)
	}
	keyer := cachekey.NewKeyer(config.StaticOrigin)
	now := time.Now()
	for _, p := range []string{"/_next/static/a.js", "/_next/static/b.js"} {
		entry := cache.Entry{
			Key:      keyer.ResourcePrefix("GET", p),
			StoredAt: now,
			Expires:  now.Add(time.Hour),
			Status:   200,
			Header:   http.Header{},
			Body:     []byte("x"),
		}
		if err := sqlite.Put(ctx, entry); err != nil {
			t.Fatal(err)
		}
	}
	sqlite.Close()

	// an unreachable bucket endpoint, must not be contacted
	cfg := config.Reference("s3://site", "https://compute.example/prod")
	cfg.S3.Endpoint = "127.0.0.1:1"
	cfg.Cache = config.Cache{Provider: "sqlite", Filename: filename}
	removed, err := invalidate(ctx, cfg, "/_next/static/a.js")
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Fatalf("Removed %d entries", removed)
	}
}
