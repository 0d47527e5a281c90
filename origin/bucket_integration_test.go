package origin

import (
	"bytes"
	"context"
	"errors"
	"net/url"
	"os"
	"strings"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Runs against a MinIO server when EDGE_TEST_MINIO_ENDPOINT is set, e.g.
//
//	EDGE_TEST_MINIO_ENDPOINT=localhost:9000 EDGE_TEST_MINIO_ACCESS_KEY=minioadmin EDGE_TEST_MINIO_SECRET_KEY=minioadmin
func TestBucketStoreIntegration(t *testing.T) {
	endpoint := os.Getenv("EDGE_TEST_MINIO_ENDPOINT")
	if endpoint == "" {
		t.Skip("EDGE_TEST_MINIO_ENDPOINT not set")
	}
	opts := ClientOptions{
		S3Endpoint:  endpoint,
		S3AccessKey: os.Getenv("EDGE_TEST_MINIO_ACCESS_KEY"),
		S3SecretKey: os.Getenv("EDGE_TEST_MINIO_SECRET_KEY"),
		S3Insecure:  true,
	}
	ctx := context.Background()
	mc, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.S3AccessKey, opts.S3SecretKey, ""),
		Secure: false,
	})
	if err != nil {
		t.Fatal(err)
	}
	bucket := "edge-test-" + strings.ToLower(strings.ReplaceAll(t.Name(), "/", "-"))
	if exists, _ := mc.BucketExists(ctx, bucket); !exists {
		if err := mc.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			t.Fatal(err)
		}
	}
	body := []byte("console.log(1)")
	_, err = mc.PutObject(ctx, bucket, "site/_next/static/app.js", bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType:  "text/javascript",
		CacheControl: "public, max-age=31536000, immutable",
	})
	if err != nil {
		t.Fatal(err)
	}

	address, _ := url.Parse("s3://" + bucket + "/site")
	store, err := NewBucketStore(ctx, "assets", address, opts)
	if err != nil {
		t.Fatal(err)
	}
	res, err := store.Fetch(ctx, Request{Method: "GET", Path: "/_next/static/app.js"})
	if err != nil {
		t.Fatal(err)
	}
	if string(res.Body) != string(body) || res.Header.Get("Content-Type") != "text/javascript" {
		t.Fatalf("Response is %+v", res)
	}
	if res.Header.Get("Cache-Control") != "public, max-age=31536000, immutable" || res.Header.Get("ETag") == "" {
		t.Fatalf("Metadata not passed through: %v", res.Header)
	}
	if _, err := store.Fetch(ctx, Request{Method: "GET", Path: "/_next/static/missing.js"}); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("Missing object error is %v", err)
	}
}
