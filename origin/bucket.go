package origin

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/always-cache/edge/pkg/edgeerr"
)

// BucketStore serves objects from an S3 compatible bucket.
type BucketStore struct {
	name   string
	client *minio.Client
	bucket string
	prefix string
}

// NewBucketStore creates a store for an s3://bucket[/prefix] address
// and checks that the bucket exists.
func NewBucketStore(ctx context.Context, name string, address *url.URL, opts ClientOptions) (*BucketStore, error) {
	if opts.S3Endpoint == "" {
		return nil, edgeerr.New(edgeerr.KindInvalidConfiguration, "s3 endpoint not set for %s", address).With("origin", name)
	}
	client, err := minio.New(opts.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.S3AccessKey, opts.S3SecretKey, ""),
		Secure: !opts.S3Insecure,
		Region: opts.S3Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	ctxCheck, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctxCheck, address.Host)
	if err != nil {
		return nil, fmt.Errorf("bucket %s: %w", address.Host, err)
	}
	if !exists {
		return nil, edgeerr.New(edgeerr.KindInvalidConfiguration, "bucket %s does not exist", address.Host).With("origin", name)
	}
	return newBucketStore(name, client, address.Host, address.Path), nil
}

func newBucketStore(name string, client *minio.Client, bucket, prefix string) *BucketStore {
	return &BucketStore{
		name:   name,
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}
}

func (b *BucketStore) objectKey(p string) string {
	key := strings.TrimPrefix(path.Clean("/"+p), "/")
	if b.prefix != "" {
		key = b.prefix + "/" + key
	}
	return key
}

func (b *BucketStore) Fetch(ctx context.Context, req Request) (*Response, error) {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return nil, edgeerr.MethodNotAllowed(req.Method, staticMethods)
	}
	key := b.objectKey(req.Path)
	if key == "" || strings.HasSuffix(req.Path, "/") {
		return nil, notFound(b.name, req.Path)
	}
	info, err := b.client.StatObject(ctx, b.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return nil, b.translate(err, req.Path)
	}
	res := &Response{
		Status: http.StatusOK,
		Header: objectHeader(info),
	}
	if req.Method == http.MethodHead {
		return res, nil
	}
	obj, err := b.client.GetObject(ctx, b.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, b.translate(err, req.Path)
	}
	defer obj.Close()
	body, err := io.ReadAll(obj)
	if err != nil {
		return nil, b.translate(err, req.Path)
	}
	res.Body = body
	return res, nil
}

func objectHeader(info minio.ObjectInfo) http.Header {
	h := make(http.Header)
	contentType := info.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h.Set("Content-Type", contentType)
	for _, name := range []string{"Cache-Control", "Content-Encoding", "Content-Disposition", "Content-Language"} {
		if v := info.Metadata.Get(name); v != "" {
			h.Set(name, v)
		}
	}
	if info.ETag != "" {
		h.Set("ETag", strconv.Quote(strings.Trim(info.ETag, "\"")))
	}
	if !info.LastModified.IsZero() {
		h.Set("Last-Modified", info.LastModified.UTC().Format(http.TimeFormat))
	}
	return h
}

// translate maps store errors to edge errors.
// A missing object is not found. An error answered by the store is an
// origin error, anything else means the store could not be reached.
func (b *BucketStore) translate(err error, p string) error {
	resp := minio.ToErrorResponse(err)
	switch {
	case resp.Code == "NoSuchKey":
		return notFound(b.name, p)
	case resp.StatusCode != 0:
		e := edgeerr.Wrap(err, edgeerr.KindOriginError, "object store error").With("origin", b.name)
		e.OriginStatus = resp.StatusCode
		return e
	}
	return unreachable(err, b.name)
}
