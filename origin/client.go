package origin

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/always-cache/edge/pkg/edgeerr"
)

// ErrObjectNotFound is returned by static stores for a path with no object.
var ErrObjectNotFound = errors.New("object not found")

// Client fetches responses from one origin.
// Implementations must be safe for concurrent use.
type Client interface {
	Fetch(ctx context.Context, req Request) (*Response, error)
}

// ClientOptions carries what NewClient needs beyond the descriptor.
type ClientOptions struct {
	// Timeout of one dynamic origin request. Zero means no timeout
	// other than the request context.
	Timeout time.Duration
	// Largest body read from an origin. Zero means no limit.
	MaxBodyBytes int64
	// S3 compatible endpoint (host:port) used for s3:// addresses.
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Region    string
	S3Insecure  bool
	// Cache-Control sent for file:// objects, as an object store would
	// send the metadata the objects were uploaded with.
	FileCacheControl string
}

// NewClient creates the client for an origin, chosen by the address scheme.
func NewClient(ctx context.Context, desc *Descriptor, opts ClientOptions) (Client, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	u, err := url.Parse(desc.Address)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "http", "https":
		return NewHTTPCompute(desc, opts)
	case "s3":
		return NewBucketStore(ctx, desc.Name, u, opts)
	case "file":
		if u.Path == "" {
			return nil, edgeerr.New(edgeerr.KindInvalidConfiguration, "file origin %q has no directory", desc.Address).With("origin", desc.Name)
		}
		if info, err := os.Stat(u.Path); err != nil || !info.IsDir() {
			return nil, edgeerr.New(edgeerr.KindInvalidConfiguration, "file origin %q is not a directory", desc.Address).With("origin", desc.Name)
		}
		store := NewDirStore(os.DirFS(u.Path))
		store.name = desc.Name
		store.CacheControl = opts.FileCacheControl
		return store, nil
	}
	return nil, edgeerr.New(edgeerr.KindInvalidConfiguration, "unsupported origin scheme %q", u.Scheme).With("origin", desc.Name)
}

func unreachable(err error, name string) error {
	return edgeerr.Wrap(err, edgeerr.KindOriginUnreachable, fmt.Sprintf("fetch from %s", name)).With("origin", name)
}

func notFound(name, p string) error {
	return edgeerr.Wrap(ErrObjectNotFound, edgeerr.KindOriginNotFound, "no object").With("origin", name).With("path", p)
}
