package origin

import (
	"context"
	"errors"
	"io/fs"
	"mime"
	"net/http"
	"path"
	"strings"
)

// DirStore serves objects from a file system, for local development and tests.
type DirStore struct {
	name string
	fsys fs.FS
	// Cache-Control sent with every object, if set.
	CacheControl string
}

func NewDirStore(fsys fs.FS) *DirStore {
	return &DirStore{name: "dir", fsys: fsys}
}

func (d *DirStore) Fetch(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, unreachable(err, d.name)
	}
	name := strings.TrimPrefix(path.Clean("/"+req.Path), "/")
	if name == "" || strings.HasSuffix(req.Path, "/") || !fs.ValidPath(name) {
		return nil, notFound(d.name, req.Path)
	}
	info, err := fs.Stat(d.fsys, name)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && info.IsDir()) {
		return nil, notFound(d.name, req.Path)
	}
	if err != nil {
		return nil, unreachable(err, d.name)
	}
	h := make(http.Header)
	contentType := mime.TypeByExtension(path.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h.Set("Content-Type", contentType)
	h.Set("Last-Modified", info.ModTime().UTC().Format(http.TimeFormat))
	if d.CacheControl != "" {
		h.Set("Cache-Control", d.CacheControl)
	}
	res := &Response{Status: http.StatusOK, Header: h}
	if req.Method == http.MethodHead {
		return res, nil
	}
	body, err := fs.ReadFile(d.fsys, name)
	if err != nil {
		return nil, unreachable(err, d.name)
	}
	res.Body = body
	return res, nil
}
