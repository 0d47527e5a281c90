package cache

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

const (
	storedAtHeaderName = "Edge-Stored-At"
	lifetimeHeaderName = "Edge-Lifetime"
	expiresHeaderName  = "Edge-Expires"
	keyHeaderName      = "Edge-Key"
)

// entryToBytes converts an entry to a byte slice.
// It returns the HTTP/1.1 representation of the response, with the entry
// metadata in extra headers.
func entryToBytes(e Entry) ([]byte, error) {
	res := &http.Response{
		StatusCode:    e.Status,
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        e.Header.Clone(),
		ContentLength: int64(len(e.Body)),
		Body:          io.NopCloser(bytes.NewReader(e.Body)),
	}
	if res.Header == nil {
		res.Header = make(http.Header)
	}
	res.Header.Set(keyHeaderName, strconv.Quote(e.Key))
	res.Header.Set(storedAtHeaderName, strconv.FormatInt(e.StoredAt.UnixNano(), 10))
	if e.HasLifetime {
		res.Header.Set(lifetimeHeaderName, strconv.FormatInt(int64(e.Lifetime), 10))
	}
	if !e.Expires.IsZero() {
		res.Header.Set(expiresHeaderName, strconv.FormatInt(e.Expires.UnixNano(), 10))
	}
	buf := &bytes.Buffer{}
	if err := res.Write(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// bytesToEntry converts a byte slice written by entryToBytes back to an entry.
func bytesToEntry(b []byte) (Entry, error) {
	var e Entry
	res, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(b)), nil)
	if err != nil {
		return e, err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return e, err
	}
	e.Key, err = strconv.Unquote(res.Header.Get(keyHeaderName))
	if err != nil {
		return e, fmt.Errorf("stored key: %w", err)
	}
	storedAt, err := strconv.ParseInt(res.Header.Get(storedAtHeaderName), 10, 64)
	if err != nil {
		return e, fmt.Errorf("stored time: %w", err)
	}
	e.StoredAt = time.Unix(0, storedAt)
	if lifetime := res.Header.Get(lifetimeHeaderName); lifetime != "" {
		d, err := strconv.ParseInt(lifetime, 10, 64)
		if err != nil {
			return e, fmt.Errorf("stored lifetime: %w", err)
		}
		e.Lifetime = time.Duration(d)
		e.HasLifetime = true
	}
	if expires := res.Header.Get(expiresHeaderName); expires != "" {
		n, err := strconv.ParseInt(expires, 10, 64)
		if err != nil {
			return e, fmt.Errorf("stored expiry: %w", err)
		}
		e.Expires = time.Unix(0, n)
	}
	// delete extra headers
	for _, name := range []string{keyHeaderName, storedAtHeaderName, lifetimeHeaderName, expiresHeaderName} {
		res.Header.Del(name)
	}
	// Content-Length is recomputed when the entry is served
	res.Header.Del("Content-Length")
	e.Status = res.StatusCode
	e.Header = res.Header
	e.Body = body
	return e, nil
}
