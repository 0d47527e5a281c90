// Package viewer holds the request as the edge receives it from a client.
package viewer

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
)

// Request is the inbound request, split into the axes the edge reasons about.
// Cookies are kept apart from Header; Header never carries a Cookie field.
type Request struct {
	Method string
	// Host the viewer addressed, as in the request line or Host header.
	Host    string
	Path    string
	Header  http.Header
	Cookies []*http.Cookie
	Query   url.Values
	Body    []byte
	// Address of the client, without port.
	RemoteIP string
}

// ErrBodyTooLarge is returned by FromHTTP when the body exceeds the limit.
var ErrBodyTooLarge = errors.New("request body too large")

// FromHTTP converts a net/http request. The body is read fully,
// a body longer than maxBody is an ErrBodyTooLarge. Zero means no limit.
func FromHTTP(r *http.Request, maxBody int64) (Request, error) {
	req := Request{
		Method:   r.Method,
		Host:     r.Host,
		Path:     r.URL.Path,
		Header:   r.Header.Clone(),
		Cookies:  r.Cookies(),
		Query:    r.URL.Query(),
		RemoteIP: sourceIP(r.RemoteAddr),
	}
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	req.Header.Del("Cookie")
	if r.Body != nil && r.Body != http.NoBody {
		reader := io.Reader(r.Body)
		if maxBody > 0 {
			reader = io.LimitReader(r.Body, maxBody+1)
		}
		body, err := io.ReadAll(reader)
		if err != nil {
			return req, err
		}
		if maxBody > 0 && int64(len(body)) > maxBody {
			return req, ErrBodyTooLarge
		}
		req.Body = body
	}
	return req, nil
}

// NormalizedPath returns the cleaned request path.
// It always starts with a slash and keeps a trailing slash if there was one.
func (r Request) NormalizedPath() string {
	return NormalizePath(r.Path)
}

func NormalizePath(p string) string {
	if p == "" {
		return "/"
	}
	cleaned := path.Clean("/" + p)
	if strings.HasSuffix(p, "/") && cleaned != "/" {
		cleaned += "/"
	}
	return cleaned
}

// CookieHeader renders the cookies as a single Cookie header value.
func (r Request) CookieHeader() string {
	parts := make([]string, 0, len(r.Cookies))
	for _, c := range r.Cookies {
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}

// sourceIP strips the port from a RemoteAddr.
// RemoteAddr is in the format:
// 1.2.3.4:10000 for ipv4
// [1:2:3]:10000 for ipv6
func sourceIP(ipAndPort string) string {
	portSepIdx := strings.LastIndex(ipAndPort, ":")
	if portSepIdx < 0 {
		return ipAndPort
	}
	return strings.Trim(ipAndPort[:portSepIdx], "[]")
}
