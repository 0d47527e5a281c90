package origin

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/always-cache/edge/pkg/edgeerr"
	"github.com/always-cache/edge/rfc9111"
	"github.com/always-cache/edge/viewer"
)

// Selection picks which members of a request axis are forwarded.
// The zero value forwards nothing.
type Selection struct {
	All bool
	// Forwarded names when All is false. Header names are case-insensitive.
	Names []string
}

func (s Selection) none() bool {
	return !s.All && len(s.Names) == 0
}

func (s Selection) header(name string) bool {
	if s.All {
		return true
	}
	for _, n := range s.Names {
		if strings.EqualFold(n, name) {
			return true
		}
	}
	return false
}

func (s Selection) exact(name string) bool {
	if s.All {
		return true
	}
	for _, n := range s.Names {
		if n == name {
			return true
		}
	}
	return false
}

// Scope is the part of a viewer request a rule forwards to its origin.
type Scope struct {
	Headers Selection
	Cookies Selection
	Query   Selection
	Body    bool
}

// AllViewer forwards everything the viewer sent.
func AllViewer() Scope {
	return Scope{
		Headers: Selection{All: true},
		Cookies: Selection{All: true},
		Query:   Selection{All: true},
		Body:    true,
	}
}

// DefaultScope is the scope used when a rule does not set one:
// everything for dynamic origins, the path alone for static ones.
func DefaultScope(kind Kind) Scope {
	if kind == DynamicCompute {
		return AllViewer()
	}
	return Scope{}
}

// Request is a request as the origin receives it.
type Request struct {
	Method  string
	Path    string
	Header  http.Header
	Cookies []*http.Cookie
	Query   url.Values
	Body    []byte
}

// Response is what an origin answered.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Forward derives the origin request from a viewer request.
// The path prefix is stripped, then the add prefix is prepended. A path
// that does not carry the strip prefix is a PathTransformMismatch.
// Static origins only ever receive the method and path.
func Forward(req viewer.Request, desc *Descriptor, scope Scope) (Request, error) {
	p, err := TransformPath(req.NormalizedPath(), desc.PathPrefixStrip, desc.PathPrefixAdd)
	var transformErr *edgeerr.Error
	if errors.As(err, &transformErr) {
		return Request{}, transformErr.With("origin", desc.Name)
	}
	out := Request{
		Method: req.Method,
		Path:   p,
		Header: make(http.Header),
	}
	if desc.Kind == StaticStore {
		return out, nil
	}

	if !scope.Headers.none() {
		for name, values := range rfc9111.ForwardHeader(req.Header) {
			// Host is set by the client for the origin
			if name == "Host" || name == "Cookie" || !scope.Headers.header(name) {
				continue
			}
			out.Header[name] = append([]string(nil), values...)
		}
	}
	if req.RemoteIP != "" {
		if prior := out.Header.Get("X-Forwarded-For"); prior != "" {
			out.Header.Set("X-Forwarded-For", prior+", "+req.RemoteIP)
		} else {
			out.Header.Set("X-Forwarded-For", req.RemoteIP)
		}
	}
	if !scope.Cookies.none() {
		for _, c := range req.Cookies {
			if scope.Cookies.exact(c.Name) {
				out.Cookies = append(out.Cookies, c)
			}
		}
	}
	if !scope.Query.none() {
		out.Query = make(url.Values)
		for name, values := range req.Query {
			if scope.Query.exact(name) {
				out.Query[name] = append([]string(nil), values...)
			}
		}
	}
	if scope.Body {
		out.Body = req.Body
	}
	return out, nil
}

// TransformPath strips and adds path prefixes.
// The strip prefix must end on a segment boundary of p.
func TransformPath(p, strip, add string) (string, error) {
	rest := p
	if strip != "" && strip != "/" {
		if !strings.HasPrefix(p, strip) {
			return "", edgeerr.New(edgeerr.KindPathTransformMismatch,
				"path does not start with strip prefix").With("path", p).With("strip", strip)
		}
		rest = strings.TrimPrefix(p, strip)
		if !strings.HasSuffix(strip, "/") && rest != "" && !strings.HasPrefix(rest, "/") {
			return "", edgeerr.New(edgeerr.KindPathTransformMismatch,
				"strip prefix ends inside a path segment").With("path", p).With("strip", strip)
		}
		if !strings.HasPrefix(rest, "/") {
			rest = "/" + rest
		}
	}
	if add != "" {
		rest = strings.TrimSuffix(add, "/") + rest
	}
	return rest, nil
}

// CookieHeader renders cookies as the value of a Cookie header.
func (r Request) CookieHeader() string {
	parts := make([]string, 0, len(r.Cookies))
	for _, c := range r.Cookies {
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}
