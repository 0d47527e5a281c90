// Package origin describes the backends that serve requests and shapes
// the requests that are forwarded to them.
package origin

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/always-cache/edge/pkg/edgeerr"
)

type Kind int

const (
	// Object store reached by path. Read-only.
	StaticStore Kind = iota
	// Application backend receiving the full request.
	DynamicCompute
)

func (k Kind) String() string {
	switch k {
	case StaticStore:
		return "static"
	case DynamicCompute:
		return "dynamic"
	}
	return "unknown"
}

func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "static", "static-store":
		return StaticStore, nil
	case "dynamic", "dynamic-compute":
		return DynamicCompute, nil
	}
	return 0, edgeerr.New(edgeerr.KindInvalidConfiguration, "unknown origin kind %q", s)
}

var (
	staticMethods  = []string{http.MethodGet, http.MethodHead}
	dynamicMethods = []string{
		http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodPut,
		http.MethodPatch, http.MethodPost, http.MethodDelete,
	}
)

// Methods returns the methods an origin of this kind accepts.
func (k Kind) Methods() []string {
	if k == StaticStore {
		return append([]string(nil), staticMethods...)
	}
	return append([]string(nil), dynamicMethods...)
}

// Accepts reports whether an origin of this kind accepts method.
// Dynamic origins accept any method.
func (k Kind) Accepts(method string) bool {
	switch k {
	case StaticStore:
		return method == http.MethodGet || method == http.MethodHead
	case DynamicCompute:
		return method != ""
	}
	return false
}

// Descriptor describes one origin.
type Descriptor struct {
	// Identifier used by rules and log lines.
	Name string
	Kind Kind
	// s3://bucket[/prefix] or file:///dir for static origins,
	// http(s)://host[/path] for dynamic origins.
	Address string
	// Removed from the request path before forwarding.
	PathPrefixStrip string
	// Prepended to the request path after stripping.
	PathPrefixAdd string
	// Hostname to use for HTTP requests and TLS negotiation.
	// Use if needed if e.g. the address is just an IP address.
	Host string
}

// Validate checks the descriptor on its own.
func (d *Descriptor) Validate() error {
	invalid := func(format string, args ...any) error {
		return edgeerr.New(edgeerr.KindInvalidConfiguration, format, args...).With("origin", d.Name)
	}
	if d.Name == "" {
		return invalid("origin name empty")
	}
	if d.Kind != StaticStore && d.Kind != DynamicCompute {
		return invalid("unknown origin kind %d", d.Kind)
	}
	u, err := url.Parse(d.Address)
	if err != nil {
		return invalid("origin address %q: %v", d.Address, err)
	}
	switch d.Kind {
	case StaticStore:
		if u.Scheme != "s3" && u.Scheme != "file" {
			return invalid("static origin address must be s3:// or file://, got %q", d.Address)
		}
		if u.Scheme == "s3" && u.Host == "" {
			return invalid("static origin address %q has no bucket", d.Address)
		}
	case DynamicCompute:
		if u.Scheme != "http" && u.Scheme != "https" {
			return invalid("dynamic origin address must be http:// or https://, got %q", d.Address)
		}
		if u.Host == "" {
			return invalid("dynamic origin address %q has no host", d.Address)
		}
	}
	for _, prefix := range []string{d.PathPrefixStrip, d.PathPrefixAdd} {
		if prefix != "" && !strings.HasPrefix(prefix, "/") {
			return invalid("path prefix %q must start with /", prefix)
		}
	}
	return nil
}
