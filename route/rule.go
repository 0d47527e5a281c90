// Package route maps request paths to the rule that serves them.
package route

import (
	"strings"

	"github.com/always-cache/edge/origin"
	"github.com/always-cache/edge/pkg/edgeerr"
	"github.com/always-cache/edge/policy"
	"github.com/always-cache/edge/viewer"
)

// Rule binds a path pattern to an origin and a cache policy.
//
// Patterns are either an exact path ("/health") or a literal prefix
// followed by a single trailing wildcard ("/_next/static/*", "/img*").
type Rule struct {
	Pattern         string
	Origin          *origin.Descriptor
	CachePolicy     *policy.CachePolicy
	AllowedMethods  []string
	ResponseHeaders *HeaderPolicy
	// Optional, the origin kind's default scope applies if nil.
	Forwarding *origin.Scope

	literal  string
	wildcard bool
}

// Allows reports whether the rule accepts method.
func (r *Rule) Allows(method string) bool {
	for _, m := range r.AllowedMethods {
		if m == method {
			return true
		}
	}
	return false
}

// Scope returns what is forwarded to the origin.
func (r *Rule) Scope() origin.Scope {
	if r.Forwarding != nil {
		return *r.Forwarding
	}
	return origin.DefaultScope(r.Origin.Kind)
}

// Literal returns the pattern without its wildcard.
func (r *Rule) Literal() string {
	return r.literal
}

// Wildcard reports whether the pattern ends with a wildcard.
func (r *Rule) Wildcard() bool {
	return r.wildcard
}

func (r *Rule) matches(p string) bool {
	if r.wildcard {
		return strings.HasPrefix(p, r.literal)
	}
	return p == r.literal
}

func (r *Rule) invalid(format string, args ...any) error {
	return edgeerr.New(edgeerr.KindInvalidConfiguration, format, args...).With("rule", r.Pattern)
}

// compile validates the rule and splits its pattern.
func (r *Rule) compile(isDefault bool) error {
	if r.Origin == nil {
		return r.invalid("rule without origin")
	}
	if err := r.Origin.Validate(); err != nil {
		return err
	}
	if r.CachePolicy == nil {
		return r.invalid("rule without cache policy")
	}
	if len(r.AllowedMethods) == 0 {
		return r.invalid("rule allows no methods")
	}
	for i, m := range r.AllowedMethods {
		m = strings.ToUpper(m)
		r.AllowedMethods[i] = m
		if !r.Origin.Kind.Accepts(m) {
			return r.invalid("%s origin %s does not accept %s", r.Origin.Kind, r.Origin.Name, m)
		}
	}
	if r.ResponseHeaders != nil {
		if err := r.ResponseHeaders.Validate(); err != nil {
			return err
		}
	}

	if isDefault {
		r.literal, r.wildcard = "/", true
		if r.Pattern == "" {
			r.Pattern = "*"
		}
		if strip := r.Origin.PathPrefixStrip; strip != "" && strip != "/" {
			return r.invalid("default rule cannot strip %q, not every path starts with it", strip)
		}
		return nil
	}

	if r.Pattern == "*" || r.Pattern == "/*" {
		return edgeerr.New(edgeerr.KindConfigurationConflict, "pattern matches every path, use the default rule").With("rule", r.Pattern)
	}
	if !strings.HasPrefix(r.Pattern, "/") {
		return r.invalid("pattern must start with /")
	}
	r.literal = r.Pattern
	if strings.HasSuffix(r.Pattern, "*") {
		r.literal, r.wildcard = strings.TrimSuffix(r.Pattern, "*"), true
	}
	if strings.Contains(r.literal, "*") {
		return r.invalid("wildcard only allowed as last character")
	}
	if normalized := viewer.NormalizePath(r.literal); normalized != r.literal {
		return r.invalid("pattern is not a clean path, expected %s", normalized)
	}
	if !r.stripGuaranteed() {
		return r.invalid("not every matched path starts with strip prefix %q", r.Origin.PathPrefixStrip)
	}
	return nil
}

// stripGuaranteed reports whether every path the rule matches carries the
// origin strip prefix on a segment boundary.
func (r *Rule) stripGuaranteed() bool {
	strip := r.Origin.PathPrefixStrip
	if strip == "" || strip == "/" {
		return true
	}
	if !r.wildcard {
		_, err := origin.TransformPath(r.literal, strip, "")
		return err == nil
	}
	if !strings.HasPrefix(r.literal, strip) {
		return false
	}
	if strings.HasSuffix(strip, "/") {
		return true
	}
	// "/api*" also matches "/apiary"
	return len(r.literal) > len(strip) && r.literal[len(strip)] == '/'
}

// Allow renders the allowed methods as the value of an Allow header.
func (r *Rule) Allow() string {
	return strings.Join(r.AllowedMethods, ", ")
}
