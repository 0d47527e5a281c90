// Package policy decides how long origin responses are reused and which
// parts of a request tell cached responses apart.
package policy

import (
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/always-cache/edge/cache"
	cachekey "github.com/always-cache/edge/pkg/cache-key"
	"github.com/always-cache/edge/pkg/edgeerr"
	"github.com/always-cache/edge/rfc9111"
	"github.com/always-cache/edge/viewer"
)

// Vary selects whether a request axis is part of the cache key.
type Vary int

const (
	VaryNone Vary = iota
	VaryAll
)

func (v Vary) String() string {
	if v == VaryAll {
		return "all"
	}
	return "none"
}

// ParseVary parses "none" or "all". The empty string is "none".
func ParseVary(s string) (Vary, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return VaryNone, nil
	case "all":
		return VaryAll, nil
	}
	return VaryNone, edgeerr.New(edgeerr.KindInvalidConfiguration, "unknown vary %q, expected none or all", s)
}

const year = 365 * 24 * time.Hour

// Config is the input to New.
type Config struct {
	Name        string
	DefaultTTL  time.Duration
	MinTTL      time.Duration
	MaxTTL      time.Duration
	VaryHeaders Vary
	VaryCookies Vary
	VaryQuery   Vary
}

// CachePolicy is an immutable caching rule, shared between routes by pointer.
type CachePolicy struct {
	name        string
	defaultTTL  time.Duration
	minTTL      time.Duration
	maxTTL      time.Duration
	varyHeaders Vary
	varyCookies Vary
	varyQuery   Vary
}

// New validates cfg and returns the policy.
// MinTTL <= DefaultTTL <= MaxTTL must hold and no TTL may be negative.
func New(cfg Config) (*CachePolicy, error) {
	if cfg.MinTTL < 0 || cfg.DefaultTTL < 0 || cfg.MaxTTL < 0 {
		return nil, edgeerr.New(edgeerr.KindInvalidConfiguration, "negative ttl").With("policy", cfg.Name)
	}
	if cfg.MinTTL > cfg.DefaultTTL || cfg.DefaultTTL > cfg.MaxTTL {
		return nil, edgeerr.New(edgeerr.KindInvalidConfiguration,
			"ttl must satisfy min <= default <= max, got min=%s default=%s max=%s",
			cfg.MinTTL, cfg.DefaultTTL, cfg.MaxTTL).With("policy", cfg.Name)
	}
	for _, v := range []Vary{cfg.VaryHeaders, cfg.VaryCookies, cfg.VaryQuery} {
		if v != VaryNone && v != VaryAll {
			return nil, edgeerr.New(edgeerr.KindInvalidConfiguration, "unknown vary %d", v).With("policy", cfg.Name)
		}
	}
	return &CachePolicy{
		name:        cfg.Name,
		defaultTTL:  cfg.DefaultTTL,
		minTTL:      cfg.MinTTL,
		maxTTL:      cfg.MaxTTL,
		varyHeaders: cfg.VaryHeaders,
		varyCookies: cfg.VaryCookies,
		varyQuery:   cfg.VaryQuery,
	}, nil
}

func mustNew(cfg Config) *CachePolicy {
	p, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return p
}

var (
	cachingDisabled = mustNew(Config{Name: "caching-disabled"})
	immutableStatic = mustNew(Config{
		Name:       "immutable-static",
		DefaultTTL: year,
		MinTTL:     24 * time.Hour,
		MaxTTL:     year,
	})
)

// CachingDisabled never caches anything: every request is forwarded.
func CachingDisabled() *CachePolicy {
	return cachingDisabled
}

// ImmutableStatic caches for a year, at least a day, keyed on the path alone.
func ImmutableStatic() *CachePolicy {
	return immutableStatic
}

func (p *CachePolicy) Name() string              { return p.name }
func (p *CachePolicy) DefaultTTL() time.Duration { return p.defaultTTL }
func (p *CachePolicy) MinTTL() time.Duration     { return p.minTTL }
func (p *CachePolicy) MaxTTL() time.Duration     { return p.maxTTL }
func (p *CachePolicy) VaryHeaders() Vary         { return p.varyHeaders }
func (p *CachePolicy) VaryCookies() Vary         { return p.varyCookies }
func (p *CachePolicy) VaryQuery() Vary           { return p.varyQuery }

// Enabled reports whether any response can be cached under the policy.
func (p *CachePolicy) Enabled() bool {
	return p.maxTTL > 0
}

// CacheKey returns the key a response to req is stored under.
// Axes with VaryNone do not contribute to the key.
func (p *CachePolicy) CacheKey(originID string, req viewer.Request) string {
	b := cachekey.NewKeyer(originID).Builder(req.Method, req.NormalizedPath())
	if p.varyHeaders == VaryAll {
		for name, values := range req.Header {
			if http.CanonicalHeaderKey(name) == "Cookie" {
				continue
			}
			b.Add(cachekey.AxisHeader, strings.ToLower(name), strings.Join(values, ","))
		}
	}
	if p.varyCookies == VaryAll {
		cookies := make([]string, 0, len(req.Cookies))
		for _, c := range req.Cookies {
			cookies = append(cookies, c.Name+"="+c.Value)
		}
		// all cookies on one line, sorted by name then value
		sort.Strings(cookies)
		if len(cookies) > 0 {
			b.Add(cachekey.AxisCookie, "", strings.Join(cookies, "; "))
		}
	}
	if p.varyQuery == VaryAll && len(req.Query) > 0 {
		// Encode sorts by key and keeps the value order of each key
		b.Add(cachekey.AxisQuery, "", req.Query.Encode())
	}
	return b.String()
}

// EffectiveTTL returns how long a response stays fresh under the policy.
// The lifetime declared by the origin is clamped to [MinTTL, MaxTTL];
// without one DefaultTTL applies.
func (p *CachePolicy) EffectiveTTL(lifetime time.Duration, declared bool) time.Duration {
	if !declared {
		return p.defaultTTL
	}
	if lifetime < p.minTTL {
		return p.minTTL
	}
	if lifetime > p.maxTTL {
		return p.maxTTL
	}
	return lifetime
}

// TTL returns the remaining freshness of entry at now. It is not positive once stale.
func (p *CachePolicy) TTL(entry cache.Entry, now time.Time) time.Duration {
	return p.EffectiveTTL(entry.Lifetime, entry.HasLifetime) - entry.Age(now)
}

// IsFresh reports whether entry can be served at now without contacting the origin.
func (p *CachePolicy) IsFresh(entry cache.Entry, now time.Time) bool {
	if !p.Enabled() {
		return false
	}
	return p.TTL(entry, now) > 0
}

// Storable reports whether a response to a request with the given method
// should be stored under the policy.
func (p *CachePolicy) Storable(method string, status int, header http.Header, received time.Time) bool {
	if !p.Enabled() || rfc9111.MustNotStore(method, status, header) {
		return false
	}
	lifetime, declared := rfc9111.Lifetime(header, received)
	return p.EffectiveTTL(lifetime, declared) > 0
}

// NewEntry returns the entry for a response received at the given time.
// Expires is set to when the entry stops being fresh under the policy.
func (p *CachePolicy) NewEntry(key string, status int, header http.Header, body []byte, received time.Time) cache.Entry {
	lifetime, declared := rfc9111.Lifetime(header, received)
	return cache.Entry{
		Key:         key,
		StoredAt:    received,
		Lifetime:    lifetime,
		HasLifetime: declared,
		Expires:     received.Add(p.EffectiveTTL(lifetime, declared)),
		Status:      status,
		Header:      rfc9111.StorableHeader(header),
		Body:        body,
	}
}
