package policy

import (
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/always-cache/edge/pkg/edgeerr"
	"github.com/always-cache/edge/viewer"
)

func request(path string) viewer.Request {
	return viewer.Request{
		Method: "GET",
		Path:   path,
		Header: http.Header{"Accept": {"text/html"}, "User-Agent": {"test"}},
		Cookies: []*http.Cookie{
			{Name: "session", Value: "abc"},
		},
		Query: url.Values{"v": {"1"}},
	}
}

func TestNewRejectsBadTTL(t *testing.T) {
	cases := []Config{
		{MinTTL: time.Hour, DefaultTTL: time.Minute, MaxTTL: time.Hour},
		{DefaultTTL: 2 * time.Hour, MaxTTL: time.Hour},
		{MinTTL: -time.Second},
		{VaryQuery: Vary(7)},
	}
	for _, cfg := range cases {
		if _, err := New(cfg); !errors.Is(err, edgeerr.ErrInvalidConfiguration) {
			t.Fatalf("New(%+v) error is %v", cfg, err)
		}
	}
}

func TestCanonicalPolicies(t *testing.T) {
	off := CachingDisabled()
	if off.Enabled() || off.DefaultTTL() != 0 || off.MaxTTL() != 0 {
		t.Fatalf("Caching disabled policy is %+v", off)
	}
	static := ImmutableStatic()
	if static.DefaultTTL() != 365*24*time.Hour || static.MaxTTL() != static.DefaultTTL() || static.MinTTL() != 24*time.Hour {
		t.Fatalf("Static policy is %+v", static)
	}
	if static.VaryHeaders() != VaryNone || static.VaryCookies() != VaryNone || static.VaryQuery() != VaryNone {
		t.Fatal("Static policy varies")
	}
}

func TestKeyIgnoresAxesNotVaried(t *testing.T) {
	p := ImmutableStatic()
	a := request("/_next/static/app.js")
	b := request("/_next/static/app.js")
	b.Header.Set("Accept", "*/*")
	b.Cookies = nil
	b.Query = url.Values{"v": {"2"}}
	if p.CacheKey("assets", a) != p.CacheKey("assets", b) {
		t.Fatal("Key changed with headers, cookies or query not varied")
	}
	if p.CacheKey("assets", a) == p.CacheKey("other", a) {
		t.Fatal("Key does not include origin")
	}
	c := request("/_next/static/app.js")
	c.Method = "HEAD"
	if p.CacheKey("assets", a) == p.CacheKey("assets", c) {
		t.Fatal("Key does not include method")
	}
}

func TestKeyVariesAll(t *testing.T) {
	p, err := New(Config{DefaultTTL: time.Minute, MaxTTL: time.Hour, VaryHeaders: VaryAll, VaryCookies: VaryAll, VaryQuery: VaryAll})
	if err != nil {
		t.Fatal(err)
	}
	base := request("/api/todos")
	key := p.CacheKey("api", base)

	header := request("/api/todos")
	header.Header.Set("Accept", "application/json")
	cookie := request("/api/todos")
	cookie.Cookies[0].Value = "def"
	query := request("/api/todos")
	query.Query.Set("v", "2")
	for name, req := range map[string]viewer.Request{"header": header, "cookie": cookie, "query": query} {
		if p.CacheKey("api", req) == key {
			t.Fatalf("Key did not change with %s", name)
		}
	}

	reordered := request("/api/todos")
	reordered.Query = url.Values{"b": {"2"}, "a": {"1"}}
	again := request("/api/todos")
	again.Query = url.Values{"a": {"1"}, "b": {"2"}}
	if p.CacheKey("api", reordered) != p.CacheKey("api", again) {
		t.Fatal("Key depends on map order")
	}
}

func TestKeyNormalizesPath(t *testing.T) {
	p := ImmutableStatic()
	if p.CacheKey("o", request("/a/./b//c")) != p.CacheKey("o", request("/a/b/c")) {
		t.Fatal("Paths not normalized")
	}
	if p.CacheKey("o", request("/a/")) == p.CacheKey("o", request("/a")) {
		t.Fatal("Trailing slash dropped")
	}
}

func TestEffectiveTTL(t *testing.T) {
	p, _ := New(Config{MinTTL: time.Minute, DefaultTTL: time.Hour, MaxTTL: 24 * time.Hour})
	cases := []struct {
		lifetime time.Duration
		declared bool
		expect   time.Duration
	}{
		{0, false, time.Hour},
		{time.Second, true, time.Minute},
		{2 * time.Hour, true, 2 * time.Hour},
		{48 * time.Hour, true, 24 * time.Hour},
	}
	for _, c := range cases {
		if ttl := p.EffectiveTTL(c.lifetime, c.declared); ttl != c.expect {
			t.Fatalf("EffectiveTTL(%s, %v) is %s, expected %s", c.lifetime, c.declared, ttl, c.expect)
		}
	}
}

func TestNeverFreshAfterMaxTTL(t *testing.T) {
	p, _ := New(Config{DefaultTTL: time.Minute, MaxTTL: time.Hour})
	stored := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	header := http.Header{"Cache-Control": {"max-age=999999999"}}
	entry := p.NewEntry("k", 200, header, nil, stored)
	if !p.IsFresh(entry, stored.Add(59*time.Minute)) {
		t.Fatal("Entry not fresh before max ttl")
	}
	if p.IsFresh(entry, stored.Add(time.Hour)) {
		t.Fatal("Entry fresh at max ttl")
	}
	if !entry.Expires.Equal(stored.Add(time.Hour)) {
		t.Fatalf("Expires is %v", entry.Expires)
	}
}

func TestCachingDisabledNeverFresh(t *testing.T) {
	p := CachingDisabled()
	now := time.Now()
	entry := p.NewEntry("k", 200, http.Header{"Cache-Control": {"max-age=600"}}, nil, now)
	if p.IsFresh(entry, now) {
		t.Fatal("Fresh under disabled policy")
	}
	if p.Storable("GET", 200, http.Header{"Cache-Control": {"max-age=600"}}, now) {
		t.Fatal("Storable under disabled policy")
	}
}

func TestStorable(t *testing.T) {
	now := time.Now()
	static := ImmutableStatic()
	if !static.Storable("GET", 200, http.Header{}, now) {
		t.Fatal("Plain response not storable")
	}
	if static.Storable("GET", 200, http.Header{"Cache-Control": {"no-store"}}, now) {
		t.Fatal("no-store storable")
	}
	if static.Storable("GET", 502, http.Header{}, now) {
		t.Fatal("502 storable")
	}
	zeroDefault, _ := New(Config{MaxTTL: time.Hour})
	if zeroDefault.Storable("GET", 200, http.Header{}, now) {
		t.Fatal("Response without lifetime storable with zero default ttl")
	}
}

func TestParseVary(t *testing.T) {
	if v, err := ParseVary("ALL"); err != nil || v != VaryAll {
		t.Fatalf("ParseVary(ALL) is %v, %v", v, err)
	}
	if v, err := ParseVary(""); err != nil || v != VaryNone {
		t.Fatalf("ParseVary('') is %v, %v", v, err)
	}
	if _, err := ParseVary("whitelist"); !errors.Is(err, edgeerr.ErrInvalidConfiguration) {
		t.Fatalf("ParseVary(whitelist) error is %v", err)
	}
}
