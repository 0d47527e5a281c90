package route

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/always-cache/edge/origin"
	"github.com/always-cache/edge/pkg/edgeerr"
	"github.com/always-cache/edge/policy"
)

var (
	bucket  = &origin.Descriptor{Name: "assets", Kind: origin.StaticStore, Address: "s3://site"}
	compute = &origin.Descriptor{Name: "api", Kind: origin.DynamicCompute, Address: "https://compute.example"}
	all     = origin.DynamicCompute.Methods()
)

func defaultRule() *Rule {
	return &Rule{Origin: compute, CachePolicy: policy.CachingDisabled(), AllowedMethods: all}
}

func staticRule(pattern string) *Rule {
	return &Rule{Pattern: pattern, Origin: bucket, CachePolicy: policy.ImmutableStatic(), AllowedMethods: []string{"GET", "HEAD"}}
}

func TestResolve(t *testing.T) {
	table, err := NewTable(defaultRule(),
		staticRule("/_next/static/*"),
		staticRule("/_next/*"),
		staticRule("/_next/static/chunks/main.js"),
		staticRule("/img*"),
	)
	if err != nil {
		t.Fatal(err)
	}
	cases := map[string]string{
		"/":                             "*",
		"/api/todos":                    "*",
		"/_next/static/app.js":          "/_next/static/*",
		"/_next/static/chunks/other.js": "/_next/static/*",
		"/_next/static/chunks/main.js":  "/_next/static/chunks/main.js",
		"/_next/data.json":              "/_next/*",
		"/_next/static":                 "/_next/*",
		"/_next":                        "*",
		"/img/logo.png":                 "/img*",
		"/imgs":                         "/img*",
		"/_next/./static//x.js":         "/_next/static/*",
	}
	for path, pattern := range cases {
		rule, err := table.Resolve(path, "GET")
		if err != nil {
			t.Fatalf("Resolve(%s): %v", path, err)
		}
		if rule.Pattern != pattern {
			t.Fatalf("Resolve(%s) is %s, expected %s", path, rule.Pattern, pattern)
		}
	}
}

func TestResolveMethodNotAllowed(t *testing.T) {
	table, err := NewTable(defaultRule(), staticRule("/_next/static/*"))
	if err != nil {
		t.Fatal(err)
	}
	rule, err := table.Resolve("/_next/static/app.js", "POST")
	if !errors.Is(err, edgeerr.ErrMethodNotAllowed) {
		t.Fatalf("Error is %v", err)
	}
	var e *edgeerr.Error
	errors.As(err, &e)
	if len(e.Allowed) != 2 || rule.Allow() != "GET, HEAD" {
		t.Fatalf("Allowed methods are %v", e.Allowed)
	}
	if _, err := table.Resolve("/api/todos", "DELETE"); err != nil {
		t.Fatalf("Default rule rejected DELETE: %v", err)
	}
}

func TestConflicts(t *testing.T) {
	cases := map[string][]*Rule{
		"same prefix": {staticRule("/a/*"), staticRule("/a/*")},
		"same exact":  {staticRule("/health"), staticRule("/health")},
		"match all":   {staticRule("/*")},
		"star":        {staticRule("*")},
	}
	for name, rules := range cases {
		if _, err := NewTable(defaultRule(), rules...); !errors.Is(err, edgeerr.ErrConfigurationConflict) {
			t.Fatalf("%s: error is %v", name, err)
		}
	}
	if _, err := NewTable(defaultRule(), staticRule("/a"), staticRule("/a*")); err != nil {
		t.Fatalf("Exact and prefix on same literal rejected: %v", err)
	}
}

func TestInvalidRules(t *testing.T) {
	post := staticRule("/x/*")
	post.AllowedMethods = []string{"GET", "POST"}
	none := staticRule("/x/*")
	none.AllowedMethods = nil
	strip := &Rule{Pattern: "/web/*", Origin: &origin.Descriptor{Name: "api", Kind: origin.DynamicCompute, Address: "http://h", PathPrefixStrip: "/api"}, CachePolicy: policy.CachingDisabled(), AllowedMethods: all}
	segment := &Rule{Pattern: "/api*", Origin: &origin.Descriptor{Name: "api", Kind: origin.DynamicCompute, Address: "http://h", PathPrefixStrip: "/api"}, CachePolicy: policy.CachingDisabled(), AllowedMethods: all}
	cases := map[string]*Rule{
		"middle wildcard": staticRule("/a/*/b"),
		"no slash":        staticRule("a/*"),
		"unclean":         staticRule("/a/../b"),
		"post to static":  post,
		"no methods":      none,
		"strip missing":   strip,
		"strip segment":   segment,
		"no policy":       {Pattern: "/x", Origin: bucket, AllowedMethods: []string{"GET"}},
	}
	for name, rule := range cases {
		if _, err := NewTable(defaultRule(), rule); !errors.Is(err, edgeerr.ErrInvalidConfiguration) {
			t.Fatalf("%s: error is %v", name, err)
		}
	}

	def := defaultRule()
	def.Origin = &origin.Descriptor{Name: "api", Kind: origin.DynamicCompute, Address: "http://h", PathPrefixStrip: "/api"}
	if _, err := NewTable(def); !errors.Is(err, edgeerr.ErrInvalidConfiguration) {
		t.Fatalf("Default rule with strip prefix: %v", err)
	}
	if _, err := NewTable(nil); !errors.Is(err, edgeerr.ErrInvalidConfiguration) {
		t.Fatalf("Missing default rule: %v", err)
	}
}

func TestStripGuaranteed(t *testing.T) {
	api := &origin.Descriptor{Name: "api", Kind: origin.DynamicCompute, Address: "http://h", PathPrefixStrip: "/api"}
	rule := &Rule{Pattern: "/api/*", Origin: api, CachePolicy: policy.CachingDisabled(), AllowedMethods: all}
	if _, err := NewTable(defaultRule(), rule); err != nil {
		t.Fatal(err)
	}
}

func TestTableCopiesRules(t *testing.T) {
	rule := staticRule("/a/*")
	rule.AllowedMethods = []string{"get", "head"}
	table, err := NewTable(defaultRule(), rule)
	if err != nil {
		t.Fatal(err)
	}
	rule.Pattern = "/changed/*"
	rule.AllowedMethods[0] = "DELETE"
	got, err := table.Resolve("/a/x", "GET")
	if err != nil || got.Pattern != "/a/*" {
		t.Fatalf("Table changed with rule: %v %v", got, err)
	}
	if len(table.Rules()) != 2 || table.Rules()[1] != table.Default() {
		t.Fatal("Default not last in rules")
	}
}

func TestScopeDefaults(t *testing.T) {
	if s := staticRule("/a/*").Scope(); s.Body || s.Headers.All {
		t.Fatalf("Static scope is %+v", s)
	}
	if s := defaultRule().Scope(); !s.Body || !s.Headers.All || !s.Cookies.All || !s.Query.All {
		t.Fatalf("Dynamic scope is %+v", s)
	}
}

func nextStaticCORS() *HeaderPolicy {
	return &HeaderPolicy{
		Name: "cors",
		CORS: &CORS{
			AllowOrigins:   []string{"*"},
			AllowMethods:   []string{"GET", "HEAD", "OPTIONS"},
			AllowHeaders:   []string{"*"},
			ExposeHeaders:  []string{"*"},
			MaxAge:         10 * time.Minute,
			OriginOverride: true,
		},
	}
}

func TestCORSWildcard(t *testing.T) {
	req := http.Header{"Origin": {"https://app.example"}}
	res := http.Header{"Access-Control-Allow-Origin": {"https://origin-set.example"}}
	nextStaticCORS().Apply(zerolog.Nop(), "GET", req, res)
	if res.Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("Allow-Origin is %s", res.Get("Access-Control-Allow-Origin"))
	}
	if res.Get("Access-Control-Allow-Methods") != "GET, HEAD, OPTIONS" || res.Get("Access-Control-Expose-Headers") != "*" {
		t.Fatalf("Headers are %v", res)
	}
	if res.Get("Access-Control-Allow-Credentials") != "" || res.Get("Access-Control-Max-Age") != "" || res.Get("Vary") != "" {
		t.Fatalf("Unexpected headers %v", res)
	}

	preflight := http.Header{}
	nextStaticCORS().Apply(zerolog.Nop(), "OPTIONS", req, preflight)
	if preflight.Get("Access-Control-Max-Age") != "600" {
		t.Fatalf("Max-Age is %s", preflight.Get("Access-Control-Max-Age"))
	}
}

func TestCORSOnlyCrossOrigin(t *testing.T) {
	res := http.Header{}
	nextStaticCORS().Apply(zerolog.Nop(), "GET", http.Header{}, res)
	if len(res) != 0 {
		t.Fatalf("CORS headers on same-origin request: %v", res)
	}
}

func TestCORSEchoAndKeep(t *testing.T) {
	policy := &HeaderPolicy{CORS: &CORS{AllowOrigins: []string{"https://app.example"}, AllowCredentials: true}}
	res := http.Header{}
	policy.Apply(zerolog.Nop(), "GET", http.Header{"Origin": {"https://app.example"}}, res)
	if res.Get("Access-Control-Allow-Origin") != "https://app.example" || res.Get("Vary") != "Origin" || res.Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatalf("Headers are %v", res)
	}

	denied := http.Header{}
	policy.Apply(zerolog.Nop(), "GET", http.Header{"Origin": {"https://evil.example"}}, denied)
	if denied.Get("Access-Control-Allow-Origin") != "" {
		t.Fatal("Origin not in list allowed")
	}

	kept := http.Header{"Access-Control-Allow-Origin": {"https://origin-set.example"}}
	policy.Apply(zerolog.Nop(), "GET", http.Header{"Origin": {"https://app.example"}}, kept)
	if kept.Get("Access-Control-Allow-Origin") != "https://origin-set.example" {
		t.Fatal("Origin CORS header replaced without override")
	}
}

func TestCustomHeaders(t *testing.T) {
	policy := &HeaderPolicy{Custom: []CustomHeader{
		{Name: "Cache-Control", Value: "public, max-age=31536000, immutable"},
		{Name: "X-Frame-Options", Value: "DENY", Override: true},
	}}
	res := http.Header{"Cache-Control": {"no-cache"}, "X-Frame-Options": {"SAMEORIGIN"}}
	policy.Apply(zerolog.Nop(), "GET", http.Header{}, res)
	if res.Get("Cache-Control") != "no-cache" || res.Get("X-Frame-Options") != "DENY" {
		t.Fatalf("Headers are %v", res)
	}
	empty := http.Header{}
	policy.Apply(zerolog.Nop(), "GET", http.Header{}, empty)
	if empty.Get("Cache-Control") != "public, max-age=31536000, immutable" {
		t.Fatalf("Default header not set: %v", empty)
	}
}

func TestHeaderPolicyValidate(t *testing.T) {
	rule := staticRule("/a/*")
	rule.ResponseHeaders = &HeaderPolicy{CORS: &CORS{}}
	if _, err := NewTable(defaultRule(), rule); !errors.Is(err, edgeerr.ErrInvalidConfiguration) {
		t.Fatalf("CORS without origins: %v", err)
	}
}
