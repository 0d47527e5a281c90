package config

import (
	"time"

	"github.com/always-cache/edge/policy"
)

const (
	StaticOrigin  = "static-assets"
	DynamicOrigin = "ssr"
)

// Reference returns the configuration of a server-rendered web app:
// build assets from a static store, cached for a year and readable
// cross-origin, and everything else sent uncached to the compute origin.
//
// static is an s3:// or file:// address holding _next/static and
// _next/public, dynamic the http(s):// address of the compute origin
// including its stage path ("https://api.example/prod").
func Reference(static, dynamic string) *File {
	assets := func(pattern string) Rule {
		return Rule{
			Pattern: pattern,
			Origin:  StaticOrigin,
			Policy:  policy.ImmutableStatic().Name(),
			Methods: []string{"GET", "HEAD"},
			Headers: "static-cors",
		}
	}
	return &File{
		Port:          8080,
		OriginTimeout: Duration(10 * time.Second),
		Origins: []Origin{
			{Name: StaticOrigin, Kind: "static", Address: static, CacheControl: "public, max-age=31536000, immutable"},
			{Name: DynamicOrigin, Kind: "dynamic", Address: dynamic},
		},
		HeaderPolicies: []HeaderPolicy{{
			Name: "static-cors",
			CORS: &CORS{
				AllowOrigins:   []string{"*"},
				AllowMethods:   []string{"GET", "HEAD", "OPTIONS"},
				AllowHeaders:   []string{"*"},
				ExposeHeaders:  []string{"*"},
				OriginOverride: true,
			},
		}},
		Default: Rule{
			Origin:  DynamicOrigin,
			Policy:  policy.CachingDisabled().Name(),
			Methods: []string{"*"},
			Forward: &Forward{
				Headers: []string{"*"},
				Cookies: []string{"*"},
				Query:   []string{"*"},
				Body:    true,
			},
		},
		Rules: []Rule{
			assets("/_next/static/*"),
			assets("/_next/public/*"),
		},
	}
}
