package rfc9111

import (
	"strings"
	"time"
)

// §  5.2.  Cache-Control
// §
// §     The "Cache-Control" header field is used to list directives for
// §     caches along the request/response chain.  [...]
// §
// §     Cache directives are identified by a token, to be compared case-
// §     insensitively, and have an optional argument that can use both token
// §     and quoted-string syntax.
// §
// §       Cache-Control   = #cache-directive
// §
// §       cache-directive = token [ "=" ( token / quoted-string ) ]

// CacheControl holds the parsed directives of one or more Cache-Control fields.
type CacheControl struct {
	directives map[string]string
}

// Get returns the value (/argument) of the specified directive,
// along with a boolean indicating whether this directive is present
func (c CacheControl) Get(directive string) (string, bool) {
	val, ok := c.directives[directive]
	return val, ok
}

func (c CacheControl) HasDirective(directive string) bool {
	_, ok := c.Get(directive)
	return ok
}

// ParseCacheControl takes Cache-Control headers as a slice of strings
// and returns an instance of `CacheControl`.
func ParseCacheControl(headers []string) CacheControl {
	m := make(map[string]string)
	for _, header := range headers {
		for _, directive := range strings.Split(header, ",") {
			directive = strings.TrimSpace(directive)
			if directive == "" {
				continue
			}
			parts := strings.SplitN(directive, "=", 2)
			name := strings.ToLower(strings.TrimSpace(parts[0]))
			var arg string
			if len(parts) > 1 {
				// §  [...] argument that can use both token and quoted-string syntax. [...]
				arg = strings.Trim(strings.TrimSpace(parts[1]), "\"")
			}
			// §  When there is more than one value present for a given directive
			// §  [...] the first occurrence should be used [...]
			if _, seen := m[name]; !seen {
				m[name] = arg
			}
		}
	}
	return CacheControl{m}
}

// §  5.2.2.1.  max-age
// §
// §     Argument syntax:
// §
// §        delta-seconds (see Section 1.2.2)
// §
// §     The max-age response directive indicates that the response is to be
// §     considered stale after its age is greater than the specified number
// §     of seconds.
func (c CacheControl) MaxAge() (time.Duration, bool) {
	return c.getDeltaSeconds("max-age")
}

// §  5.2.2.10.  s-maxage
// §
// §     The s-maxage response directive indicates that, for a shared cache,
// §     the maximum age specified by this directive overrides the maximum age
// §     specified by either the max-age directive or the Expires header
// §     field.
func (c CacheControl) SMaxAge() (time.Duration, bool) {
	return c.getDeltaSeconds("s-maxage")
}

// getDeltaSeconds returns the "delta-seconds" as `time.Duration`,
// as well as a boolean indicating whether the directive was set.
//
// Examples:
// directive    -> 0,  false
// directive=0  -> 0,  true
// directive=60 -> 60, true
func (c CacheControl) getDeltaSeconds(directive string) (time.Duration, bool) {
	if secondsStr, ok := c.Get(directive); ok && secondsStr != "" {
		return deltaSeconds(secondsStr)
	}
	return 0, false
}
