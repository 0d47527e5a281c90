// Package cacheupdate reads the Cache-Update response header, with which an
// origin names further paths a state-changing request made stale.
//
//	Cache-Update: /api/todos, /api/todos/*
//
// Paths may be relative to the request path and may end with a wildcard.
package cacheupdate

import (
	"net/http"
	"net/url"
	"strings"
)

const Header = "Cache-Update"

// Patterns returns the invalidation patterns of a response to a request
// for target. References to other hosts are ignored.
func Patterns(target string, header http.Header) []string {
	var patterns []string
	for _, value := range header.Values(Header) {
		for _, update := range strings.Split(value, ",") {
			// the path is the first element, parameters follow after semicolons
			ref := strings.TrimSpace(strings.Split(update, ";")[0])
			if p, ok := resolve(target, ref); ok {
				patterns = append(patterns, p)
			}
		}
	}
	return patterns
}

func resolve(target, ref string) (string, bool) {
	wildcard := strings.HasSuffix(ref, "*")
	ref = strings.TrimSuffix(ref, "*")
	if ref == "" && !wildcard {
		return "", false
	}
	u, err := url.Parse(ref)
	if err != nil || u.Host != "" || u.Scheme != "" {
		return "", false
	}
	p := (&url.URL{Path: target}).ResolveReference(u).Path
	if wildcard {
		p += "*"
	}
	return p, true
}
