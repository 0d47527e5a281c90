package rfc9111

import (
	"net/http"
	"net/url"
)

// §  4.4.  Invalidating Stored Responses
// §
// §     Because unsafe request methods (Section 9.2.1 of [HTTP]) such as PUT,
// §     POST, or DELETE have the potential for changing state on the origin
// §     server, intervening caches are required to invalidate stored
// §     responses to keep their contents up to date.
// §
// §     A cache MUST invalidate the target URI (Section 7.1 of [HTTP]) when
// §     it receives a non-error status code in response to an unsafe request
// §     method (including methods whose safety is unknown).
func invalidatedPaths(method string, status int, target, host string, header http.Header) []string {
	if safeMethod(method) || !nonErrorStatus(status) {
		return nil
	}
	paths := []string{target}
	// §  A cache MAY invalidate other URIs when it receives a non-error status
	// §  code in response to an unsafe request method (including methods whose
	// §  safety is unknown).  In particular, the URI(s) in the Location and
	// §  Content-Location response header fields (if present) are candidates
	// §  for invalidation; other URIs might be discovered through mechanisms
	// §  not specified in this document.  However, a cache MUST NOT trigger an
	// §  invalidation under these conditions if the origin (Section 4.3.1 of
	// §  [HTTP]) of the URI to be invalidated differs from that of the target
	// §  URI (Section 7.1 of [HTTP]).
	for _, name := range []string{"Location", "Content-Location"} {
		if p, ok := sameOriginPath(target, host, header.Get(name)); ok {
			paths = append(paths, p)
		}
	}
	return paths
}

// §  Of the request methods defined by this specification, the GET, HEAD,
// §  OPTIONS, and TRACE methods are defined to be safe.
func safeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	}
	return false
}

// §  A "non-error response" is one with a 2xx (Successful) or 3xx
// §  (Redirection) status code.
func nonErrorStatus(status int) bool {
	return status >= 200 && status < 400
}

// sameOriginPath resolves ref against the target path and returns the path
// if ref is relative or names the same host.
func sameOriginPath(target, host, ref string) (string, bool) {
	if ref == "" {
		return "", false
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", false
	}
	if u.Host != "" && (host == "" || u.Host != host) {
		return "", false
	}
	resolved := (&url.URL{Path: target}).ResolveReference(u)
	return resolved.Path, resolved.Path != ""
}
