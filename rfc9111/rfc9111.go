// Package rfc9111 implements the parts of HTTP Caching (RFC 9111) that a
// shared edge cache needs: storability, freshness lifetime and Age.
//
// Section text is quoted inline with a leading "§" so the code can be read
// against the standard.
package rfc9111

import (
	"net/http"
	"time"
)

// Lifetime returns the freshness lifetime the origin declared for a response,
// along with a boolean indicating whether it declared one at all.
//
// received is used in place of the Date header when the origin did not send one.
func Lifetime(header http.Header, received time.Time) (time.Duration, bool) {
	return freshnessLifetime(header, received)
}

// MustNotStore reports whether a shared cache MUST NOT store the response.
// The request method is the one that produced the response.
func MustNotStore(method string, status int, header http.Header) bool {
	return mustNotStore(method, status, header)
}

// StorableHeader returns a copy of header without the fields that are not
// stored with a response.
func StorableHeader(header http.Header) http.Header {
	return storableHeader(header)
}

// ForwardHeader returns a copy of header without the hop-by-hop fields
// that are not forwarded to the next hop.
func ForwardHeader(header http.Header) http.Header {
	return withoutHopByHop(header)
}

// SetAge sets the Age header for a stored response that is served
// age after it was received from the origin.
func SetAge(header http.Header, age time.Duration) {
	header.Set("Age", toDeltaSeconds(age))
}

// InvalidatedPaths returns the paths whose stored responses a response to
// an unsafe request invalidates: the target and the same-origin Location
// and Content-Location. host is the Host of the target URI.
// It returns nil for safe methods and error responses.
func InvalidatedPaths(method string, status int, target, host string, header http.Header) []string {
	return invalidatedPaths(method, status, target, host, header)
}
