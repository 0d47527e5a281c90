package rfc9111

import (
	"net/http"
	"strings"
)

// §  3.  Storing Responses in Caches
func mustNotStore(method string, status int, header http.Header) bool {
	cc := ParseCacheControl(header.Values("Cache-Control"))
	// §    A cache MUST NOT store a response to a request unless:
	// §      *  the request method is understood by the cache;
	if !requestMethodIsUnderstood(method) {
		return true
	}
	// §  *  the response status code is final (see Section 15 of [HTTP]);
	if status < 200 || status > 599 {
		return true
	}
	// §  *  if the response status code is 206 or 304, or the must-understand
	// §     cache directive (see Section 5.2.2.3) is present: the cache
	// §     understands the response status code;
	if (status == 206 || status == 304 || cc.HasDirective("must-understand")) &&
		!responseStatusCodeIsUnderstood(status) {
		return true
	}
	// §  *  the no-store cache directive is not present in the response (see
	// §     Section 5.2.2.5);
	if cc.HasDirective("no-store") {
		return true
	}
	// §  *  if the cache is shared: the private response directive is either
	// §     not present or allows a shared cache to store a modified response;
	//
	// the second part of the or is a "MAY" - we don't do that
	if cc.HasDirective("private") {
		return true
	}
	// The edge stores any response with a heuristically cacheable status,
	// its cache policy provides the lifetime when the origin did not.
	//
	// §  *  the response contains at least one of the following:
	// §      [...]
	// §      -  a status code that is defined as heuristically cacheable (see
	// §         Section 4.2.2).
	return !heuristicallyCacheable(status)
}

// §  In this context, a cache has "understood" a request method or a
// §  response status code if it recognizes it and implements all specified
// §  caching-related behavior.
func requestMethodIsUnderstood(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead:
		return true
	}
	return false
}

func responseStatusCodeIsUnderstood(status int) bool {
	return heuristicallyCacheable(status)
}

// The list is from Section 15.1 of [HTTP].
func heuristicallyCacheable(status int) bool {
	switch status {
	case 200, 203, 204, 300, 301, 308, 404, 405, 410, 414, 501:
		return true
	}
	return false
}

// §  3.1.  Storing Header and Trailer Fields
// §
// §     Caches MUST include all received response header fields -- including
// §     unrecognized ones -- when storing a response [...]. However, the
// §     following exceptions are made:
// §
// §     *  The Connection header field and fields whose names are listed in
// §        it are required by Section 7.6.1 of [HTTP] to be removed before
// §        forwarding the message.  This MAY be implemented by doing so
// §        before storage.
// §
// §     *  Likewise, some fields' semantics require them to be removed before
// §        forwarding the message [...]
// §
// §     *  Header fields that are specific to the proxy that a cache uses
// §        when forwarding a request MUST NOT be stored [...]
func storableHeader(header http.Header) http.Header {
	if header == nil {
		return make(http.Header)
	}
	h := withoutHopByHop(header)
	h.Del("Proxy-Authenticate")
	h.Del("Proxy-Authentication-Info")
	h.Del("Proxy-Authorization")
	return h
}

func withoutHopByHop(header http.Header) http.Header {
	h := header.Clone()
	if h == nil {
		return make(http.Header)
	}
	for _, field := range GetListHeader(header, "Connection") {
		h.Del(field)
	}
	h.Del("Connection")
	h.Del("Proxy-Connection")
	h.Del("Keep-Alive")
	h.Del("TE")
	h.Del("Transfer-Encoding")
	h.Del("Upgrade")
	return h
}

// GetListHeader returns the members of a list-based field, across all field lines.
func GetListHeader(header http.Header, field string) []string {
	list := make([]string, 0)
	for _, hdr := range header.Values(field) {
		for _, item := range strings.Split(hdr, ",") {
			if item = strings.TrimSpace(item); item != "" {
				list = append(list, item)
			}
		}
	}
	return list
}
