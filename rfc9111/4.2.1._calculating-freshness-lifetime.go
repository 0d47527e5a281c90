package rfc9111

import (
	"net/http"
	"time"
)

// §  4.2.1.  Calculating Freshness Lifetime
func freshnessLifetime(header http.Header, received time.Time) (time.Duration, bool) {
	cc := ParseCacheControl(header.Values("Cache-Control"))
	// §     A cache can calculate the freshness lifetime (denoted as
	// §     freshness_lifetime) of a response by evaluating the following rules
	// §     and using the first match:
	// §
	// §     *  If the cache is shared and the s-maxage response directive
	// §        (Section 5.2.2.10) is present, use its value, or
	if val, ok := cc.SMaxAge(); ok {
		return val, true
	}
	// §     *  If the max-age response directive (Section 5.2.2.1) is present,
	// §        use its value, or
	if val, ok := cc.MaxAge(); ok {
		return val, true
	}
	// §     *  If the Expires response header field (Section 5.3) is present, use
	// §        its value minus the value of the Date response header field (using
	// §        the time the message was received if it is not present, as per
	// §        Section 6.6.1 of [HTTP]), or
	if expiresStr := header.Get("Expires"); expiresStr != "" {
		expires, err := HttpDate(expiresStr)
		if err != nil {
			// §  A cache recipient MUST interpret invalid date formats, especially the
			// §  value "0", as representing a time in the past (i.e., "already
			// §  expired").
			return 0, true
		}
		date, err := HttpDate(header.Get("Date"))
		if err != nil {
			date = received
		}
		if lifetime := expires.Sub(date); lifetime > 0 {
			return lifetime, true
		}
		return 0, true
	}
	// §     *  Otherwise, no explicit expiration time is present in the response.
	// §        A heuristic freshness lifetime might be applicable; see
	// §        Section 4.2.2.
	return 0, false
}
