// Package rfc9211 renders the Cache-Status response header field (RFC 9211).
package rfc9211

import (
	"fmt"
	"strings"
	"time"
)

// Cache is the identifier the edge uses for itself in the Cache-Status list.
const Cache = "Edge"

type FwdReason string

const (
	// The cache was configured to not handle this request.
	FwdReasonBypass FwdReason = "bypass"

	// The request method's semantics require the request to be
	// forwarded.
	FwdReasonMethod FwdReason = "method"

	// The cache did not contain any responses that matched the
	// request URI.
	FwdReasonUriMiss FwdReason = "uri-miss"

	// The cache was able to select a response for the request, but
	// it was stale.
	FwdReasonStale FwdReason = "stale"
)

// Status is one member of the Cache-Status list.
// The zero value is a forward without a reason.
type Status struct {
	hit       bool
	fwdReason FwdReason
	fwdStatus int
	stored    bool
	ttl       time.Duration
	hasTTL    bool
	detail    string
}

func (cs *Status) Hit() {
	cs.hit = true
	cs.fwdReason = ""
}

func (cs *Status) Forward(reason FwdReason) {
	cs.hit = false
	cs.fwdReason = reason
}

// ForwardStatus records the status code the origin answered a forward with.
func (cs *Status) ForwardStatus(status int) {
	cs.fwdStatus = status
}

func (cs *Status) Stored() {
	cs.stored = true
}

// TTL records the remaining freshness of the response, negative when stale.
func (cs *Status) TTL(ttl time.Duration) {
	cs.ttl = ttl
	cs.hasTTL = true
}

func (cs *Status) Detail(detail string) {
	cs.detail = detail
}

func (cs *Status) IsHit() bool {
	return cs.hit
}

func (cs *Status) Reason() FwdReason {
	return cs.fwdReason
}

func (cs *Status) IsStored() bool {
	return cs.stored
}

func (cs *Status) String() string {
	var b strings.Builder
	b.WriteString(Cache)
	if cs.hit {
		b.WriteString("; hit")
	} else {
		b.WriteString("; fwd")
		if cs.fwdReason != "" {
			b.WriteString("=" + string(cs.fwdReason))
		}
		if cs.fwdStatus != 0 {
			fmt.Fprintf(&b, "; fwd-status=%d", cs.fwdStatus)
		}
	}
	if cs.stored {
		b.WriteString("; stored")
	}
	if cs.hasTTL {
		fmt.Fprintf(&b, "; ttl=%d", int64(cs.ttl.Seconds()))
	}
	if cs.detail != "" {
		b.WriteString("; detail=" + cs.detail)
	}
	return b.String()
}
