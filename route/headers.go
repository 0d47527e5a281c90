package route

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/always-cache/edge/pkg/edgeerr"
)

// HeaderPolicy adds headers to the responses of a rule.
type HeaderPolicy struct {
	Name   string
	CORS   *CORS
	Custom []CustomHeader
}

// CustomHeader is a fixed response header.
// Without Override a value sent by the origin is kept.
type CustomHeader struct {
	Name     string
	Value    string
	Override bool
}

// CORS is a cross-origin resource sharing policy.
type CORS struct {
	// "*" or a list of origins ("https://example.com").
	AllowOrigins     []string
	AllowMethods     []string
	AllowHeaders     []string
	ExposeHeaders    []string
	AllowCredentials bool
	MaxAge           time.Duration
	// Replace CORS headers sent by the origin instead of keeping them.
	OriginOverride bool
}

// Validate checks the policy on its own.
func (h *HeaderPolicy) Validate() error {
	invalid := func(format string, args ...any) error {
		return edgeerr.New(edgeerr.KindInvalidConfiguration, format, args...).With("header_policy", h.Name)
	}
	for _, c := range h.Custom {
		if c.Name == "" {
			return invalid("custom header without name")
		}
	}
	if h.CORS == nil {
		return nil
	}
	if len(h.CORS.AllowOrigins) == 0 {
		return invalid("cors without allowed origins")
	}
	if h.CORS.MaxAge < 0 {
		return invalid("negative cors max age")
	}
	return nil
}

// Apply sets the policy headers on a response to a request with reqHeader.
// CORS headers are only set for cross-origin requests from an allowed origin.
func (h *HeaderPolicy) Apply(log zerolog.Logger, method string, reqHeader, resHeader http.Header) {
	if h == nil {
		return
	}
	for _, c := range h.Custom {
		if c.Override || resHeader.Get(c.Name) == "" {
			log.Trace().Msgf("Setting header %s", c.Name)
			resHeader.Set(c.Name, c.Value)
		}
	}
	if h.CORS != nil {
		h.CORS.apply(log, method, reqHeader, resHeader)
	}
}

const (
	allowOrigin      = "Access-Control-Allow-Origin"
	allowMethods     = "Access-Control-Allow-Methods"
	allowHeaders     = "Access-Control-Allow-Headers"
	exposeHeaders    = "Access-Control-Expose-Headers"
	allowCredentials = "Access-Control-Allow-Credentials"
	maxAge           = "Access-Control-Max-Age"
)

func (c *CORS) apply(log zerolog.Logger, method string, reqHeader, resHeader http.Header) {
	requestOrigin := reqHeader.Get("Origin")
	if requestOrigin == "" {
		return
	}
	if !c.OriginOverride && resHeader.Get(allowOrigin) != "" {
		log.Trace().Msg("Keeping CORS headers from origin")
		return
	}
	value, echo := c.allowedOrigin(requestOrigin)
	if value == "" {
		log.Trace().Str("request_origin", requestOrigin).Msg("Origin not allowed for CORS")
		return
	}
	set := func(name string, values []string) {
		if len(values) > 0 {
			resHeader.Set(name, strings.Join(values, ", "))
		}
	}
	resHeader.Set(allowOrigin, value)
	if echo {
		resHeader.Add("Vary", "Origin")
	}
	set(allowMethods, c.AllowMethods)
	set(allowHeaders, c.AllowHeaders)
	set(exposeHeaders, c.ExposeHeaders)
	if c.AllowCredentials {
		resHeader.Set(allowCredentials, "true")
	} else {
		resHeader.Del(allowCredentials)
	}
	if method == http.MethodOptions && c.MaxAge > 0 {
		resHeader.Set(maxAge, strconv.Itoa(int(c.MaxAge.Seconds())))
	}
}

// allowedOrigin returns the Access-Control-Allow-Origin value for a
// request origin, and whether the value echoes the origin.
// A wildcard cannot be combined with credentials, so it is echoed then.
func (c *CORS) allowedOrigin(requestOrigin string) (string, bool) {
	for _, o := range c.AllowOrigins {
		if o == "*" {
			if c.AllowCredentials {
				return requestOrigin, true
			}
			return "*", false
		}
		if strings.EqualFold(o, requestOrigin) {
			return requestOrigin, true
		}
	}
	return "", false
}
