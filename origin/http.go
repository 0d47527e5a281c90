package origin

import (
	"bytes"
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/always-cache/edge/pkg/edgeerr"
	"github.com/always-cache/edge/rfc9111"
)

// HTTPCompute forwards requests to a dynamic origin over HTTP.
type HTTPCompute struct {
	name    string
	base    *url.URL
	host    string
	client  *http.Client
	maxBody int64
}

func NewHTTPCompute(desc *Descriptor, opts ClientOptions) (*HTTPCompute, error) {
	base, err := url.Parse(desc.Address)
	if err != nil {
		return nil, edgeerr.Wrap(err, edgeerr.KindInvalidConfiguration, "origin address").With("origin", desc.Name)
	}
	transport := http.DefaultTransport
	host := base.Host
	if desc.Host != "" {
		host = desc.Host
		transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{
				ServerName: desc.Host,
			},
		}
	}
	return &HTTPCompute{
		name: desc.Name,
		base: base,
		host: host,
		client: &http.Client{
			Transport: transport,
			Timeout:   opts.Timeout,
			// redirects are answered to the viewer
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		maxBody: opts.MaxBodyBytes,
	}, nil
}

func (h *HTTPCompute) Fetch(ctx context.Context, req Request) (*Response, error) {
	u := *h.base
	u.Path = strings.TrimSuffix(h.base.Path, "/") + req.Path
	u.RawPath = ""
	u.RawQuery = ""
	if len(req.Query) > 0 {
		u.RawQuery = req.Query.Encode()
	}
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	r, err := http.NewRequestWithContext(ctx, req.Method, u.String(), body)
	if err != nil {
		return nil, edgeerr.Wrap(err, edgeerr.KindOriginError, "create origin request").With("origin", h.name)
	}
	for name, values := range req.Header {
		r.Header[name] = append([]string(nil), values...)
	}
	if cookie := req.CookieHeader(); cookie != "" {
		r.Header.Set("Cookie", cookie)
	}
	r.Host = h.host
	r.Header.Del("Connection")

	res, err := h.client.Do(r)
	if err != nil {
		return nil, unreachable(err, h.name)
	}
	defer res.Body.Close()
	reader := io.Reader(res.Body)
	if h.maxBody > 0 {
		reader = io.LimitReader(res.Body, h.maxBody+1)
	}
	resBody, err := io.ReadAll(reader)
	if err != nil {
		return nil, unreachable(err, h.name)
	}
	if h.maxBody > 0 && int64(len(resBody)) > h.maxBody {
		return nil, edgeerr.New(edgeerr.KindOriginError, "response body larger than %d bytes", h.maxBody).With("origin", h.name)
	}

	header := rfc9111.ForwardHeader(res.Header)
	// §  An origin server with a clock MUST generate a Date header field in
	// §  all 2xx (Successful), 3xx (Redirection), and 4xx (Client Error)
	// §  responses [...]. A recipient with a clock that receives a response
	// §  message without a Date header field MUST record the time it was
	// §  received and append a corresponding Date header field [...]
	if header.Get("Date") == "" {
		header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	}
	header.Del("Content-Length")
	return &Response{
		Status: res.StatusCode,
		Header: header,
		Body:   resBody,
	}, nil
}
