// Package edge dispatches viewer requests to the origin their route names,
// reusing cached responses where the route's cache policy allows it.
package edge

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/rs/zerolog"

	"github.com/always-cache/edge/cache"
	"github.com/always-cache/edge/origin"
	cachekey "github.com/always-cache/edge/pkg/cache-key"
	cacheupdate "github.com/always-cache/edge/pkg/cache-update"
	"github.com/always-cache/edge/pkg/edgeerr"
	"github.com/always-cache/edge/rfc9111"
	"github.com/always-cache/edge/rfc9211"
	"github.com/always-cache/edge/route"
	"github.com/always-cache/edge/viewer"
)

type Config struct {
	// Routing table. Required.
	Table *route.Table
	// Origin clients by origin name. Every origin of the table needs one.
	Clients map[string]origin.Client
	// Storage for cache entries. An in-memory cache is used if nil.
	Cache cache.CacheProvider
	// Logger to use. A console logger is used if nil.
	Logger *zerolog.Logger
	// Clock, time.Now if nil.
	Now func() time.Time
	// Largest viewer request body accepted by ServeHTTP. Zero means no limit.
	MaxBodyBytes int64
}

type Dispatcher struct {
	table        *route.Table
	clients      map[string]origin.Client
	cache        cache.CacheProvider
	log          zerolog.Logger
	now          func() time.Time
	maxBodyBytes int64
}

// CreateDispatcher checks that every origin of the table has a client
// and returns the dispatcher.
func CreateDispatcher(config Config) (*Dispatcher, error) {
	// use console logger if not specified in config
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}
	logger = logger.With().Str("component", "dispatcher").Logger()

	if config.Table == nil {
		return nil, edgeerr.New(edgeerr.KindInvalidConfiguration, "dispatcher without routing table")
	}
	d := &Dispatcher{
		table:        config.Table,
		clients:      make(map[string]origin.Client, len(config.Clients)),
		cache:        config.Cache,
		log:          logger,
		now:          config.Now,
		maxBodyBytes: config.MaxBodyBytes,
	}
	for name, client := range config.Clients {
		d.clients[name] = client
	}
	for _, rule := range d.table.Rules() {
		if d.clients[rule.Origin.Name] == nil {
			return nil, edgeerr.New(edgeerr.KindInvalidConfiguration, "no client for origin %s", rule.Origin.Name).
				With("rule", rule.Pattern).With("origin", rule.Origin.Name)
		}
	}
	if d.cache == nil {
		d.cache = cache.NewMemCache()
	}
	if d.now == nil {
		d.now = time.Now
	}
	return d, nil
}

// RequestIDHeader carries the id the dispatcher gives each request.
const RequestIDHeader = "X-Edge-Request-Id"

// State is a step of the life of one request.
type State string

const (
	StateReceived   State = "RECEIVED"
	StateResolved   State = "RESOLVED"
	StateCacheHit   State = "CACHE_HIT"
	StateCacheMiss  State = "CACHE_MISS"
	StateForwarding State = "FORWARDING"
	StateForwarded  State = "FORWARDED"
	StateResponded  State = "RESPONDED"
)

// Response is the answer to a viewer request.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
	// States the request went through, in order. The last one is StateResponded.
	States      []State
	CacheStatus rfc9211.Status
	// Rule the request resolved to, nil only if resolving failed without a match.
	Rule *route.Rule
	// Why the request failed, nil on success.
	// Origin answers with error statuses are not failures for dynamic origins.
	Err error
}

// exchange carries one request through the dispatcher.
type exchange struct {
	d   *Dispatcher
	id  string
	req viewer.Request
	res Response
	log zerolog.Logger
}

func (ex *exchange) enter(s State) {
	ex.res.States = append(ex.res.States, s)
	ex.log.Trace().Str("state", string(s)).Msg("Request state")
}

// Handle serves one viewer request.
func (d *Dispatcher) Handle(ctx context.Context, req viewer.Request) Response {
	id := uuid.Must(uuid.NewV7()).String()
	ex := &exchange{
		d:   d,
		id:  id,
		req: req,
		res: Response{Header: http.Header{}},
		log: d.log.With().
			Str("request_id", id).
			Str("method", req.Method).
			Str("path", req.Path).
			Logger(),
	}
	ex.enter(StateReceived)

	rule, err := d.table.Resolve(req.Path, req.Method)
	ex.res.Rule = rule
	if rule != nil {
		ex.log = ex.log.With().Str("rule", rule.Pattern).Logger()
	}
	if err != nil {
		ex.res.CacheStatus.Forward(rfc9211.FwdReasonMethod)
		return ex.fail(err)
	}
	ex.enter(StateResolved)

	key, found := ex.lookup(ctx)
	if found {
		return ex.respond()
	}
	return ex.forward(ctx, key)
}

// lookup serves the request from the cache if the policy allows it.
// It returns the key to store the origin response under, "" if it must not
// be stored, and whether the response was taken from the cache.
func (ex *exchange) lookup(ctx context.Context) (string, bool) {
	rule := ex.res.Rule
	pol := rule.CachePolicy
	cs := &ex.res.CacheStatus
	if !pol.Enabled() {
		cs.Forward(rfc9211.FwdReasonBypass)
		ex.enter(StateCacheMiss)
		return "", false
	}
	if ex.req.Method != http.MethodGet && ex.req.Method != http.MethodHead {
		cs.Forward(rfc9211.FwdReasonMethod)
		ex.enter(StateCacheMiss)
		return "", false
	}

	key := pol.CacheKey(rule.Origin.Name, ex.req)
	ex.log.Trace().Str("key", key).Msg("Getting cached entry")
	entry, ok, err := ex.d.cache.Get(ctx, key)
	if err != nil {
		ex.log.Error().Err(err).Msg("Could not retrieve from cache")
		cs.Forward(rfc9211.FwdReasonUriMiss)
		cs.Detail("cache-error")
		ex.enter(StateCacheMiss)
		return key, false
	}
	now := ex.d.now()
	if !ok {
		cs.Forward(rfc9211.FwdReasonUriMiss)
		ex.enter(StateCacheMiss)
		return key, false
	}
	if !pol.IsFresh(entry, now) {
		cs.Forward(rfc9211.FwdReasonStale)
		ex.enter(StateCacheMiss)
		return key, false
	}

	ex.enter(StateCacheHit)
	cs.Hit()
	cs.TTL(pol.TTL(entry, now))
	ex.res.Status = entry.Status
	for name, values := range entry.Header {
		ex.res.Header[name] = append([]string(nil), values...)
	}
	rfc9111.SetAge(ex.res.Header, entry.Age(now))
	ex.res.Body = entry.Body
	return key, true
}

func (ex *exchange) forward(ctx context.Context, key string) Response {
	rule := ex.res.Rule
	cs := &ex.res.CacheStatus
	ex.enter(StateForwarding)

	oreq, err := origin.Forward(ex.req, rule.Origin, rule.Scope())
	if err != nil {
		return ex.fail(err)
	}
	ex.log.Trace().Str("origin", rule.Origin.Name).Str("origin_path", oreq.Path).Msg("Forwarding to origin")
	ores, err := ex.d.clients[rule.Origin.Name].Fetch(ctx, oreq)
	if err != nil {
		return ex.fail(err)
	}
	received := ex.d.now()
	ex.enter(StateForwarded)
	cs.ForwardStatus(ores.Status)

	if rule.Origin.Kind == origin.StaticStore && ores.Status >= 500 {
		return ex.fail(&edgeerr.Error{
			Kind:         edgeerr.KindOriginError,
			Message:      "static origin failed",
			OriginStatus: ores.Status,
			Context:      map[string]string{"origin": rule.Origin.Name},
		})
	}

	ex.res.Status = ores.Status
	for name, values := range ores.Header {
		ex.res.Header[name] = append([]string(nil), values...)
	}
	ex.res.Body = ores.Body
	ex.invalidate(ctx)
	ex.store(ctx, key, received)
	return ex.respond()
}

// invalidate removes the stored responses a state-changing request made
// stale. It runs to completion even if the viewer went away, as the origin
// state has already changed.
func (ex *exchange) invalidate(ctx context.Context) {
	target := ex.req.NormalizedPath()
	patterns := rfc9111.InvalidatedPaths(ex.req.Method, ex.res.Status, target, ex.req.Host, ex.res.Header)
	if patterns != nil {
		patterns = append(patterns, cacheupdate.Patterns(target, ex.res.Header)...)
	}
	ex.res.Header.Del(cacheupdate.Header)
	for _, pattern := range patterns {
		if _, err := ex.d.Invalidate(context.WithoutCancel(ctx), pattern); err != nil {
			ex.log.Error().Err(err).Str("pattern", pattern).Msg("Could not invalidate")
		}
	}
}

// store writes the forwarded response to the cache.
// Nothing is written once the request context is done.
func (ex *exchange) store(ctx context.Context, key string, received time.Time) {
	if key == "" {
		return
	}
	pol := ex.res.Rule.CachePolicy
	if !pol.Storable(ex.req.Method, ex.res.Status, ex.res.Header, received) {
		ex.log.Trace().Int("status", ex.res.Status).Msg("Response not storable")
		return
	}
	if err := ctx.Err(); err != nil {
		ex.log.Debug().Err(err).Msg("Request done before store")
		return
	}
	entry := pol.NewEntry(key, ex.res.Status, ex.res.Header, ex.res.Body, received)
	ex.log.Trace().Str("key", key).Time("expires", entry.Expires).Msg("Writing to cache")
	if err := ex.d.cache.Put(ctx, entry); err != nil {
		ex.log.Error().Err(err).Msg("Could not write to cache")
		return
	}
	ex.res.CacheStatus.Stored()
	ex.res.CacheStatus.TTL(pol.TTL(entry, received))
}

// fail answers the request with the status of err.
func (ex *exchange) fail(err error) Response {
	ex.res.Err = err
	ex.res.Status = edgeerr.Status(err)
	ex.res.Header = http.Header{}

	var e *edgeerr.Error
	if errors.As(err, &e) && e.Kind == edgeerr.KindMethodNotAllowed {
		ex.res.Header.Set("Allow", strings.Join(e.Allowed, ", "))
	}
	switch {
	case errors.Is(err, edgeerr.ErrPathTransformMismatch):
		ex.log.Error().Err(err).Bool("alarm", true).Msg("Route and origin path prefix disagree")
	case edgeerr.Fatal(err):
		ex.log.Error().Err(err).Bool("alarm", true).Msg("Configuration error")
	case ex.res.Status >= 500:
		ex.log.Error().Err(err).Msg("Request failed")
	default:
		ex.log.Debug().Err(err).Msg("Request rejected")
	}
	ex.res.Header.Set("Content-Type", "text/plain; charset=utf-8")
	ex.res.Body = []byte(http.StatusText(ex.res.Status) + "\n")
	return ex.respond()
}

// respond applies the rule's header policy and annotates the response.
func (ex *exchange) respond() Response {
	if ex.res.Rule != nil {
		ex.res.Rule.ResponseHeaders.Apply(ex.log, ex.req.Method, ex.req.Header, ex.res.Header)
	}
	// set last so neither stored entries nor origins can carry it
	ex.res.Header.Set(RequestIDHeader, ex.id)
	ex.res.Header.Add("Cache-Status", ex.res.CacheStatus.String())
	ex.enter(StateResponded)

	cs := ex.res.CacheStatus
	isHit := 0
	if cs.IsHit() {
		isHit = 1
	}
	ex.log.Debug().
		Str("sourceIp", ex.req.RemoteIP).
		Int("status", ex.res.Status).
		Str("fwd", string(cs.Reason())).
		Bool("stored", cs.IsStored()).
		Int("hit", isHit).
		Msg("Sending response to client")
	return ex.res
}

// ServeHTTP implements the http.Handler interface.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if err := recover(); err != nil {
			d.log.WithLevel(zerolog.PanicLevel).Interface("error", err).Str("path", r.URL.Path).Msg("Panic in dispatcher")
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
	}()

	req, err := viewer.FromHTTP(r, d.maxBodyBytes)
	if errors.Is(err, viewer.ErrBodyTooLarge) {
		http.Error(w, http.StatusText(http.StatusRequestEntityTooLarge), http.StatusRequestEntityTooLarge)
		return
	} else if err != nil {
		d.log.Debug().Err(err).Msg("Could not read request body")
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	res := d.Handle(r.Context(), req)
	for name, values := range res.Header {
		w.Header()[name] = values
	}
	if r.Method != http.MethodHead {
		w.Header().Set("Content-Length", strconv.Itoa(len(res.Body)))
	}
	w.WriteHeader(res.Status)
	if _, err := w.Write(res.Body); err != nil && !errors.Is(err, http.ErrBodyNotAllowed) {
		d.log.Error().Err(err).Msg("Could not write response body to client")
	}
}

// Invalidate removes cached responses for a path pattern, as a CDN
// invalidation path does: "/*" removes everything, "/_next/static/*" a
// subtree, "/index.html" one resource with all its variants.
// It returns the number of removed entries.
func (d *Dispatcher) Invalidate(ctx context.Context, pattern string) (int, error) {
	removed, err := InvalidateCache(ctx, d.cache, d.table, pattern)
	if err != nil {
		return removed, err
	}
	d.log.Info().Str("pattern", pattern).Int("removed", removed).Msg("Invalidated cache")
	return removed, nil
}

// InvalidateCache is Invalidate for a cache shared with running
// dispatchers, without any origin clients.
func InvalidateCache(ctx context.Context, provider cache.CacheProvider, table *route.Table, pattern string) (int, error) {
	literal, wildcard := strings.CutSuffix(pattern, "*")
	if !strings.HasPrefix(literal, "/") || strings.Contains(literal, "*") {
		return 0, edgeerr.New(edgeerr.KindInvalidConfiguration, "invalid invalidation path %q", pattern)
	}
	if !wildcard {
		literal = viewer.NormalizePath(literal)
	}
	removed := 0
	for _, name := range origins(table) {
		keyer := cachekey.NewKeyer(name)
		for _, method := range []string{http.MethodGet, http.MethodHead} {
			prefix := keyer.ResourcePrefix(method, literal)
			if wildcard {
				prefix = keyer.PathPrefix(method, literal)
			}
			n, err := provider.PurgePrefix(ctx, prefix)
			removed += n
			if err != nil {
				return removed, err
			}
		}
	}
	return removed, nil
}

// origins returns the names of the origins of the table, each once.
func origins(table *route.Table) []string {
	seen := make(map[string]bool)
	var names []string
	for _, rule := range table.Rules() {
		if !seen[rule.Origin.Name] {
			seen[rule.Origin.Name] = true
			names = append(names, rule.Origin.Name)
		}
	}
	return names
}
