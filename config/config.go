// Package config reads the edge configuration file and turns it into
// routing tables, origin clients and a cache provider.
package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/always-cache/edge/cache"
	"github.com/always-cache/edge/origin"
	"github.com/always-cache/edge/pkg/edgeerr"
	"github.com/always-cache/edge/policy"
	"github.com/always-cache/edge/route"
)

type File struct {
	Port int `yaml:"port"`
	// Largest viewer request body. Zero means no limit.
	MaxBodyBytes int64 `yaml:"maxBodyBytes"`
	// Largest origin response body. Zero means no limit.
	MaxOriginBodyBytes int64          `yaml:"maxOriginBodyBytes"`
	OriginTimeout      Duration       `yaml:"originTimeout"`
	Cache              Cache          `yaml:"cache"`
	S3                 S3             `yaml:"s3"`
	Origins            []Origin       `yaml:"origins"`
	Policies           []Policy       `yaml:"policies"`
	HeaderPolicies     []HeaderPolicy `yaml:"headerPolicies"`
	Default            Rule           `yaml:"default"`
	Rules              []Rule         `yaml:"rules"`
}

type Cache struct {
	// memory, sqlite or redis.
	Provider string `yaml:"provider"`
	// Database file of the sqlite provider.
	Filename string `yaml:"filename"`
	// redis://... URL of the redis provider.
	URL       string `yaml:"url"`
	KeyPrefix string `yaml:"keyPrefix"`
	// How often the sqlite provider removes expired entries.
	EvictInterval Duration `yaml:"evictInterval"`
}

type S3 struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Region    string `yaml:"region"`
	Insecure  bool   `yaml:"insecure"`
}

type Origin struct {
	Name        string `yaml:"name"`
	Kind        string `yaml:"kind"`
	Address     string `yaml:"address"`
	StripPrefix string `yaml:"stripPrefix"`
	AddPrefix   string `yaml:"addPrefix"`
	Host        string `yaml:"host"`
	// Cache-Control of objects served from a file:// origin.
	CacheControl string `yaml:"cacheControl"`
}

type Policy struct {
	Name        string   `yaml:"name"`
	DefaultTTL  Duration `yaml:"defaultTtl"`
	MinTTL      Duration `yaml:"minTtl"`
	MaxTTL      Duration `yaml:"maxTtl"`
	VaryHeaders string   `yaml:"varyHeaders"`
	VaryCookies string   `yaml:"varyCookies"`
	VaryQuery   string   `yaml:"varyQuery"`
}

type HeaderPolicy struct {
	Name   string         `yaml:"name"`
	CORS   *CORS          `yaml:"cors"`
	Custom []CustomHeader `yaml:"custom"`
}

type CORS struct {
	AllowOrigins     []string `yaml:"allowOrigins"`
	AllowMethods     []string `yaml:"allowMethods"`
	AllowHeaders     []string `yaml:"allowHeaders"`
	ExposeHeaders    []string `yaml:"exposeHeaders"`
	AllowCredentials bool     `yaml:"allowCredentials"`
	MaxAge           Duration `yaml:"maxAge"`
	OriginOverride   bool     `yaml:"originOverride"`
}

type CustomHeader struct {
	Name     string `yaml:"name"`
	Value    string `yaml:"value"`
	Override bool   `yaml:"override"`
}

type Rule struct {
	// Empty for the default rule.
	Pattern string `yaml:"pattern"`
	Origin  string `yaml:"origin"`
	Policy  string `yaml:"policy"`
	// Allowed methods. "*" allows every method the origin accepts.
	Methods []string `yaml:"methods"`
	// Name of a header policy.
	Headers string   `yaml:"headers"`
	Forward *Forward `yaml:"forward"`
}

// Forward selects what a rule forwards. "*" selects every name.
type Forward struct {
	Headers []string `yaml:"headers"`
	Cookies []string `yaml:"cookies"`
	Query   []string `yaml:"query"`
	Body    bool     `yaml:"body"`
}

// Load reads a configuration file. Environment variables are expanded
// before the file is parsed, so credentials can be kept out of it.
func Load(filename string) (*File, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

// Parse parses a configuration, rejecting unknown fields.
func Parse(b []byte) (*File, error) {
	dec := yaml.NewDecoder(bytes.NewReader([]byte(os.ExpandEnv(string(b)))))
	dec.KnownFields(true)
	var f File
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, edgeerr.Wrap(err, edgeerr.KindInvalidConfiguration, "parse config")
	}
	return &f, nil
}

// Edge is what a configuration file builds to.
type Edge struct {
	Table    *route.Table
	Origins  map[string]*origin.Descriptor
	Policies map[string]*policy.CachePolicy
}

func invalid(format string, args ...any) *edgeerr.Error {
	return edgeerr.New(edgeerr.KindInvalidConfiguration, format, args...)
}

// Build validates the configuration and builds the routing table.
// The policies caching-disabled and immutable-static are always defined.
func (f *File) Build() (*Edge, error) {
	e := &Edge{
		Origins: make(map[string]*origin.Descriptor),
		Policies: map[string]*policy.CachePolicy{
			policy.CachingDisabled().Name(): policy.CachingDisabled(),
			policy.ImmutableStatic().Name(): policy.ImmutableStatic(),
		},
	}
	for _, o := range f.Origins {
		desc, err := o.descriptor()
		if err != nil {
			return nil, err
		}
		if _, ok := e.Origins[desc.Name]; ok {
			return nil, invalid("origin %s defined twice", desc.Name)
		}
		e.Origins[desc.Name] = desc
	}
	for _, p := range f.Policies {
		if _, ok := e.Policies[p.Name]; ok || p.Name == "" {
			return nil, invalid("policy name %q empty or defined twice", p.Name)
		}
		pol, err := p.policy()
		if err != nil {
			return nil, err
		}
		e.Policies[p.Name] = pol
	}
	headers := make(map[string]*route.HeaderPolicy)
	for _, h := range f.HeaderPolicies {
		if _, ok := headers[h.Name]; ok || h.Name == "" {
			return nil, invalid("header policy name %q empty or defined twice", h.Name)
		}
		headers[h.Name] = h.headerPolicy()
	}

	def, err := f.Default.rule(e, headers)
	if err != nil {
		return nil, err
	}
	rules := make([]*route.Rule, 0, len(f.Rules))
	for _, r := range f.Rules {
		if r.Pattern == "" {
			return nil, invalid("rule without pattern").With("origin", r.Origin)
		}
		rule, err := r.rule(e, headers)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	if e.Table, err = route.NewTable(def, rules...); err != nil {
		return nil, err
	}
	return e, nil
}

func (o Origin) descriptor() (*origin.Descriptor, error) {
	kind, err := origin.ParseKind(o.Kind)
	var kindErr *edgeerr.Error
	if errors.As(err, &kindErr) {
		return nil, kindErr.With("origin", o.Name)
	}
	desc := &origin.Descriptor{
		Name:            o.Name,
		Kind:            kind,
		Address:         o.Address,
		PathPrefixStrip: o.StripPrefix,
		PathPrefixAdd:   o.AddPrefix,
		Host:            o.Host,
	}
	return desc, desc.Validate()
}

func (p Policy) policy() (*policy.CachePolicy, error) {
	cfg := policy.Config{
		Name:       p.Name,
		DefaultTTL: time.Duration(p.DefaultTTL),
		MinTTL:     time.Duration(p.MinTTL),
		MaxTTL:     time.Duration(p.MaxTTL),
	}
	var err error
	if cfg.VaryHeaders, err = policy.ParseVary(p.VaryHeaders); err != nil {
		return nil, err
	}
	if cfg.VaryCookies, err = policy.ParseVary(p.VaryCookies); err != nil {
		return nil, err
	}
	if cfg.VaryQuery, err = policy.ParseVary(p.VaryQuery); err != nil {
		return nil, err
	}
	return policy.New(cfg)
}

func (h HeaderPolicy) headerPolicy() *route.HeaderPolicy {
	hp := &route.HeaderPolicy{Name: h.Name}
	for _, c := range h.Custom {
		hp.Custom = append(hp.Custom, route.CustomHeader{Name: c.Name, Value: c.Value, Override: c.Override})
	}
	if h.CORS != nil {
		hp.CORS = &route.CORS{
			AllowOrigins:     h.CORS.AllowOrigins,
			AllowMethods:     h.CORS.AllowMethods,
			AllowHeaders:     h.CORS.AllowHeaders,
			ExposeHeaders:    h.CORS.ExposeHeaders,
			AllowCredentials: h.CORS.AllowCredentials,
			MaxAge:           time.Duration(h.CORS.MaxAge),
			OriginOverride:   h.CORS.OriginOverride,
		}
	}
	return hp
}

func (r Rule) rule(e *Edge, headers map[string]*route.HeaderPolicy) (*route.Rule, error) {
	pattern := r.Pattern
	if pattern == "" {
		pattern = "default"
	}
	desc, ok := e.Origins[r.Origin]
	if !ok {
		return nil, invalid("unknown origin %q", r.Origin).With("rule", pattern)
	}
	pol, ok := e.Policies[r.Policy]
	if !ok {
		return nil, invalid("unknown policy %q", r.Policy).With("rule", pattern)
	}
	rule := &route.Rule{
		Pattern:        r.Pattern,
		Origin:         desc,
		CachePolicy:    pol,
		AllowedMethods: r.Methods,
	}
	if len(r.Methods) == 1 && r.Methods[0] == "*" {
		rule.AllowedMethods = desc.Kind.Methods()
	}
	if r.Headers != "" {
		if rule.ResponseHeaders, ok = headers[r.Headers]; !ok {
			return nil, invalid("unknown header policy %q", r.Headers).With("rule", pattern)
		}
	}
	if r.Forward != nil {
		scope := origin.Scope{
			Headers: selection(r.Forward.Headers),
			Cookies: selection(r.Forward.Cookies),
			Query:   selection(r.Forward.Query),
			Body:    r.Forward.Body,
		}
		rule.Forwarding = &scope
	}
	return rule, nil
}

func selection(names []string) origin.Selection {
	for _, n := range names {
		if n == "*" {
			return origin.Selection{All: true}
		}
	}
	return origin.Selection{Names: names}
}

// Clients creates a client for every origin of e.
func (f *File) Clients(ctx context.Context, e *Edge) (map[string]origin.Client, error) {
	clients := make(map[string]origin.Client, len(e.Origins))
	cacheControl := make(map[string]string)
	for _, o := range f.Origins {
		cacheControl[o.Name] = o.CacheControl
	}
	for name, desc := range e.Origins {
		client, err := origin.NewClient(ctx, desc, origin.ClientOptions{
			Timeout:          time.Duration(f.OriginTimeout),
			MaxBodyBytes:     f.MaxOriginBodyBytes,
			S3Endpoint:       f.S3.Endpoint,
			S3AccessKey:      f.S3.AccessKey,
			S3SecretKey:      f.S3.SecretKey,
			S3Region:         f.S3.Region,
			S3Insecure:       f.S3.Insecure,
			FileCacheControl: cacheControl[name],
		})
		if err != nil {
			return nil, fmt.Errorf("origin %s: %w", name, err)
		}
		clients[name] = client
	}
	return clients, nil
}

// CacheProvider opens the configured cache. The in-memory cache is the default.
func (f *File) CacheProvider(ctx context.Context) (cache.CacheProvider, error) {
	switch strings.ToLower(f.Cache.Provider) {
	case "", "memory":
		return cache.NewMemCache(), nil
	case "sqlite":
		filename := f.Cache.Filename
		if filename == "" {
			filename = "edge-cache.db"
		}
		return cache.NewSQLiteCache(filename)
	case "redis":
		if f.Cache.URL == "" {
			return nil, invalid("redis cache without url")
		}
		return cache.NewRedisCache(ctx, f.Cache.URL, f.Cache.KeyPrefix)
	}
	return nil, invalid("unknown cache provider %q", f.Cache.Provider)
}

// SharedCache reports whether the configured cache outlives the process,
// so that another process can invalidate it.
func (f *File) SharedCache() bool {
	switch strings.ToLower(f.Cache.Provider) {
	case "", "memory":
		return false
	}
	return true
}

// Duration is a time.Duration in YAML. Besides Go durations ("90s", "10m")
// it accepts days ("365d") and plain numbers of seconds.
type Duration time.Duration

func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.ParseInt(days, 10, 64)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(s)
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

func (d Duration) String() string {
	day := 24 * time.Hour
	if t := time.Duration(d); t != 0 && t%day == 0 {
		return strconv.FormatInt(int64(t/day), 10) + "d"
	}
	return time.Duration(d).String()
}
