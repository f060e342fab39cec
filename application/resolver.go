package application

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"roadmapper/domain/contracts"
	"roadmapper/domain/tenant"
	"roadmapper/logging"
)

// Tenant-selection signals, in resolution priority order.
const (
	InstanceQueryParam = "instance"
	InstanceHeader     = "X-Roadmap-Instance"
	InstanceCookie     = "roadmap_instance"
)

// MinResolverTTL is the floor for the resolver cache TTL.
const MinResolverTTL = 5 * time.Second

// InstanceResolver maps an inbound request to an instance configuration.
// Lookups are cached by slug and by host with a pure-TTL policy: entries
// are never busted explicitly, so edits become visible within one TTL
// window. Concurrent resolutions may race to populate an entry;
// last-writer-wins is fine because entries are interchangeable in-window.
type InstanceResolver struct {
	repo        contracts.InstanceRepository
	cache       *gocache.Cache
	defaultSlug string
	logger      *logging.Logger
}

// NewInstanceResolver creates a resolver with the given cache TTL and
// optional default slug. TTLs below the floor are raised to it.
func NewInstanceResolver(repo contracts.InstanceRepository, ttl time.Duration, defaultSlug string) *InstanceResolver {
	if ttl < MinResolverTTL {
		ttl = MinResolverTTL
	}
	return &InstanceResolver{
		repo:        repo,
		cache:       gocache.New(ttl, 2*ttl),
		defaultSlug: strings.ToLower(defaultSlug),
		logger:      logging.Default().WithComponent("instance_resolver"),
	}
}

// Resolve maps a request to its instance. First match wins: explicit
// slug query param, dedicated header, session cookie, request host,
// then the operator-configured default.
func (r *InstanceResolver) Resolve(req *http.Request) (*tenant.Config, error) {
	ctx := req.Context()

	if slug := req.URL.Query().Get(InstanceQueryParam); slug != "" {
		return r.BySlug(ctx, slug)
	}
	if slug := req.Header.Get(InstanceHeader); slug != "" {
		return r.BySlug(ctx, slug)
	}
	if cookie, err := req.Cookie(InstanceCookie); err == nil && cookie.Value != "" {
		return r.BySlug(ctx, cookie.Value)
	}

	if host := stripPort(req.Host); host != "" {
		cfg, err := r.ByHost(ctx, host)
		if err == nil {
			return cfg, nil
		}
		if !errors.Is(err, contracts.ErrInstanceNotFound) {
			return nil, err
		}
	}

	if r.defaultSlug != "" {
		return r.BySlug(ctx, r.defaultSlug)
	}

	return nil, &contracts.ConfigurationError{
		Message: "no instance matched the request and no default instance is configured",
	}
}

// BySlug resolves by slug, consulting the TTL cache first.
func (r *InstanceResolver) BySlug(ctx context.Context, slug string) (*tenant.Config, error) {
	slug = strings.ToLower(strings.TrimSpace(slug))
	key := "slug:" + slug

	if v, ok := r.cache.Get(key); ok {
		return v.(*tenant.Config), nil
	}

	cfg, err := r.repo.GetBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, contracts.ErrInstanceNotFound) {
			return nil, &contracts.ConfigurationError{Message: "unknown instance " + slug}
		}
		return nil, err
	}

	r.store(cfg)
	return cfg, nil
}

// ByHost resolves by hostname, consulting the TTL cache first.
func (r *InstanceResolver) ByHost(ctx context.Context, host string) (*tenant.Config, error) {
	host = strings.ToLower(strings.TrimSpace(host))
	key := "host:" + host

	if v, ok := r.cache.Get(key); ok {
		return v.(*tenant.Config), nil
	}

	cfg, err := r.repo.GetByHost(ctx, host)
	if err != nil {
		return nil, err
	}

	r.store(cfg)
	return cfg, nil
}

// List returns every configured instance. Listing always goes to the
// backing store; the admin surface should see edits immediately.
func (r *InstanceResolver) List(ctx context.Context) ([]*tenant.Config, error) {
	return r.repo.List(ctx)
}

// store caches a config under its slug and every registered host, so a
// follow-up lookup by either key is served without a backing-store call.
func (r *InstanceResolver) store(cfg *tenant.Config) {
	r.cache.SetDefault("slug:"+cfg.Slug, cfg)
	for _, host := range cfg.Hosts {
		r.cache.SetDefault("host:"+strings.ToLower(host), cfg)
	}
}

func stripPort(host string) string {
	if host == "" {
		return ""
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}
