// Package spauth turns per-instance SharePoint settings into
// authenticated clients and header sets. Strategy dispatch follows the
// tenant.AuthStrategy union; the credential exchanges themselves are
// delegated to gosip's auth packages.
package spauth

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/koltyakov/gosip"
	"github.com/koltyakov/gosip/auth/anon"
	"github.com/koltyakov/gosip/auth/fba"
	"github.com/koltyakov/gosip/auth/ntlm"
	"github.com/koltyakov/gosip/auth/saml"
	gocache "github.com/patrickmn/go-cache"

	"roadmapper/domain/contracts"
	"roadmapper/domain/tenant"
	"roadmapper/logging"
)

// Provider resolves authentication for instances. It owns the TLS/proxy
// agent configuration and a short-lived cache of resolved header sets.
// Constructed once at process start and injected; it keeps no other
// process-global state.
type Provider struct {
	env     string
	headers *gocache.Cache

	mu      sync.Mutex
	clients map[string]*gosip.SPClient

	logger *logging.Logger
}

// NewProvider creates an authentication provider for the given
// environment (dev or prod site URL selection).
func NewProvider(env string) *Provider {
	return &Provider{
		env:     env,
		headers: gocache.New(time.Minute, 5*time.Minute),
		clients: make(map[string]*gosip.SPClient),
		logger:  logging.Default().WithComponent("auth_provider"),
	}
}

// Client returns an authenticated SharePoint HTTP client for the
// instance, with TLS trust and proxy agents configured per its settings.
// Clients are cached per slug; AuthNoCache forces a fresh one each call.
func (p *Provider) Client(t *tenant.Config) (*gosip.SPClient, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !t.SharePoint.AuthNoCache {
		if client, ok := p.clients[t.Slug]; ok {
			return client, nil
		}
	}

	strategy, err := t.SharePoint.AuthStrategy()
	if err != nil {
		return nil, &contracts.AuthenticationError{Slug: t.Slug, Strategy: t.SharePoint.Strategy, Cause: err}
	}

	client, err := p.buildClient(t, strategy)
	if err != nil {
		return nil, err
	}

	if !t.SharePoint.AuthNoCache {
		p.clients[t.Slug] = client
	}
	return client, nil
}

// Headers resolves the HTTP headers that authenticate calls for the
// instance: a claims cookie for online/fba, a static Authorization for
// basic. NTLM and Kerberos authenticate at the transport level, so their
// header set is empty by design; the returned client carries the
// handshake. A failed exchange is always surfaced as an
// AuthenticationError, never as silently-empty headers.
func (p *Provider) Headers(ctx context.Context, t *tenant.Config) (http.Header, error) {
	// Cached header sets are scoped to the instance; credentials never
	// cross slugs. ForceSingleCreds pins one entry for the slug
	// regardless of strategy, so a strategy flip keeps serving the
	// first credential set until it expires.
	cacheKey := t.Slug + ":" + t.SharePoint.Strategy
	if t.SharePoint.ForceSingleCreds {
		cacheKey = t.Slug
	}
	if !t.SharePoint.AuthNoCache {
		if v, ok := p.headers.Get(cacheKey); ok {
			return v.(http.Header), nil
		}
	}

	strategy, err := t.SharePoint.AuthStrategy()
	if err != nil {
		return nil, &contracts.AuthenticationError{Slug: t.Slug, Strategy: t.SharePoint.Strategy, Cause: err}
	}

	attempts := append([]tenant.AuthStrategy{strategy}, t.SharePoint.FallbackStrategies()...)

	var lastErr error
	for _, attempt := range attempts {
		headers, expiry, err := p.resolveHeaders(t, attempt)
		if err != nil {
			lastErr = err
			p.logger.Warn("Auth attempt failed",
				"instance", t.Slug, "strategy", attempt.Name(), "error", err.Error())
			continue
		}

		if !t.SharePoint.AuthNoCache {
			ttl := gocache.DefaultExpiration
			if !expiry.IsZero() {
				ttl = time.Until(expiry)
			}
			if ttl >= 0 {
				p.headers.Set(cacheKey, headers, ttl)
			}
		}
		return headers, nil
	}

	return nil, &contracts.AuthenticationError{Slug: t.Slug, Strategy: t.SharePoint.Strategy, Cause: lastErr}
}

// resolveHeaders performs one credential exchange for one strategy.
func (p *Provider) resolveHeaders(t *tenant.Config, strategy tenant.AuthStrategy) (http.Header, time.Time, error) {
	headers := http.Header{}

	switch s := strategy.(type) {
	case tenant.Basic:
		token := base64.StdEncoding.EncodeToString([]byte(s.Username + ":" + s.Password))
		headers.Set("Authorization", "Basic "+token)
		return headers, time.Time{}, nil

	case tenant.OnPremNTLM, tenant.OnPremUserPass:
		// The handshake runs inside the client transport; log the
		// configured workstation because mismatched workstation names
		// cause silent failures on some farms.
		p.logger.SharePoint("NTLM transport auth",
			"instance", t.Slug,
			"domain", t.SharePoint.Domain,
			"workstation", t.SharePoint.Workstation)
		return headers, time.Time{}, nil

	case tenant.Kerberos:
		// Negotiate happens at the curl transport with ambient tickets.
		p.logger.SharePoint("Kerberos negotiate deferred to transport",
			"instance", t.Slug, "principal", s.Username)
		return headers, time.Time{}, nil

	default:
		cnfg, err := p.authCnfg(t, strategy)
		if err != nil {
			return nil, time.Time{}, err
		}
		token, expiryUnix, err := cnfg.GetAuth()
		if err != nil {
			return nil, time.Time{}, fmt.Errorf("%s exchange: %w", strategy.Name(), err)
		}
		if token == "" {
			return nil, time.Time{}, fmt.Errorf("%s exchange returned no credential", strategy.Name())
		}
		headers.Set("Cookie", token)

		var expiry time.Time
		if expiryUnix > 0 {
			expiry = time.Unix(expiryUnix, 0).Add(-time.Minute)
		}
		return headers, expiry, nil
	}
}

// buildClient constructs the gosip client for a strategy, installing
// the per-instance TLS/proxy transport before gosip wraps it.
func (p *Provider) buildClient(t *tenant.Config, strategy tenant.AuthStrategy) (*gosip.SPClient, error) {
	cnfg, err := p.authCnfg(t, strategy)
	if err != nil {
		return nil, &contracts.AuthenticationError{Slug: t.Slug, Strategy: strategy.Name(), Cause: err}
	}

	transport, err := p.buildTransport(t)
	if err != nil {
		return nil, &contracts.AuthenticationError{Slug: t.Slug, Strategy: strategy.Name(), Cause: err}
	}

	client := &gosip.SPClient{AuthCnfg: cnfg}
	client.Transport = transport
	return client, nil
}

// authCnfg maps a strategy variant onto the gosip auth configuration
// that implements its exchange.
func (p *Provider) authCnfg(t *tenant.Config, strategy tenant.AuthStrategy) (gosip.AuthCnfg, error) {
	siteURL := t.SharePoint.SiteURL(p.env)

	switch s := strategy.(type) {
	case tenant.Online:
		return &saml.AuthCnfg{SiteURL: siteURL, Username: s.Username, Password: s.Password}, nil
	case tenant.OnPremNTLM:
		return &ntlm.AuthCnfg{SiteURL: siteURL, Domain: s.Domain, Username: s.Username, Password: s.Password}, nil
	case tenant.OnPremUserPass:
		return &ntlm.AuthCnfg{SiteURL: siteURL, Domain: s.Domain, Username: s.Username, Password: s.Password}, nil
	case tenant.FBA:
		return &fba.AuthCnfg{SiteURL: siteURL, Username: s.Username, Password: s.Password}, nil
	case tenant.Basic, tenant.Kerberos:
		// Credentials ride on headers or the curl transport; the client
		// itself stays anonymous.
		return &anon.AuthCnfg{SiteURL: siteURL}, nil
	default:
		return nil, fmt.Errorf("no client mapping for strategy %q", strategy.Name())
	}
}
