package spauth

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"

	"roadmapper/domain/tenant"
)

// buildTransport assembles the HTTP transport for an instance: TLS trust
// mode, forward proxy, and socket keep-alive behavior.
//
// Trust resolution order: AllowSelfSigned disables verification outright
// (logged as a security downgrade), else a configured CA bundle is
// loaded once and pinned alongside the system roots, else the system
// store alone is used.
func (p *Provider) buildTransport(t *tenant.Config) (*http.Transport, error) {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 60 * time.Second,
		IdleConnTimeout:       90 * time.Second,
	}

	if t.SharePoint.NeedsProxy {
		// Standard proxy env vars are already honored by default; the
		// explicit agent overrides them when one is configured.
		proxy, err := explicitProxy()
		if err != nil {
			return nil, err
		}
		if proxy != nil {
			transport.Proxy = proxy
		}
	}

	tlsConfig := &tls.Config{}
	switch {
	case t.SharePoint.AllowSelfSigned:
		tlsConfig.InsecureSkipVerify = true
		p.logger.Security("TLS certificate validation disabled for instance",
			"instance", t.Slug)
	case t.SharePoint.TrustedCAPath != "":
		pool, err := trustedPool(t.SharePoint.TrustedCAPath)
		if err != nil {
			return nil, err
		}
		tlsConfig.RootCAs = pool
	}
	transport.TLSClientConfig = tlsConfig

	if t.SharePoint.NtlmPersistentSocket {
		// NTLM authenticates the connection, not the request; keep one
		// socket alive per host so the handshake is not renegotiated.
		transport.MaxIdleConnsPerHost = 1
		transport.MaxConnsPerHost = 1
		transport.DisableKeepAlives = false

		if t.SharePoint.NtlmSocketProbe {
			// A silently dropped socket otherwise surfaces only on
			// the next write; TCP keep-alive probes detect it first.
			transport.DialContext = (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 15 * time.Second,
			}).DialContext
		}
	}

	return transport, nil
}

// explicitProxy resolves the dedicated proxy agent from SP_PROXY_URL.
// Instances flagged NeedsProxy route through it; when unset they fall
// back to the standard proxy environment variables like everyone else.
func explicitProxy() (func(*http.Request) (*url.URL, error), error) {
	raw := os.Getenv("SP_PROXY_URL")
	if raw == "" {
		return nil, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse SP_PROXY_URL: %w", err)
	}
	return http.ProxyURL(u), nil
}

// trustedPool loads the CA bundle at path on top of the system roots.
func trustedPool(path string) (*x509.CertPool, error) {
	pool, err := x509.SystemCertPool()
	if err != nil {
		pool = x509.NewCertPool()
	}

	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read trusted CA bundle %s: %w", path, err)
	}
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("trusted CA bundle %s contains no usable certificates", path)
	}
	return pool, nil
}
