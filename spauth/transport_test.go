package spauth

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roadmapper/domain/tenant"
)

func TestBuildTransport_ProxyEnvHonoredByDefault(t *testing.T) {
	p := NewProvider(tenant.EnvDev)

	transport, err := p.buildTransport(basicConfig("marketing"))
	require.NoError(t, err)

	// Proxy env vars are honored unless a dedicated agent is
	// requested; going direct would silently strand proxied farms.
	assert.NotNil(t, transport.Proxy)
}

func TestBuildTransport_NeedsProxyUsesExplicitAgent(t *testing.T) {
	t.Setenv("SP_PROXY_URL", "http://egress.example.com:3128")

	p := NewProvider(tenant.EnvDev)
	cfg := basicConfig("marketing")
	cfg.SharePoint.NeedsProxy = true

	transport, err := p.buildTransport(cfg)
	require.NoError(t, err)
	require.NotNil(t, transport.Proxy)

	req, err := http.NewRequest(http.MethodGet, "https://sp.example.com/sites/marketing", nil)
	require.NoError(t, err)
	proxyURL, err := transport.Proxy(req)
	require.NoError(t, err)
	require.NotNil(t, proxyURL)
	assert.Equal(t, "http://egress.example.com:3128", proxyURL.String())
}

func TestBuildTransport_NeedsProxyFallsBackToEnvVars(t *testing.T) {
	t.Setenv("SP_PROXY_URL", "")

	p := NewProvider(tenant.EnvDev)
	cfg := basicConfig("marketing")
	cfg.SharePoint.NeedsProxy = true

	transport, err := p.buildTransport(cfg)
	require.NoError(t, err)
	assert.NotNil(t, transport.Proxy)
}

func TestBuildTransport_MalformedProxyURL(t *testing.T) {
	t.Setenv("SP_PROXY_URL", "://bad")

	p := NewProvider(tenant.EnvDev)
	cfg := basicConfig("marketing")
	cfg.SharePoint.NeedsProxy = true

	_, err := p.buildTransport(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SP_PROXY_URL")
}

func TestBuildTransport_NtlmSocketProbe(t *testing.T) {
	p := NewProvider(tenant.EnvDev)

	cfg := basicConfig("legacy")
	cfg.SharePoint.NtlmPersistentSocket = true

	transport, err := p.buildTransport(cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, transport.MaxConnsPerHost)
	assert.Nil(t, transport.DialContext)

	cfg.SharePoint.NtlmSocketProbe = true
	transport, err = p.buildTransport(cfg)
	require.NoError(t, err)
	assert.NotNil(t, transport.DialContext, "socket probe installs a keep-alive dialer")
}
