package spproxy

import (
	"context"
	"net/http"
	"testing"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roadmapper/domain/tenant"
)

func curlConfig(strategy string) *tenant.Config {
	return &tenant.Config{
		Slug: "legacy",
		SharePoint: tenant.Settings{
			SiteURLDev: "https://sp.onprem.example.com/sites/legacy",
			Strategy:   strategy,
			Username:   "svc_roadmap",
			Password:   "s3cret",
			Domain:     "CORP",
		},
	}
}

const curlOKOutput = "HTTP/1.1 200 OK\r\nContent-Type: application/json;odata=nometadata\r\nX-Sp-Farm: a\r\n\r\n{\"value\":[]}"

func TestCurlTransport_ArgsNTLM(t *testing.T) {
	ct := NewCurlTransport(curlConfig(tenant.StrategyOnPremNTLM), "curl", 20*time.Second, nil)

	header := http.Header{}
	header.Set("Accept", "application/json;odata=nometadata")
	args := ct.args(&Request{Method: "GET", URL: "https://sp.onprem.example.com/x", Header: header})

	assert.Contains(t, args, "--ntlm")
	assert.Contains(t, args, `CORP\svc_roadmap:s3cret`)
	assert.NotContains(t, args, "--negotiate")
	assert.NotContains(t, args, "-X", "GET needs no explicit method flag")
	assert.Equal(t, "https://sp.onprem.example.com/x", args[len(args)-1])
}

func TestCurlTransport_ArgsKerberos(t *testing.T) {
	ct := NewCurlTransport(curlConfig(tenant.StrategyKerberos), "curl", 20*time.Second, nil)

	args := ct.args(&Request{Method: "GET", URL: "https://sp.onprem.example.com/x", Header: http.Header{}})

	assert.Contains(t, args, "--negotiate")
	idx := indexOf(args, "-u")
	require.GreaterOrEqual(t, idx, 0)
	assert.Equal(t, ":", args[idx+1], "negotiate delegates credentials to the ticket cache")
	assert.NotContains(t, args, "--ntlm")
}

func TestCurlTransport_ArgsTLSFlags(t *testing.T) {
	cfg := curlConfig(tenant.StrategyOnPremNTLM)
	cfg.SharePoint.AllowSelfSigned = true
	ct := NewCurlTransport(cfg, "curl", 20*time.Second, nil)
	assert.Contains(t, ct.args(&Request{Method: "GET", Header: http.Header{}}), "-k")

	cfg = curlConfig(tenant.StrategyOnPremNTLM)
	cfg.SharePoint.TrustedCAPath = "/etc/ssl/corp-ca.pem"
	ct = NewCurlTransport(cfg, "curl", 20*time.Second, nil)
	args := ct.args(&Request{Method: "GET", Header: http.Header{}})
	assert.Contains(t, args, "--cacert")
	assert.Contains(t, args, "/etc/ssl/corp-ca.pem")
}

func TestCurlTransport_ArgsWriteRequest(t *testing.T) {
	ct := NewCurlTransport(curlConfig(tenant.StrategyOnPremNTLM), "curl", 20*time.Second, nil)

	header := http.Header{}
	header.Set("X-RequestDigest", "0xD")
	header.Set("Accept", "application/json;odata=nometadata")
	args := ct.args(&Request{
		Method: "POST",
		URL:    "https://sp.onprem.example.com/x",
		Header: header,
		Body:   []byte(`{"Title":"x"}`),
	})

	assert.Contains(t, args, "-X")
	assert.Contains(t, args, "POST")
	assert.Contains(t, args, "Accept: application/json;odata=nometadata")
	assert.Contains(t, args, "X-RequestDigest: 0xD")
	assert.Contains(t, args, "--data-binary")
	assert.Contains(t, args, `{"Title":"x"}`)
}

func TestCurlTransport_CachesGETsAndFlushesOnWrite(t *testing.T) {
	cache := gocache.New(time.Minute, time.Minute)
	ct := NewCurlTransport(curlConfig(tenant.StrategyOnPremNTLM), "curl", 20*time.Second, cache)

	runs := 0
	ct.run = func(_ context.Context, _ string, _ ...string) ([]byte, error) {
		runs++
		return []byte(curlOKOutput), nil
	}

	get := &Request{Method: "GET", URL: "https://sp/x", Header: http.Header{}}

	_, err := ct.RoundTrip(context.Background(), get)
	require.NoError(t, err)
	_, err = ct.RoundTrip(context.Background(), get)
	require.NoError(t, err)
	assert.Equal(t, 1, runs, "second GET must be served from cache")

	_, err = ct.RoundTrip(context.Background(), &Request{Method: "POST", URL: "https://sp/y", Header: http.Header{}})
	require.NoError(t, err)
	assert.Equal(t, 2, runs)

	// The write flushed the cache, so the GET runs curl again.
	_, err = ct.RoundTrip(context.Background(), get)
	require.NoError(t, err)
	assert.Equal(t, 3, runs)
}

func TestCurlTransport_CacheKeyIncludesAccept(t *testing.T) {
	cache := gocache.New(time.Minute, time.Minute)
	ct := NewCurlTransport(curlConfig(tenant.StrategyOnPremNTLM), "curl", 20*time.Second, cache)

	runs := 0
	ct.run = func(_ context.Context, _ string, _ ...string) ([]byte, error) {
		runs++
		return []byte(curlOKOutput), nil
	}

	jsonHeader := http.Header{}
	jsonHeader.Set("Accept", "application/json;odata=nometadata")
	atomHeader := http.Header{}
	atomHeader.Set("Accept", "application/atom+xml")

	_, err := ct.RoundTrip(context.Background(), &Request{Method: "GET", URL: "https://sp/x", Header: jsonHeader})
	require.NoError(t, err)
	_, err = ct.RoundTrip(context.Background(), &Request{Method: "GET", URL: "https://sp/x", Header: atomHeader})
	require.NoError(t, err)
	assert.Equal(t, 2, runs, "different accept flavors must not share a cache entry")
}

func TestParseCurlOutput(t *testing.T) {
	t.Run("single response", func(t *testing.T) {
		resp, err := parseCurlOutput([]byte(curlOKOutput))
		require.NoError(t, err)
		assert.Equal(t, 200, resp.Status)
		assert.Equal(t, "application/json;odata=nometadata", resp.Header.Get("Content-Type"))
		assert.Equal(t, `{"value":[]}`, string(resp.Body))
	})

	t.Run("skips intermediate ntlm handshake blocks", func(t *testing.T) {
		out := "HTTP/1.1 401 Unauthorized\r\nWWW-Authenticate: NTLM\r\n\r\n" +
			"HTTP/1.1 401 Unauthorized\r\nWWW-Authenticate: NTLM TlRMTVNTUAAC\r\n\r\n" +
			"HTTP/1.1 200 OK\r\nContent-Type: application/json\r\n\r\n{\"ok\":true}"

		resp, err := parseCurlOutput([]byte(out))
		require.NoError(t, err)
		assert.Equal(t, 200, resp.Status)
		assert.Equal(t, `{"ok":true}`, string(resp.Body))
	})

	t.Run("error status is preserved not treated as transport failure", func(t *testing.T) {
		out := "HTTP/1.1 403 Forbidden\r\nContent-Type: application/json\r\n\r\n{\"error\":\"denied\"}"
		resp, err := parseCurlOutput([]byte(out))
		require.NoError(t, err)
		assert.Equal(t, 403, resp.Status)
	})

	t.Run("malformed output", func(t *testing.T) {
		_, err := parseCurlOutput([]byte("curl: (7) Failed to connect"))
		assert.Error(t, err)
	})
}

func indexOf(args []string, want string) int {
	for i, a := range args {
		if a == want {
			return i
		}
	}
	return -1
}
