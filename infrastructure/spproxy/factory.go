package spproxy

import (
	"context"
	"net/http"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"roadmapper/domain/tenant"
	"roadmapper/logging"
	"roadmapper/spauth"
)

// Factory selects the transport for an instance: the native in-process
// client by default, the curl subprocess when the instance opts into the
// manual NTLM fallback, authenticates with Kerberos, or the process is
// forced into curl mode.
type Factory struct {
	auth *spauth.Provider

	forceCurl   bool
	curlPath    string
	curlTimeout time.Duration
	curlCache   *gocache.Cache

	logger *logging.Logger
}

// NewFactory creates the transport factory. The curl response cache is
// created here once so it is shared by every curl transport in the
// process.
func NewFactory(auth *spauth.Provider, forceCurl bool, curlPath string, curlTimeout time.Duration) *Factory {
	return &Factory{
		auth:        auth,
		forceCurl:   forceCurl,
		curlPath:    curlPath,
		curlTimeout: curlTimeout,
		curlCache:   gocache.New(curlCacheTTL, 2*curlCacheTTL),
		logger:      logging.Default().WithComponent("transport_factory"),
	}
}

var _ TransportProvider = (*Factory)(nil)

// ForInstance returns the configured transport for an instance.
func (f *Factory) ForInstance(t *tenant.Config) (Transport, error) {
	useCurl := f.forceCurl ||
		t.SharePoint.ManualNtlmFallback ||
		t.SharePoint.Strategy == tenant.StrategyKerberos

	if useCurl {
		f.logger.SharePoint("Using curl transport",
			"instance", t.Slug,
			"strategy", t.SharePoint.Strategy,
			"forced", f.forceCurl)
		return NewCurlTransport(t, f.curlPath, f.curlTimeout, f.curlCache), nil
	}

	client, err := f.auth.Client(t)
	if err != nil {
		return nil, err
	}

	headers := func(ctx context.Context) (http.Header, error) {
		return f.auth.Headers(ctx, t)
	}
	return NewNativeTransport(client, headers), nil
}
