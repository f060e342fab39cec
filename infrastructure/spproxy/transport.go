package spproxy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"syscall"

	"github.com/koltyakov/gosip"

	"roadmapper/domain/contracts"
	"roadmapper/domain/tenant"
)

// Request is the transport-level request shape shared by the native and
// curl transports, so retry and caching logic stays transport-agnostic.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Response is the transport-level response shape.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Transport executes one HTTP exchange against SharePoint.
type Transport interface {
	RoundTrip(ctx context.Context, req *Request) (*Response, error)
}

// TransportProvider yields the transport configured for an instance.
type TransportProvider interface {
	ForInstance(t *tenant.Config) (Transport, error)
}

// AuthHeaderSource resolves the auth headers for an instance. Implemented
// by spauth.Provider; declared here so transports stay testable.
type AuthHeaderSource interface {
	Headers(ctx context.Context, t *tenant.Config) (http.Header, error)
}

// NativeTransport sends requests through the in-process gosip client,
// which owns the NTLM handshake and claims cookies for the instance.
type NativeTransport struct {
	client  *gosip.SPClient
	headers func(ctx context.Context) (http.Header, error)
}

// NewNativeTransport wraps an authenticated gosip client. The headers
// callback supplies strategy headers (claims cookie, basic auth) for
// strategies that do not authenticate at the socket.
func NewNativeTransport(client *gosip.SPClient, headers func(ctx context.Context) (http.Header, error)) *NativeTransport {
	return &NativeTransport{client: client, headers: headers}
}

func (n *NativeTransport) RoundTrip(ctx context.Context, req *Request) (*Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, wrapTransportErr(err, req.URL)
	}

	for name, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(name, v)
		}
	}

	if n.headers != nil {
		authHeaders, err := n.headers(ctx)
		if err != nil {
			return nil, err
		}
		for name, values := range authHeaders {
			for _, v := range values {
				httpReq.Header.Set(name, v)
			}
		}
	}

	resp, err := n.client.Execute(httpReq)
	if err != nil {
		return nil, wrapTransportErr(err, req.URL)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, wrapTransportErr(err, req.URL)
	}

	return &Response{
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   body,
	}, nil
}

// wrapTransportErr enriches a transport failure with the diagnostic
// fields operators need to debug on-prem network peculiarities.
func wrapTransportErr(err error, targetURL string) error {
	te := &contracts.TransportError{
		Code:         "ETRANSPORT",
		CauseMessage: err.Error(),
		TargetURL:    targetURL,
		Cause:        err,
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		te.CauseCode = errno.Error()
	}
	if errors.Is(err, syscall.EINVAL) {
		te.Code = "EINVAL"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		te.Code = "ETIMEDOUT"
	}
	return te
}

// isInvalidArgument matches the transport-level "invalid argument"
// signature observed on some TLS/HTTP stack combinations with specific
// Accept headers. This is the only failure class the proxy retries.
func isInvalidArgument(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.EINVAL) {
		return true
	}
	var te *contracts.TransportError
	if errors.As(err, &te) && te.Code == "EINVAL" {
		return true
	}
	return bytes.Contains([]byte(err.Error()), []byte("invalid argument"))
}
