package spproxy

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"roadmapper/domain/tenant"
	"roadmapper/logging"
)

// ErrDispatchDisabled is returned while the operator has switched the
// proxy off via the SP_DISABLE_DISPATCH escape hatch.
var ErrDispatchDisabled = errors.New("sharepoint dispatch is disabled")

// Methods the target farm cannot serve directly; tunneled as POST with
// a method override header.
const (
	methodMerge    = "MERGE"
	headerOverride = "X-HTTP-Method"
	headerDigest   = "X-RequestDigest"
)

const defaultAccept = "application/json;odata=nometadata"

// Proxy translates the application's internal REST calls into SharePoint
// REST calls: path admission, digest handling, method tunneling, payload
// format negotiation, and the single known-signature retry.
type Proxy struct {
	transports TransportProvider
	digests    *DigestCache

	allow    *AllowList
	env      string
	disabled bool

	logger *logging.Logger
}

// NewProxy creates the protocol proxy.
func NewProxy(transports TransportProvider, digests *DigestCache, allow *AllowList, env string, disabled bool) *Proxy {
	return &Proxy{
		transports: transports,
		digests:    digests,
		allow:      allow,
		env:        env,
		disabled:   disabled,
		logger:     logging.Default().WithComponent("protocol_proxy"),
	}
}

// Do proxies one call to the instance's SharePoint site. The path is
// admission-checked before any network activity; for mutating methods a
// valid write digest is acquired strictly before the write itself.
func (p *Proxy) Do(ctx context.Context, t *tenant.Config, method, path, rawQuery string, body []byte, accept string) (*Response, error) {
	if p.disabled {
		return nil, ErrDispatchDisabled
	}

	normalized := p.allow.Normalize(path)
	if err := p.allow.Admit(normalized); err != nil {
		return nil, err
	}

	transport, err := p.transports.ForInstance(t)
	if err != nil {
		return nil, err
	}

	siteURL := strings.TrimRight(t.SharePoint.SiteURL(p.env), "/")
	targetURL := siteURL + normalized
	if rawQuery != "" {
		targetURL += "?" + rawQuery
	}

	if accept == "" {
		accept = defaultAccept
	}

	req := &Request{
		Method: strings.ToUpper(method),
		URL:    targetURL,
		Header: http.Header{},
		Body:   body,
	}
	req.Header.Set("Accept", accept)
	if len(body) > 0 {
		req.Header.Set("Content-Type", contentTypeFor(accept))
	}

	// The farm does not support PATCH; tunnel it (and MERGE) as POST
	// with a method override.
	switch req.Method {
	case http.MethodPatch, methodMerge:
		req.Method = http.MethodPost
		req.Header.Set(headerOverride, methodMerge)
		req.Header.Set("IF-MATCH", "*")
	}

	if isWriteMethod(req.Method) && !IsContextInfo(normalized) {
		digest, err := p.digests.Get(ctx, t.Slug, siteURL, transport)
		if err != nil {
			return nil, err
		}
		req.Header.Set(headerDigest, digest)
	}

	resp, err := transport.RoundTrip(ctx, req)
	if err != nil {
		if !isInvalidArgument(err) {
			return nil, err
		}
		// Known stack quirk: certain Accept headers trip an EINVAL-class
		// failure; one retry asking for Atom, then give up.
		p.logger.SharePoint("Retrying with atom accept after invalid-argument failure",
			"instance", t.Slug, "url", targetURL)
		retry := *req
		retry.Header = req.Header.Clone()
		retry.Header.Set("Accept", "application/atom+xml")
		resp, err = transport.RoundTrip(ctx, &retry)
		if err != nil {
			return nil, err
		}
	}

	if IsAtomResponse(resp.Header.Get("Content-Type")) {
		reshaped, err := ReshapeAtom(resp.Body, accept)
		if err == nil {
			resp = &Response{Status: resp.Status, Header: cloneWithJSON(resp.Header), Body: reshaped}
		}
	}

	return resp, nil
}

// isWriteMethod reports whether a method mutates state and therefore
// needs a write digest.
func isWriteMethod(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch, methodMerge:
		return true
	}
	return false
}

// contentTypeFor mirrors the negotiated accept flavor onto the payload.
func contentTypeFor(accept string) string {
	if strings.Contains(strings.ToLower(accept), "odata=verbose") {
		return "application/json;odata=verbose"
	}
	return "application/json;odata=nometadata"
}

func cloneWithJSON(h http.Header) http.Header {
	out := h.Clone()
	out.Set("Content-Type", "application/json")
	return out
}
