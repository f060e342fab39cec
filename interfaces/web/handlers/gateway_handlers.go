package handlers

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"roadmapper/application"
	"roadmapper/infrastructure/spproxy"
	"roadmapper/logging"
)

// GatewayHandlers forwards browser requests to SharePoint on behalf of
// the resolved instance. It is the only surface the roadmap frontend
// talks to; credentials never leave the server.
type GatewayHandlers struct {
	resolver *application.InstanceResolver
	proxy    *spproxy.Proxy
	logger   *logging.Logger
}

// NewGatewayHandlers creates a new gateway handlers instance.
func NewGatewayHandlers(resolver *application.InstanceResolver, proxy *spproxy.Proxy) *GatewayHandlers {
	return &GatewayHandlers{
		resolver: resolver,
		proxy:    proxy,
		logger:   logging.Default().WithComponent("gateway_handler"),
	}
}

// Dispatch resolves the tenant for the request and relays the wrapped
// SharePoint call through the protocol proxy.
func (h *GatewayHandlers) Dispatch(w http.ResponseWriter, r *http.Request) {
	t, err := h.resolver.Resolve(r)
	if err != nil {
		h.logger.Warn("Instance resolution failed", "host", r.Host, "error", err)
		writeError(w, err)
		return
	}

	var body []byte
	if r.Body != nil {
		body, err = io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "failed to read request body", http.StatusBadRequest)
			return
		}
	}

	path := "/" + chi.URLParam(r, "*")

	resp, err := h.proxy.Do(r.Context(), t, r.Method, path, r.URL.RawQuery, body, r.Header.Get("Accept"))
	if err != nil {
		h.logger.Error("Dispatch failed",
			"instance", t.Slug,
			"method", r.Method,
			"path", path,
			"error", err)
		writeError(w, err)
		return
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}
