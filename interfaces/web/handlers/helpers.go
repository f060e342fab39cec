package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"roadmapper/domain/contracts"
	"roadmapper/infrastructure/spproxy"
)

// writeJSON renders a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError maps gateway errors onto HTTP statuses and renders the
// diagnostic payload operators rely on. Transport errors keep their
// cause fields so on-prem network problems are debuggable from the
// admin UI alone.
func writeError(w http.ResponseWriter, err error) {
	var (
		configErr    *contracts.ConfigurationError
		authErr      *contracts.AuthenticationError
		transportErr *contracts.TransportError
		protocolErr  *contracts.ProtocolError
		digestErr    *contracts.DigestError
	)

	switch {
	case errors.Is(err, spproxy.ErrDispatchDisabled):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})

	case errors.As(err, &protocolErr):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": protocolErr.Error()})

	case errors.As(err, &configErr):
		status := http.StatusInternalServerError
		if strings.Contains(configErr.Message, "unknown instance") {
			status = http.StatusNotFound
		}
		writeJSON(w, status, map[string]string{"error": configErr.Error()})

	case errors.As(err, &authErr):
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": authErr.Error()})

	case errors.As(err, &transportErr):
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error":        transportErr.Error(),
			"code":         transportErr.Code,
			"causeMessage": transportErr.CauseMessage,
			"causeCode":    transportErr.CauseCode,
			"targetUrl":    transportErr.TargetURL,
		})

	case errors.As(err, &digestErr):
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": digestErr.Error()})

	case errors.Is(err, contracts.ErrInstanceNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})

	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}
