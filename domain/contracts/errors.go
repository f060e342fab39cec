package contracts

import "fmt"

// Error taxonomy for the gateway. Transport- and protocol-level errors
// carry enough diagnostic context for an operator to debug on-prem
// network peculiarities without server-side log access.

// ConfigurationError means no instance could be resolved for a request.
// Fatal for the request; never retried.
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s", e.Message)
}

// AuthenticationError means a credential exchange failed. It is never
// silently downgraded to anonymous access, so callers can distinguish
// "no data" from "cannot authenticate".
type AuthenticationError struct {
	Slug     string
	Strategy string
	Cause    error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed for instance %q (strategy %s): %v", e.Slug, e.Strategy, e.Cause)
}

func (e *AuthenticationError) Unwrap() error { return e.Cause }

// TransportError wraps a network/TLS/DNS failure with the diagnostic
// fields the admin UI renders verbatim.
type TransportError struct {
	Code         string `json:"code"`
	CauseMessage string `json:"causeMessage"`
	CauseCode    string `json:"causeCode,omitempty"`
	TargetURL    string `json:"targetUrl"`
	Cause        error  `json:"-"`
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error (%s) calling %s: %s", e.Code, e.TargetURL, e.CauseMessage)
}

func (e *TransportError) Unwrap() error { return e.Cause }

// ProtocolError means a request was malformed or not admissible: a
// disallowed proxy path, or a remote response that cannot be interpreted.
// Rejected before any network call where possible.
type ProtocolError struct {
	Message string
	Path    string
}

func (e *ProtocolError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("protocol error: %s (path %q)", e.Message, e.Path)
	}
	return fmt.Sprintf("protocol error: %s", e.Message)
}

// DigestError means write-digest acquisition failed. Fatal for an entire
// provisioning pass, since no list can be ensured without a digest.
type DigestError struct {
	Slug  string
	Cause error
}

func (e *DigestError) Error() string {
	return fmt.Sprintf("digest acquisition failed for instance %q: %v", e.Slug, e.Cause)
}

func (e *DigestError) Unwrap() error { return e.Cause }
