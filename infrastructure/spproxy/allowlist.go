package spproxy

import (
	"net/url"
	"regexp"
	"strings"

	"roadmapper/domain/contracts"
)

// getByTitleRe captures the list title of a getByTitle path segment.
var getByTitleRe = regexp.MustCompile(`(?i)^/_api/web/lists/getbytitle\('([^']+)'\)($|/)`)

// AllowList is the fixed set of SharePoint REST path shapes the proxy
// will forward. Everything else is rejected before any network call is
// attempted, as a defense against proxy abuse.
type AllowList struct {
	titles      map[string]bool
	decodeOData bool
}

// NewAllowList builds an allow-list admitting contextinfo, currentuser,
// and getByTitle access to the given list titles (case-insensitive).
func NewAllowList(titles []string, decodeOData bool) *AllowList {
	set := make(map[string]bool, len(titles))
	for _, t := range titles {
		set[strings.ToLower(t)] = true
	}
	return &AllowList{titles: set, decodeOData: decodeOData}
}

// Normalize canonicalizes a path before matching: trailing slash
// stripped, %24-encoded OData operators decoded when enabled.
func (a *AllowList) Normalize(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	if a.decodeOData {
		path = strings.ReplaceAll(path, "%24", "$")
	}
	return path
}

// Admit checks a normalized path against the allow-list.
func (a *AllowList) Admit(path string) error {
	lower := strings.ToLower(path)

	switch lower {
	case "/_api/contextinfo", "/_api/web/currentuser":
		return nil
	}

	if m := getByTitleRe.FindStringSubmatch(path); m != nil {
		title := m[1]
		if decoded, err := url.PathUnescape(title); err == nil {
			title = decoded
		}
		if a.titles[strings.ToLower(title)] {
			return nil
		}
		return &contracts.ProtocolError{Message: "list title not allowed", Path: path}
	}

	return &contracts.ProtocolError{Message: "path not allowed", Path: path}
}

// IsContextInfo reports whether a normalized path is the digest endpoint.
func IsContextInfo(path string) bool {
	return strings.EqualFold(path, "/_api/contextinfo")
}
