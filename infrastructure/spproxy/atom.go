package spproxy

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Lenient structural extraction of Atom/XML feeds.
//
// Legacy farms emit malformed Atom payloads a strict XML parser rejects,
// so this is deliberately a narrow regex scan, not a parse: it pulls
// flat (non-nested) <d:*> fields out of <m:properties> blocks and
// nothing else. Do not upgrade to a real parser without verifying it
// still tolerates the payloads seen in the field.

var (
	propertiesBlockRe = regexp.MustCompile(`(?s)<m:properties[^>]*>(.*?)</m:properties>`)
	flatFieldRe       = regexp.MustCompile(`<d:([A-Za-z0-9_]+)(?:\s+[^>]*[^/>])?>([^<]*)</d:[A-Za-z0-9_]+>`)
)

// ExtractAtomProperties scans an Atom/XML body and returns one flat
// field map per <m:properties> block, values as raw strings.
func ExtractAtomProperties(body []byte) []map[string]string {
	blocks := propertiesBlockRe.FindAllSubmatch(body, -1)

	entries := make([]map[string]string, 0, len(blocks))
	for _, block := range blocks {
		fields := flatFieldRe.FindAllSubmatch(block[1], -1)
		entry := make(map[string]string, len(fields))
		for _, f := range fields {
			entry[string(f[1])] = strings.TrimSpace(string(f[2]))
		}
		if len(entry) > 0 {
			entries = append(entries, entry)
		}
	}
	return entries
}

// ReshapeAtom converts an Atom/XML body into the JSON envelope the
// caller's Accept header implies, so downstream code never sees the
// transport's response shape: {"d":{"results":[...]}} for verbose,
// {"value":[...]} otherwise.
func ReshapeAtom(body []byte, accept string) ([]byte, error) {
	entries := ExtractAtomProperties(body)

	if strings.Contains(strings.ToLower(accept), "odata=verbose") {
		envelope := map[string]any{
			"d": map[string]any{"results": entries},
		}
		return json.Marshal(envelope)
	}

	return json.Marshal(map[string]any{"value": entries})
}

// IsAtomResponse reports whether a response content type is Atom/XML.
func IsAtomResponse(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "atom+xml") || strings.Contains(ct, "application/xml") || strings.Contains(ct, "text/xml")
}
