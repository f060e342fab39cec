package spproxy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"roadmapper/domain/contracts"
	"roadmapper/logging"
)

// digestSafetyMargin is subtracted from the server-declared digest
// timeout so a digest is never used at the edge of its validity.
const digestSafetyMargin = 60 * time.Second

type digestEntry struct {
	value   string
	expires time.Time
}

// DigestCache caches SharePoint write digests per instance. Keying by
// instance slug (rather than one process-wide digest) keeps tenants
// isolated: a digest fetched for one site is never replayed against
// another. Expired entries are re-fetched rather than risking a
// rejected write.
type DigestCache struct {
	mu      sync.Mutex
	entries map[string]digestEntry

	now    func() time.Time
	logger *logging.Logger
}

// NewDigestCache creates an empty digest cache.
func NewDigestCache() *DigestCache {
	return &DigestCache{
		entries: make(map[string]digestEntry),
		now:     time.Now,
		logger:  logging.Default().WithComponent("digest_cache"),
	}
}

// Get returns a valid digest for the instance, fetching a fresh one from
// /_api/contextinfo when the cached value is absent or expired.
func (c *DigestCache) Get(ctx context.Context, slug, siteURL string, tr Transport) (string, error) {
	c.mu.Lock()
	entry, ok := c.entries[slug]
	c.mu.Unlock()

	if ok && c.now().Before(entry.expires) {
		return entry.value, nil
	}

	value, timeout, err := fetchContextInfo(ctx, siteURL, tr)
	if err != nil {
		return "", &contracts.DigestError{Slug: slug, Cause: err}
	}

	expires := c.now().Add(timeout - digestSafetyMargin)
	if timeout <= digestSafetyMargin {
		// Degenerate server timeout; keep the digest for half its life.
		expires = c.now().Add(timeout / 2)
	}

	c.mu.Lock()
	c.entries[slug] = digestEntry{value: value, expires: expires}
	c.mu.Unlock()

	c.logger.SharePoint("Write digest refreshed", "instance", slug, "valid_until", expires.Format(time.RFC3339))
	return value, nil
}

// Invalidate drops the cached digest for an instance.
func (c *DigestCache) Invalidate(slug string) {
	c.mu.Lock()
	delete(c.entries, slug)
	c.mu.Unlock()
}

// fetchContextInfo calls the contextinfo endpoint and tolerates both the
// verbose and nometadata envelopes the farm may answer with.
func fetchContextInfo(ctx context.Context, siteURL string, tr Transport) (string, time.Duration, error) {
	header := http.Header{}
	header.Set("Accept", "application/json;odata=verbose")

	resp, err := tr.RoundTrip(ctx, &Request{
		Method: http.MethodPost,
		URL:    siteURL + "/_api/contextinfo",
		Header: header,
	})
	if err != nil {
		return "", 0, err
	}
	if resp.Status < 200 || resp.Status >= 300 {
		return "", 0, fmt.Errorf("contextinfo returned status %d", resp.Status)
	}

	type webInfo struct {
		FormDigestValue          string `json:"FormDigestValue"`
		FormDigestTimeoutSeconds int    `json:"FormDigestTimeoutSeconds"`
	}

	var verbose struct {
		D struct {
			GetContextWebInformation webInfo `json:"GetContextWebInformation"`
		} `json:"d"`
	}
	if err := json.Unmarshal(resp.Body, &verbose); err == nil && verbose.D.GetContextWebInformation.FormDigestValue != "" {
		info := verbose.D.GetContextWebInformation
		return info.FormDigestValue, time.Duration(info.FormDigestTimeoutSeconds) * time.Second, nil
	}

	var minimal webInfo
	if err := json.Unmarshal(resp.Body, &minimal); err == nil && minimal.FormDigestValue != "" {
		return minimal.FormDigestValue, time.Duration(minimal.FormDigestTimeoutSeconds) * time.Second, nil
	}

	return "", 0, fmt.Errorf("contextinfo response had no digest value")
}
