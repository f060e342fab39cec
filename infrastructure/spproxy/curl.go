package spproxy

import (
	"context"
	"fmt"
	"net/http"
	"os/exec"
	"sort"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"roadmapper/domain/tenant"
	"roadmapper/logging"
)

// curlCacheTTL bounds staleness of curl-mode GET responses.
const curlCacheTTL = 60 * time.Second

// commandRunner executes a subprocess and returns its stdout. Injected
// so tests can observe invocations without a curl binary.
type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.Output()
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok && len(ee.Stderr) > 0 {
			return nil, fmt.Errorf("%s: %s", err, strings.TrimSpace(string(ee.Stderr)))
		}
		return nil, err
	}
	return out, nil
}

// CurlTransport shells out to the system curl binary, whose native NTLM
// and Negotiate implementations succeed against farm configurations that
// defeat in-process auth stacks. GET responses are cached process-locally
// with a short TTL; any write flushes the whole cache — coarse but safe.
type CurlTransport struct {
	settings tenant.Settings
	slug     string

	binPath string
	timeout time.Duration

	cache  *gocache.Cache
	run    commandRunner
	logger *logging.Logger
}

// NewCurlTransport builds the curl-backed transport for one instance.
// The cache is shared process-wide so a write through any instance's
// curl transport invalidates every cached GET.
func NewCurlTransport(t *tenant.Config, binPath string, timeout time.Duration, cache *gocache.Cache) *CurlTransport {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &CurlTransport{
		settings: t.SharePoint,
		slug:     t.Slug,
		binPath:  binPath,
		timeout:  timeout,
		cache:    cache,
		run:      execRunner,
		logger:   logging.Default().WithComponent("curl_transport").WithInstance(t.Slug),
	}
}

func (c *CurlTransport) RoundTrip(ctx context.Context, req *Request) (*Response, error) {
	isWrite := req.Method != http.MethodGet && req.Method != http.MethodHead

	cacheKey := c.cacheKey(req)
	if !isWrite && c.cache != nil {
		if v, ok := c.cache.Get(cacheKey); ok {
			return v.(*Response), nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	out, err := c.run(ctx, c.binPath, c.args(req)...)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, wrapTransportErr(fmt.Errorf("curl timed out after %s: %w", c.timeout, err), req.URL)
		}
		return nil, wrapTransportErr(err, req.URL)
	}

	resp, err := parseCurlOutput(out)
	if err != nil {
		return nil, wrapTransportErr(err, req.URL)
	}

	if c.cache != nil {
		if isWrite {
			// Coarse invalidation: a write may touch anything, so all
			// cached GETs are suspect.
			c.cache.Flush()
		} else {
			c.cache.Set(cacheKey, resp, curlCacheTTL)
		}
	}

	return resp, nil
}

func (c *CurlTransport) cacheKey(req *Request) string {
	return req.Method + " " + req.URL + " " + req.Header.Get("Accept")
}

// args assembles the curl invocation: silent, headers included (so the
// status line is parseable), auth flags per strategy, TLS trust flags,
// then the request headers and body.
func (c *CurlTransport) args(req *Request) []string {
	args := []string{"-sS", "-i", "--max-time", fmt.Sprintf("%d", int(c.timeout.Seconds()))}

	switch c.settings.Strategy {
	case tenant.StrategyKerberos:
		args = append(args, "--negotiate", "-u", ":")
	default:
		user := c.settings.Username
		if c.settings.Domain != "" {
			user = c.settings.Domain + "\\" + c.settings.Username
		}
		args = append(args, "--ntlm", "-u", user+":"+c.settings.Password)
	}

	if c.settings.AllowSelfSigned {
		args = append(args, "-k")
	} else if c.settings.TrustedCAPath != "" {
		args = append(args, "--cacert", c.settings.TrustedCAPath)
	}

	if req.Method != http.MethodGet {
		args = append(args, "-X", req.Method)
	}

	// Deterministic header order keeps invocations reproducible in tests.
	names := make([]string, 0, len(req.Header))
	for name := range req.Header {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, v := range req.Header[name] {
			args = append(args, "-H", name+": "+v)
		}
	}

	if len(req.Body) > 0 {
		args = append(args, "--data-binary", string(req.Body))
	}

	args = append(args, req.URL)
	return args
}

// parseCurlOutput splits curl -i output into status, headers, and body.
// NTLM/Negotiate exchanges emit intermediate 401 header blocks before the
// final response; only the last block counts.
func parseCurlOutput(out []byte) (*Response, error) {
	text := string(out)

	for {
		head, rest, found := strings.Cut(text, "\r\n\r\n")
		if !found {
			head, rest, found = strings.Cut(text, "\n\n")
			if !found {
				return nil, fmt.Errorf("malformed curl output: no header terminator")
			}
		}
		if !strings.HasPrefix(head, "HTTP/") {
			return nil, fmt.Errorf("malformed curl output: missing status line")
		}
		// Another status line follows an intermediate auth response.
		if strings.HasPrefix(rest, "HTTP/") {
			text = rest
			continue
		}

		lines := strings.Split(strings.ReplaceAll(head, "\r\n", "\n"), "\n")
		var proto string
		var status int
		if _, err := fmt.Sscanf(lines[0], "HTTP/%s %d", &proto, &status); err != nil {
			return nil, fmt.Errorf("malformed curl status line %q", lines[0])
		}

		header := http.Header{}
		for _, line := range lines[1:] {
			name, value, ok := strings.Cut(line, ":")
			if !ok {
				continue
			}
			header.Add(strings.TrimSpace(name), strings.TrimSpace(value))
		}

		return &Response{Status: status, Header: header, Body: []byte(rest)}, nil
	}
}
