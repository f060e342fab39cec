package spschema

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roadmapper/domain/contracts"
	"roadmapper/domain/tenant"
	"roadmapper/infrastructure/spproxy"
)

// scriptedTransport answers requests from a handler and records them.
type scriptedTransport struct {
	requests []*spproxy.Request
	handler  func(req *spproxy.Request) (*spproxy.Response, error)
}

func (s *scriptedTransport) RoundTrip(_ context.Context, req *spproxy.Request) (*spproxy.Response, error) {
	s.requests = append(s.requests, req)
	return s.handler(req)
}

func (s *scriptedTransport) ForInstance(_ *tenant.Config) (spproxy.Transport, error) {
	return s, nil
}

// countRequests counts recorded requests matching method and URL tail.
// Suffix matching keeps list-create counts from also matching the
// getByTitle and createfieldasxml paths nested under /_api/web/lists.
func (s *scriptedTransport) countRequests(method, tail string) int {
	n := 0
	for _, req := range s.requests {
		if req.Method == method && strings.HasSuffix(req.URL, tail) {
			n++
		}
	}
	return n
}

type fakeHealthRepo struct {
	saved     *tenant.Health
	saveCalls int
}

func (r *fakeHealthRepo) GetBySlug(_ context.Context, _ string) (*tenant.Config, error) {
	return nil, contracts.ErrInstanceNotFound
}
func (r *fakeHealthRepo) GetByHost(_ context.Context, _ string) (*tenant.Config, error) {
	return nil, contracts.ErrInstanceNotFound
}
func (r *fakeHealthRepo) List(_ context.Context) ([]*tenant.Config, error) { return nil, nil }
func (r *fakeHealthRepo) Save(_ context.Context, _ *tenant.Config) error   { return nil }
func (r *fakeHealthRepo) SaveHealth(_ context.Context, _ string, health *tenant.Health) error {
	r.saved = health
	r.saveCalls++
	return nil
}

func jsonResp(status int, body string) *spproxy.Response {
	h := http.Header{}
	h.Set("Content-Type", "application/json;odata=nometadata")
	return &spproxy.Response{Status: status, Header: h, Body: []byte(body)}
}

func digestResp() *spproxy.Response {
	return jsonResp(200, `{"FormDigestValue":"0xD","FormDigestTimeoutSeconds":1800}`)
}

func engineConfig() *tenant.Config {
	return &tenant.Config{
		Slug: "marketing",
		SharePoint: tenant.Settings{
			SiteURLDev: "https://sp.example.com/sites/marketing",
			Strategy:   tenant.StrategyOnline,
		},
	}
}

func testCatalog() []tenant.ListDefinition {
	return []tenant.ListDefinition{
		{
			Key:      "projects",
			Title:    "Projects",
			Aliases:  []string{"RoadmapProjects"},
			Template: genericListTemplate,
			Fields: []tenant.FieldDefinition{
				{Name: "TileColor", Type: "Text", SchemaXML: `<Field Type="Text" Name="TileColor" />`},
			},
		},
	}
}

func newTestEngine(transport *scriptedTransport, repo *fakeHealthRepo) *Engine {
	engine := NewEngine(transport, spproxy.NewDigestCache(), repo, testCatalog(), tenant.EnvDev)
	engine.now = func() time.Time { return time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC) }
	engine.probeName = func() string { return "roadmap-probe-test" }
	return engine
}

func TestEngine_EnsureAll_ExistingSchemaIsIdempotent(t *testing.T) {
	transport := &scriptedTransport{handler: func(req *spproxy.Request) (*spproxy.Response, error) {
		switch {
		case strings.Contains(req.URL, "/_api/contextinfo"):
			return digestResp(), nil
		case req.Method == "GET" && strings.Contains(req.URL, "getByTitle('Projects')?$select=Id,Title"):
			return jsonResp(200, `{"Id":"x","Title":"Projects"}`), nil
		case req.Method == "GET" && strings.Contains(req.URL, "getByInternalNameOrTitle('TileColor')"):
			return jsonResp(200, `{"InternalName":"TileColor","TypeAsString":"Text"}`), nil
		case req.Method == "GET" && strings.Contains(req.URL, "/fields?"):
			return jsonResp(200, `{"value":[{"InternalName":"TileColor","TypeAsString":"Text"}]}`), nil
		case req.Method == "POST" && strings.HasSuffix(req.URL, "/_api/web/lists"):
			// Probe list creation.
			return jsonResp(201, `{}`), nil
		case req.Method == "POST" && strings.Contains(req.URL, "getByTitle('roadmap-probe-test')"):
			return jsonResp(200, `{}`), nil
		}
		return jsonResp(404, `{}`), nil
	}}
	repo := &fakeHealthRepo{}
	engine := newTestEngine(transport, repo)

	health, err := engine.EnsureAll(context.Background(), engineConfig())
	require.NoError(t, err)

	assert.Equal(t, tenant.PermissionOK, health.Permissions.Status)
	assert.Equal(t, []string{"Projects"}, health.Lists.Ensured)
	assert.Empty(t, health.Lists.Created)
	assert.Empty(t, health.Lists.Errors)
	assert.Empty(t, health.Lists.FieldsCreated)
	assert.Empty(t, health.Lists.SchemaMismatches)

	// No list or field creation happened beyond the probe.
	assert.Equal(t, 1, transport.countRequests("POST", "/_api/web/lists"))
	assert.Equal(t, 0, transport.countRequests("POST", "createfieldasxml"))

	// Probe list deleted exactly once.
	deletes := 0
	for _, req := range transport.requests {
		if strings.Contains(req.URL, "roadmap-probe-test") && req.Header.Get("X-HTTP-Method") == "DELETE" {
			deletes++
		}
	}
	assert.Equal(t, 1, deletes)

	assert.Equal(t, 1, repo.saveCalls)
	assert.Same(t, health, repo.saved)
}

func TestEngine_EnsureAll_CreatesMissingListAndFields(t *testing.T) {
	transport := &scriptedTransport{handler: func(req *spproxy.Request) (*spproxy.Response, error) {
		switch {
		case strings.Contains(req.URL, "/_api/contextinfo"):
			return digestResp(), nil
		case req.Method == "GET" && strings.Contains(req.URL, "?$select=Id,Title"):
			// Neither the canonical title nor the alias exists.
			return jsonResp(404, `{}`), nil
		case req.Method == "POST" && strings.HasSuffix(req.URL, "/_api/web/lists"):
			return jsonResp(201, `{}`), nil
		case req.Method == "POST" && strings.Contains(req.URL, "getByTitle('roadmap-probe-test')"):
			return jsonResp(200, `{}`), nil
		case req.Method == "GET" && strings.Contains(req.URL, "getByInternalNameOrTitle('TileColor')"):
			return jsonResp(404, `{}`), nil
		case req.Method == "POST" && strings.Contains(req.URL, "createfieldasxml"):
			return jsonResp(201, `{}`), nil
		case req.Method == "GET" && strings.Contains(req.URL, "/fields?"):
			return jsonResp(200, `{"value":[{"InternalName":"TileColor","TypeAsString":"Text"}]}`), nil
		}
		return jsonResp(404, `{}`), nil
	}}
	repo := &fakeHealthRepo{}
	engine := newTestEngine(transport, repo)

	health, err := engine.EnsureAll(context.Background(), engineConfig())
	require.NoError(t, err)

	assert.Equal(t, []string{"Projects"}, health.Lists.Created)
	assert.Empty(t, health.Lists.Ensured)
	assert.Equal(t, []string{"TileColor"}, health.Lists.FieldsCreated["Projects"])

	// Both candidate titles were probed before creating.
	assert.Equal(t, 1, transport.countRequests("GET", "getByTitle('Projects')?$select=Id,Title"))
	assert.Equal(t, 1, transport.countRequests("GET", "getByTitle('RoadmapProjects')?$select=Id,Title"))

	// Probe create + real list create.
	assert.Equal(t, 2, transport.countRequests("POST", "/_api/web/lists"))
}

func TestEngine_EnsureAll_AliasResolutionWins(t *testing.T) {
	transport := &scriptedTransport{handler: func(req *spproxy.Request) (*spproxy.Response, error) {
		switch {
		case strings.Contains(req.URL, "/_api/contextinfo"):
			return digestResp(), nil
		case req.Method == "GET" && strings.Contains(req.URL, "getByTitle('Projects')?$select=Id,Title"):
			return jsonResp(404, `{}`), nil
		case req.Method == "GET" && strings.Contains(req.URL, "getByTitle('RoadmapProjects')?$select=Id,Title"):
			return jsonResp(200, `{}`), nil
		case req.Method == "GET" && strings.Contains(req.URL, "getByInternalNameOrTitle"):
			return jsonResp(200, `{}`), nil
		case req.Method == "GET" && strings.Contains(req.URL, "/fields?"):
			return jsonResp(200, `{"value":[{"InternalName":"TileColor","TypeAsString":"Text"}]}`), nil
		case req.Method == "POST" && strings.HasSuffix(req.URL, "/_api/web/lists"):
			return jsonResp(201, `{}`), nil
		case req.Method == "POST" && strings.Contains(req.URL, "roadmap-probe-test"):
			return jsonResp(200, `{}`), nil
		}
		return jsonResp(404, `{}`), nil
	}}
	repo := &fakeHealthRepo{}
	engine := newTestEngine(transport, repo)

	health, err := engine.EnsureAll(context.Background(), engineConfig())
	require.NoError(t, err)

	assert.Equal(t, []string{"RoadmapProjects"}, health.Lists.Ensured, "legacy alias is adopted, never renamed")
}

func TestEngine_EnsureAll_InsufficientPermissions(t *testing.T) {
	transport := &scriptedTransport{handler: func(req *spproxy.Request) (*spproxy.Response, error) {
		switch {
		case strings.Contains(req.URL, "/_api/contextinfo"):
			return digestResp(), nil
		case req.Method == "POST" && strings.HasSuffix(req.URL, "/_api/web/lists"):
			return jsonResp(403, `{"error":"Access denied"}`), nil
		case req.Method == "GET" && strings.Contains(req.URL, "getByTitle('Projects')?$select=Id,Title"):
			return jsonResp(200, `{}`), nil
		case req.Method == "GET" && strings.Contains(req.URL, "getByInternalNameOrTitle"):
			return jsonResp(200, `{}`), nil
		case req.Method == "GET" && strings.Contains(req.URL, "/fields?"):
			return jsonResp(200, `{"value":[{"InternalName":"TileColor","TypeAsString":"Text"}]}`), nil
		}
		return jsonResp(404, `{}`), nil
	}}
	repo := &fakeHealthRepo{}
	engine := newTestEngine(transport, repo)

	health, err := engine.EnsureAll(context.Background(), engineConfig())
	require.NoError(t, err)

	assert.Equal(t, tenant.PermissionInsufficient, health.Permissions.Status)

	// 403 means nothing was created, so nothing may be deleted.
	for _, req := range transport.requests {
		assert.NotEqual(t, "DELETE", req.Header.Get("X-HTTP-Method"))
	}

	// Read-only provisioning still proceeds.
	assert.Equal(t, []string{"Projects"}, health.Lists.Ensured)
}

func TestEngine_EnsureAll_DigestFailureAbortsPass(t *testing.T) {
	transport := &scriptedTransport{handler: func(req *spproxy.Request) (*spproxy.Response, error) {
		return jsonResp(401, `{}`), nil
	}}
	repo := &fakeHealthRepo{}
	engine := newTestEngine(transport, repo)

	health, err := engine.EnsureAll(context.Background(), engineConfig())
	require.NoError(t, err)

	assert.Equal(t, tenant.PermissionError, health.Permissions.Status)
	assert.Empty(t, health.Lists.Ensured)
	assert.Empty(t, health.Lists.Created)
	assert.Equal(t, 1, repo.saveCalls, "aborted pass still persists its snapshot")

	// Only the digest call went out.
	assert.Len(t, transport.requests, 1)
}

func TestEngine_EnsureAll_FieldFailureIsCollectedNotFatal(t *testing.T) {
	transport := &scriptedTransport{handler: func(req *spproxy.Request) (*spproxy.Response, error) {
		switch {
		case strings.Contains(req.URL, "/_api/contextinfo"):
			return digestResp(), nil
		case req.Method == "GET" && strings.Contains(req.URL, "getByTitle('Projects')?$select=Id,Title"):
			return jsonResp(200, `{}`), nil
		case req.Method == "GET" && strings.Contains(req.URL, "getByInternalNameOrTitle('TileColor')"):
			return jsonResp(404, `{}`), nil
		case req.Method == "POST" && strings.Contains(req.URL, "createfieldasxml"):
			// Both the wrapped and bare payload attempts fail.
			return jsonResp(500, `{"error":"boom"}`), nil
		case req.Method == "POST" && strings.HasSuffix(req.URL, "/_api/web/lists"):
			return jsonResp(201, `{}`), nil
		case req.Method == "POST" && strings.Contains(req.URL, "roadmap-probe-test"):
			return jsonResp(200, `{}`), nil
		case req.Method == "GET" && strings.Contains(req.URL, "/fields?"):
			return jsonResp(200, `{"value":[]}`), nil
		}
		return jsonResp(404, `{}`), nil
	}}
	repo := &fakeHealthRepo{}
	engine := newTestEngine(transport, repo)

	health, err := engine.EnsureAll(context.Background(), engineConfig())
	require.NoError(t, err)

	// The list itself still counts as ensured; only the field failed.
	assert.Equal(t, []string{"Projects"}, health.Lists.Ensured)
	assert.Contains(t, health.Lists.Errors, "Projects/TileColor")

	// Wrapped payload then bare payload.
	assert.Equal(t, 2, transport.countRequests("POST", "createfieldasxml"))
}

func TestEngine_EnsureAll_RecordsDriftAndCarriesIgnores(t *testing.T) {
	transport := &scriptedTransport{handler: func(req *spproxy.Request) (*spproxy.Response, error) {
		switch {
		case strings.Contains(req.URL, "/_api/contextinfo"):
			return digestResp(), nil
		case req.Method == "GET" && strings.Contains(req.URL, "getByTitle('Projects')?$select=Id,Title"):
			return jsonResp(200, `{}`), nil
		case req.Method == "GET" && strings.Contains(req.URL, "getByInternalNameOrTitle"):
			return jsonResp(200, `{}`), nil
		case req.Method == "GET" && strings.Contains(req.URL, "/fields?"):
			// TileColor live with wrong type, plus a stray column.
			return jsonResp(200, `{"value":[{"InternalName":"TileColor","TypeAsString":"Note"},{"InternalName":"LegacyColumn","TypeAsString":"Text"}]}`), nil
		case req.Method == "POST" && strings.HasSuffix(req.URL, "/_api/web/lists"):
			return jsonResp(201, `{}`), nil
		case req.Method == "POST" && strings.Contains(req.URL, "roadmap-probe-test"):
			return jsonResp(200, `{}`), nil
		}
		return jsonResp(404, `{}`), nil
	}}
	repo := &fakeHealthRepo{}
	engine := newTestEngine(transport, repo)

	ignored := tenant.Mismatch{
		ListName: "Projects", Field: "LegacyColumn",
		Kind: tenant.MismatchUnexpected, Actual: "Text",
	}
	cfg := engineConfig()
	cfg.Health = tenant.NewHealth(time.Now())
	cfg.Health.SetIgnored(ignored, true)

	health, err := engine.EnsureAll(context.Background(), cfg)
	require.NoError(t, err)

	// The type mismatch is active; the acknowledged stray column stays ignored.
	typeMismatch := tenant.Mismatch{
		ListName: "Projects", Field: "TileColor",
		Kind: tenant.MismatchTypeMismatch, Expected: "Text", Actual: "Note",
	}
	assert.Contains(t, health.Lists.SchemaMismatches, typeMismatch.Key())
	assert.NotContains(t, health.Lists.SchemaMismatches, ignored.Key())
	assert.Contains(t, health.Lists.SchemaMismatchesIgnored, ignored.Key())
}

func TestEngine_EnsureOne(t *testing.T) {
	transport := &scriptedTransport{handler: func(req *spproxy.Request) (*spproxy.Response, error) {
		switch {
		case strings.Contains(req.URL, "/_api/contextinfo"):
			return digestResp(), nil
		case req.Method == "GET" && strings.Contains(req.URL, "?$select=Id,Title"):
			return jsonResp(200, `{}`), nil
		case req.Method == "GET" && strings.Contains(req.URL, "getByInternalNameOrTitle"):
			return jsonResp(200, `{}`), nil
		}
		return jsonResp(404, `{}`), nil
	}}
	engine := newTestEngine(transport, &fakeHealthRepo{})

	result, err := engine.EnsureOne(context.Background(), engineConfig(), "projects")
	require.NoError(t, err)
	assert.Equal(t, "ensured", result.Status)
	assert.Equal(t, "Projects", result.ResolvedTitle)

	_, err = engine.EnsureOne(context.Background(), engineConfig(), "nonsense")
	var protocolErr *contracts.ProtocolError
	require.ErrorAs(t, err, &protocolErr)
}

func TestEngine_SetIgnore_ToggleIsIdempotentAndReversible(t *testing.T) {
	repo := &fakeHealthRepo{}
	engine := newTestEngine(&scriptedTransport{}, repo)

	cfg := engineConfig()
	cfg.Health = tenant.NewHealth(time.Now())
	m := tenant.Mismatch{ListName: "Projects", Field: "LegacyColumn", Kind: tenant.MismatchUnexpected, Actual: "Text"}
	cfg.Health.SetIgnored(m, false)

	health, err := engine.SetIgnore(context.Background(), cfg, m, true)
	require.NoError(t, err)
	assert.Contains(t, health.Lists.SchemaMismatchesIgnored, m.Key())
	assert.NotContains(t, health.Lists.SchemaMismatches, m.Key())

	// Repeating the same toggle changes nothing.
	health, err = engine.SetIgnore(context.Background(), cfg, m, true)
	require.NoError(t, err)
	assert.Contains(t, health.Lists.SchemaMismatchesIgnored, m.Key())
	assert.Len(t, health.Lists.SchemaMismatchesIgnored, 1)

	// And it reverses cleanly.
	health, err = engine.SetIgnore(context.Background(), cfg, m, false)
	require.NoError(t, err)
	assert.Contains(t, health.Lists.SchemaMismatches, m.Key())
	assert.NotContains(t, health.Lists.SchemaMismatchesIgnored, m.Key())

	assert.Equal(t, 3, repo.saveCalls, "each toggle persists")
}

func TestEngine_Overview_PartitionsIgnoredDrift(t *testing.T) {
	transport := &scriptedTransport{handler: func(req *spproxy.Request) (*spproxy.Response, error) {
		switch {
		case req.Method == "GET" && strings.Contains(req.URL, "getByTitle('Projects')?$select=Id,Title"):
			return jsonResp(200, `{}`), nil
		case req.Method == "GET" && strings.Contains(req.URL, "/fields?"):
			return jsonResp(200, `{"value":[{"InternalName":"LegacyColumn","TypeAsString":"Text"}]}`), nil
		}
		return jsonResp(404, `{}`), nil
	}}
	engine := newTestEngine(transport, &fakeHealthRepo{})

	cfg := engineConfig()
	cfg.Health = tenant.NewHealth(time.Now())
	cfg.Health.SetIgnored(tenant.Mismatch{
		ListName: "Projects", Field: "LegacyColumn",
		Kind: tenant.MismatchUnexpected, Actual: "Text",
	}, true)

	statuses, err := engine.Overview(context.Background(), cfg)
	require.NoError(t, err)
	require.Len(t, statuses, 1)

	status := statuses[0]
	assert.True(t, status.Exists)
	assert.Equal(t, "Projects", status.ResolvedTitle)

	// TileColor is declared but absent.
	require.Len(t, status.Missing, 1)
	assert.Equal(t, "TileColor", status.Missing[0].Field)

	// The acknowledged stray column lands in the ignored partition.
	require.Len(t, status.Ignored, 1)
	assert.Equal(t, "LegacyColumn", status.Ignored[0].Field)
	assert.Empty(t, status.Unexpected)
}

func TestEngine_Overview_MissingList(t *testing.T) {
	transport := &scriptedTransport{handler: func(req *spproxy.Request) (*spproxy.Response, error) {
		return jsonResp(404, `{}`), nil
	}}
	engine := newTestEngine(transport, &fakeHealthRepo{})

	statuses, err := engine.Overview(context.Background(), engineConfig())
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.False(t, statuses[0].Exists)
	assert.Empty(t, statuses[0].Error)
}
