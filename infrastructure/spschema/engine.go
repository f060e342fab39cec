package spschema

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"roadmapper/domain/contracts"
	"roadmapper/domain/tenant"
	"roadmapper/infrastructure/spproxy"
	"roadmapper/logging"
)

// Engine idempotently provisions the expected list/field schema on an
// instance's SharePoint site and reports structured health. It is built
// for maximal forward progress: individual list and field failures are
// collected into the health snapshot, never thrown; only digest
// acquisition failure aborts a pass.
//
// The engine talks to SharePoint through the proxy's transport
// primitives directly, since provisioning touches endpoints (list
// creation, the probe list) the public allow-list does not admit.
type Engine struct {
	transports spproxy.TransportProvider
	digests    *spproxy.DigestCache
	repo       contracts.InstanceRepository
	catalog    []tenant.ListDefinition
	env        string

	now       func() time.Time
	probeName func() string

	logger *logging.Logger
}

// NewEngine creates a provisioning engine over the given catalog.
func NewEngine(transports spproxy.TransportProvider, digests *spproxy.DigestCache, repo contracts.InstanceRepository, catalog []tenant.ListDefinition, env string) *Engine {
	return &Engine{
		transports: transports,
		digests:    digests,
		repo:       repo,
		catalog:    catalog,
		env:        env,
		now:        time.Now,
		probeName:  func() string { return "roadmap-probe-" + uuid.NewString() },
		logger:     logging.Default().WithComponent("schema_engine"),
	}
}

// Catalog returns the declared list definitions.
func (e *Engine) Catalog() []tenant.ListDefinition {
	return e.catalog
}

// EnsureResult reports the outcome of ensuring a single list.
type EnsureResult struct {
	Key           string   `json:"key"`
	Status        string   `json:"status"` // ensured | created | error
	ResolvedTitle string   `json:"resolvedTitle,omitempty"`
	FieldsCreated []string `json:"fieldsCreated,omitempty"`
	Error         string   `json:"error,omitempty"`

	// fieldErrors collects per-field failures keyed "list/field".
	fieldErrors map[string]string
}

// ListStatus is one list's drift report, partitioned by the operator
// ignore set.
type ListStatus struct {
	Key           string            `json:"key"`
	Title         string            `json:"title"`
	Exists        bool              `json:"exists"`
	ResolvedTitle string            `json:"resolvedTitle,omitempty"`
	Missing       []tenant.Mismatch `json:"missing,omitempty"`
	Unexpected    []tenant.Mismatch `json:"unexpected,omitempty"`
	TypeMismatch  []tenant.Mismatch `json:"typeMismatches,omitempty"`
	Ignored       []tenant.Mismatch `json:"ignored,omitempty"`
	Error         string            `json:"error,omitempty"`
}

// EnsureAll runs a full provisioning pass and persists the resulting
// health snapshot. The returned health is always a best-effort report;
// a digest failure is recorded as permissions.status=error and ends the
// pass, since nothing can be created without a digest.
func (e *Engine) EnsureAll(ctx context.Context, t *tenant.Config) (*tenant.Health, error) {
	start := e.now()
	health := tenant.NewHealth(start)
	carryIgnores(t, health)

	transport, err := e.transports.ForInstance(t)
	if err != nil {
		health.Permissions = tenant.PermissionHealth{Status: tenant.PermissionError, Message: err.Error()}
		return e.persist(ctx, t, health)
	}

	siteURL := e.siteURL(t)
	digest, err := e.digests.Get(ctx, t.Slug, siteURL, transport)
	if err != nil {
		e.logger.Provision("Digest acquisition failed, aborting pass", t.Slug, "error", err.Error())
		health.Permissions = tenant.PermissionHealth{Status: tenant.PermissionError, Message: err.Error()}
		return e.persist(ctx, t, health)
	}

	health.Permissions = e.probePermissions(ctx, transport, siteURL, digest, t.Slug)

	for _, def := range e.catalog {
		result := e.ensureList(ctx, transport, siteURL, digest, def)
		switch result.Status {
		case "ensured":
			health.Lists.Ensured = append(health.Lists.Ensured, result.ResolvedTitle)
		case "created":
			health.Lists.Created = append(health.Lists.Created, result.ResolvedTitle)
		default:
			health.Lists.Missing = append(health.Lists.Missing, def.Title)
			health.Lists.Errors[def.Title] = result.Error
			continue
		}
		if len(result.FieldsCreated) > 0 {
			health.Lists.FieldsCreated[result.ResolvedTitle] = result.FieldsCreated
		}

		for key, msg := range result.fieldErrors {
			health.Lists.Errors[key] = msg
		}

		e.recordDrift(ctx, transport, siteURL, def, result.ResolvedTitle, t, health)
	}

	e.logger.Performance("provision_pass", e.now().Sub(start),
		"instance", t.Slug,
		"ensured", len(health.Lists.Ensured),
		"created", len(health.Lists.Created),
		"errors", len(health.Lists.Errors))

	return e.persist(ctx, t, health)
}

// EnsureOne ensures a single catalog list by key.
func (e *Engine) EnsureOne(ctx context.Context, t *tenant.Config, key string) (*EnsureResult, error) {
	def, ok := e.definition(key)
	if !ok {
		return nil, &contracts.ProtocolError{Message: "unknown list key " + key}
	}

	transport, err := e.transports.ForInstance(t)
	if err != nil {
		return nil, err
	}

	siteURL := e.siteURL(t)
	digest, err := e.digests.Get(ctx, t.Slug, siteURL, transport)
	if err != nil {
		return nil, err
	}

	result := e.ensureList(ctx, transport, siteURL, digest, def)
	return &result, nil
}

// Overview compares the live schema against the catalog, returning the
// drift report per list with ignored entries partitioned out.
func (e *Engine) Overview(ctx context.Context, t *tenant.Config) ([]ListStatus, error) {
	transport, err := e.transports.ForInstance(t)
	if err != nil {
		return nil, err
	}
	siteURL := e.siteURL(t)

	statuses := make([]ListStatus, 0, len(e.catalog))
	for _, def := range e.catalog {
		status := ListStatus{Key: def.Key, Title: def.Title}

		resolved, err := e.resolveList(ctx, transport, siteURL, def)
		if err != nil {
			status.Error = err.Error()
			statuses = append(statuses, status)
			continue
		}
		if resolved == "" {
			statuses = append(statuses, status)
			continue
		}
		status.Exists = true
		status.ResolvedTitle = resolved

		mismatches, err := e.compareFields(ctx, transport, siteURL, def, resolved)
		if err != nil {
			status.Error = err.Error()
			statuses = append(statuses, status)
			continue
		}

		for _, m := range mismatches {
			if t.Health.IsIgnored(m) {
				status.Ignored = append(status.Ignored, m)
				continue
			}
			switch m.Kind {
			case tenant.MismatchMissing:
				status.Missing = append(status.Missing, m)
			case tenant.MismatchUnexpected:
				status.Unexpected = append(status.Unexpected, m)
			case tenant.MismatchTypeMismatch:
				status.TypeMismatch = append(status.TypeMismatch, m)
			}
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

// SetIgnore toggles one mismatch's ignored state and persists the
// updated health snapshot. The toggle is idempotent in both directions.
func (e *Engine) SetIgnore(ctx context.Context, t *tenant.Config, m tenant.Mismatch, ignored bool) (*tenant.Health, error) {
	health := t.Health
	if health == nil {
		health = tenant.NewHealth(e.now())
	}
	health.SetIgnored(m, ignored)

	if err := e.repo.SaveHealth(ctx, t.Slug, health); err != nil {
		return nil, err
	}
	return health, nil
}

// ensureList resolves one list by its candidate titles, creating it when
// absent, then ensures each declared field exists.
func (e *Engine) ensureList(ctx context.Context, transport spproxy.Transport, siteURL, digest string, def tenant.ListDefinition) EnsureResult {
	result := EnsureResult{Key: def.Key, fieldErrors: map[string]string{}}

	resolved, err := e.resolveList(ctx, transport, siteURL, def)
	if err != nil {
		result.Status = "error"
		result.Error = err.Error()
		return result
	}

	if resolved != "" {
		result.Status = "ensured"
		result.ResolvedTitle = resolved
	} else {
		if err := e.createList(ctx, transport, siteURL, digest, def); err != nil {
			result.Status = "error"
			result.Error = err.Error()
			return result
		}
		result.Status = "created"
		result.ResolvedTitle = def.Title
		resolved = def.Title
	}

	for _, field := range def.Fields {
		created, err := e.ensureField(ctx, transport, siteURL, digest, resolved, field)
		if err != nil {
			// Collected, not fatal: remaining fields and lists still run.
			result.fieldErrors[resolved+"/"+field.Name] = err.Error()
			continue
		}
		if created {
			result.FieldsCreated = append(result.FieldsCreated, field.Name)
		}
	}

	return result
}

// resolveList probes the candidate titles in order; the first title that
// exists wins. Returns "" when no candidate exists.
func (e *Engine) resolveList(ctx context.Context, transport spproxy.Transport, siteURL string, def tenant.ListDefinition) (string, error) {
	for _, title := range def.CandidateTitles() {
		resp, err := transport.RoundTrip(ctx, e.get(listURL(siteURL, title)+"?$select=Id,Title"))
		if err != nil {
			return "", err
		}
		if resp.Status >= 200 && resp.Status < 300 {
			return title, nil
		}
		if resp.Status != http.StatusNotFound && resp.Status != http.StatusBadRequest {
			return "", fmt.Errorf("probe of list %q returned status %d", title, resp.Status)
		}
	}
	return "", nil
}

// createList issues the list-creation call with the declared template.
func (e *Engine) createList(ctx context.Context, transport spproxy.Transport, siteURL, digest string, def tenant.ListDefinition) error {
	body, _ := json.Marshal(map[string]any{
		"Title":        def.Title,
		"BaseTemplate": def.Template,
	})

	resp, err := transport.RoundTrip(ctx, e.post(siteURL+"/_api/web/lists", digest, body))
	if err != nil {
		return err
	}
	if resp.Status < 200 || resp.Status >= 300 {
		return fmt.Errorf("create list %q: status %d: %s", def.Title, resp.Status, summarize(resp.Body))
	}
	e.logger.SharePoint("List created", "title", def.Title, "template", def.Template)
	return nil
}

// ensureField checks a single declared field, creating it when absent.
// Returns true when the field was created by this call.
func (e *Engine) ensureField(ctx context.Context, transport spproxy.Transport, siteURL, digest, listTitle string, field tenant.FieldDefinition) (bool, error) {
	checkURL := listURL(siteURL, listTitle) +
		"/fields/getByInternalNameOrTitle('" + escapeODataString(field.Name) + "')?$select=InternalName,TypeAsString"

	resp, err := transport.RoundTrip(ctx, e.get(checkURL))
	if err != nil {
		return false, err
	}
	if resp.Status >= 200 && resp.Status < 300 {
		return false, nil
	}
	if !fieldAbsent(resp) {
		return false, fmt.Errorf("check field %q: status %d: %s", field.Name, resp.Status, summarize(resp.Body))
	}

	createURL := listURL(siteURL, listTitle) + "/fields/createfieldasxml"

	// Some farm versions expect the schema wrapped in a parameters
	// object, others reject the wrapper; try wrapped first, then bare.
	wrapped, _ := json.Marshal(map[string]any{
		"parameters": map[string]any{"SchemaXml": field.SchemaXML},
	})
	resp, err = transport.RoundTrip(ctx, e.post(createURL, digest, wrapped))
	if err == nil && resp.Status >= 200 && resp.Status < 300 {
		return true, nil
	}

	bare, _ := json.Marshal(map[string]any{"SchemaXml": field.SchemaXML})
	resp, err = transport.RoundTrip(ctx, e.post(createURL, digest, bare))
	if err != nil {
		return false, err
	}
	if resp.Status < 200 || resp.Status >= 300 {
		return false, fmt.Errorf("create field %q: status %d: %s", field.Name, resp.Status, summarize(resp.Body))
	}
	return true, nil
}

// probePermissions verifies the service account can actually create
// lists (not merely read) by creating a disposable, randomly-named list
// and deleting it again. SharePoint exposes no lighter-weight
// introspection call that reliably predicts list-creation rights.
func (e *Engine) probePermissions(ctx context.Context, transport spproxy.Transport, siteURL, digest, slug string) tenant.PermissionHealth {
	name := e.probeName()

	body, _ := json.Marshal(map[string]any{"Title": name, "BaseTemplate": genericListTemplate})
	resp, err := transport.RoundTrip(ctx, e.post(siteURL+"/_api/web/lists", digest, body))
	if err != nil {
		return tenant.PermissionHealth{Status: tenant.PermissionError, Message: err.Error()}
	}

	if resp.Status == http.StatusForbidden {
		// Creation denied, nothing to clean up.
		return tenant.PermissionHealth{Status: tenant.PermissionInsufficient, Message: "list creation denied (403)"}
	}
	if resp.Status < 200 || resp.Status >= 300 {
		return tenant.PermissionHealth{Status: tenant.PermissionError,
			Message: fmt.Sprintf("probe list creation returned status %d: %s", resp.Status, summarize(resp.Body))}
	}

	// The probe list exists now; delete it whatever else happens.
	defer func() {
		del := e.post(listURL(siteURL, name), digest, nil)
		del.Header.Set("X-HTTP-Method", "DELETE")
		del.Header.Set("IF-MATCH", "*")
		if delResp, delErr := transport.RoundTrip(ctx, del); delErr != nil {
			e.logger.Provision("Probe list cleanup failed", slug, "list", name, "error", delErr.Error())
		} else if delResp.Status >= 300 {
			e.logger.Provision("Probe list cleanup returned error status", slug, "list", name, "status", delResp.Status)
		}
	}()

	return tenant.PermissionHealth{Status: tenant.PermissionOK}
}

// recordDrift folds one list's field drift into the health snapshot.
func (e *Engine) recordDrift(ctx context.Context, transport spproxy.Transport, siteURL string, def tenant.ListDefinition, resolved string, t *tenant.Config, health *tenant.Health) {
	mismatches, err := e.compareFields(ctx, transport, siteURL, def, resolved)
	if err != nil {
		e.logger.Provision("Drift detection failed", t.Slug, "list", resolved, "error", err.Error())
		return
	}
	for _, m := range mismatches {
		// Operator-acknowledged entries stay in the ignored map.
		health.SetIgnored(m, health.IsIgnored(m))
	}
}

// compareFields fetches the live custom fields of a list and diffs them
// against the declaration.
func (e *Engine) compareFields(ctx context.Context, transport spproxy.Transport, siteURL string, def tenant.ListDefinition, resolved string) ([]tenant.Mismatch, error) {
	fieldsURL := listURL(siteURL, resolved) +
		"/fields?$select=InternalName,TypeAsString&$filter=Hidden eq false and CanBeDeleted eq true"

	resp, err := transport.RoundTrip(ctx, e.get(fieldsURL))
	if err != nil {
		return nil, err
	}
	if resp.Status < 200 || resp.Status >= 300 {
		return nil, fmt.Errorf("list fields of %q: status %d", resolved, resp.Status)
	}

	live, err := decodeFields(resp.Body)
	if err != nil {
		return nil, err
	}

	liveByName := make(map[string]fieldInfo, len(live))
	for _, f := range live {
		liveByName[f.InternalName] = f
	}

	var mismatches []tenant.Mismatch
	for _, declared := range def.Fields {
		actual, ok := liveByName[declared.Name]
		if !ok {
			mismatches = append(mismatches, tenant.Mismatch{
				ListName: resolved, Field: declared.Name,
				Kind: tenant.MismatchMissing, Expected: declared.Type,
			})
			continue
		}
		if actual.TypeAsString != declared.Type {
			mismatches = append(mismatches, tenant.Mismatch{
				ListName: resolved, Field: declared.Name,
				Kind: tenant.MismatchTypeMismatch, Expected: declared.Type, Actual: actual.TypeAsString,
			})
		}
	}
	for _, f := range live {
		if _, ok := def.Field(f.InternalName); !ok {
			mismatches = append(mismatches, tenant.Mismatch{
				ListName: resolved, Field: f.InternalName,
				Kind: tenant.MismatchUnexpected, Actual: f.TypeAsString,
			})
		}
	}
	return mismatches, nil
}

// persist appends the fresh health snapshot; the snapshot itself is
// still returned when persistence fails, since the caller already has a
// usable report.
func (e *Engine) persist(ctx context.Context, t *tenant.Config, health *tenant.Health) (*tenant.Health, error) {
	if err := e.repo.SaveHealth(ctx, t.Slug, health); err != nil && !errors.Is(err, contracts.ErrInstanceNotFound) {
		e.logger.Provision("Failed to persist health snapshot", t.Slug, "error", err.Error())
	}
	return health, nil
}

// carryIgnores forwards operator-acknowledged mismatches into a fresh
// snapshot so ignore state survives provisioning passes.
func carryIgnores(t *tenant.Config, health *tenant.Health) {
	if t.Health == nil {
		return
	}
	for _, m := range t.Health.Lists.SchemaMismatchesIgnored {
		health.SetIgnored(m, true)
	}
}

func (e *Engine) definition(key string) (tenant.ListDefinition, bool) {
	for _, def := range e.catalog {
		if def.Key == key {
			return def, true
		}
	}
	return tenant.ListDefinition{}, false
}

func (e *Engine) siteURL(t *tenant.Config) string {
	return strings.TrimRight(t.SharePoint.SiteURL(e.env), "/")
}

func (e *Engine) get(url string) *spproxy.Request {
	header := http.Header{}
	header.Set("Accept", "application/json;odata=nometadata")
	return &spproxy.Request{Method: http.MethodGet, URL: url, Header: header}
}

func (e *Engine) post(url, digest string, body []byte) *spproxy.Request {
	header := http.Header{}
	header.Set("Accept", "application/json;odata=nometadata")
	header.Set("X-RequestDigest", digest)
	if len(body) > 0 {
		header.Set("Content-Type", "application/json;odata=nometadata")
	}
	return &spproxy.Request{Method: http.MethodPost, URL: url, Header: header, Body: body}
}

type fieldInfo struct {
	InternalName string `json:"InternalName"`
	TypeAsString string `json:"TypeAsString"`
}

// decodeFields tolerates both the nometadata and verbose envelopes.
func decodeFields(body []byte) ([]fieldInfo, error) {
	var env struct {
		Value []fieldInfo `json:"value"`
		D     struct {
			Results []fieldInfo `json:"results"`
		} `json:"d"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode fields response: %w", err)
	}
	if env.Value != nil {
		return env.Value, nil
	}
	if env.D.Results != nil {
		return env.D.Results, nil
	}
	return nil, fmt.Errorf("fields response had no recognizable collection")
}

// fieldAbsent classifies a field check response as "field does not
// exist": a plain 404, or the farm's 400 with a known message.
func fieldAbsent(resp *spproxy.Response) bool {
	if resp.Status == http.StatusNotFound {
		return true
	}
	if resp.Status != http.StatusBadRequest {
		return false
	}
	msg := strings.ToLower(string(resp.Body))
	return strings.Contains(msg, "does not exist") || strings.Contains(msg, "invalid field name")
}

// listURL builds the getByTitle URL for a list title.
func listURL(siteURL, title string) string {
	return siteURL + "/_api/web/lists/getByTitle('" + escapeODataString(title) + "')"
}

// escapeODataString doubles single quotes per OData literal rules and
// escapes the rest for URL placement.
func escapeODataString(s string) string {
	s = strings.ReplaceAll(s, "'", "''")
	return url.PathEscape(s)
}

func summarize(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
