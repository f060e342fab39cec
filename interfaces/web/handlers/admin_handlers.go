package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"roadmapper/application"
	"roadmapper/domain/tenant"
	"roadmapper/infrastructure/spschema"
	"roadmapper/interfaces/web/presenters"
	"roadmapper/logging"
)

// AdminHandlers serves the instance administration API: listing
// instances, reading health, running provisioning passes, and managing
// the schema drift ignore set.
type AdminHandlers struct {
	resolver  *application.InstanceResolver
	engine    *spschema.Engine
	presenter *presenters.InstancePresenter
	logger    *logging.Logger
}

// NewAdminHandlers creates a new admin handlers instance.
func NewAdminHandlers(resolver *application.InstanceResolver, engine *spschema.Engine, presenter *presenters.InstancePresenter) *AdminHandlers {
	return &AdminHandlers{
		resolver:  resolver,
		engine:    engine,
		presenter: presenter,
		logger:    logging.Default().WithComponent("admin_handler"),
	}
}

// ListInstances returns the summary view of every configured instance.
func (h *AdminHandlers) ListInstances(w http.ResponseWriter, r *http.Request) {
	instances, err := h.resolver.List(r.Context())
	if err != nil {
		h.logger.Error("Failed to list instances", "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.presenter.SummarizeAll(instances))
}

// GetHealth returns the persisted health snapshot for one instance.
func (h *AdminHandlers) GetHealth(w http.ResponseWriter, r *http.Request) {
	t, ok := h.instance(w, r)
	if !ok {
		return
	}
	health := t.Health
	if health == nil {
		health = tenant.NewHealth(time.Time{})
	}
	writeJSON(w, http.StatusOK, health)
}

// Provision runs a full provisioning pass against one instance and
// returns the fresh health snapshot.
func (h *AdminHandlers) Provision(w http.ResponseWriter, r *http.Request) {
	t, ok := h.instance(w, r)
	if !ok {
		return
	}

	h.logger.Provision("Provisioning pass requested", t.Slug)
	health, err := h.engine.EnsureAll(r.Context(), t)
	if err != nil {
		h.logger.Error("Provisioning pass failed", "instance", t.Slug, "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, health)
}

// ProvisionList ensures a single catalog list by key.
func (h *AdminHandlers) ProvisionList(w http.ResponseWriter, r *http.Request) {
	t, ok := h.instance(w, r)
	if !ok {
		return
	}
	key := chi.URLParam(r, "key")

	result, err := h.engine.EnsureOne(r.Context(), t, key)
	if err != nil {
		h.logger.Error("List provisioning failed", "instance", t.Slug, "list", key, "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// SchemaOverview returns the live drift report for one instance.
func (h *AdminHandlers) SchemaOverview(w http.ResponseWriter, r *http.Request) {
	t, ok := h.instance(w, r)
	if !ok {
		return
	}

	statuses, err := h.engine.Overview(r.Context(), t)
	if err != nil {
		h.logger.Error("Schema overview failed", "instance", t.Slug, "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statuses)
}

// ignoreRequest is the body of a schema ignore toggle.
type ignoreRequest struct {
	tenant.Mismatch
	Ignored bool `json:"ignored"`
}

// SetSchemaIgnore toggles one mismatch between the active and ignored
// sets and persists the result.
func (h *AdminHandlers) SetSchemaIgnore(w http.ResponseWriter, r *http.Request) {
	t, ok := h.instance(w, r)
	if !ok {
		return
	}

	var req ignoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ListName == "" || req.Field == "" || req.Kind == "" {
		http.Error(w, "listName, field and kind are required", http.StatusBadRequest)
		return
	}

	health, err := h.engine.SetIgnore(r.Context(), t, req.Mismatch, req.Ignored)
	if err != nil {
		h.logger.Error("Ignore toggle failed", "instance", t.Slug, "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, health)
}

// instance resolves the {slug} route parameter, writing the error
// response itself when resolution fails.
func (h *AdminHandlers) instance(w http.ResponseWriter, r *http.Request) (*tenant.Config, bool) {
	slug := chi.URLParam(r, "slug")
	if slug == "" {
		http.Error(w, "missing instance slug", http.StatusBadRequest)
		return nil, false
	}
	t, err := h.resolver.BySlug(r.Context(), slug)
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return t, true
}
