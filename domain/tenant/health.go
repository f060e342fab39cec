package tenant

import (
	"fmt"
	"time"
)

// Permission probe outcomes.
const (
	PermissionOK           = "ok"
	PermissionInsufficient = "insufficient"
	PermissionError        = "error"
	PermissionUnknown      = "unknown"
)

// Mismatch kinds reported by schema drift detection.
const (
	MismatchMissing      = "missing"
	MismatchUnexpected   = "unexpected"
	MismatchTypeMismatch = "type"
)

// Health is the last-known provisioning/health snapshot for an instance.
type Health struct {
	CheckedAt   time.Time        `json:"checkedAt"`
	Permissions PermissionHealth `json:"permissions"`
	Lists       ListsHealth      `json:"lists"`
}

// PermissionHealth reports the write-permission probe result.
type PermissionHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// ListsHealth aggregates per-list provisioning outcomes. Individual
// failures are collected here rather than thrown so a single failing
// list never blocks the rest of a provisioning run.
type ListsHealth struct {
	Ensured       []string            `json:"ensured"`
	Created       []string            `json:"created"`
	Missing       []string            `json:"missing"`
	FieldsCreated map[string][]string `json:"fieldsCreated,omitempty"`
	Errors        map[string]string   `json:"errors,omitempty"`

	// SchemaMismatches holds active drift entries keyed by MismatchKey
	// string form; SchemaMismatchesIgnored holds entries an operator has
	// acknowledged. An entry lives in exactly one of the two maps.
	SchemaMismatches        map[string]Mismatch `json:"schemaMismatches,omitempty"`
	SchemaMismatchesIgnored map[string]Mismatch `json:"schemaMismatchesIgnored,omitempty"`
}

// Mismatch is one schema drift finding on one list field.
type Mismatch struct {
	ListName string `json:"listName"`
	Field    string `json:"field"`
	Kind     string `json:"kind"`
	Expected string `json:"expected,omitempty"`
	Actual   string `json:"actual,omitempty"`
}

// Key returns the stable identity used for ignore bookkeeping.
func (m Mismatch) Key() string {
	return fmt.Sprintf("%s|%s|%s|%s|%s", m.ListName, m.Field, m.Kind, m.Expected, m.Actual)
}

// NewHealth returns an empty snapshot with unknown permissions.
func NewHealth(now time.Time) *Health {
	return &Health{
		CheckedAt:   now,
		Permissions: PermissionHealth{Status: PermissionUnknown},
		Lists: ListsHealth{
			Ensured:       []string{},
			Created:       []string{},
			Missing:       []string{},
			FieldsCreated: map[string][]string{},
			Errors:        map[string]string{},
		},
	}
}

// SetIgnored toggles one mismatch between the active and ignored sets.
// The only transitions are active→ignored and ignored→active; repeating
// either is a no-op, so the operation is idempotent both ways.
func (h *Health) SetIgnored(m Mismatch, ignored bool) {
	if h.Lists.SchemaMismatches == nil {
		h.Lists.SchemaMismatches = map[string]Mismatch{}
	}
	if h.Lists.SchemaMismatchesIgnored == nil {
		h.Lists.SchemaMismatchesIgnored = map[string]Mismatch{}
	}
	key := m.Key()
	if ignored {
		delete(h.Lists.SchemaMismatches, key)
		h.Lists.SchemaMismatchesIgnored[key] = m
		return
	}
	delete(h.Lists.SchemaMismatchesIgnored, key)
	h.Lists.SchemaMismatches[key] = m
}

// IsIgnored reports whether a mismatch has been operator-acknowledged.
func (h *Health) IsIgnored(m Mismatch) bool {
	if h == nil || h.Lists.SchemaMismatchesIgnored == nil {
		return false
	}
	_, ok := h.Lists.SchemaMismatchesIgnored[m.Key()]
	return ok
}
