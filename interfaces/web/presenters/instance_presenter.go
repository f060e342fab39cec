package presenters

import (
	"roadmapper/domain/tenant"
)

// InstanceSummary is the admin-facing view of one instance. Credentials
// never appear here; only the effective site URL and strategy do.
type InstanceSummary struct {
	Slug        string   `json:"slug"`
	DisplayName string   `json:"displayName"`
	Department  string   `json:"department,omitempty"`
	Description string   `json:"description,omitempty"`
	Hosts       []string `json:"hosts,omitempty"`
	SiteURL     string   `json:"siteUrl"`
	Strategy    string   `json:"strategy"`

	HealthStatus  string `json:"healthStatus"`
	LastCheckedAt string `json:"lastCheckedAt,omitempty"`
}

// InstancePresenter formats instance configs for the admin API.
type InstancePresenter struct {
	env string
}

// NewInstancePresenter creates a presenter bound to the active
// environment so site URLs resolve to the right target.
func NewInstancePresenter(env string) *InstancePresenter {
	return &InstancePresenter{env: env}
}

// Summarize converts one config into its admin view.
func (p *InstancePresenter) Summarize(t *tenant.Config) InstanceSummary {
	s := InstanceSummary{
		Slug:        t.Slug,
		DisplayName: t.DisplayName,
		Department:  t.Department,
		Description: t.Description,
		Hosts:       t.Hosts,
		SiteURL:     t.SharePoint.SiteURL(p.env),
		Strategy:    t.SharePoint.Strategy,
		HealthStatus: func() string {
			if t.Health == nil {
				return tenant.PermissionUnknown
			}
			return t.Health.Permissions.Status
		}(),
	}
	if t.Health != nil && !t.Health.CheckedAt.IsZero() {
		s.LastCheckedAt = t.Health.CheckedAt.UTC().Format("2006-01-02T15:04:05Z07:00")
	}
	return s
}

// SummarizeAll converts a set of configs, preserving order.
func (p *InstancePresenter) SummarizeAll(ts []*tenant.Config) []InstanceSummary {
	out := make([]InstanceSummary, 0, len(ts))
	for _, t := range ts {
		out = append(out, p.Summarize(t))
	}
	return out
}
