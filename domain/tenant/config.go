package tenant

import (
	"fmt"
	"strings"
)

// Strategy names accepted in instance configuration.
const (
	StrategyOnline        = "online"
	StrategyKerberos      = "kerberos"
	StrategyOnPremNTLM    = "onprem-ntlm"
	StrategyOnPremUserPas = "onprem-userpass"
	StrategyBasic         = "basic"
	StrategyFBA           = "fba"
)

// Environment names for site URL selection.
const (
	EnvDev  = "dev"
	EnvProd = "prod"
)

// Config is the immutable-per-request snapshot of one instance (tenant):
// a department-level deployment sharing the application but owning a
// distinct SharePoint site and credentials.
type Config struct {
	Slug        string   `json:"slug"`
	DisplayName string   `json:"displayName"`
	Department  string   `json:"department,omitempty"`
	Description string   `json:"description,omitempty"`
	Hosts       []string `json:"hosts,omitempty"`

	SharePoint Settings `json:"sharePoint"`

	// Health is the last-known provisioning result, persisted so health
	// state survives restarts. Mutated only by the schema engine.
	Health *Health `json:"health,omitempty"`
}

// Settings holds the per-instance SharePoint connection configuration.
type Settings struct {
	SiteURLDev  string `json:"siteUrlDev,omitempty"`
	SiteURLProd string `json:"siteUrlProd,omitempty"`

	Strategy    string `json:"strategy"`
	Username    string `json:"username,omitempty"`
	Password    string `json:"password,omitempty"`
	Domain      string `json:"domain,omitempty"`
	Workstation string `json:"workstation,omitempty"`

	AllowSelfSigned      bool `json:"allowSelfSigned,omitempty"`
	NeedsProxy           bool `json:"needsProxy,omitempty"`
	ForceSingleCreds     bool `json:"forceSingleCreds,omitempty"`
	AuthNoCache          bool `json:"authNoCache,omitempty"`
	ManualNtlmFallback   bool `json:"manualNtlmFallback,omitempty"`
	NtlmPersistentSocket bool `json:"ntlmPersistentSocket,omitempty"`
	NtlmSocketProbe      bool `json:"ntlmSocketProbe,omitempty"`

	// ExtraModes lists fallback auth strategy names tried, in order,
	// after the primary strategy fails.
	ExtraModes []string `json:"extraModes,omitempty"`

	TrustedCAPath string `json:"trustedCaPath,omitempty"`
}

// SiteURL returns the SharePoint site URL for the given environment,
// falling back to whichever of the pair is configured.
func (s Settings) SiteURL(env string) string {
	if env == EnvProd {
		if s.SiteURLProd != "" {
			return s.SiteURLProd
		}
		return s.SiteURLDev
	}
	if s.SiteURLDev != "" {
		return s.SiteURLDev
	}
	return s.SiteURLProd
}

// Validate checks the minimum shape a resolver-returned config must have.
func (c *Config) Validate() error {
	if c.Slug == "" {
		return fmt.Errorf("instance has no slug")
	}
	if c.Slug != strings.ToLower(c.Slug) {
		return fmt.Errorf("instance slug %q must be lowercase", c.Slug)
	}
	if c.SharePoint.SiteURL(EnvDev) == "" {
		return fmt.Errorf("instance %q has no SharePoint site URL", c.Slug)
	}
	return nil
}
