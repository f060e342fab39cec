package tenant

import "fmt"

// AuthStrategy is the tagged union of supported credential exchanges.
// Each variant carries only the fields its exchange needs, so invalid
// combinations (a domain on a claims strategy, say) cannot be expressed.
type AuthStrategy interface {
	// Name returns the canonical strategy name as used in configuration.
	Name() string
}

// Online exchanges username+password for a claims cookie against a
// SharePoint Online / claims-enabled endpoint. No domain is involved.
type Online struct {
	Username string
	Password string
}

func (Online) Name() string { return StrategyOnline }

// OnPremNTLM authenticates with the NTLM challenge-response handshake
// against an on-premises farm.
type OnPremNTLM struct {
	Username string
	Password string
	Domain   string
	// Workstation is the machine name announced in the NTLM handshake.
	// Some farms silently reject mismatched workstation names, so the
	// configured value is logged at auth time even where the underlying
	// stack derives its own.
	Workstation string
}

func (OnPremNTLM) Name() string { return StrategyOnPremNTLM }

// OnPremUserPass is the legacy alias for NTLM-style user/pass on-prem auth.
type OnPremUserPass struct {
	Username    string
	Password    string
	Domain      string
	Workstation string
}

func (OnPremUserPass) Name() string { return StrategyOnPremUserPas }

// Basic sends a static Authorization: Basic header.
type Basic struct {
	Username string
	Password string
}

func (Basic) Name() string { return StrategyBasic }

// Kerberos negotiates with ambient tickets. In-process Go has no SPNEGO
// stack wired here; the exchange happens at the curl transport via
// --negotiate, so this variant only identifies the principal.
type Kerberos struct {
	Username string
	Domain   string
}

func (Kerberos) Name() string { return StrategyKerberos }

// FBA performs SharePoint forms-based authentication.
type FBA struct {
	Username string
	Password string
}

func (FBA) Name() string { return StrategyFBA }

// AuthStrategy builds the typed strategy for the settings' primary
// strategy name.
func (s Settings) AuthStrategy() (AuthStrategy, error) {
	return s.strategyByName(s.Strategy)
}

// FallbackStrategies builds the typed strategies for the configured
// extra auth modes, preserving their order. Unknown names are skipped.
func (s Settings) FallbackStrategies() []AuthStrategy {
	out := make([]AuthStrategy, 0, len(s.ExtraModes))
	for _, name := range s.ExtraModes {
		st, err := s.strategyByName(name)
		if err != nil {
			continue
		}
		out = append(out, st)
	}
	return out
}

func (s Settings) strategyByName(name string) (AuthStrategy, error) {
	switch name {
	case StrategyOnline:
		return Online{Username: s.Username, Password: s.Password}, nil
	case StrategyOnPremNTLM:
		return OnPremNTLM{Username: s.Username, Password: s.Password, Domain: s.Domain, Workstation: s.Workstation}, nil
	case StrategyOnPremUserPas:
		return OnPremUserPass{Username: s.Username, Password: s.Password, Domain: s.Domain, Workstation: s.Workstation}, nil
	case StrategyBasic:
		return Basic{Username: s.Username, Password: s.Password}, nil
	case StrategyKerberos:
		return Kerberos{Username: s.Username, Domain: s.Domain}, nil
	case StrategyFBA:
		return FBA{Username: s.Username, Password: s.Password}, nil
	default:
		return nil, fmt.Errorf("unknown auth strategy %q", name)
	}
}
