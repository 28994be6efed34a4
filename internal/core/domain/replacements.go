package domain

import (
	"fmt"
	"time"
)

// =============================================================================
// Replacement Sets
// =============================================================================

// Replacement maps a token name to its substitution value.
type Replacement struct {
	Token string
	Value string
}

// Replacements is an ordered set of replacements. Token names are unique.
type Replacements []Replacement

// Lookup returns the value for token.
func (r Replacements) Lookup(token string) (string, bool) {
	for _, rep := range r {
		if rep.Token == token {
			return rep.Value, true
		}
	}
	return "", false
}

// With returns a copy of r with token appended. It fails if token is already
// present with a different value.
func (r Replacements) With(token, value string) (Replacements, error) {
	return r.Merge(Replacements{{Token: token, Value: value}})
}

// Merge returns r followed by the entries of other that r does not already
// contain. A token present in both with different values is a configuration
// error and is never silently overwritten.
func (r Replacements) Merge(other Replacements) (Replacements, error) {
	out := make(Replacements, 0, len(r)+len(other))
	out = append(out, r...)
	for _, rep := range other {
		existing, ok := out.Lookup(rep.Token)
		if !ok {
			out = append(out, rep)
			continue
		}
		if existing != rep.Value {
			return nil, fmt.Errorf("%w: %q is %q and %q", ErrReplacementCollision, rep.Token, existing, rep.Value)
		}
	}
	return out, nil
}

// ConfigReplacements returns the tokens used to materialize config templates
// for env.
func ConfigReplacements(props Properties, env Environment) Replacements {
	return Replacements{
		{Token: "ProjectName", Value: props.Application.Name},
		{Token: "ProjectPath", Value: env.Path},
		{Token: "SitePath", Value: props.Site.Path},
		{Token: "IpAddress", Value: env.IPAddress},
		{Token: "SiteDomain", Value: env.Domain},
		{Token: "MemcacheServer", Value: env.Memcache.Host},
		{Token: "IncludeServerAlias", Value: env.IncludeServerAlias},
	}
}

// StampInfo is the build metadata embedded into shipped files.
type StampInfo struct {
	Version     string
	Revision    string
	Environment string
	Operator    string
	Time        time.Time
}

// StampReplacements returns the tokens used to stamp build metadata.
// VERSION-NUMBER and VERSION-REVISION both carry "<version>-<revision>".
func StampReplacements(info StampInfo) Replacements {
	combined := info.Version + "-" + info.Revision
	return Replacements{
		{Token: "VERSION", Value: info.Version},
		{Token: "REVISION", Value: info.Revision},
		{Token: "VERSION-NUMBER", Value: combined},
		{Token: "VERSION-REVISION", Value: combined},
		{Token: "DATE", Value: info.Time.Format("2006-01-02")},
		{Token: "TIME", Value: info.Time.Format("15:04:05")},
		{Token: "ENVIRONMENT", Value: info.Environment},
		{Token: "DEPLOYEDBY", Value: info.Operator},
	}
}
