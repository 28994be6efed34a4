// Package domain contains the core release types and validation logic.
// This is part of the Functional Core - all functions are pure with no I/O.
package domain

import (
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
)

// =============================================================================
// Properties Errors
// =============================================================================

var (
	ErrApplicationNameRequired = errors.New("application.name is required")
	ErrVhostPathRequired       = errors.New("application.vhostPath is required")
	ErrSitePathRequired        = errors.New("site.path is required")
	ErrEnvironmentPathInvalid  = errors.New("environment path must be absolute")
	ErrEnvironmentDomain       = errors.New("environment domain is required")
	ErrSCMURLRequired          = errors.New("scm.url is required to deploy")
	ErrDuplicateEnvironment    = errors.New("environment names differ only by case")
)

// DefaultDeploymentBranch is used when scm.deploymentBranch is unset.
const DefaultDeploymentBranch = "master"

// DefaultSSHPort is used when an environment has no sshPort.
const DefaultSSHPort = 22

// =============================================================================
// Properties
// =============================================================================

// Properties is the project description read from properties.json.
type Properties struct {
	Application  ApplicationProperties  `mapstructure:"application" json:"application"`
	Site         SiteProperties         `mapstructure:"site" json:"site"`
	SCM          SCMProperties          `mapstructure:"scm" json:"scm"`
	Apache       ApacheProperties       `mapstructure:"apache" json:"apache"`
	Environments map[string]Environment `mapstructure:"environments" json:"environments"`
}

// ApplicationProperties names the application and its vhost file.
type ApplicationProperties struct {
	Name      string `mapstructure:"name" json:"name"`
	VhostPath string `mapstructure:"vhostPath" json:"vhostPath"` // Relative to the project root
}

// SiteProperties locates the web root inside the project.
type SiteProperties struct {
	Path string `mapstructure:"path" json:"path"`
}

// SCMProperties describes the source repository.
type SCMProperties struct {
	URL              string `mapstructure:"url" json:"url"`
	DeploymentBranch string `mapstructure:"deploymentBranch" json:"deploymentBranch"`
}

// ApacheProperties locates the web server's vhost directory.
type ApacheProperties struct {
	VhostPath string `mapstructure:"vhostPath" json:"vhostPath"`
}

// Branch returns the deployment branch, defaulting to master.
func (s SCMProperties) Branch() string {
	if strings.TrimSpace(s.DeploymentBranch) == "" {
		return DefaultDeploymentBranch
	}
	return s.DeploymentBranch
}

// Validate checks the properties needed by every pipeline.
func (p Properties) Validate() error {
	if strings.TrimSpace(p.Application.Name) == "" {
		return ErrApplicationNameRequired
	}
	if strings.TrimSpace(p.Application.VhostPath) == "" {
		return ErrVhostPathRequired
	}
	if strings.TrimSpace(p.Site.Path) == "" {
		return ErrSitePathRequired
	}
	seen := make(map[string]string, len(p.Environments))
	for name, env := range p.Environments {
		key := NormalizeEnvironmentName(name)
		if other, ok := seen[key]; ok {
			return fmt.Errorf("environments %q and %q: %w", other, name, ErrDuplicateEnvironment)
		}
		seen[key] = name
		if !path.IsAbs(env.Path) {
			return fmt.Errorf("environment %q: %w", name, ErrEnvironmentPathInvalid)
		}
		if strings.TrimSpace(env.Domain) == "" {
			return fmt.Errorf("environment %q: %w", name, ErrEnvironmentDomain)
		}
	}
	return nil
}

// =============================================================================
// Environment
// =============================================================================

// MemcacheProperties locates the environment's cache server.
type MemcacheProperties struct {
	Host string `mapstructure:"host" json:"host"`
}

// Environment is a named deployment target.
type Environment struct {
	Name               string             `mapstructure:"-" json:"name"`
	Path               string             `mapstructure:"path" json:"path"`
	Domain             string             `mapstructure:"domain" json:"domain"`
	IPAddress          string             `mapstructure:"ipAddress" json:"ipAddress"`
	Host               string             `mapstructure:"host" json:"host"` // [user@]hostname
	SSHPort            int                `mapstructure:"sshPort" json:"sshPort"`
	Memcache           MemcacheProperties `mapstructure:"memcache" json:"memcache"`
	IncludeServerAlias string             `mapstructure:"includeServerAlias" json:"includeServerAlias,omitempty"`
}

// SSHUser returns the user part of Host, if any.
func (e Environment) SSHUser() string {
	if i := strings.Index(e.Host, "@"); i >= 0 {
		return e.Host[:i]
	}
	return ""
}

// SSHHostname returns Host without the user part.
func (e Environment) SSHHostname() string {
	if i := strings.Index(e.Host, "@"); i >= 0 {
		return e.Host[i+1:]
	}
	return e.Host
}

// InstallPath returns the versioned directory an install copies into.
//
// Example:
//
//	Environment{Path: "/var/www/app"}.InstallPath("1.0.0") // "/var/www/app-1.0.0"
func (e Environment) InstallPath(version string) string {
	return e.Path + "-" + version
}

// =============================================================================
// Registry
// =============================================================================

// NormalizeEnvironmentName folds name to the registry's canonical form.
// Environment names are case-insensitive.
func NormalizeEnvironmentName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Registry resolves environment names. It is read-only after construction.
type Registry struct {
	envs map[string]Environment
}

// NewRegistry builds a registry from the loaded properties. Names are stored
// in canonical form; run Properties.Validate first to reject names that
// collide after folding.
func NewRegistry(envs map[string]Environment) *Registry {
	r := &Registry{envs: make(map[string]Environment, len(envs))}
	for name, env := range envs {
		key := NormalizeEnvironmentName(name)
		env.Name = key
		if env.SSHPort == 0 {
			env.SSHPort = DefaultSSHPort
		}
		r.envs[key] = env
	}
	return r
}

// Resolve returns the environment registered under name, ignoring case.
func (r *Registry) Resolve(name string) (Environment, error) {
	env, ok := r.envs[NormalizeEnvironmentName(name)]
	if !ok {
		return Environment{}, fmt.Errorf("%w: %q", ErrUnknownEnvironment, name)
	}
	return env, nil
}

// Names returns the registered environment names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.envs))
	for name := range r.envs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
