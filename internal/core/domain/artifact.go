package domain

import (
	"path/filepath"
	"strings"
)

// =============================================================================
// Artifact Layout
// =============================================================================

// IncompleteSuffix marks an artifact directory that is still being built.
const IncompleteSuffix = ".incomplete"

// DefaultBuildDir is the directory, relative to the project root, that holds
// build artifacts.
const DefaultBuildDir = "build"

// Artifact locates one build of an application on disk.
type Artifact struct {
	Version string
	Path    string // build/<version>/<application>
}

// NewArtifact returns the artifact for (application, version) under buildRoot.
//
// Example:
//
//	NewArtifact("build", "1.2.0", "shop").Path // "build/1.2.0/shop"
func NewArtifact(buildRoot, version, application string) Artifact {
	return Artifact{
		Version: version,
		Path:    filepath.Join(buildRoot, version, application),
	}
}

// IncompletePath returns the directory the artifact is built into before it
// is published.
func (a Artifact) IncompletePath() string {
	return a.Path + IncompleteSuffix
}

// ValidateVersion rejects versions that cannot be used as a single path
// element.
func ValidateVersion(version string) error {
	v := strings.TrimSpace(version)
	if v == "" || v != version {
		return ErrInvalidVersion
	}
	if v == "." || v == ".." || strings.ContainsAny(v, `/\`) || strings.HasPrefix(v, "-") {
		return ErrInvalidVersion
	}
	return nil
}

// PathClashes reports whether workDir contains installPath anywhere in its
// text. This covers running from inside installPath and from any directory
// whose name extends it, such as a versioned release "<installPath>-1.0.0".
func PathClashes(installPath, workDir string) bool {
	installPath = filepath.Clean(installPath)
	workDir = filepath.Clean(workDir)
	return strings.Contains(workDir, installPath)
}
