package pipeline

import (
	"context"
	"os"
	"path/filepath"

	"github.com/artpar/maiden/internal/core/domain"
	"github.com/artpar/maiden/internal/shell/runner"
	"github.com/google/uuid"
)

// InstallResult describes an activated release.
type InstallResult struct {
	Environment string
	InstallPath string // Versioned copy: <env.path>-<version>
	LinkPath    string // Canonical path, now a symlink to InstallPath
}

// Install copies a built artifact to <env.path>-<version>, points env.path
// at it and reloads the web server. Earlier versioned copies are kept.
func (p *Pipeline) Install(ctx context.Context, envName, version string) (result *InstallResult, err error) {
	if err := domain.ValidateVersion(version); err != nil {
		return nil, err
	}
	env, err := p.deps.Registry.Resolve(envName)
	if err != nil {
		return nil, err
	}

	rec := p.begin(ctx, domain.OperationInstall, env.Name, version)
	defer func() { p.end(ctx, rec, err) }()

	logger := p.logger.With("op", "install", "environment", env.Name, "version", version)

	artifact := p.Artifact(version)
	dest := env.InstallPath(version)
	if err := p.checkInstall(env, artifact, dest); err != nil {
		return nil, err
	}

	logger.Info("installing release", "from", artifact.Path, "to", dest)
	if err := os.MkdirAll(filepath.Dir(dest), 0o775); err != nil {
		return nil, domain.NewPipelineError("Install", dest, "failed to create parent directory", err)
	}
	if _, err := p.deps.Runner.Run(ctx, runner.Command{Name: "cp", Args: []string{"-a", artifact.Path, dest}}); err != nil {
		return nil, domain.NewPipelineError("Install", dest, "copy failed", err)
	}

	if err := swapSymlink(dest, env.Path); err != nil {
		return nil, domain.NewPipelineError("Install", env.Path, "failed to switch symlink", err)
	}
	logger.Info("switched symlink", "link", env.Path, "target", dest)

	if err := p.deps.WebServer.RegisterVirtualHost(ctx, env); err != nil {
		return nil, err
	}
	if err := p.deps.WebServer.Reload(ctx); err != nil {
		return nil, err
	}

	logger.Info("install complete")
	return &InstallResult{Environment: env.Name, InstallPath: dest, LinkPath: env.Path}, nil
}

// checkInstall enforces the install preconditions in a fixed order. Nothing
// is written before all of them pass.
func (p *Pipeline) checkInstall(env domain.Environment, artifact domain.Artifact, dest string) error {
	info, err := os.Stat(artifact.Path)
	if err != nil || !info.IsDir() {
		return domain.NewPipelineError("Install", artifact.Path, "build the version first", domain.ErrArtifactNotFound)
	}

	wd, err := p.deps.Getwd()
	if err != nil {
		return domain.NewPipelineError("Install", env.Path, "failed to determine working directory", err)
	}
	if p.clashes(env.Path, wd) {
		return domain.NewPipelineError("Install", env.Path, "cannot install over the directory being run from", domain.ErrPathClash)
	}

	found, err := exists(dest)
	if err != nil {
		return domain.NewPipelineError("Install", dest, err.Error(), err)
	}
	if found {
		return domain.NewPipelineError("Install", dest, "version already installed", domain.ErrAlreadyInstalled)
	}

	link, err := os.Lstat(env.Path)
	if err == nil && link.Mode()&os.ModeSymlink == 0 {
		return domain.NewPipelineError("Install", env.Path, "existing path is not a symlink", domain.ErrNotASymlinkInstall)
	}
	return nil
}

// clashes compares wd against both the configured path and where it
// currently resolves, so running from inside the active release is caught.
func (p *Pipeline) clashes(installPath, wd string) bool {
	for _, install := range withResolved(installPath) {
		for _, dir := range withResolved(wd) {
			if domain.PathClashes(install, dir) {
				return true
			}
		}
	}
	return false
}

func withResolved(path string) []string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil && resolved != path {
		return []string{path, resolved}
	}
	return []string{path}
}

// swapSymlink points link at target. The new link is created beside link and
// renamed over it, so link always resolves to either release.
func swapSymlink(target, link string) error {
	tmp := link + ".maiden-" + uuid.New().String()[:8]
	if err := os.Symlink(target, tmp); err != nil {
		return err
	}
	if err := os.Rename(tmp, link); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
