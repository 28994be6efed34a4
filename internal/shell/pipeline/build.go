package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/artpar/maiden/internal/core/domain"
)

// BuildResult describes a published artifact.
type BuildResult struct {
	Artifact domain.Artifact
	Revision string
	Stamped  int // Files whose tokens were stamped
}

// Build produces build/<version>/<app> for envName from the git tag version.
//
// The artifact is assembled under "<app>.incomplete" and renamed into place
// as the last step, so a failed build never leaves a final-path artifact. A
// failed build keeps the ".incomplete" directory for inspection; the next
// build of the same version removes it.
func (p *Pipeline) Build(ctx context.Context, envName, version string) (result *BuildResult, err error) {
	if err := domain.ValidateVersion(version); err != nil {
		return nil, err
	}
	env, err := p.deps.Registry.Resolve(envName)
	if err != nil {
		return nil, err
	}

	rec := p.begin(ctx, domain.OperationBuild, env.Name, version)
	defer func() {
		if result != nil {
			rec.Revision = result.Revision
		}
		p.end(ctx, rec, err)
	}()

	logger := p.logger.With("op", "build", "environment", env.Name, "version", version)
	logger.Info("building release")

	// Verify the tag before touching the filesystem.
	ok, err := p.deps.SCM.TagExists(ctx, p.config.ProjectDir, version)
	if err != nil {
		return nil, domain.NewPipelineError("Build", version, "failed to look up tag", err)
	}
	if !ok {
		return nil, domain.NewPipelineError("Build", version, "tag not found in repository", domain.ErrUnknownVersion)
	}

	artifact := p.Artifact(version)
	incomplete := artifact.IncompletePath()
	if err := p.preparePaths(artifact, logger); err != nil {
		return nil, err
	}

	branch := p.config.Properties.SCM.Branch()
	logger.Info("cloning repository", "branch", branch, "dest", incomplete)
	if err := p.deps.SCM.Clone(ctx, p.config.ProjectDir, ".", branch, incomplete); err != nil {
		return nil, domain.NewPipelineError("Build", version, "clone failed", err)
	}
	if err := p.deps.SCM.Checkout(ctx, incomplete, version); err != nil {
		return nil, domain.NewPipelineError("Build", version, "checkout failed", err)
	}

	revision, err := p.deps.SCM.ResolveRevision(ctx, incomplete, branch)
	if err != nil {
		return nil, domain.NewPipelineError("Build", version, "failed to resolve revision", err)
	}
	logger = logger.With("revision", revision)

	if err := p.deps.SCM.SubmoduleInit(ctx, incomplete); err != nil {
		return nil, domain.NewPipelineError("Build", version, "submodule init failed", err)
	}
	if err := p.deps.SCM.SubmoduleUpdate(ctx, incomplete); err != nil {
		return nil, domain.NewPipelineError("Build", version, "submodule update failed", err)
	}

	materializer := NewMaterializer(p.config.Properties, p.deps.Engine)
	if err := materializer.Materialize(env, incomplete); err != nil {
		return nil, err
	}

	stamp := domain.StampReplacements(domain.StampInfo{
		Version:     version,
		Revision:    revision,
		Environment: env.Name,
		Operator:    p.config.Operator,
		Time:        p.deps.Now(),
	})
	if _, err := domain.ConfigReplacements(p.config.Properties, env).Merge(stamp); err != nil {
		return nil, err
	}

	siteRoot := filepath.Join(incomplete, p.config.Properties.Site.Path)
	logger.Info("stamping files", "root", siteRoot)
	report, err := p.deps.Engine.ReplaceInTree(stamp, siteRoot, p.pattern)
	if err != nil {
		return nil, err
	}

	// Templates may themselves match the stamp pattern; render again so the
	// config reflects the environment, not a stamped template.
	if err := materializer.Materialize(env, incomplete); err != nil {
		return nil, err
	}

	if err := os.Rename(incomplete, artifact.Path); err != nil {
		return nil, domain.NewPipelineError("Build", artifact.Path, "failed to publish artifact", err)
	}

	logger.Info("build complete", "artifact", artifact.Path, "stamped", len(report.Succeeded))
	return &BuildResult{
		Artifact: artifact,
		Revision: revision,
		Stamped:  len(report.Succeeded),
	}, nil
}

// preparePaths clears any previous artifact for the version and creates the
// version directory.
func (p *Pipeline) preparePaths(artifact domain.Artifact, logger *slog.Logger) error {
	for _, path := range []string{artifact.Path, artifact.IncompletePath()} {
		found, err := exists(path)
		if err != nil {
			return domain.NewPipelineError("Build", path, err.Error(), err)
		}
		if !found {
			continue
		}
		logger.Warn("removing previous build", "path", path)
		if err := os.RemoveAll(path); err != nil {
			return domain.NewPipelineError("Build", path, "failed to remove previous build", err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(artifact.Path), 0o755); err != nil {
		return domain.NewPipelineError("Build", artifact.Path, "failed to create build directory", err)
	}
	return nil
}

// IsBuilt reports whether the artifact for version has been published.
func (p *Pipeline) IsBuilt(version string) (bool, error) {
	info, err := os.Stat(p.Artifact(version).Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return info.IsDir(), nil
}
