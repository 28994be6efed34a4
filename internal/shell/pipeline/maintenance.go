package pipeline

import (
	"context"
	"os"

	"github.com/artpar/maiden/internal/core/domain"
)

// Setup renders the environment's config in place at env.path and activates
// its vhost. It prepares a working copy for local development without a
// build.
func (p *Pipeline) Setup(ctx context.Context, envName string) (err error) {
	env, err := p.deps.Registry.Resolve(envName)
	if err != nil {
		return err
	}

	rec := p.begin(ctx, domain.OperationSetup, env.Name, "")
	defer func() { p.end(ctx, rec, err) }()

	p.logger.Info("setting up environment", "environment", env.Name, "path", env.Path)
	if err := NewMaterializer(p.config.Properties, p.deps.Engine).Materialize(env, env.Path); err != nil {
		return err
	}
	if err := p.deps.WebServer.RegisterVirtualHost(ctx, env); err != nil {
		return err
	}
	return p.deps.WebServer.Reload(ctx)
}

// Clean removes every artifact under the build directory.
func (p *Pipeline) Clean() error {
	root := p.BuildRoot()
	p.logger.Info("removing build directory", "path", root)
	if err := os.RemoveAll(root); err != nil {
		return domain.NewPipelineError("Clean", root, "failed to remove build directory", err)
	}
	return nil
}

// TagRevision tags the current checkout as version and pushes tags to the
// deployment branch's remote.
func (p *Pipeline) TagRevision(ctx context.Context, version string) error {
	if err := domain.ValidateVersion(version); err != nil {
		return err
	}
	branch := p.config.Properties.SCM.Branch()
	p.logger.Info("tagging revision", "version", version, "remote", p.config.PushRemote, "branch", branch)

	if err := p.deps.SCM.Tag(ctx, p.config.ProjectDir, version); err != nil {
		return domain.NewPipelineError("TagRevision", version, "tag failed", err)
	}
	if err := p.deps.SCM.PushTags(ctx, p.config.ProjectDir, p.config.PushRemote, branch); err != nil {
		return domain.NewPipelineError("TagRevision", version, "push failed", err)
	}
	return nil
}
