package pipeline

import (
	"context"
	"path"
	"strings"

	"github.com/artpar/maiden/internal/core/domain"
	"github.com/artpar/maiden/internal/shell/remote"
	"github.com/google/uuid"
)

// DeployResult describes a finished remote deployment.
type DeployResult struct {
	Environment string
	Workspace   string
	Steps       int
}

// DeployPlan returns the remote commands Deploy runs, in order.
func (p *Pipeline) DeployPlan(env domain.Environment, version, workspace string) []remote.Command {
	bin := p.config.RemoteBinary
	return []remote.Command{
		remote.NewCommand("mkdir", "-p", workspace),
		remote.NewCommand("git", "clone", "-b", p.config.Properties.SCM.Branch(), p.config.Properties.SCM.URL, workspace),
		remote.NewCommand(bin, "build", env.Name, version).In(workspace),
		remote.NewCommand(bin, "install", env.Name, version).In(workspace),
		remote.NewCommand("rm", "-rf", workspace),
	}
}

// Deploy runs build and install on the environment's host from a fresh
// clone. A failing step stops the sequence and leaves the workspace behind.
func (p *Pipeline) Deploy(ctx context.Context, envName, version string) (result *DeployResult, err error) {
	if err := domain.ValidateVersion(version); err != nil {
		return nil, err
	}
	env, err := p.deps.Registry.Resolve(envName)
	if err != nil {
		return nil, err
	}
	if p.config.Properties.SCM.URL == "" {
		return nil, domain.NewPipelineError("Deploy", env.Name, "no repository to clone", domain.ErrSCMURLRequired)
	}

	rec := p.begin(ctx, domain.OperationDeploy, env.Name, version)
	defer func() { p.end(ctx, rec, err) }()

	workspace := path.Join(p.config.RemoteTempDir, "maiden-"+uuid.New().String())
	logger := p.logger.With("op", "deploy", "environment", env.Name, "version", version, "host", env.SSHHostname())
	logger.Info("deploying release", "workspace", workspace)

	plan := p.DeployPlan(env, version, workspace)
	for i, cmd := range plan {
		logger.Info("running remote command", "step", i+1, "of", len(plan), "command", cmd.String())
		out, err := p.deps.Remote.Exec(ctx, env, cmd)
		if out = strings.TrimSpace(out); out != "" {
			logger.Debug("remote output", "step", i+1, "output", out)
		}
		if err != nil {
			logger.Error("remote command failed", "step", i+1, "error", err)
			return nil, err
		}
	}

	logger.Info("deploy complete")
	return &DeployResult{Environment: env.Name, Workspace: workspace, Steps: len(plan)}, nil
}
