// Package pipeline builds, installs and deploys releases.
//
// Every operation is sequential. Concurrent runs against the same artifact or
// environment are not coordinated beyond the ".incomplete" directory
// convention and the existence checks on the final paths.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/artpar/maiden/internal/core/domain"
	"github.com/artpar/maiden/internal/core/tokens"
	"github.com/artpar/maiden/internal/shell/remote"
	"github.com/artpar/maiden/internal/shell/runner"
	"github.com/artpar/maiden/internal/shell/substitute"
	"github.com/artpar/maiden/internal/shell/webserver"
)

// =============================================================================
// Collaborators
// =============================================================================

// SourceControl is the subset of git the pipeline drives.
type SourceControl interface {
	TagExists(ctx context.Context, dir, tag string) (bool, error)
	Clone(ctx context.Context, dir, source, branch, dest string) error
	Checkout(ctx context.Context, dir, ref string) error
	ResolveRevision(ctx context.Context, dir, branch string) (string, error)
	SubmoduleInit(ctx context.Context, dir string) error
	SubmoduleUpdate(ctx context.Context, dir string) error
	Tag(ctx context.Context, dir, name string) error
	PushTags(ctx context.Context, dir, remote, branch string) error
}

// Recorder persists release history. store.Store satisfies it.
type Recorder interface {
	CreateRelease(ctx context.Context, record *domain.ReleaseRecord) error
	UpdateRelease(ctx context.Context, record *domain.ReleaseRecord) error
}

// =============================================================================
// Config
// =============================================================================

// Config holds the immutable inputs of every pipeline operation.
type Config struct {
	Properties    domain.Properties
	ProjectDir    string // Repository root; build artifacts live below it
	BuildDir      string // Default: "build"
	StampPattern  string // Default: tokens.DefaultStampPattern
	Operator      string // Recorded as DEPLOYEDBY
	RemoteBinary  string // Default: "maiden"
	RemoteTempDir string // Default: "/tmp"
	PushRemote    string // Default: "origin"
}

// Deps are the collaborators a Pipeline drives.
type Deps struct {
	Registry  *domain.Registry
	Engine    *substitute.Engine
	SCM       SourceControl
	Runner    runner.Runner
	WebServer webserver.WebServer
	Remote    remote.Executor
	Recorder  Recorder // Optional

	Logger *slog.Logger
	Now    func() time.Time      // Default: time.Now
	Getwd  func() (string, error) // Default: os.Getwd
}

// Pipeline implements setup, build, install, deploy, clean and tagging for
// one project.
type Pipeline struct {
	config  Config
	deps    Deps
	pattern *regexp.Regexp
	logger  *slog.Logger
}

// New validates config and returns a pipeline.
func New(config Config, deps Deps) (*Pipeline, error) {
	if err := config.Properties.Validate(); err != nil {
		return nil, fmt.Errorf("invalid properties: %w", err)
	}
	if deps.Registry == nil {
		deps.Registry = domain.NewRegistry(config.Properties.Environments)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Engine == nil {
		deps.Engine = substitute.NewEngine(deps.Logger)
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Getwd == nil {
		deps.Getwd = os.Getwd
	}

	if config.ProjectDir == "" {
		config.ProjectDir = "."
	}
	dir, err := filepath.Abs(config.ProjectDir)
	if err != nil {
		return nil, fmt.Errorf("resolve project dir: %w", err)
	}
	config.ProjectDir = dir
	if config.BuildDir == "" {
		config.BuildDir = domain.DefaultBuildDir
	}
	if config.RemoteBinary == "" {
		config.RemoteBinary = "maiden"
	}
	if config.RemoteTempDir == "" {
		config.RemoteTempDir = "/tmp"
	}
	if config.PushRemote == "" {
		config.PushRemote = "origin"
	}

	pattern, err := tokens.CompilePattern(config.StampPattern)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		config:  config,
		deps:    deps,
		pattern: pattern,
		logger:  deps.Logger.With("component", "pipeline", "application", config.Properties.Application.Name),
	}, nil
}

// BuildRoot returns the absolute directory holding all artifacts.
func (p *Pipeline) BuildRoot() string {
	if filepath.IsAbs(p.config.BuildDir) {
		return p.config.BuildDir
	}
	return filepath.Join(p.config.ProjectDir, p.config.BuildDir)
}

// Artifact returns the artifact location for version.
func (p *Pipeline) Artifact(version string) domain.Artifact {
	return domain.NewArtifact(p.BuildRoot(), version, p.config.Properties.Application.Name)
}

// Environments lists the configured environment names.
func (p *Pipeline) Environments() []string {
	return p.deps.Registry.Names()
}

// =============================================================================
// History
// =============================================================================

func (p *Pipeline) begin(ctx context.Context, op domain.Operation, env, version string) *domain.ReleaseRecord {
	rec := domain.NewReleaseRecord(op, env, version, p.config.Operator, p.deps.Now())
	if p.deps.Recorder != nil {
		if err := p.deps.Recorder.CreateRelease(ctx, rec); err != nil {
			p.logger.Warn("failed to record release", "id", rec.ID, "error", err)
		}
	}
	return rec
}

func (p *Pipeline) end(ctx context.Context, rec *domain.ReleaseRecord, err error) {
	rec.Finish(err, p.deps.Now())
	if p.deps.Recorder == nil {
		return
	}
	// Record the outcome even when ctx was cancelled mid-operation.
	if ctx.Err() != nil {
		ctx = context.WithoutCancel(ctx)
	}
	if uerr := p.deps.Recorder.UpdateRelease(ctx, rec); uerr != nil {
		p.logger.Warn("failed to record release outcome", "id", rec.ID, "error", uerr)
	}
}

// =============================================================================
// Filesystem helpers
// =============================================================================

// exists reports whether path exists without following a final symlink.
func exists(path string) (bool, error) {
	_, err := os.Lstat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}
