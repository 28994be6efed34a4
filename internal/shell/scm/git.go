// Package scm drives git for the build pipeline.
package scm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/artpar/maiden/internal/core/domain"
	"github.com/artpar/maiden/internal/shell/runner"
)

// Git runs git commands against a repository directory.
type Git struct {
	runner runner.Runner
	binary string
}

// NewGit creates a git client. binary defaults to "git".
func NewGit(r runner.Runner, binary string) *Git {
	if binary == "" {
		binary = "git"
	}
	return &Git{runner: r, binary: binary}
}

func (g *Git) run(ctx context.Context, dir string, args ...string) (string, error) {
	return g.runner.Run(ctx, runner.Command{Dir: dir, Name: g.binary, Args: args})
}

// TagExists reports whether tag names a tag in the repository at dir.
func (g *Git) TagExists(ctx context.Context, dir, tag string) (bool, error) {
	if err := domain.ValidateVersion(tag); err != nil {
		return false, nil
	}
	_, err := g.run(ctx, dir, "rev-parse", "--verify", "--quiet", "refs/tags/"+tag)
	if err == nil {
		return true, nil
	}
	// rev-parse --verify --quiet exits 1 for a missing ref.
	if runner.ExitStatus(err) == 1 {
		return false, nil
	}
	return false, fmt.Errorf("verify tag %s: %w", tag, err)
}

// Clone clones branch of the repository at source into dest.
func (g *Git) Clone(ctx context.Context, dir, source, branch, dest string) error {
	if source == "" || dest == "" {
		return errors.New("clone source and destination cannot be empty")
	}
	if _, err := g.run(ctx, dir, "clone", "-b", branch, "--", source, dest); err != nil {
		return fmt.Errorf("git clone: %w", err)
	}
	return nil
}

// Checkout checks out ref inside the clone at dir.
func (g *Git) Checkout(ctx context.Context, dir, ref string) error {
	if _, err := g.run(ctx, dir, "checkout", "--quiet", ref); err != nil {
		return fmt.Errorf("git checkout %s: %w", ref, err)
	}
	return nil
}

// ResolveRevision returns the short commit id at the tip of branch.
func (g *Git) ResolveRevision(ctx context.Context, dir, branch string) (string, error) {
	out, err := g.run(ctx, dir, "log", "-n1", "--pretty=format:%h", branch, "--")
	if err != nil {
		return "", fmt.Errorf("git log %s: %w", branch, err)
	}
	rev := strings.TrimSpace(out)
	if rev == "" {
		return "", fmt.Errorf("git log %s: no commits", branch)
	}
	return rev, nil
}

// SubmoduleInit registers submodules inside the clone at dir.
func (g *Git) SubmoduleInit(ctx context.Context, dir string) error {
	if _, err := g.run(ctx, dir, "submodule", "init"); err != nil {
		return fmt.Errorf("git submodule init: %w", err)
	}
	return nil
}

// SubmoduleUpdate checks out registered submodules inside the clone at dir.
func (g *Git) SubmoduleUpdate(ctx context.Context, dir string) error {
	if _, err := g.run(ctx, dir, "submodule", "update"); err != nil {
		return fmt.Errorf("git submodule update: %w", err)
	}
	return nil
}

// Tag creates a lightweight tag at HEAD.
func (g *Git) Tag(ctx context.Context, dir, name string) error {
	if err := domain.ValidateVersion(name); err != nil {
		return fmt.Errorf("git tag %q: %w", name, err)
	}
	if _, err := g.run(ctx, dir, "tag", name); err != nil {
		return fmt.Errorf("git tag %s: %w", name, err)
	}
	return nil
}

// PushTags pushes branch and all tags to remote.
func (g *Git) PushTags(ctx context.Context, dir, remote, branch string) error {
	if _, err := g.run(ctx, dir, "push", "--tags", remote, branch); err != nil {
		return fmt.Errorf("git push --tags %s %s: %w", remote, branch, err)
	}
	return nil
}
