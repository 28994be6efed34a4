// Package webserver registers environments with Apache and reloads it.
package webserver

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/artpar/maiden/internal/core/domain"
	"github.com/artpar/maiden/internal/shell/runner"
	"github.com/mattn/go-shellwords"
)

// DefaultReloadCommand reloads Apache on Debian-style hosts.
const DefaultReloadCommand = "sudo invoke-rc.d apache2 reload"

// WebServer is the web server an install activates.
type WebServer interface {
	RegisterVirtualHost(ctx context.Context, env domain.Environment) error
	Reload(ctx context.Context) error
}

// Config configures the Apache integration.
type Config struct {
	SitesDir      string // Directory Apache loads vhosts from (apache.vhostPath)
	VhostPath     string // Vhost file relative to the installed project (application.vhostPath)
	ReloadCommand string // Shell-style command line; split into arguments, never run by a shell
}

// Apache implements WebServer by symlinking vhost files into SitesDir.
type Apache struct {
	config Config
	runner runner.Runner
	logger *slog.Logger
}

// NewApache creates an Apache integration. The reload command is parsed up
// front so a malformed value fails at startup.
func NewApache(config Config, r runner.Runner, logger *slog.Logger) (*Apache, error) {
	if config.ReloadCommand == "" {
		config.ReloadCommand = DefaultReloadCommand
	}
	if _, err := reloadArgs(config.ReloadCommand); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Apache{
		config: config,
		runner: r,
		logger: logger.With("component", "webserver"),
	}, nil
}

func reloadArgs(command string) ([]string, error) {
	args, err := shellwords.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse reload command %q: %w", command, err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("reload command %q is empty", command)
	}
	return args, nil
}

// VhostLink returns where env's vhost is linked into Apache.
func (a *Apache) VhostLink(env domain.Environment) string {
	return filepath.Join(a.config.SitesDir, env.Domain+".conf")
}

// RegisterVirtualHost points <SitesDir>/<domain>.conf at the vhost inside the
// environment's canonical path, replacing any previous entry.
func (a *Apache) RegisterVirtualHost(_ context.Context, env domain.Environment) error {
	if a.config.SitesDir == "" {
		return errors.New("apache.vhostPath is not configured")
	}
	link := a.VhostLink(env)
	target := filepath.Join(env.Path, a.config.VhostPath)

	if _, err := os.Lstat(link); err == nil {
		a.logger.Warn("removing existing vhost", "path", link)
		if err := os.Remove(link); err != nil {
			return domain.NewPipelineError("RegisterVirtualHost", link, err.Error(), err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return domain.NewPipelineError("RegisterVirtualHost", link, err.Error(), err)
	}

	a.logger.Info("adding vhost to apache", "path", link, "target", target)
	if err := os.Symlink(target, link); err != nil {
		return domain.NewPipelineError("RegisterVirtualHost", link, err.Error(), err)
	}
	return nil
}

// Reload runs the configured reload command.
func (a *Apache) Reload(ctx context.Context) error {
	args, err := reloadArgs(a.config.ReloadCommand)
	if err != nil {
		return err
	}
	a.logger.Info("reloading apache")
	if _, err := a.runner.Run(ctx, runner.Command{Name: args[0], Args: args[1:]}); err != nil {
		return domain.NewPipelineError("Reload", "", err.Error(), err)
	}
	return nil
}
