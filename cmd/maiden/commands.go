package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/artpar/maiden/internal/core/domain"
	"github.com/artpar/maiden/internal/shell/pipeline"
	"github.com/artpar/maiden/internal/shell/remote"
	"github.com/artpar/maiden/internal/shell/runner"
	"github.com/artpar/maiden/internal/shell/scm"
	"github.com/artpar/maiden/internal/shell/store"
	"github.com/artpar/maiden/internal/shell/webserver"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Application
// =============================================================================

// app holds everything a command needs, built once per invocation.
type app struct {
	config     *Config
	logger     *slog.Logger
	properties domain.Properties
	registry   *domain.Registry
	store      store.Store // nil when history is disabled or unavailable
	storeErr   error       // why the configured store could not be opened
	pipeline   *pipeline.Pipeline
}

// globalOptions are the root persistent flags.
type globalOptions struct {
	configPath string
	logLevel   string
	logFormat  string
	projectDir string
}

func (o *globalOptions) load() (*Config, *slog.Logger, error) {
	cfg, err := LoadConfig(o.configPath)
	if err != nil {
		return nil, nil, &CommandError{Op: "load config", Err: err, ExitCode: ExitConfigError}
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Log.Format = o.logFormat
	}
	if o.projectDir != "" {
		cfg.ProjectDir = o.projectDir
	}
	logger := SetupLogger(cfg)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// newApp wires the pipeline for the project described by cfg.
func newApp(cfg *Config, logger *slog.Logger) (*app, error) {
	props, err := LoadProperties(cfg.PropertiesPath())
	if err != nil {
		return nil, &CommandError{Op: "load properties", Err: err, ExitCode: ExitConfigError}
	}

	a := &app{
		config:     cfg,
		logger:     logger,
		properties: props,
		registry:   domain.NewRegistry(props.Environments),
	}

	if cfg.Database.DSN != "" {
		s, err := openStore(cfg.Database.DSN)
		if err != nil {
			logger.Warn("release history unavailable, continuing without it", "dsn", cfg.Database.DSN, "error", err)
			a.storeErr = err
		} else {
			a.store = s
		}
	}

	local := runner.NewLocal(logger)
	apache, err := webserver.NewApache(webserver.Config{
		SitesDir:      props.Apache.VhostPath,
		VhostPath:     props.Application.VhostPath,
		ReloadCommand: cfg.Webserver.ReloadCommand,
	}, local, logger)
	if err != nil {
		a.close()
		return nil, &CommandError{Op: "configure webserver", Err: err, ExitCode: ExitConfigError}
	}

	deps := pipeline.Deps{
		Registry:  a.registry,
		SCM:       scm.NewGit(local, ""),
		Runner:    local,
		WebServer: apache,
		Remote: remote.NewSSHExecutor(remote.Config{
			User:           cfg.SSH.User,
			KeyFile:        cfg.SSH.KeyFile,
			KnownHostsFile: cfg.SSH.KnownHostsFile,
			ForwardAgent:   cfg.SSH.ForwardAgent,
			ConnectTimeout: cfg.SSH.ConnectTimeout,
		}, logger),
		Logger: logger,
	}
	if a.store != nil {
		deps.Recorder = a.store
	}

	p, err := pipeline.New(pipeline.Config{
		Properties:    props,
		ProjectDir:    cfg.ProjectDir,
		BuildDir:      cfg.Build.Dir,
		StampPattern:  cfg.Build.StampPattern,
		Operator:      currentOperator(),
		RemoteBinary:  cfg.Remote.Binary,
		RemoteTempDir: cfg.Remote.TempDir,
	}, deps)
	if err != nil {
		a.close()
		return nil, &CommandError{Op: "configure pipeline", Err: err, ExitCode: ExitConfigError}
	}
	a.pipeline = p
	return a, nil
}

func openStore(dsn string) (store.Store, error) {
	if dsn != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, err
		}
	}
	return store.NewSQLiteStore(dsn)
}

func (a *app) close() {
	if a.store == nil {
		return
	}
	if err := a.store.Close(); err != nil {
		a.logger.Error("database close error", "error", err)
	}
}

// currentOperator names who runs the pipeline; it is stamped as DEPLOYEDBY.
func currentOperator() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return "unknown"
}

var errHistoryDisabled = errors.New("release history is disabled (database.dsn is empty)")

// requireStore fails commands that only work with release history.
func (a *app) requireStore(op string) error {
	if a.storeErr != nil {
		return &CommandError{Op: op, Err: fmt.Errorf("open history: %w", a.storeErr), ExitCode: ExitStoreError}
	}
	if a.store == nil {
		return &CommandError{Op: op, Err: errHistoryDisabled, ExitCode: ExitConfigError}
	}
	return nil
}

// withApp builds the app, runs fn and releases it.
func withApp(opts *globalOptions, fn func(cmd *cobra.Command, args []string, a *app) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := opts.load()
		if err != nil {
			return err
		}
		a, err := newApp(cfg, logger)
		if err != nil {
			return err
		}
		defer a.close()
		return fn(cmd, args, a)
	}
}

// =============================================================================
// Root Command
// =============================================================================

func newRootCommand() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:           "maiden",
		Short:         "Build, install and deploy tagged releases of a web project",
		Long:          "maiden turns a git tag into a stamped build artifact, installs it behind a symlink and activates it in Apache, locally or over SSH.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.CompletionOptions.DisableDefaultCmd = true

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "Path to config file (default ./"+DefaultConfigFile+")")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flags.StringVar(&opts.logFormat, "log-format", "", "Log format: text or json")
	flags.StringVar(&opts.projectDir, "project-dir", "", "Project repository root")

	cmd.AddCommand(
		newSetupCommand(opts),
		newBuildCommand(opts),
		newInstallCommand(opts),
		newDeployCommand(opts),
		newCleanCommand(opts),
		newTagRevisionCommand(opts),
		newHistoryCommand(opts),
		newServeCommand(opts),
		newVersionCommand(),
	)
	return cmd
}

// =============================================================================
// Pipeline Commands
// =============================================================================

func newSetupCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "setup <environment>",
		Short: "Render config in place and register the environment with Apache",
		Args:  cobra.ExactArgs(1),
	}
	cmd.RunE = withApp(opts, func(c *cobra.Command, args []string, a *app) error {
		if err := a.pipeline.Setup(c.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(c.OutOrStdout(), "environment %s is set up\n", args[0])
		return nil
	})
	return cmd
}

func newBuildCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build <environment> <version>",
		Short: "Build the tagged version into build/<version>/<application>",
		Args:  cobra.ExactArgs(2),
		Example: `  # Build tag 1.4.0 configured for staging
  maiden build staging 1.4.0`,
	}
	cmd.RunE = withApp(opts, func(c *cobra.Command, args []string, a *app) error {
		result, err := a.pipeline.Build(c.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(c.OutOrStdout(), "built %s (%s) at %s, %d files stamped\n",
			result.Artifact.Version, result.Revision, result.Artifact.Path, result.Stamped)
		return nil
	})
	return cmd
}

func newInstallCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "install <environment> <version>",
		Short: "Install a built version and switch the environment to it",
		Args:  cobra.ExactArgs(2),
	}
	cmd.RunE = withApp(opts, func(c *cobra.Command, args []string, a *app) error {
		result, err := a.pipeline.Install(c.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(c.OutOrStdout(), "installed %s: %s -> %s\n", args[1], result.LinkPath, result.InstallPath)
		return nil
	})
	return cmd
}

func newDeployCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deploy <environment> <version>",
		Short: "Build and install a version on the environment's host over SSH",
		Args:  cobra.ExactArgs(2),
		Example: `  # Deploy tag 1.4.0 to production
  maiden deploy production 1.4.0`,
	}
	cmd.RunE = withApp(opts, func(c *cobra.Command, args []string, a *app) error {
		if _, err := a.pipeline.Deploy(c.Context(), args[0], args[1]); err != nil {
			return err
		}
		fmt.Fprintf(c.OutOrStdout(), "deployed %s to %s\n", args[1], args[0])
		return nil
	})
	return cmd
}

func newCleanCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove all build artifacts",
		Args:  cobra.NoArgs,
	}
	cmd.RunE = withApp(opts, func(_ *cobra.Command, _ []string, a *app) error {
		return a.pipeline.Clean()
	})
	return cmd
}

func newTagRevisionCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "tag-revision <version>",
		Aliases: []string{"tagRevision"},
		Short:   "Tag the current revision and push tags",
		Args:    cobra.ExactArgs(1),
	}
	cmd.RunE = withApp(opts, func(c *cobra.Command, args []string, a *app) error {
		return a.pipeline.TagRevision(c.Context(), args[0])
	})
	return cmd
}

// =============================================================================
// History
// =============================================================================

type historyOptions struct {
	environment string
	operation   string
	limit       int
	offset      int
	output      string
}

func newHistoryCommand(opts *globalOptions) *cobra.Command {
	hopts := &historyOptions{}
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded builds, installs and deploys",
		Args:  cobra.NoArgs,
		Example: `  # Recent installs on production as YAML
  maiden history --environment production --operation install --output yaml`,
	}
	cmd.Flags().StringVarP(&hopts.environment, "environment", "e", "", "Only this environment")
	cmd.Flags().StringVar(&hopts.operation, "operation", "", "Only this operation: setup, build, install, deploy")
	cmd.Flags().IntVar(&hopts.limit, "limit", 20, "Maximum records to show")
	cmd.Flags().IntVar(&hopts.offset, "offset", 0, "Records to skip")
	cmd.Flags().StringVarP(&hopts.output, "output", "o", "table", "Output format: table, json, yaml")

	cmd.PreRunE = func(*cobra.Command, []string) error {
		hopts.output = strings.ToLower(strings.TrimSpace(hopts.output))
		switch hopts.output {
		case "table", "json", "yaml":
			return nil
		default:
			return &CommandError{
				Op:       "history",
				Err:      fmt.Errorf("unsupported format %q (expected table, json, or yaml)", hopts.output),
				ExitCode: ExitConfigError,
			}
		}
	}
	cmd.RunE = withApp(opts, func(c *cobra.Command, _ []string, a *app) error {
		if err := a.requireStore("history"); err != nil {
			return err
		}
		records, err := a.store.ListReleases(c.Context(), store.ListOptions{
			Limit:       hopts.limit,
			Offset:      hopts.offset,
			Environment: domain.NormalizeEnvironmentName(hopts.environment),
			Operation:   domain.Operation(hopts.operation),
		})
		if err != nil {
			return &CommandError{Op: "history", Err: err, ExitCode: ExitStoreError}
		}
		return writeHistory(c.OutOrStdout(), hopts.output, records)
	})
	return cmd
}

func writeHistory(w io.Writer, format string, records []domain.ReleaseRecord) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(records); err != nil {
			return err
		}
		return enc.Close()
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tOPERATION\tENVIRONMENT\tVERSION\tREVISION\tSTATUS\tSTARTED\tDURATION\tOPERATOR")
	for _, r := range records {
		duration := "-"
		if r.FinishedAt != nil {
			duration = r.Duration().Round(time.Second).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Operation, r.Environment, dash(r.Version), dash(r.Revision),
			statusText(r.Status), r.StartedAt.Local().Format("2006-01-02 15:04:05"), duration, dash(r.Operator))
	}
	return tw.Flush()
}

var (
	statusSucceeded = color.New(color.FgGreen).SprintFunc()
	statusFailed    = color.New(color.FgRed).SprintFunc()
	statusRunning   = color.New(color.FgYellow).SprintFunc()
)

func statusText(s domain.RecordStatus) string {
	switch s {
	case domain.RecordSucceeded:
		return statusSucceeded(string(s))
	case domain.RecordFailed:
		return statusFailed(string(s))
	default:
		return statusRunning(string(s))
	}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// =============================================================================
// Serve and Version
// =============================================================================

func newServeCommand(opts *globalOptions) *cobra.Command {
	var host string
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the read-only status API",
		Args:  cobra.NoArgs,
	}
	cmd.Flags().StringVar(&host, "host", "", "Listen host (overrides api.host)")
	cmd.Flags().IntVar(&port, "port", 0, "Listen port (overrides api.port)")

	cmd.RunE = withApp(opts, func(c *cobra.Command, args []string, a *app) error {
		if err := a.requireStore("serve"); err != nil {
			return err
		}
		apiCfg := a.config.API
		if host != "" {
			apiCfg.Host = host
		}
		if port != 0 {
			apiCfg.Port = port
		}
		a.logger.Info("starting maiden api", "version", Version, "address", apiCfg.Address())
		return NewServer(apiCfg, a.store, a.registry, a.logger).Start(c.Context())
	})
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			fmt.Fprintf(c.OutOrStdout(), "maiden %s (built %s)\n", Version, BuildTime)
			return nil
		},
	}
}
