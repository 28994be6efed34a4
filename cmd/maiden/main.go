package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/artpar/maiden/internal/core/domain"
	"github.com/artpar/maiden/internal/shell/store"
)

// Version information (set by build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// =============================================================================
// Exit Codes
// =============================================================================

const (
	ExitSuccess       = 0
	ExitConfigError   = 1
	ExitPipelineError = 2
	ExitRemoteError   = 3
	ExitStoreError    = 4
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	root := newRootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return ExitSuccess
	}
	fmt.Fprintf(stderr, "Error: %s\n", err)
	return exitCode(err)
}

// exitCode maps an error to the process exit status.
func exitCode(err error) int {
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.ExitCode
	}

	switch {
	case errors.Is(err, domain.ErrRemoteCommandFailed):
		return ExitRemoteError
	case errors.Is(err, store.ErrConnectionFailed),
		errors.Is(err, store.ErrMigrationFailed):
		return ExitStoreError
	case errors.Is(err, domain.ErrUnknownEnvironment),
		errors.Is(err, domain.ErrInvalidVersion),
		errors.Is(err, domain.ErrSCMURLRequired):
		return ExitConfigError
	default:
		return ExitPipelineError
	}
}

// =============================================================================
// Command Error
// =============================================================================

// CommandError carries an explicit exit code out of a command.
type CommandError struct {
	Op       string
	Err      error
	ExitCode int
}

func (e *CommandError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *CommandError) Unwrap() error {
	return e.Err
}
