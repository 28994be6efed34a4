// Package runner executes local processes from structured argument lists.
//
// Commands are never passed through a shell, so arguments reach the program
// exactly as given.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// Command is a process invocation.
type Command struct {
	Dir  string   // Working directory; empty means the current directory
	Name string   // Program name or path
	Args []string // Arguments, not including Name
	Env  []string // Extra KEY=VALUE pairs appended to the process environment
}

// String renders the command for logs.
func (c Command) String() string {
	parts := append([]string{c.Name}, c.Args...)
	return strings.Join(parts, " ")
}

// Runner runs commands and returns their standard output.
type Runner interface {
	Run(ctx context.Context, cmd Command) (string, error)
}

// ExitError describes a command that ran but exited non-zero.
type ExitError struct {
	Command    Command
	ExitStatus int
	Stderr     string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s: exit status %d", e.Command, e.ExitStatus)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

// ExitStatus returns the exit status carried by err, or -1.
func ExitStatus(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitStatus
	}
	return -1
}

// =============================================================================
// Local Runner
// =============================================================================

// Local runs commands on this machine.
type Local struct {
	logger *slog.Logger
}

// NewLocal creates a local runner.
func NewLocal(logger *slog.Logger) *Local {
	if logger == nil {
		logger = slog.Default()
	}
	return &Local{logger: logger.With("component", "runner")}
}

// Run executes cmd and waits for it to finish.
func (r *Local) Run(ctx context.Context, cmd Command) (string, error) {
	r.logger.Debug("exec", "command", cmd.String(), "dir", cmd.Dir)

	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	// Never let git or ssh block on an interactive prompt.
	c.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	c.Env = append(c.Env, cmd.Env...)

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	err := c.Run()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return stdout.String(), &ExitError{
				Command:    cmd,
				ExitStatus: exitErr.ExitCode(),
				Stderr:     stderr.String(),
			}
		}
		return stdout.String(), fmt.Errorf("%s: %w", cmd, err)
	}
	return stdout.String(), nil
}
