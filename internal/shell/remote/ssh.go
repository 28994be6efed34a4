// Package remote executes commands on deployment environments over SSH.
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/user"
	"strconv"
	"sync"
	"time"

	"github.com/artpar/maiden/internal/core/domain"
	"github.com/mitchellh/go-homedir"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Executor runs a command on an environment and returns its combined output.
// A command that exits non-zero yields a *domain.RemoteError.
type Executor interface {
	Exec(ctx context.Context, env domain.Environment, cmd Command) (string, error)
}

// Config configures the SSH executor.
type Config struct {
	User           string        // Fallback login when the environment host has no user@ part
	KeyFile        string        // Private key path; "~" is expanded
	KnownHostsFile string        // known_hosts path; empty disables host key checking
	ForwardAgent   bool          // Forward the local agent (ssh -A) so remote git can authenticate
	ConnectTimeout time.Duration // Default: 10 seconds
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		KnownHostsFile: "~/.ssh/known_hosts",
		ForwardAgent:   true,
		ConnectTimeout: 10 * time.Second,
	}
}

// SSHExecutor implements Executor with one SSH connection per command.
type SSHExecutor struct {
	config Config
	logger *slog.Logger

	// agentSock is read from SSH_AUTH_SOCK; overridable in tests.
	agentSock string
}

// NewSSHExecutor creates an SSH executor.
func NewSSHExecutor(config Config, logger *slog.Logger) *SSHExecutor {
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SSHExecutor{
		config:    config,
		logger:    logger.With("component", "remote"),
		agentSock: os.Getenv("SSH_AUTH_SOCK"),
	}
}

// =============================================================================
// Connection
// =============================================================================

func (e *SSHExecutor) login(env domain.Environment) string {
	if u := env.SSHUser(); u != "" {
		return u
	}
	if e.config.User != "" {
		return e.config.User
	}
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return "root"
}

// authMethods collects the agent (if reachable) and the key file (if set).
// The returned agent client is nil when no agent is available.
func (e *SSHExecutor) authMethods() ([]ssh.AuthMethod, agent.ExtendedAgent, func(), error) {
	var methods []ssh.AuthMethod
	var agentClient agent.ExtendedAgent
	cleanup := func() {}

	if e.agentSock != "" {
		conn, err := net.Dial("unix", e.agentSock)
		if err != nil {
			e.logger.Warn("ssh agent unavailable", "socket", e.agentSock, "error", err)
		} else {
			agentClient = agent.NewClient(conn)
			methods = append(methods, ssh.PublicKeysCallback(agentClient.Signers))
			cleanup = func() { conn.Close() }
		}
	}

	if e.config.KeyFile != "" {
		path, err := homedir.Expand(e.config.KeyFile)
		if err != nil {
			cleanup()
			return nil, nil, nil, fmt.Errorf("expand key path: %w", err)
		}
		key, err := os.ReadFile(path)
		if err != nil {
			cleanup()
			return nil, nil, nil, fmt.Errorf("read SSH private key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			cleanup()
			return nil, nil, nil, fmt.Errorf("parse SSH private key: %w", err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if len(methods) == 0 {
		cleanup()
		return nil, nil, nil, errors.New("no SSH credentials: set ssh.key_file or start an ssh agent")
	}
	return methods, agentClient, cleanup, nil
}

func (e *SSHExecutor) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if e.config.KnownHostsFile == "" {
		e.logger.Warn("host key verification disabled")
		return ssh.InsecureIgnoreHostKey(), nil
	}
	path, err := homedir.Expand(e.config.KnownHostsFile)
	if err != nil {
		return nil, fmt.Errorf("expand known_hosts path: %w", err)
	}
	cb, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("load known_hosts: %w", err)
	}
	return cb, nil
}

// =============================================================================
// Execution
// =============================================================================

// Exec runs cmd on env and blocks until it exits or ctx is cancelled.
func (e *SSHExecutor) Exec(ctx context.Context, env domain.Environment, cmd Command) (string, error) {
	line := cmd.String()
	fail := func(status int, output string, err error) (string, error) {
		return output, &domain.RemoteError{
			Environment: env.Name,
			Command:     line,
			ExitStatus:  status,
			Output:      output,
			Err:         err,
		}
	}

	methods, agentClient, cleanup, err := e.authMethods()
	if err != nil {
		return fail(-1, "", err)
	}
	defer cleanup()

	hostKeys, err := e.hostKeyCallback()
	if err != nil {
		return fail(-1, "", err)
	}

	addr := net.JoinHostPort(env.SSHHostname(), strconv.Itoa(env.SSHPort))
	client, err := ssh.Dial("tcp", addr, &ssh.ClientConfig{
		User:            e.login(env),
		Auth:            methods,
		HostKeyCallback: hostKeys,
		Timeout:         e.config.ConnectTimeout,
	})
	if err != nil {
		return fail(-1, "", fmt.Errorf("SSH dial %s: %w", addr, err))
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return fail(-1, "", fmt.Errorf("create SSH session: %w", err))
	}
	defer session.Close()

	if e.config.ForwardAgent && agentClient != nil {
		if err := agent.ForwardToAgent(client, agentClient); err != nil {
			return fail(-1, "", fmt.Errorf("forward agent: %w", err))
		}
		if err := agent.RequestAgentForwarding(session); err != nil {
			return fail(-1, "", fmt.Errorf("request agent forwarding: %w", err))
		}
	}

	var output syncBuffer
	session.Stdout = &output
	session.Stderr = &output

	e.logger.Info("remote exec", "environment", env.Name, "host", addr, "command", line)

	done := make(chan error, 1)
	go func() {
		done <- session.Run(line)
	}()

	select {
	case <-ctx.Done():
		session.Signal(ssh.SIGTERM)
		session.Close()
		return fail(-1, "", ctx.Err())
	case err := <-done:
		if err == nil {
			return output.String(), nil
		}
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return fail(exitErr.ExitStatus(), output.String(), nil)
		}
		return fail(-1, output.String(), err)
	}
}

// syncBuffer lets stdout and stderr share one buffer.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
