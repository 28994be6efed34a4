package domain

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// Pipeline Errors
// =============================================================================

var (
	// Registry errors
	ErrUnknownEnvironment = errors.New("unknown environment")

	// Version errors
	ErrUnknownVersion = errors.New("version is not a tag in the repository")
	ErrInvalidVersion = errors.New("version is not a valid release label")

	// Substitution errors
	ErrTemplateMissing            = errors.New("template file does not exist")
	ErrWriteFailed                = errors.New("failed to write file")
	ErrSubstitutionPartialFailure = errors.New("token substitution failed for some files")
	ErrReplacementCollision       = errors.New("replacement token defined twice with different values")

	// Install errors
	ErrArtifactNotFound   = errors.New("build artifact not found")
	ErrPathClash          = errors.New("install path clashes with current directory")
	ErrAlreadyInstalled   = errors.New("version is already installed")
	ErrNotASymlinkInstall = errors.New("install path is not a symlink")

	// Remote errors
	ErrRemoteCommandFailed = errors.New("remote command failed")
)

// PipelineError wraps errors with additional context.
type PipelineError struct {
	Op      string // Operation that failed (e.g., "Build", "Install")
	Subject string // Path, environment or version the operation was acting on
	Message string
	Err     error
}

func (e *PipelineError) Error() string {
	if e.Subject != "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Subject, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// NewPipelineError creates a new PipelineError.
func NewPipelineError(op, subject, message string, err error) *PipelineError {
	return &PipelineError{
		Op:      op,
		Subject: subject,
		Message: message,
		Err:     err,
	}
}

// =============================================================================
// Substitution Failures
// =============================================================================

// FileFailure records a single file that could not be rewritten.
type FileFailure struct {
	Path string `json:"path"`
	Err  error  `json:"-"`
}

// SubstitutionError aggregates per-file failures from a tree-wide substitution.
type SubstitutionError struct {
	Root      string
	Processed int
	Failures  []FileFailure
}

func (e *SubstitutionError) Error() string {
	paths := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		paths = append(paths, f.Path)
	}
	return fmt.Sprintf("replace tokens in %s: %d of %d files failed: %s",
		e.Root, len(e.Failures), e.Processed, strings.Join(paths, ", "))
}

func (e *SubstitutionError) Unwrap() error {
	return ErrSubstitutionPartialFailure
}

// =============================================================================
// Remote Failures
// =============================================================================

// RemoteError describes a remote command that exited unsuccessfully.
type RemoteError struct {
	Environment string
	Command     string
	ExitStatus  int // -1 when the command never reported a status
	Output      string
	Err         error
}

func (e *RemoteError) Error() string {
	msg := fmt.Sprintf("remote command on %s failed (exit %d): %s", e.Environment, e.ExitStatus, e.Command)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is reports ErrRemoteCommandFailed so callers can match without unwrapping
// the transport error.
func (e *RemoteError) Is(target error) bool {
	return target == ErrRemoteCommandFailed
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}
