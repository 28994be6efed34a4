package domain

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Release Records
// =============================================================================

// Operation names a pipeline entry point.
type Operation string

const (
	OperationSetup   Operation = "setup"
	OperationBuild   Operation = "build"
	OperationInstall Operation = "install"
	OperationDeploy  Operation = "deploy"
)

// RecordStatus is the outcome of a recorded operation.
type RecordStatus string

const (
	RecordRunning   RecordStatus = "running"
	RecordSucceeded RecordStatus = "succeeded"
	RecordFailed    RecordStatus = "failed"
)

// IsValid checks if the record status is valid.
func (s RecordStatus) IsValid() bool {
	switch s {
	case RecordRunning, RecordSucceeded, RecordFailed:
		return true
	default:
		return false
	}
}

// ReleaseRecord is one entry of the release history.
type ReleaseRecord struct {
	ID           string       `json:"id" yaml:"id"`
	Operation    Operation    `json:"operation" yaml:"operation"`
	Environment  string       `json:"environment" yaml:"environment"`
	Version      string       `json:"version,omitempty" yaml:"version,omitempty"`
	Revision     string       `json:"revision,omitempty" yaml:"revision,omitempty"`
	Status       RecordStatus `json:"status" yaml:"status"`
	ErrorMessage string       `json:"error_message,omitempty" yaml:"error_message,omitempty"`
	Operator     string       `json:"operator,omitempty" yaml:"operator,omitempty"`
	StartedAt    time.Time    `json:"started_at" yaml:"started_at"`
	FinishedAt   *time.Time   `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
}

// NewReleaseRecord starts a record for op.
func NewReleaseRecord(op Operation, environment, version, operator string, now time.Time) *ReleaseRecord {
	return &ReleaseRecord{
		ID:          "rel_" + uuid.New().String()[:8],
		Operation:   op,
		Environment: environment,
		Version:     version,
		Status:      RecordRunning,
		Operator:    operator,
		StartedAt:   now.UTC(),
	}
}

// Finish marks the record as done. A nil err means success.
func (r *ReleaseRecord) Finish(err error, now time.Time) {
	finished := now.UTC()
	r.FinishedAt = &finished
	if err != nil {
		r.Status = RecordFailed
		r.ErrorMessage = err.Error()
		return
	}
	r.Status = RecordSucceeded
	r.ErrorMessage = ""
}

// Duration returns how long the operation ran, or zero while running.
func (r *ReleaseRecord) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
