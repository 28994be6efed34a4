package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// =============================================================================
// Artifact Tests
// =============================================================================

func TestNewArtifact(t *testing.T) {
	a := NewArtifact("build", "v1.2.0", "shop")
	assert.Equal(t, "build/v1.2.0/shop", a.Path)
	assert.Equal(t, "build/v1.2.0/shop.incomplete", a.IncompletePath())
	assert.Equal(t, "v1.2.0", a.Version)
}

func TestValidateVersion(t *testing.T) {
	tests := []struct {
		version string
		valid   bool
	}{
		{"1.0.0", true},
		{"v1.2.0", true},
		{"release-2024.03", true},
		{"", false},
		{" 1.0.0", false},
		{"..", false},
		{".", false},
		{"../etc", false},
		{"feature/x", false},
		{"--upload-pack=x", false},
	}

	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			err := ValidateVersion(tt.version)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.Is(err, ErrInvalidVersion))
			}
		})
	}
}

func TestPathClashes(t *testing.T) {
	tests := []struct {
		name    string
		install string
		workDir string
		want    bool
	}{
		{"same directory", "/var/www/app", "/var/www/app", true},
		{"inside install path", "/var/www/app", "/var/www/app/build", true},
		{"trailing slash", "/var/www/app/", "/var/www/app/src", true},
		{"sibling with shared prefix", "/var/www/app", "/var/www/application", true},
		{"versioned release", "/var/www/app", "/var/www/app-1.0.0", true},
		{"inside sibling", "/var/www/app", "/var/www/app2/sub", true},
		{"nested under another root", "/var/www/app", "/srv/var/www/app/src", true},
		{"parent of install path", "/var/www/app", "/var/www", false},
		{"unrelated", "/var/www/app", "/home/deploy/src", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PathClashes(tt.install, tt.workDir))
		})
	}
}

// =============================================================================
// Release Record Tests
// =============================================================================

func TestReleaseRecord_Lifecycle(t *testing.T) {
	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	rec := NewReleaseRecord(OperationBuild, "staging", "1.0.0", "deploy", start)

	assert.Regexp(t, `^rel_[0-9a-f-]{8}$`, rec.ID)
	assert.Equal(t, RecordRunning, rec.Status)
	assert.Zero(t, rec.Duration())

	rec.Finish(nil, start.Add(90*time.Second))
	assert.Equal(t, RecordSucceeded, rec.Status)
	assert.Equal(t, 90*time.Second, rec.Duration())

	rec.Finish(errors.New("boom"), start.Add(2*time.Minute))
	assert.Equal(t, RecordFailed, rec.Status)
	assert.Equal(t, "boom", rec.ErrorMessage)
}

func TestRecordStatus_IsValid(t *testing.T) {
	assert.True(t, RecordRunning.IsValid())
	assert.True(t, RecordSucceeded.IsValid())
	assert.True(t, RecordFailed.IsValid())
	assert.False(t, RecordStatus("").IsValid())
}

func TestErrors_Matching(t *testing.T) {
	perr := NewPipelineError("Install", "/var/www/app", "not a symlink", ErrNotASymlinkInstall)
	assert.ErrorIs(t, perr, ErrNotASymlinkInstall)
	assert.Equal(t, "Install /var/www/app: not a symlink", perr.Error())

	serr := &SubstitutionError{Root: "web", Processed: 3, Failures: []FileFailure{{Path: "web/a.js"}}}
	assert.ErrorIs(t, serr, ErrSubstitutionPartialFailure)
	assert.Contains(t, serr.Error(), "1 of 3 files failed")

	rerr := &RemoteError{Environment: "prod", Command: "rm -rf /tmp/x", ExitStatus: 1}
	assert.ErrorIs(t, rerr, ErrRemoteCommandFailed)
	assert.Contains(t, rerr.Error(), "exit 1")
}
