package pipeline

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/artpar/maiden/internal/core/domain"
	"github.com/artpar/maiden/internal/shell/runner"
	"github.com/artpar/maiden/internal/shell/scm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func git(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
		"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com",
	)
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, string(out))
	return strings.TrimSpace(string(out))
}

// TestBuildAndInstall_RealGit drives build and install against a real
// repository with local commands.
func TestBuildAndInstall_RealGit(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	if _, err := exec.LookPath("cp"); err != nil {
		t.Skip("cp not available")
	}

	root := t.TempDir()
	project := filepath.Join(root, "project")
	require.NoError(t, os.MkdirAll(project, 0o755))
	for name, content := range repositoryFiles() {
		path := filepath.Join(project, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(project, ".gitignore"), []byte("/build/\n"), 0o644))

	git(t, project, "init", "--quiet")
	git(t, project, "checkout", "--quiet", "-b", "release")
	git(t, project, "add", ".")
	git(t, project, "commit", "--quiet", "-m", "first")
	git(t, project, "tag", "1.0.0")
	head := git(t, project, "log", "-n1", "--pretty=format:%h")

	envPath := filepath.Join(root, "www", "shop")
	local := runner.NewLocal(nil)
	web := &fakeWebServer{}
	p, err := New(Config{
		Properties: testProperties(envPath),
		ProjectDir: project,
		Operator:   "ci",
	}, Deps{
		SCM:       scm.NewGit(local, ""),
		Runner:    local,
		WebServer: web,
		Getwd:     func() (string, error) { return project, nil },
	})
	require.NoError(t, err)

	ctx := context.Background()

	_, err = p.Build(ctx, "staging", "2.0.0")
	assert.ErrorIs(t, err, domain.ErrUnknownVersion)
	assert.NoDirExists(t, filepath.Join(project, "build"))

	result, err := p.Build(ctx, "staging", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, head, result.Revision)
	assert.NoDirExists(t, result.Artifact.IncompletePath())
	assert.Contains(t, readFile(t, filepath.Join(result.Artifact.Path, "config", "vhost.conf")), "ServerName staging.shop.test")
	assert.Contains(t, readFile(t, filepath.Join(result.Artifact.Path, "site", "index.php")), "1.0.0-"+head+" staging")

	_, err = p.Install(ctx, "staging", "1.0.0")
	require.NoError(t, err)
	target, err := os.Readlink(envPath)
	require.NoError(t, err)
	assert.Equal(t, envPath+"-1.0.0", target)
	assert.FileExists(t, filepath.Join(envPath, "site", "js", "app.js"))
	assert.Equal(t, 1, web.reloads)
}
