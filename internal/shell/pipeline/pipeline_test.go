package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/artpar/maiden/internal/core/domain"
	"github.com/artpar/maiden/internal/shell/remote"
	"github.com/artpar/maiden/internal/shell/runner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Fakes
// =============================================================================

// fakeSCM simulates a repository whose clone contains files.
type fakeSCM struct {
	tags     map[string]bool
	files    map[string]string
	revision string
	cloneErr error

	calls  []string
	pushed []string
}

func (f *fakeSCM) TagExists(_ context.Context, _, tag string) (bool, error) {
	f.calls = append(f.calls, "tag-exists "+tag)
	return f.tags[tag], nil
}

func (f *fakeSCM) Clone(_ context.Context, _, source, branch, dest string) error {
	f.calls = append(f.calls, fmt.Sprintf("clone %s %s", source, branch))
	if f.cloneErr != nil {
		return f.cloneErr
	}
	for name, content := range f.files {
		path := filepath.Join(dest, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeSCM) Checkout(_ context.Context, _, ref string) error {
	f.calls = append(f.calls, "checkout "+ref)
	return nil
}

func (f *fakeSCM) ResolveRevision(_ context.Context, _, _ string) (string, error) {
	f.calls = append(f.calls, "revision")
	return f.revision, nil
}

func (f *fakeSCM) SubmoduleInit(context.Context, string) error {
	f.calls = append(f.calls, "submodule-init")
	return nil
}

func (f *fakeSCM) SubmoduleUpdate(context.Context, string) error {
	f.calls = append(f.calls, "submodule-update")
	return nil
}

func (f *fakeSCM) Tag(_ context.Context, _, name string) error {
	f.calls = append(f.calls, "tag "+name)
	return nil
}

func (f *fakeSCM) PushTags(_ context.Context, _, remote, branch string) error {
	f.pushed = append(f.pushed, remote+" "+branch)
	return nil
}

// copyRunner performs "cp -a" in-process and records every command.
type copyRunner struct {
	commands []runner.Command
}

func (r *copyRunner) Run(_ context.Context, cmd runner.Command) (string, error) {
	r.commands = append(r.commands, cmd)
	if cmd.Name == "cp" && len(cmd.Args) == 3 {
		return "", os.CopyFS(cmd.Args[2], os.DirFS(cmd.Args[1]))
	}
	return "", nil
}

type fakeWebServer struct {
	registered []string
	reloads    int
}

func (w *fakeWebServer) RegisterVirtualHost(_ context.Context, env domain.Environment) error {
	w.registered = append(w.registered, env.Domain)
	return nil
}

func (w *fakeWebServer) Reload(context.Context) error {
	w.reloads++
	return nil
}

type fakeRemote struct {
	commands []string
	failAt   int // 1-based step that fails; 0 never fails
}

func (r *fakeRemote) Exec(_ context.Context, env domain.Environment, cmd remote.Command) (string, error) {
	r.commands = append(r.commands, cmd.String())
	if r.failAt == len(r.commands) {
		return "fatal: boom", &domain.RemoteError{
			Environment: env.Name,
			Command:     cmd.String(),
			ExitStatus:  128,
			Output:      "fatal: boom",
		}
	}
	return "ok", nil
}

type memoryRecorder struct {
	records map[string]domain.ReleaseRecord
}

func (m *memoryRecorder) CreateRelease(_ context.Context, rec *domain.ReleaseRecord) error {
	m.records[rec.ID] = *rec
	return nil
}

func (m *memoryRecorder) UpdateRelease(_ context.Context, rec *domain.ReleaseRecord) error {
	m.records[rec.ID] = *rec
	return nil
}

func (m *memoryRecorder) only(t *testing.T) domain.ReleaseRecord {
	t.Helper()
	require.Len(t, m.records, 1)
	for _, rec := range m.records {
		return rec
	}
	return domain.ReleaseRecord{}
}

// =============================================================================
// Test Helpers
// =============================================================================

var fixedNow = time.Date(2024, 5, 1, 14, 30, 5, 0, time.UTC)

type testEnv struct {
	pipeline *Pipeline
	scm      *fakeSCM
	runner   *copyRunner
	web      *fakeWebServer
	remote   *fakeRemote
	recorder *memoryRecorder

	projectDir string
	envPath    string
	wd         string
}

func testProperties(envPath string) domain.Properties {
	return domain.Properties{
		Application: domain.ApplicationProperties{Name: "shop", VhostPath: "config/vhost.conf"},
		Site:        domain.SiteProperties{Path: "site"},
		SCM:         domain.SCMProperties{URL: "git@example.com:acme/shop.git", DeploymentBranch: "release"},
		Apache:      domain.ApacheProperties{VhostPath: "/etc/apache2/sites-enabled"},
		Environments: map[string]domain.Environment{
			"staging": {
				Path:      envPath,
				Domain:    "staging.shop.test",
				IPAddress: "10.0.0.5",
				Host:      "deploy@staging.shop.test",
				Memcache:  domain.MemcacheProperties{Host: "127.0.0.1:11211"},
			},
		},
	}
}

func repositoryFiles() map[string]string {
	return map[string]string{
		"config/vhost.conf.template": "ServerName {{SiteDomain}}\nDocumentRoot {{ProjectPath}}/{{SitePath}}\n",
		"site/index.php":             "<?php // {{VERSION-REVISION}} {{ENVIRONMENT}} {{DATE}}",
		"site/js/app.js":             "var v = '{{VERSION}}';",
		"site/README.md":             "{{VERSION}}",
	}
}

func setupPipeline(t *testing.T) *testEnv {
	t.Helper()
	root := t.TempDir()
	te := &testEnv{
		scm: &fakeSCM{
			tags:     map[string]bool{"1.0.0": true, "1.1.0": true},
			files:    repositoryFiles(),
			revision: "abc1234",
		},
		runner:     &copyRunner{},
		web:        &fakeWebServer{},
		remote:     &fakeRemote{},
		recorder:   &memoryRecorder{records: map[string]domain.ReleaseRecord{}},
		projectDir: filepath.Join(root, "project"),
		envPath:    filepath.Join(root, "www", "shop"),
	}
	te.wd = te.projectDir
	require.NoError(t, os.MkdirAll(te.projectDir, 0o755))

	p, err := New(Config{
		Properties: testProperties(te.envPath),
		ProjectDir: te.projectDir,
		Operator:   "alice",
	}, Deps{
		SCM:       te.scm,
		Runner:    te.runner,
		WebServer: te.web,
		Remote:    te.remote,
		Recorder:  te.recorder,
		Now:       func() time.Time { return fixedNow },
		Getwd:     func() (string, error) { return te.wd, nil },
	})
	require.NoError(t, err)
	te.pipeline = p
	return te
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func buildVersion(t *testing.T, te *testEnv, version string) *BuildResult {
	t.Helper()
	result, err := te.pipeline.Build(context.Background(), "staging", version)
	require.NoError(t, err)
	return result
}

// =============================================================================
// New
// =============================================================================

func TestNew_InvalidProperties(t *testing.T) {
	props := testProperties("/srv/shop")
	props.Site.Path = ""
	_, err := New(Config{Properties: props}, Deps{})
	assert.ErrorIs(t, err, domain.ErrSitePathRequired)
}

func TestNew_InvalidStampPattern(t *testing.T) {
	_, err := New(Config{Properties: testProperties("/srv/shop"), StampPattern: "(["}, Deps{})
	assert.Error(t, err)
}

func TestNew_Defaults(t *testing.T) {
	dir := t.TempDir()
	p, err := New(Config{Properties: testProperties("/srv/shop"), ProjectDir: dir}, Deps{})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "build"), p.BuildRoot())
	assert.Equal(t, filepath.Join(dir, "build", "2.0", "shop"), p.Artifact("2.0").Path)
	assert.Equal(t, []string{"staging"}, p.Environments())
}

// =============================================================================
// Materialize
// =============================================================================

func TestMaterialize(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "config"), 0o755))
	template := filepath.Join(root, "config", "vhost.conf.template")
	require.NoError(t, os.WriteFile(template,
		[]byte("{{ProjectName}} {{ProjectPath}} {{SitePath}} {{IpAddress}} {{SiteDomain}} {{MemcacheServer}} [{{IncludeServerAlias}}]"), 0o644))

	props := testProperties("/var/www/shop")
	env, err := domain.NewRegistry(props.Environments).Resolve("staging")
	require.NoError(t, err)

	m := NewMaterializer(props, nil)
	require.NoError(t, m.Materialize(env, root))
	want := "shop /var/www/shop site 10.0.0.5 staging.shop.test 127.0.0.1:11211 []"
	assert.Equal(t, want, readFile(t, filepath.Join(root, "config", "vhost.conf")))

	// Idempotent, and the template is untouched.
	require.NoError(t, m.Materialize(env, root))
	assert.Equal(t, want, readFile(t, filepath.Join(root, "config", "vhost.conf")))
	assert.Contains(t, readFile(t, template), "{{SiteDomain}}")
}

func TestMaterialize_MissingTemplate(t *testing.T) {
	props := testProperties("/var/www/shop")
	err := NewMaterializer(props, nil).Materialize(domain.Environment{Name: "staging"}, t.TempDir())
	assert.ErrorIs(t, err, domain.ErrTemplateMissing)
}

// =============================================================================
// Build
// =============================================================================

func TestBuild(t *testing.T) {
	te := setupPipeline(t)

	result := buildVersion(t, te, "1.0.0")
	artifact := filepath.Join(te.projectDir, "build", "1.0.0", "shop")
	assert.Equal(t, artifact, result.Artifact.Path)
	assert.Equal(t, "abc1234", result.Revision)
	assert.Equal(t, 2, result.Stamped)

	assert.NoDirExists(t, artifact+domain.IncompleteSuffix)
	assert.Equal(t,
		"ServerName staging.shop.test\nDocumentRoot "+te.envPath+"/site\n",
		readFile(t, filepath.Join(artifact, "config", "vhost.conf")))
	assert.Equal(t, "<?php // 1.0.0-abc1234 staging 2024-05-01", readFile(t, filepath.Join(artifact, "site", "index.php")))
	assert.Equal(t, "var v = '1.0.0';", readFile(t, filepath.Join(artifact, "site", "js", "app.js")))
	assert.Equal(t, "{{VERSION}}", readFile(t, filepath.Join(artifact, "site", "README.md")), "non-matching files are not stamped")

	assert.Equal(t, []string{
		"tag-exists 1.0.0",
		"clone . release",
		"checkout 1.0.0",
		"revision",
		"submodule-init",
		"submodule-update",
	}, te.scm.calls)

	rec := te.recorder.only(t)
	assert.Equal(t, domain.OperationBuild, rec.Operation)
	assert.Equal(t, domain.RecordSucceeded, rec.Status)
	assert.Equal(t, "abc1234", rec.Revision)
	assert.Equal(t, "alice", rec.Operator)

	built, err := te.pipeline.IsBuilt("1.0.0")
	require.NoError(t, err)
	assert.True(t, built)
}

func TestBuild_UnknownVersionCreatesNothing(t *testing.T) {
	te := setupPipeline(t)

	_, err := te.pipeline.Build(context.Background(), "staging", "9.9.9")
	assert.ErrorIs(t, err, domain.ErrUnknownVersion)
	assert.NoDirExists(t, filepath.Join(te.projectDir, "build"))
	assert.Equal(t, []string{"tag-exists 9.9.9"}, te.scm.calls)

	rec := te.recorder.only(t)
	assert.Equal(t, domain.RecordFailed, rec.Status)
}

func TestBuild_UnknownEnvironment(t *testing.T) {
	te := setupPipeline(t)

	_, err := te.pipeline.Build(context.Background(), "nowhere", "1.0.0")
	assert.ErrorIs(t, err, domain.ErrUnknownEnvironment)
	assert.Empty(t, te.scm.calls)
	assert.NoDirExists(t, filepath.Join(te.projectDir, "build"))
}

func TestBuild_InvalidVersion(t *testing.T) {
	te := setupPipeline(t)

	_, err := te.pipeline.Build(context.Background(), "staging", "../etc")
	assert.ErrorIs(t, err, domain.ErrInvalidVersion)
	assert.Empty(t, te.scm.calls)
}

func TestBuild_FailureLeavesIncomplete(t *testing.T) {
	te := setupPipeline(t)
	delete(te.scm.files, "config/vhost.conf.template")

	_, err := te.pipeline.Build(context.Background(), "staging", "1.0.0")
	assert.ErrorIs(t, err, domain.ErrTemplateMissing)

	artifact := te.pipeline.Artifact("1.0.0")
	assert.DirExists(t, artifact.IncompletePath())
	assert.NoDirExists(t, artifact.Path)

	built, err := te.pipeline.IsBuilt("1.0.0")
	require.NoError(t, err)
	assert.False(t, built)
}

func TestBuild_CloneFailure(t *testing.T) {
	te := setupPipeline(t)
	te.scm.cloneErr = errors.New("exit status 128")

	_, err := te.pipeline.Build(context.Background(), "staging", "1.0.0")
	require.Error(t, err)
	var pe *domain.PipelineError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "Build", pe.Op)
	assert.NoDirExists(t, te.pipeline.Artifact("1.0.0").Path)
}

func TestBuild_ReplacesPreviousBuild(t *testing.T) {
	te := setupPipeline(t)
	artifact := te.pipeline.Artifact("1.0.0")
	require.NoError(t, os.MkdirAll(artifact.Path, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(artifact.Path, "stale"), nil, 0o644))
	require.NoError(t, os.MkdirAll(artifact.IncompletePath(), 0o755))

	buildVersion(t, te, "1.0.0")
	assert.NoFileExists(t, filepath.Join(artifact.Path, "stale"))
	assert.NoDirExists(t, artifact.IncompletePath())
}

// =============================================================================
// Install
// =============================================================================

func TestInstall(t *testing.T) {
	te := setupPipeline(t)
	buildVersion(t, te, "1.0.0")

	result, err := te.pipeline.Install(context.Background(), "staging", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, te.envPath+"-1.0.0", result.InstallPath)

	target, err := os.Readlink(te.envPath)
	require.NoError(t, err)
	assert.Equal(t, te.envPath+"-1.0.0", target)
	assert.Contains(t, readFile(t, filepath.Join(te.envPath, "site", "index.php")), "1.0.0-abc1234")

	assert.Equal(t, []string{"staging.shop.test"}, te.web.registered)
	assert.Equal(t, 1, te.web.reloads)
	require.Len(t, te.runner.commands, 1)
	assert.Equal(t, "cp", te.runner.commands[0].Name)
	assert.Equal(t, []string{"-a", te.pipeline.Artifact("1.0.0").Path, te.envPath + "-1.0.0"}, te.runner.commands[0].Args)
}

func TestInstall_SwitchesAndKeepsPrevious(t *testing.T) {
	te := setupPipeline(t)
	buildVersion(t, te, "1.0.0")
	buildVersion(t, te, "1.1.0")

	_, err := te.pipeline.Install(context.Background(), "staging", "1.0.0")
	require.NoError(t, err)
	_, err = te.pipeline.Install(context.Background(), "staging", "1.1.0")
	require.NoError(t, err)

	target, err := os.Readlink(te.envPath)
	require.NoError(t, err)
	assert.Equal(t, te.envPath+"-1.1.0", target)
	assert.DirExists(t, te.envPath+"-1.0.0")

	entries, err := os.ReadDir(filepath.Dir(te.envPath))
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.Contains(e.Name(), ".maiden-"), "temporary link left behind: %s", e.Name())
	}
}

func TestInstall_ArtifactNotFound(t *testing.T) {
	te := setupPipeline(t)

	_, err := te.pipeline.Install(context.Background(), "staging", "1.0.0")
	assert.ErrorIs(t, err, domain.ErrArtifactNotFound)
	assert.Empty(t, te.runner.commands)
	assert.NoDirExists(t, filepath.Dir(te.envPath))
	assert.Zero(t, te.web.reloads)
}

func TestInstall_PathClash(t *testing.T) {
	te := setupPipeline(t)
	buildVersion(t, te, "1.0.0")
	te.wd = filepath.Join(te.envPath, "site")

	_, err := te.pipeline.Install(context.Background(), "staging", "1.0.0")
	assert.ErrorIs(t, err, domain.ErrPathClash)
	assert.Empty(t, te.runner.commands)
}

func TestInstall_PathClashThroughSymlink(t *testing.T) {
	te := setupPipeline(t)
	buildVersion(t, te, "1.0.0")
	buildVersion(t, te, "1.1.0")
	_, err := te.pipeline.Install(context.Background(), "staging", "1.0.0")
	require.NoError(t, err)

	// Running from the resolved release directory.
	te.wd = te.envPath + "-1.0.0"
	_, err = te.pipeline.Install(context.Background(), "staging", "1.1.0")
	assert.ErrorIs(t, err, domain.ErrPathClash)
}

func TestInstall_PathClashFromVersionedDirectory(t *testing.T) {
	te := setupPipeline(t)
	buildVersion(t, te, "1.0.0")
	te.wd = te.envPath + "-0.9.0"

	_, err := te.pipeline.Install(context.Background(), "staging", "1.0.0")
	assert.ErrorIs(t, err, domain.ErrPathClash)
	assert.Empty(t, te.runner.commands)
}

func TestInstall_AlreadyInstalled(t *testing.T) {
	te := setupPipeline(t)
	buildVersion(t, te, "1.0.0")

	_, err := te.pipeline.Install(context.Background(), "staging", "1.0.0")
	require.NoError(t, err)
	_, err = te.pipeline.Install(context.Background(), "staging", "1.0.0")
	assert.ErrorIs(t, err, domain.ErrAlreadyInstalled)
	assert.Len(t, te.runner.commands, 1)
}

func TestInstall_NotASymlink(t *testing.T) {
	te := setupPipeline(t)
	buildVersion(t, te, "1.0.0")
	require.NoError(t, os.MkdirAll(te.envPath, 0o755))

	_, err := te.pipeline.Install(context.Background(), "staging", "1.0.0")
	assert.ErrorIs(t, err, domain.ErrNotASymlinkInstall)
	assert.Empty(t, te.runner.commands)
	assert.NoDirExists(t, te.envPath+"-1.0.0")

	info, err := os.Lstat(te.envPath)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestInstall_RecordsFailure(t *testing.T) {
	te := setupPipeline(t)

	_, err := te.pipeline.Install(context.Background(), "staging", "1.0.0")
	require.Error(t, err)

	rec := te.recorder.only(t)
	assert.Equal(t, domain.OperationInstall, rec.Operation)
	assert.Equal(t, domain.RecordFailed, rec.Status)
	assert.NotEmpty(t, rec.ErrorMessage)
}

// =============================================================================
// Deploy
// =============================================================================

func TestDeploy(t *testing.T) {
	te := setupPipeline(t)

	result, err := te.pipeline.Deploy(context.Background(), "staging", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, 5, result.Steps)
	assert.True(t, strings.HasPrefix(result.Workspace, "/tmp/maiden-"))

	ws := result.Workspace
	assert.Equal(t, []string{
		"mkdir -p " + ws,
		"git clone -b release git@example.com:acme/shop.git " + ws,
		"cd " + ws + " && maiden build staging 1.0.0",
		"cd " + ws + " && maiden install staging 1.0.0",
		"rm -rf " + ws,
	}, te.remote.commands)

	rec := te.recorder.only(t)
	assert.Equal(t, domain.OperationDeploy, rec.Operation)
	assert.Equal(t, domain.RecordSucceeded, rec.Status)
}

func TestDeploy_UniqueWorkspaces(t *testing.T) {
	te := setupPipeline(t)

	first, err := te.pipeline.Deploy(context.Background(), "staging", "1.0.0")
	require.NoError(t, err)
	second, err := te.pipeline.Deploy(context.Background(), "staging", "1.0.0")
	require.NoError(t, err)
	assert.NotEqual(t, first.Workspace, second.Workspace)
}

func TestDeploy_StopsOnFailure(t *testing.T) {
	te := setupPipeline(t)
	te.remote.failAt = 3

	_, err := te.pipeline.Deploy(context.Background(), "staging", "1.0.0")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRemoteCommandFailed)

	var re *domain.RemoteError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, 128, re.ExitStatus)
	assert.Contains(t, re.Command, "maiden build staging")

	// The workspace is left for inspection.
	assert.Len(t, te.remote.commands, 3)
}

func TestDeploy_RequiresRepositoryURL(t *testing.T) {
	props := testProperties("/srv/shop")
	props.SCM.URL = ""
	r := &fakeRemote{}
	p, err := New(Config{Properties: props, ProjectDir: t.TempDir()}, Deps{Remote: r})
	require.NoError(t, err)

	_, err = p.Deploy(context.Background(), "staging", "1.0.0")
	assert.ErrorIs(t, err, domain.ErrSCMURLRequired)
	assert.Empty(t, r.commands)
}

func TestDeploy_UnknownEnvironment(t *testing.T) {
	te := setupPipeline(t)
	_, err := te.pipeline.Deploy(context.Background(), "prod", "1.0.0")
	assert.ErrorIs(t, err, domain.ErrUnknownEnvironment)
	assert.Empty(t, te.remote.commands)
}

// =============================================================================
// Maintenance
// =============================================================================

func TestSetup(t *testing.T) {
	te := setupPipeline(t)
	require.NoError(t, os.MkdirAll(filepath.Join(te.envPath, "config"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(te.envPath, "config", "vhost.conf.template"), []byte("ServerName {{SiteDomain}}"), 0o644))

	require.NoError(t, te.pipeline.Setup(context.Background(), "staging"))
	assert.Equal(t, "ServerName staging.shop.test", readFile(t, filepath.Join(te.envPath, "config", "vhost.conf")))
	assert.Equal(t, []string{"staging.shop.test"}, te.web.registered)
	assert.Equal(t, 1, te.web.reloads)
	assert.Equal(t, domain.OperationSetup, te.recorder.only(t).Operation)
}

func TestSetup_MissingTemplate(t *testing.T) {
	te := setupPipeline(t)
	err := te.pipeline.Setup(context.Background(), "staging")
	assert.ErrorIs(t, err, domain.ErrTemplateMissing)
	assert.Empty(t, te.web.registered)
}

func TestClean(t *testing.T) {
	te := setupPipeline(t)
	buildVersion(t, te, "1.0.0")

	require.NoError(t, te.pipeline.Clean())
	assert.NoDirExists(t, te.pipeline.BuildRoot())

	// Cleaning an absent build directory is not an error.
	require.NoError(t, te.pipeline.Clean())
}

func TestTagRevision(t *testing.T) {
	te := setupPipeline(t)

	require.NoError(t, te.pipeline.TagRevision(context.Background(), "2.0.0"))
	assert.Equal(t, []string{"tag 2.0.0"}, te.scm.calls)
	assert.Equal(t, []string{"origin release"}, te.scm.pushed)
}

func TestTagRevision_InvalidVersion(t *testing.T) {
	te := setupPipeline(t)
	assert.ErrorIs(t, te.pipeline.TagRevision(context.Background(), "-d"), domain.ErrInvalidVersion)
	assert.Empty(t, te.scm.calls)
}
