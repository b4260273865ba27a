package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/album-publisher/internal/app"
	"github.com/JakeFAU/album-publisher/internal/config"
	"github.com/JakeFAU/album-publisher/internal/publish"
	"github.com/JakeFAU/album-publisher/internal/runner"
)

type fakeRunner struct {
	res      runner.Result
	err      error
	runs     int
	interval time.Duration
}

func (f *fakeRunner) RunOnce(context.Context) (runner.Result, error) {
	f.runs++
	return f.res, f.err
}

func (f *fakeRunner) RunForever(ctx context.Context, interval time.Duration) error {
	f.interval = interval
	<-ctx.Done()
	return nil
}

func (f *fakeRunner) LastRun() map[string]any {
	return map[string]any{"last_run": nil}
}

type fakeServices struct {
	cfg      config.Config
	runner   *fakeRunner
	setup    app.SetupReport
	proxy    app.ProxyReport
	proxyErr error
	saved    string
	saveErr  error
	closed   bool
}

func (f *fakeServices) Config() config.Config { return f.cfg }
func (f *fakeServices) Logger() *zap.Logger   { return zap.NewNop() }

func (f *fakeServices) Runner(context.Context) (jobRunner, error) {
	return f.runner, nil
}

func (f *fakeServices) SaveSession(context.Context) (string, error) {
	return f.saved, f.saveErr
}

func (f *fakeServices) CheckSetup(context.Context) app.SetupReport { return f.setup }

func (f *fakeServices) CheckProxy(context.Context) (app.ProxyReport, error) {
	return f.proxy, f.proxyErr
}

func (f *fakeServices) Close() { f.closed = true }

func validConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Read("")
	require.NoError(t, err)
	cfg.Sheet.SpreadsheetID = "sheet-1"
	cfg.Assets.FolderID = "folder-1"
	cfg.Site.BaseURL = "https://site.test/"
	cfg.Site.Username = "me@example.com"
	cfg.Site.Password = "secret"
	cfg.Captcha.APIKey = "key"
	require.NoError(t, cfg.Validate())
	return cfg
}

// useFake replaces the service factory for one test. Tests using it must not
// run in parallel.
func useFake(t *testing.T, fake *fakeServices) {
	t.Helper()
	prev := newServices
	newServices = func(config.Config, *zap.Logger) Services { return fake }
	t.Cleanup(func() { newServices = prev })
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var h holder
	defer h.close()
	cmd := newRootCmd(&h)
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--env-file="}, args...))
	code := 0
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		code = 1
		if !errors.Is(err, errReported) {
			stderr.WriteString(err.Error())
		}
	}
	return code, stdout.String(), stderr.String()
}

func TestRunPostsJob(t *testing.T) {
	fake := &fakeServices{cfg: validConfig(t), runner: &fakeRunner{res: runner.Result{RunID: "r1", Row: 2}}}
	useFake(t, fake)

	code, _, _ := runCLI(t, "run")
	assert.Equal(t, 0, code)
	assert.Equal(t, 1, fake.runner.runs)
	assert.True(t, fake.closed)
}

func TestRunWithNothingPendingSucceeds(t *testing.T) {
	fake := &fakeServices{cfg: validConfig(t), runner: &fakeRunner{err: runner.ErrNoPendingJob}}
	useFake(t, fake)

	code, _, _ := runCLI(t, "run")
	assert.Equal(t, 0, code)
}

func TestRunJobFailureExitsNonZero(t *testing.T) {
	failed := &publish.Error{Kind: publish.ErrPublishFailed, Msg: "stuck"}
	fake := &fakeServices{cfg: validConfig(t), runner: &fakeRunner{err: failed}}
	useFake(t, fake)

	code, _, stderr := runCLI(t, "run")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "publish failed or timed out")
	assert.True(t, fake.closed)
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	fake := &fakeServices{runner: &fakeRunner{}}
	useFake(t, fake)

	code, _, stderr := runCLI(t, "run")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "invalid configuration")
	assert.Equal(t, 0, fake.runner.runs)
}

func TestCheckSetupExitCode(t *testing.T) {
	fake := &fakeServices{setup: app.SetupReport{
		Checks: []app.Check{
			{Name: "spreadsheet", OK: true, Detail: "2 tabs"},
			{Name: "job tab", OK: false, Detail: `tab "calendar" not found`},
		},
		Tabs: []string{"archive", "schedule"},
	}}
	useFake(t, fake)

	code, stdout, _ := runCLI(t, "check-setup")
	assert.Equal(t, 1, code)
	assert.Contains(t, stdout, "FAIL")
	assert.Contains(t, stdout, `tab "calendar" not found`)
	assert.Contains(t, stdout, "schedule")

	fake.setup.Checks[1].OK = true
	code, stdout, _ = runCLI(t, "check-setup")
	assert.Equal(t, 0, code)
	assert.NotContains(t, stdout, "FAIL")
}

func TestCheckProxy(t *testing.T) {
	fake := &fakeServices{proxy: app.ProxyReport{Proxy: "http://proxy:8080", Direct: "1.1.1.1", Proxied: "2.2.2.2"}}
	useFake(t, fake)

	code, stdout, _ := runCLI(t, "check-proxy")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "2.2.2.2")

	fake.proxy.Proxied = "1.1.1.1"
	code, _, _ = runCLI(t, "check-proxy")
	assert.Equal(t, 1, code)

	fake.proxyErr = errors.New("proxy is not enabled")
	code, _, stderr := runCLI(t, "check-proxy")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "proxy is not enabled")
}

func TestSaveSessionPrintsDestination(t *testing.T) {
	fake := &fakeServices{saved: "file auth.json"}
	useFake(t, fake)

	code, stdout, _ := runCLI(t, "save-session")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "session saved to file auth.json")

	fake.saveErr = errors.New("login failed")
	code, _, stderr := runCLI(t, "save-session")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "save session: login failed")
}

func TestScheduleRejectsNonPositiveInterval(t *testing.T) {
	fake := &fakeServices{cfg: validConfig(t), runner: &fakeRunner{}}
	useFake(t, fake)

	code, _, stderr := runCLI(t, "schedule", "--interval=-1s")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "interval must be > 0")
}

func TestScheduleStopsOnCancel(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Metrics.Addr = "127.0.0.1:0"
	fake := &fakeServices{cfg: cfg, runner: &fakeRunner{}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- schedule(ctx, fake, time.Hour) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("schedule did not stop")
	}
	assert.Equal(t, time.Hour, fake.runner.interval)
}

func TestLoadServicesReadsEnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("GOOGLE_SHEET_ID=from-dotenv\n"), 0o600))
	t.Setenv("GOOGLE_SHEET_ID", "")
	require.NoError(t, os.Unsetenv("GOOGLE_SHEET_ID"))

	var got config.Config
	prev := newServices
	newServices = func(cfg config.Config, logger *zap.Logger) Services {
		got = cfg
		return &fakeServices{cfg: cfg}
	}
	t.Cleanup(func() { newServices = prev })

	_, err := loadServices(rootFlags{envFile: envFile})
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", got.Sheet.SpreadsheetID)
}

func TestLoadServicesMissingEnvFileIsIgnored(t *testing.T) {
	useFake(t, &fakeServices{})
	_, err := loadServices(rootFlags{envFile: filepath.Join(t.TempDir(), "missing.env")})
	require.NoError(t, err)
}
