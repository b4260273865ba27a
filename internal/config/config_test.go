package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/album-publisher/internal/publish"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const fullYAML = `
sheet:
  spreadsheet_id: sheet-1
  tab: queue
assets:
  backend: gcs
  bucket: media
  prefix: clips
site:
  base_url: https://site.test
  username: user@site.test
  password: secret
captcha:
  api_key: key
  poll_interval: 2s
browser:
  headless: true
  user_agent: agent/1.0
proxy:
  enabled: true
  host: proxy.test
  port: 3128
publish:
  target_strategy: click
  upload_timeout: 90s
runner:
  interval: 30m
notify:
  topic: albums
logging:
  development: false
  level: debug
`

func TestLoadWithFileOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, fullYAML))
	require.NoError(t, err)

	assert.Equal(t, "sheet-1", cfg.Sheet.SpreadsheetID)
	assert.Equal(t, "queue", cfg.Sheet.Tab)
	assert.Equal(t, "A1:E", cfg.Sheet.Range)
	assert.Equal(t, BackendGCS, cfg.Assets.Backend)
	assert.Equal(t, "clips", cfg.Assets.Prefix)
	assert.Equal(t, 2*time.Second, cfg.Captcha.PollInterval)
	assert.Equal(t, 2*time.Minute, cfg.Captcha.Timeout)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, 90*time.Second, cfg.Publish.UploadTimeout)
	assert.Equal(t, 30*time.Minute, cfg.Runner.Interval)
	assert.Equal(t, 5*time.Minute, cfg.Runner.ErrorBackoff)
	assert.Equal(t, 30*time.Second, cfg.Runner.MarkTimeout)
	assert.Equal(t, publish.DefaultPublishedPattern, cfg.Site.PublishedPattern)
	assert.Equal(t, "albums", cfg.Notify.Topic)
	assert.False(t, cfg.Logging.Development)
	assert.Equal(t, "debug", cfg.Logging.Level)

	assert.Equal(t, "https://site.test/", cfg.Site.BaseURL)
	assert.Equal(t, "https://site.test/user/login", cfg.Site.LoginURL)
	assert.Equal(t, "https://site.test/user/upload", cfg.Site.UploadURL)
	assert.Equal(t, "https://site.test/user/upload/token", cfg.Site.TokenURL)
}

func TestLoadEnvironmentAliases(t *testing.T) {
	t.Setenv("GOOGLE_SHEET_ID", "from-alias")
	t.Setenv("GOOGLE_DRIVE_FOLDER_ID", "folder-1")
	t.Setenv("WEBSITE_USERNAME", "alias-user")
	t.Setenv("WEBSITE_PASSWORD", "alias-pass")
	t.Setenv("TWO_CAPTCHA_API_KEY", "alias-key")
	t.Setenv("PROXY_ENABLED", "true")
	t.Setenv("PROXY_HOST", "proxy.alias")
	t.Setenv("PROXY_PORT", "8080")
	t.Setenv("ALBUMPUB_SITE_BASE_URL", "https://site.test/")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "from-alias", cfg.Sheet.SpreadsheetID)
	assert.Equal(t, BackendDrive, cfg.Assets.Backend)
	assert.Equal(t, "folder-1", cfg.Assets.FolderID)
	assert.Equal(t, "alias-user", cfg.Site.Username)
	assert.Equal(t, "alias-key", cfg.Captcha.APIKey)
	assert.True(t, cfg.Proxy.Enabled)
	assert.Equal(t, 8080, cfg.Proxy.Port)
}

func TestLoadPrefixedEnvWinsOverAlias(t *testing.T) {
	t.Setenv("GOOGLE_SHEET_ID", "from-alias")
	t.Setenv("ALBUMPUB_SHEET_SPREADSHEET_ID", "from-prefixed")

	cfg, err := Read(writeConfig(t, fullYAML))
	require.NoError(t, err)
	assert.Equal(t, "from-prefixed", cfg.Sheet.SpreadsheetID)
}

func TestLoadBrowserStateFromEnv(t *testing.T) {
	t.Setenv("BROWSER_STATE", `{"cookies":[]}`)

	cfg, err := Read("")
	require.NoError(t, err)
	assert.Equal(t, `{"cookies":[]}`, cfg.Session.StateJSON)
	assert.Equal(t, "env", cfg.SessionSource())
}

func TestHeadlessDefaultsOnInCI(t *testing.T) {
	t.Setenv("CI", "true")

	cfg, err := Read("")
	require.NoError(t, err)
	assert.True(t, cfg.Browser.Headless)
	assert.True(t, cfg.Browser.NoSandbox)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func validConfig(t *testing.T) Config {
	t.Helper()
	cfg, err := Load(writeConfig(t, fullYAML))
	require.NoError(t, err)
	return cfg
}

func TestConfigValidateErrors(t *testing.T) {
	base := validConfig(t)

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"missing sheet", func(c *Config) { c.Sheet.SpreadsheetID = "" }, "sheet.spreadsheet_id"},
		{"unknown backend", func(c *Config) { c.Assets.Backend = "ftp" }, "assets.backend"},
		{"gcs without bucket", func(c *Config) { c.Assets.Bucket = "" }, "assets.bucket"},
		{"drive without folder", func(c *Config) { c.Assets.Backend = BackendDrive }, "assets.folder_id"},
		{"missing base url", func(c *Config) { c.Site.BaseURL = "" }, "site.base_url"},
		{"interactive without password", func(c *Config) { c.Site.Password = "" }, "site.password"},
		{"interactive without captcha key", func(c *Config) { c.Captcha.APIKey = "" }, "captcha.api_key"},
		{"zero login attempts", func(c *Config) { c.Session.LoginAttempts = 0 }, "session.login_attempts"},
		{"cookies without cookies", func(c *Config) { c.Session.Strategy = "cookies" }, "site.cookies"},
		{"replay without snapshot", func(c *Config) {
			c.Session.Strategy = "replay"
			c.Session.StateFile = ""
		}, "replay"},
		{"unknown strategy", func(c *Config) { c.Session.Strategy = "magic" }, "session.strategy"},
		{"unknown target", func(c *Config) { c.Publish.TargetStrategy = "guess" }, "publish.target_strategy"},
		{"proxy without host", func(c *Config) { c.Proxy.Host = "" }, "proxy.host"},
		{"proxy without port", func(c *Config) { c.Proxy.Port = 0 }, "proxy.port"},
		{"zero publish timeout", func(c *Config) { c.Publish.PublishTimeout = 0 }, "publish.publish_timeout"},
		{"zero interval", func(c *Config) { c.Runner.Interval = 0 }, "runner.interval"},
		{"diagnostics without uri", func(c *Config) { c.Diagnostics.URI = "" }, "diagnostics.uri"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base
			tt.mutate(&c)
			err := c.Validate()
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.want), "expected %q in %v", tt.want, err)
		})
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	err := Config{}.Validate()
	require.Error(t, err)
	for _, want := range []string{"sheet.spreadsheet_id", "assets.backend", "site.base_url", "session.strategy", "runner.interval"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestPublishOptions(t *testing.T) {
	cfg := validConfig(t)
	state := publish.SessionState{Cookies: []publish.Cookie{{Name: "sid", Value: "v"}}}

	opts, err := cfg.PublishOptions(state)
	require.NoError(t, err)

	assert.Equal(t, publish.SessionInteractive, opts.SessionStrategy)
	assert.Equal(t, publish.TargetClick, opts.TargetStrategy)
	assert.Equal(t, 3, opts.LoginAttempts)
	assert.Equal(t, "user@site.test", opts.Credentials.Email)
	assert.Equal(t, 90*time.Second, opts.Timeouts.Upload)
	assert.Equal(t, publish.DefaultTimeouts().Poll, opts.Timeouts.Poll)
	assert.Equal(t, state, opts.Session)
	assert.True(t, opts.Site.IsEdit("https://site.test/a/XYZ/edit"))
	assert.True(t, opts.Site.IsPublished("https://site.test/a/XYZ"))
	assert.True(t, opts.Site.IsPublished("https://site.test/a/XYZ?saved=1"))
	assert.True(t, opts.Site.IsPublished("https://site.test/a/XYZ#comments"))
	assert.False(t, opts.Site.IsPublished("https://site.test/a/XYZ/edit?saved=1"))
	assert.True(t, opts.Diagnostics)
}

func TestPublishOptionsCookiesStrategy(t *testing.T) {
	cfg := validConfig(t)
	cfg.Session.Strategy = string(publish.SessionCookies)
	cfg.Site.Cookies = "sid=abc; remember=1"

	opts, err := cfg.PublishOptions(publish.SessionState{})
	require.NoError(t, err)
	require.Len(t, opts.Session.Cookies, 2)
	assert.Equal(t, "sid", opts.Session.Cookies[0].Name)
	assert.Equal(t, ".site.test", opts.Session.Cookies[0].Domain)
}

func TestPublishOptionsBadPattern(t *testing.T) {
	cfg := validConfig(t)
	cfg.Site.EditPattern = "("

	_, err := cfg.PublishOptions(publish.SessionState{})
	require.Error(t, err)
}

func TestBrowserOptions(t *testing.T) {
	cfg := validConfig(t)

	b := cfg.BrowserOptions()
	assert.True(t, b.Headless)
	assert.Equal(t, "agent/1.0", b.UserAgent)
	assert.Equal(t, "proxy.test", b.Proxy.Host)
	assert.Equal(t, 3128, b.Proxy.Port)

	cfg.Proxy.Enabled = false
	assert.False(t, cfg.BrowserOptions().Proxy.Enabled())
}

func TestDomainOf(t *testing.T) {
	assert.Equal(t, ".site.test", domainOf("https://www.site.test/"))
	assert.Equal(t, ".site.test", domainOf("https://site.test:8443/path"))
	assert.Equal(t, "", domainOf(""))
}
