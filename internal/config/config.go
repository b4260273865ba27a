// Package config loads and validates publisher configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/album-publisher/internal/browser"
	"github.com/JakeFAU/album-publisher/internal/publish"
	"github.com/JakeFAU/album-publisher/internal/session"
)

// EnvPrefix is prepended to every environment key.
const EnvPrefix = "ALBUMPUB"

// Asset backends.
const (
	BackendDrive = "drive"
	BackendGCS   = "gcs"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Google      GoogleConfig      `mapstructure:"google"`
	Sheet       SheetConfig       `mapstructure:"sheet"`
	Assets      AssetsConfig      `mapstructure:"assets"`
	Site        SiteConfig        `mapstructure:"site"`
	Captcha     CaptchaConfig     `mapstructure:"captcha"`
	Browser     BrowserConfig     `mapstructure:"browser"`
	Proxy       ProxyConfig       `mapstructure:"proxy"`
	Session     SessionConfig     `mapstructure:"session"`
	Publish     PublishConfig     `mapstructure:"publish"`
	Runner      RunnerConfig      `mapstructure:"runner"`
	Diagnostics DiagnosticsConfig `mapstructure:"diagnostics"`
	Notify      NotifyConfig      `mapstructure:"notify"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// GoogleConfig holds the service account used for Sheets, Drive, GCS, and
// Pub/Sub. Empty credentials fall back to application default credentials.
type GoogleConfig struct {
	CredentialsJSON string `mapstructure:"credentials_json"`
	CredentialsFile string `mapstructure:"credentials_file"`
	ProjectID       string `mapstructure:"project_id"`
}

// SheetConfig locates the job spreadsheet.
type SheetConfig struct {
	SpreadsheetID string `mapstructure:"spreadsheet_id"`
	Tab           string `mapstructure:"tab"`
	Range         string `mapstructure:"range"`
}

// AssetsConfig selects where media is downloaded from.
type AssetsConfig struct {
	Backend    string `mapstructure:"backend"`
	FolderID   string `mapstructure:"folder_id"`
	Bucket     string `mapstructure:"bucket"`
	Prefix     string `mapstructure:"prefix"`
	Extension  string `mapstructure:"extension"`
	ScratchDir string `mapstructure:"scratch_dir"`
}

// SiteConfig describes the target site. Empty URLs are derived from BaseURL.
type SiteConfig struct {
	BaseURL          string `mapstructure:"base_url"`
	LoginURL         string `mapstructure:"login_url"`
	TokenURL         string `mapstructure:"token_url"`
	UploadURL        string `mapstructure:"upload_url"`
	EditPattern      string `mapstructure:"edit_pattern"`
	PublishedPattern string `mapstructure:"published_pattern"`
	Username         string `mapstructure:"username"`
	Password         string `mapstructure:"password"`
	// Cookies is a "name=value; name2=value2" list injected under the
	// cookies session strategy.
	Cookies string `mapstructure:"cookies"`
}

// CaptchaConfig configures the solving service.
type CaptchaConfig struct {
	APIKey       string        `mapstructure:"api_key"`
	BaseURL      string        `mapstructure:"base_url"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// BrowserConfig controls Chrome.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless"`
	ExecPath          string        `mapstructure:"exec_path"`
	RemoteURL         string        `mapstructure:"remote_url"`
	UserAgent         string        `mapstructure:"user_agent"`
	WindowWidth       int           `mapstructure:"window_width"`
	WindowHeight      int           `mapstructure:"window_height"`
	Stealth           bool          `mapstructure:"stealth"`
	NoSandbox         bool          `mapstructure:"no_sandbox"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	ActionTimeout     time.Duration `mapstructure:"action_timeout"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
}

// ProxyConfig routes browser and API traffic through an HTTP proxy.
type ProxyConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	// EchoURL returns the caller's public IP for check-proxy.
	EchoURL string `mapstructure:"echo_url"`
}

// SessionConfig selects how a logged-in session is obtained and where its
// snapshot lives.
type SessionConfig struct {
	Strategy  string `mapstructure:"strategy"`
	StateFile string `mapstructure:"state_file"`
	// StateJSON is the snapshot itself, usually from BROWSER_STATE.
	StateJSON     string `mapstructure:"state_json"`
	StateURI      string `mapstructure:"state_uri"`
	LoginAttempts int    `mapstructure:"login_attempts"`
}

// PublishConfig bounds the workflow's waits.
type PublishConfig struct {
	TargetStrategy string        `mapstructure:"target_strategy"`
	OverlayTimeout time.Duration `mapstructure:"overlay_timeout"`
	LoginVerify    time.Duration `mapstructure:"login_verify"`
	TargetTimeout  time.Duration `mapstructure:"target_timeout"`
	TriggerSettle  time.Duration `mapstructure:"trigger_settle"`
	UploadTimeout  time.Duration `mapstructure:"upload_timeout"`
	UploadPoll     time.Duration `mapstructure:"upload_poll"`
	UploadSettle   time.Duration `mapstructure:"upload_settle"`
	TagPacing      time.Duration `mapstructure:"tag_pacing"`
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`
	PublishPoll    time.Duration `mapstructure:"publish_poll"`
}

// RunnerConfig controls scheduling.
type RunnerConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	ErrorBackoff time.Duration `mapstructure:"error_backoff"`
	MarkTimeout  time.Duration `mapstructure:"mark_timeout"`
	LockPath     string        `mapstructure:"lock_path"`
}

// DiagnosticsConfig controls failure screenshots.
type DiagnosticsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// URI is gs://bucket/prefix, file:///dir, a plain directory, or memory://.
	URI    string `mapstructure:"uri"`
	Prefix string `mapstructure:"prefix"`
}

// NotifyConfig enables run announcements on Pub/Sub.
type NotifyConfig struct {
	Topic string `mapstructure:"topic"`
}

// MetricsConfig exposes /metrics and /healthz in schedule mode.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// envAliases binds the unprefixed variable names deployments already use.
var envAliases = map[string][]string{
	"google.credentials_json": {"GOOGLE_SERVICE_ACCOUNT_JSON"},
	"google.project_id":       {"GOOGLE_CLOUD_PROJECT"},
	"sheet.spreadsheet_id":    {"GOOGLE_SHEET_ID"},
	"assets.folder_id":        {"GOOGLE_DRIVE_FOLDER_ID"},
	"site.username":           {"WEBSITE_USERNAME"},
	"site.password":           {"WEBSITE_PASSWORD"},
	"captcha.api_key":         {"TWO_CAPTCHA_API_KEY"},
	"proxy.enabled":           {"PROXY_ENABLED"},
	"proxy.host":              {"PROXY_HOST"},
	"proxy.port":              {"PROXY_PORT"},
	"proxy.username":          {"PROXY_USERNAME"},
	"proxy.password":          {"PROXY_PASSWORD"},
	"session.state_json":      {"BROWSER_STATE"},
}

// Load reads the configuration and validates it.
func Load(path string) (Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Read builds a Config from defaults, the optional file at path, and the
// environment, in increasing precedence. It does not validate.
func Read(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindAliases(v); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Site.deriveURLs()
	return cfg, nil
}

func bindAliases(v *viper.Viper) error {
	for key, aliases := range envAliases {
		names := append([]string{key}, envName(key))
		names = append(names, aliases...)
		if err := v.BindEnv(names...); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// RunningInCI reports whether a CI environment variable is present.
func RunningInCI() bool {
	_, ci := os.LookupEnv("CI")
	_, gha := os.LookupEnv("GITHUB_ACTIONS")
	return ci || gha
}

// unsetKeys have no default but must still be visible to Unmarshal when
// they only come from the environment.
var unsetKeys = []string{
	"google.credentials_json", "google.credentials_file", "google.project_id",
	"sheet.spreadsheet_id",
	"assets.folder_id", "assets.bucket", "assets.prefix",
	"site.base_url", "site.login_url", "site.token_url", "site.upload_url",
	"site.username", "site.password", "site.cookies",
	"captcha.api_key",
	"browser.exec_path", "browser.remote_url", "browser.user_agent",
	"proxy.host", "proxy.username", "proxy.password",
	"session.state_json", "session.state_uri",
	"diagnostics.prefix", "notify.topic", "metrics.addr",
}

func setDefaults(v *viper.Viper) {
	for _, key := range unsetKeys {
		v.SetDefault(key, "")
	}
	v.SetDefault("proxy.port", 0)
	v.SetDefault("sheet.tab", "calendar")
	v.SetDefault("sheet.range", "A1:E")
	v.SetDefault("assets.backend", BackendDrive)
	v.SetDefault("assets.extension", ".mp4")
	v.SetDefault("assets.scratch_dir", "downloads")
	v.SetDefault("site.edit_pattern", publish.DefaultEditPattern)
	v.SetDefault("site.published_pattern", publish.DefaultPublishedPattern)
	v.SetDefault("captcha.base_url", "https://2captcha.com")
	v.SetDefault("captcha.initial_delay", 5*time.Second)
	v.SetDefault("captcha.poll_interval", 5*time.Second)
	v.SetDefault("captcha.timeout", 2*time.Minute)
	v.SetDefault("browser.headless", RunningInCI())
	v.SetDefault("browser.window_width", 1920)
	v.SetDefault("browser.window_height", 1080)
	v.SetDefault("browser.stealth", true)
	v.SetDefault("browser.no_sandbox", RunningInCI())
	v.SetDefault("browser.navigation_timeout", 60*time.Second)
	v.SetDefault("browser.action_timeout", 15*time.Second)
	v.SetDefault("browser.request_timeout", 30*time.Second)
	v.SetDefault("proxy.enabled", false)
	v.SetDefault("proxy.echo_url", "https://api.ipify.org")
	v.SetDefault("session.strategy", string(publish.SessionInteractive))
	v.SetDefault("session.state_file", "auth.json")
	v.SetDefault("session.login_attempts", 3)
	v.SetDefault("publish.target_strategy", string(publish.TargetToken))

	t := publish.DefaultTimeouts()
	v.SetDefault("publish.overlay_timeout", t.Overlay)
	v.SetDefault("publish.login_verify", t.LoginVerify)
	v.SetDefault("publish.target_timeout", t.Target)
	v.SetDefault("publish.trigger_settle", t.TriggerSettle)
	v.SetDefault("publish.upload_timeout", t.Upload)
	v.SetDefault("publish.upload_poll", t.UploadPoll)
	v.SetDefault("publish.upload_settle", t.UploadSettle)
	v.SetDefault("publish.tag_pacing", t.TagPacing)
	v.SetDefault("publish.publish_timeout", t.Publish)
	v.SetDefault("publish.publish_poll", t.PublishPoll)

	v.SetDefault("runner.interval", 6*time.Hour)
	v.SetDefault("runner.error_backoff", 5*time.Minute)
	v.SetDefault("runner.mark_timeout", 30*time.Second)
	v.SetDefault("runner.lock_path", "albumpub.lock")
	v.SetDefault("diagnostics.enabled", true)
	v.SetDefault("diagnostics.uri", "screenshots")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

func (s *SiteConfig) deriveURLs() {
	if s.BaseURL == "" {
		return
	}
	if !strings.HasSuffix(s.BaseURL, "/") {
		s.BaseURL += "/"
	}
	if s.LoginURL == "" {
		s.LoginURL = s.BaseURL + "user/login"
	}
	if s.UploadURL == "" {
		s.UploadURL = s.BaseURL + "user/upload"
	}
	if s.TokenURL == "" {
		s.TokenURL = s.UploadURL + "/token"
	}
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, errors.New(msg))
		}
	}

	check(c.Sheet.SpreadsheetID != "", "sheet.spreadsheet_id must be set")
	check(c.Sheet.Tab != "", "sheet.tab must be set")
	switch c.Assets.Backend {
	case BackendDrive:
		check(c.Assets.FolderID != "", "assets.folder_id must be set for the drive backend")
	case BackendGCS:
		check(c.Assets.Bucket != "", "assets.bucket must be set for the gcs backend")
	default:
		errs = append(errs, fmt.Errorf("assets.backend %q must be drive or gcs", c.Assets.Backend))
	}
	check(c.Site.BaseURL != "", "site.base_url must be set")

	switch publish.SessionStrategy(c.Session.Strategy) {
	case publish.SessionInteractive:
		check(c.Site.Username != "" && c.Site.Password != "", "site.username and site.password must be set for interactive login")
		check(c.Captcha.APIKey != "", "captcha.api_key must be set for interactive login")
		check(c.Session.LoginAttempts > 0, "session.login_attempts must be > 0")
	case publish.SessionReplay:
		check(c.Session.StateJSON != "" || c.Session.StateFile != "" || c.Session.StateURI != "",
			"session.state_json, session.state_file or session.state_uri must be set for replay")
	case publish.SessionCookies:
		check(c.Site.Cookies != "", "site.cookies must be set for the cookies strategy")
	default:
		errs = append(errs, fmt.Errorf("session.strategy %q must be replay, cookies or interactive", c.Session.Strategy))
	}

	switch publish.TargetStrategy(c.Publish.TargetStrategy) {
	case publish.TargetClick, publish.TargetToken:
	default:
		errs = append(errs, fmt.Errorf("publish.target_strategy %q must be click or token", c.Publish.TargetStrategy))
	}

	if c.Proxy.Enabled {
		check(c.Proxy.Host != "", "proxy.host must be set when the proxy is enabled")
		check(c.Proxy.Port > 0, "proxy.port must be > 0 when the proxy is enabled")
	}

	for name, d := range map[string]time.Duration{
		"browser.navigation_timeout": c.Browser.NavigationTimeout,
		"browser.action_timeout":     c.Browser.ActionTimeout,
		"publish.target_timeout":     c.Publish.TargetTimeout,
		"publish.upload_timeout":     c.Publish.UploadTimeout,
		"publish.upload_poll":        c.Publish.UploadPoll,
		"publish.publish_timeout":    c.Publish.PublishTimeout,
		"publish.publish_poll":       c.Publish.PublishPoll,
		"runner.interval":            c.Runner.Interval,
		"runner.error_backoff":       c.Runner.ErrorBackoff,
		"runner.mark_timeout":        c.Runner.MarkTimeout,
	} {
		check(d > 0, name+" must be > 0")
	}
	if c.Diagnostics.Enabled {
		check(c.Diagnostics.URI != "", "diagnostics.uri must be set when diagnostics are enabled")
	}

	return errors.Join(errs...)
}

// SessionSource picks the snapshot location by precedence: inline value,
// then URI, then file.
func (c Config) SessionSource() string {
	switch {
	case c.Session.StateJSON != "":
		return "env"
	case c.Session.StateURI != "":
		return "uri"
	default:
		return "file"
	}
}

// BrowserOptions converts the browser and proxy sections.
func (c Config) BrowserOptions() browser.Config {
	b := browser.Config{
		Headless:          c.Browser.Headless,
		ExecPath:          c.Browser.ExecPath,
		RemoteURL:         c.Browser.RemoteURL,
		UserAgent:         c.Browser.UserAgent,
		WindowWidth:       c.Browser.WindowWidth,
		WindowHeight:      c.Browser.WindowHeight,
		Stealth:           c.Browser.Stealth,
		NoSandbox:         c.Browser.NoSandbox,
		NavigationTimeout: c.Browser.NavigationTimeout,
		ActionTimeout:     c.Browser.ActionTimeout,
		RequestTimeout:    c.Browser.RequestTimeout,
	}
	if c.Proxy.Enabled {
		b.Proxy = browser.Proxy{
			Host:     c.Proxy.Host,
			Port:     c.Proxy.Port,
			Username: c.Proxy.Username,
			Password: c.Proxy.Password,
		}
	}
	return b
}

// PublishOptions converts the site, session, and publish sections. state
// is the snapshot restored under replay; the cookies strategy builds its
// own from site.cookies.
func (c Config) PublishOptions(state publish.SessionState) (publish.Options, error) {
	site, err := publish.CompileSite(
		c.Site.BaseURL,
		c.Site.LoginURL,
		c.Site.TokenURL,
		c.Site.UploadURL,
		c.Site.EditPattern,
		c.Site.PublishedPattern,
	)
	if err != nil {
		return publish.Options{}, err
	}
	strategy := publish.SessionStrategy(c.Session.Strategy)
	if strategy == publish.SessionCookies {
		cookies, err := session.ParseCookies(c.Site.Cookies, domainOf(c.Site.BaseURL))
		if err != nil {
			return publish.Options{}, fmt.Errorf("site.cookies: %w", err)
		}
		state = publish.SessionState{Cookies: cookies}
	}
	return publish.Options{
		Site:            site,
		Selectors:       publish.DefaultSelectors(),
		Timeouts:        c.timeouts(),
		SessionStrategy: strategy,
		TargetStrategy:  publish.TargetStrategy(c.Publish.TargetStrategy),
		Credentials: publish.Credentials{
			Email:    c.Site.Username,
			Password: c.Site.Password,
		},
		Session:          state,
		LoginAttempts:    c.Session.LoginAttempts,
		Diagnostics:      c.Diagnostics.Enabled,
		DiagnosticPrefix: c.Diagnostics.Prefix,
	}, nil
}

func (c Config) timeouts() publish.Timeouts {
	t := publish.DefaultTimeouts()
	t.Overlay = c.Publish.OverlayTimeout
	t.LoginVerify = c.Publish.LoginVerify
	t.Target = c.Publish.TargetTimeout
	t.TriggerSettle = c.Publish.TriggerSettle
	t.Upload = c.Publish.UploadTimeout
	t.UploadPoll = c.Publish.UploadPoll
	t.UploadSettle = c.Publish.UploadSettle
	t.TagPacing = c.Publish.TagPacing
	t.Publish = c.Publish.PublishTimeout
	t.PublishPoll = c.Publish.PublishPoll
	return t
}

// domainOf returns the cookie domain for a base URL, with a leading dot so
// subdomains share it.
func domainOf(base string) string {
	host := base
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	if i := strings.IndexAny(host, "/:"); i >= 0 {
		host = host[:i]
	}
	host = strings.TrimPrefix(host, "www.")
	if host == "" {
		return ""
	}
	return "." + host
}
