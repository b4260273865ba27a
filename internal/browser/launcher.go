// Package browser drives Chrome through chromedp and implements
// publish.Browser and publish.Page.
package browser

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/go-rod/stealth"
	"go.uber.org/zap"

	"github.com/JakeFAU/album-publisher/internal/publish"
)

// Proxy routes browser and API traffic through an HTTP proxy.
type Proxy struct {
	Host     string
	Port     int
	Username string
	Password string
}

// Enabled reports whether a proxy host is configured.
func (p Proxy) Enabled() bool {
	return p.Host != ""
}

// Server returns the proxy address without credentials.
func (p Proxy) Server() string {
	return "http://" + p.Host + ":" + strconv.Itoa(p.Port)
}

// URL returns the proxy address with credentials for HTTP clients.
func (p Proxy) URL() *url.URL {
	u := &url.URL{Scheme: "http", Host: p.Host + ":" + strconv.Itoa(p.Port)}
	if p.Username != "" {
		u.User = url.UserPassword(p.Username, p.Password)
	}
	return u
}

// Config controls how Chrome is launched.
type Config struct {
	Headless bool
	// ExecPath is a binary path or a name resolved on PATH. Empty lets
	// chromedp find Chrome.
	ExecPath string
	// RemoteURL attaches to a running browser's DevTools endpoint instead
	// of launching one.
	RemoteURL    string
	UserAgent    string
	WindowWidth  int
	WindowHeight int
	Stealth      bool
	NoSandbox    bool
	Proxy        Proxy
	// NavigationTimeout bounds one page load.
	NavigationTimeout time.Duration
	// ActionTimeout bounds one DOM action such as a click or a fill.
	ActionTimeout time.Duration
	// RequestTimeout bounds one API request issued with the page's cookies.
	RequestTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.WindowWidth <= 0 || c.WindowHeight <= 0 {
		c.WindowWidth, c.WindowHeight = 1920, 1080
	}
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = 60 * time.Second
	}
	if c.ActionTimeout <= 0 {
		c.ActionTimeout = 15 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
}

// Launcher owns one browser process and opens pages in it.
type Launcher struct {
	cfg         Config
	allocator   context.Context
	allocCancel context.CancelFunc
	client      *http.Client
	logger      *zap.Logger
}

// New prepares a Launcher. Chrome starts lazily with the first page.
func New(cfg Config, logger *zap.Logger) (*Launcher, error) {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Proxy.Enabled() && cfg.Proxy.Port <= 0 {
		return nil, errors.New("proxy port must be > 0")
	}

	var (
		allocCtx    context.Context
		allocCancel context.CancelFunc
	)
	if cfg.RemoteURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(context.Background(), cfg.RemoteURL)
	} else {
		opts, err := allocatorOptions(cfg)
		if err != nil {
			return nil, err
		}
		allocCtx, allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.Proxy.Enabled() {
		transport.Proxy = http.ProxyURL(cfg.Proxy.URL())
	}
	return &Launcher{
		cfg:         cfg,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		client:      &http.Client{Transport: transport, Timeout: cfg.RequestTimeout},
		logger:      logger.Named("browser"),
	}, nil
}

func allocatorOptions(cfg Config) ([]chromedp.ExecAllocatorOption, error) {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	if cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	opts = append(opts,
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight),
	)
	if cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if cfg.Proxy.Enabled() {
		opts = append(opts, chromedp.ProxyServer(cfg.Proxy.Server()))
	}
	if cfg.ExecPath != "" {
		path, err := resolveExecPath(cfg.ExecPath)
		if err != nil {
			return nil, err
		}
		opts = append(opts, chromedp.ExecPath(path))
	}
	return opts, nil
}

func resolveExecPath(path string) (string, error) {
	if filepath.IsAbs(path) {
		return path, nil
	}
	found, err := exec.LookPath(path)
	if err != nil {
		return "", fmt.Errorf("browser executable %q: %w", path, err)
	}
	return found, nil
}

// Close stops the browser process.
func (l *Launcher) Close() {
	l.allocCancel()
}

// NewPage opens a fresh tab with network interception, proxy auth, and
// stealth configured.
func (l *Launcher) NewPage(ctx context.Context) (publish.Page, error) {
	tabCtx, cancel := chromedp.NewContext(l.allocator)

	if l.cfg.Proxy.Enabled() && l.cfg.Proxy.Username != "" {
		l.listenProxyAuth(tabCtx)
	}

	// The first Run allocates the tab and ties its lifetime to the context
	// it is given, so it must not carry a deadline.
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	setupCtx, stop := bound(ctx, tabCtx, l.cfg.NavigationTimeout)
	defer stop()
	if err := chromedp.Run(setupCtx, l.setupActions()...); err != nil {
		cancel()
		return nil, fmt.Errorf("start browser tab: %w", err)
	}
	l.logger.Debug("tab opened", zap.Bool("headless", l.cfg.Headless), zap.Bool("proxy", l.cfg.Proxy.Enabled()))
	return &Page{
		ctx:    tabCtx,
		cancel: cancel,
		cfg:    l.cfg,
		client: l.client,
		logger: l.logger,
	}, nil
}

func (l *Launcher) setupActions() []chromedp.Action {
	actions := []chromedp.Action{network.Enable()}
	if l.cfg.Proxy.Enabled() && l.cfg.Proxy.Username != "" {
		actions = append(actions, fetch.Enable().WithHandleAuthRequests(true))
	}
	if l.cfg.UserAgent != "" {
		actions = append(actions, emulation.SetUserAgentOverride(l.cfg.UserAgent))
	}
	if l.cfg.Stealth {
		actions = append(actions, chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(stealth.JS).Do(ctx)
			return err
		}))
	}
	return actions
}

// listenProxyAuth answers proxy credential challenges. With auth handling
// enabled every request pauses and must be continued.
func (l *Launcher) listenProxyAuth(tabCtx context.Context) {
	creds := &fetch.AuthChallengeResponse{
		Response: fetch.AuthChallengeResponseResponseProvideCredentials,
		Username: l.cfg.Proxy.Username,
		Password: l.cfg.Proxy.Password,
	}
	chromedp.ListenTarget(tabCtx, func(ev any) {
		switch e := ev.(type) {
		case *fetch.EventRequestPaused:
			go func() {
				if err := chromedp.Run(tabCtx, fetch.ContinueRequest(e.RequestID)); err != nil {
					l.logger.Debug("continue request failed", zap.Error(err))
				}
			}()
		case *fetch.EventAuthRequired:
			go func() {
				if err := chromedp.Run(tabCtx, fetch.ContinueWithAuth(e.RequestID, creds)); err != nil {
					l.logger.Warn("proxy auth failed", zap.Error(err))
				}
			}()
		}
	})
}

// bound derives a context from the tab context that also ends when the
// caller's ctx does or timeout elapses.
func bound(caller, tab context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(tab, timeout)
	stop := context.AfterFunc(caller, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
