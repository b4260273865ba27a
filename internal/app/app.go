// Package app builds the publisher's long-lived services from configuration,
// acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/JakeFAU/album-publisher/internal/assets"
	driveassets "github.com/JakeFAU/album-publisher/internal/assets/drive"
	gcsassets "github.com/JakeFAU/album-publisher/internal/assets/gcs"
	"github.com/JakeFAU/album-publisher/internal/browser"
	"github.com/JakeFAU/album-publisher/internal/captcha/twocaptcha"
	"github.com/JakeFAU/album-publisher/internal/clock/system"
	"github.com/JakeFAU/album-publisher/internal/config"
	"github.com/JakeFAU/album-publisher/internal/id/uuid"
	"github.com/JakeFAU/album-publisher/internal/logging"
	"github.com/JakeFAU/album-publisher/internal/metrics"
	"github.com/JakeFAU/album-publisher/internal/notify"
	pubsubnotify "github.com/JakeFAU/album-publisher/internal/notify/pubsub"
	"github.com/JakeFAU/album-publisher/internal/publish"
	"github.com/JakeFAU/album-publisher/internal/runner"
	"github.com/JakeFAU/album-publisher/internal/session"
	sheetsource "github.com/JakeFAU/album-publisher/internal/source/sheets"
	blobs "github.com/JakeFAU/album-publisher/internal/storage"
	gcsblobs "github.com/JakeFAU/album-publisher/internal/storage/gcs"
	localblobs "github.com/JakeFAU/album-publisher/internal/storage/local"
	memoryblobs "github.com/JakeFAU/album-publisher/internal/storage/memory"
)

// App holds the shared services for one process. Services are built on
// first use and released by Close.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	// opts is appended to every Google client; tests point it at fakes.
	opts []option.ClientOption

	mu       sync.Mutex
	gcs      *storage.Client
	pubsub   *pubsub.Client
	launcher *browser.Launcher
	closers  []func()
}

// New creates an App. extra options are passed to every Google client.
func New(cfg config.Config, logger *zap.Logger, extra ...option.ClientOption) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{cfg: cfg, logger: logger, opts: extra}
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config {
	return a.cfg
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

func (a *App) googleOptions(scopes ...string) []option.ClientOption {
	var opts []option.ClientOption
	switch {
	case a.cfg.Google.CredentialsJSON != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(a.cfg.Google.CredentialsJSON)))
	case a.cfg.Google.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(a.cfg.Google.CredentialsFile))
	}
	if len(scopes) > 0 {
		opts = append(opts, option.WithScopes(scopes...))
	}
	return append(opts, a.opts...)
}

// Source returns the spreadsheet job source.
func (a *App) Source(ctx context.Context) (*sheetsource.Source, error) {
	return sheetsource.New(ctx, sheetsource.Config{
		SpreadsheetID: a.cfg.Sheet.SpreadsheetID,
		Tab:           a.cfg.Sheet.Tab,
		Range:         a.cfg.Sheet.Range,
	}, a.logger, a.googleOptions(sheets.SpreadsheetsScope)...)
}

// DriveFetcher returns the Drive asset fetcher.
func (a *App) DriveFetcher(ctx context.Context) (*driveassets.Fetcher, error) {
	scratch, err := assets.NewScratch(a.cfg.Assets.ScratchDir)
	if err != nil {
		return nil, err
	}
	return driveassets.New(ctx, driveassets.Config{
		FolderID:  a.cfg.Assets.FolderID,
		Extension: a.cfg.Assets.Extension,
	}, scratch, a.logger, a.googleOptions(drive.DriveReadonlyScope)...)
}

// GCSFetcher returns the Cloud Storage asset fetcher.
func (a *App) GCSFetcher(ctx context.Context) (*gcsassets.Fetcher, error) {
	client, err := a.storageClient(ctx)
	if err != nil {
		return nil, err
	}
	scratch, err := assets.NewScratch(a.cfg.Assets.ScratchDir)
	if err != nil {
		return nil, err
	}
	return gcsassets.New(client, gcsassets.Config{
		Bucket:    a.cfg.Assets.Bucket,
		Prefix:    a.cfg.Assets.Prefix,
		Extension: a.cfg.Assets.Extension,
	}, scratch, a.logger)
}

// Assets returns the configured asset fetcher, instrumented with metrics.
func (a *App) Assets(ctx context.Context) (publish.AssetFetcher, error) {
	var (
		f   publish.AssetFetcher
		err error
	)
	switch a.cfg.Assets.Backend {
	case config.BackendGCS:
		f, err = a.GCSFetcher(ctx)
	case config.BackendDrive, "":
		f, err = a.DriveFetcher(ctx)
	default:
		return nil, fmt.Errorf("unknown asset backend %q", a.cfg.Assets.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("init assets: %w", err)
	}
	metrics.Init()
	return assets.Observed(f, func(_ string, err error) { metrics.ObserveAsset(err) }), nil
}

// Blobs opens the store named by uri.
func (a *App) Blobs(ctx context.Context, uri string) (blobs.BlobStore, blobs.Location, error) {
	loc, err := blobs.ParseURI(uri)
	if err != nil {
		return nil, blobs.Location{}, err
	}
	switch loc.Scheme {
	case "gs":
		client, err := a.storageClient(ctx)
		if err != nil {
			return nil, loc, err
		}
		store, err := gcsblobs.New(client, gcsblobs.Config{Bucket: loc.Bucket})
		if err != nil {
			return nil, loc, err
		}
		return store, loc, nil
	case "memory":
		return memoryblobs.NewBlobStore(), loc, nil
	default:
		store, err := localblobs.New(localblobs.Config{BaseDir: loc.Path})
		if err != nil {
			return nil, loc, err
		}
		return store, loc, nil
	}
}

// Artifacts returns the diagnostics store, or nil when diagnostics are off.
func (a *App) Artifacts(ctx context.Context) (publish.ArtifactStore, error) {
	if !a.cfg.Diagnostics.Enabled {
		return nil, nil
	}
	loc, err := blobs.ParseURI(a.cfg.Diagnostics.URI)
	if err != nil {
		return nil, fmt.Errorf("diagnostics.uri: %w", err)
	}
	if loc.Scheme == "gs" {
		client, err := a.storageClient(ctx)
		if err != nil {
			return nil, err
		}
		store, err := gcsblobs.New(client, gcsblobs.Config{Bucket: loc.Bucket, Prefix: loc.Path})
		if err != nil {
			return nil, fmt.Errorf("init diagnostics store: %w", err)
		}
		return store, nil
	}
	store, _, err := a.Blobs(ctx, a.cfg.Diagnostics.URI)
	if err != nil {
		return nil, fmt.Errorf("init diagnostics store: %w", err)
	}
	return store, nil
}

// SessionStore returns where the session snapshot is read from. writable
// skips the read-only inline value so save-session has a destination.
func (a *App) SessionStore(ctx context.Context, writable bool) (session.Store, error) {
	source := a.cfg.SessionSource()
	if writable && source == "env" {
		source = "file"
		if a.cfg.Session.StateURI != "" {
			source = "uri"
		}
	}
	switch source {
	case "env":
		return session.ValueStore{Value: a.cfg.Session.StateJSON}, nil
	case "uri":
		loc, err := blobs.ParseURI(a.cfg.Session.StateURI)
		if err != nil {
			return nil, fmt.Errorf("session.state_uri: %w", err)
		}
		if loc.Scheme == "file" {
			return session.FileStore{Path: loc.Path}, nil
		}
		store, _, err := a.Blobs(ctx, a.cfg.Session.StateURI)
		if err != nil {
			return nil, fmt.Errorf("init session store: %w", err)
		}
		return session.BlobStore{Blobs: store, Key: loc.Path, URI: a.cfg.Session.StateURI}, nil
	default:
		if a.cfg.Session.StateFile == "" {
			return nil, errors.New("session.state_file is not set")
		}
		return session.FileStore{Path: a.cfg.Session.StateFile}, nil
	}
}

// Solver returns the CAPTCHA solver.
func (a *App) Solver() (publish.CaptchaSolver, error) {
	return twocaptcha.New(twocaptcha.Config{
		APIKey:       a.cfg.Captcha.APIKey,
		BaseURL:      a.cfg.Captcha.BaseURL,
		InitialDelay: a.cfg.Captcha.InitialDelay,
		PollInterval: a.cfg.Captcha.PollInterval,
		Timeout:      a.cfg.Captcha.Timeout,
	}, &http.Client{Timeout: a.cfg.Browser.RequestTimeout}, a.logger)
}

// Launcher returns the shared browser launcher.
func (a *App) Launcher() (*browser.Launcher, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.launcher != nil {
		return a.launcher, nil
	}
	l, err := browser.New(a.cfg.BrowserOptions(), a.logger)
	if err != nil {
		return nil, fmt.Errorf("init browser: %w", err)
	}
	a.launcher = l
	a.closers = append(a.closers, l.Close)
	return l, nil
}

// Notifier returns the Pub/Sub notifier, or a no-op when no topic is set.
func (a *App) Notifier(ctx context.Context) (notify.Notifier, error) {
	if a.cfg.Notify.Topic == "" {
		return notify.Nop{}, nil
	}
	client, err := a.pubsubClient(ctx)
	if err != nil {
		return nil, err
	}
	p, err := pubsubnotify.New(ctx, client, a.cfg.Notify.Topic)
	if err != nil {
		return nil, fmt.Errorf("init notifier: %w", err)
	}
	a.addCloser(p.Close)
	return p, nil
}

// Establisher builds the session establisher for the configured strategy.
func (a *App) Establisher(ctx context.Context, opts publish.Options) (*publish.SessionEstablisher, error) {
	var solver publish.CaptchaSolver
	if opts.SessionStrategy == publish.SessionInteractive {
		s, err := a.Solver()
		if err != nil {
			return nil, fmt.Errorf("init captcha solver: %w", err)
		}
		solver = s
	}
	est := publish.NewSessionEstablisher(opts, solver, a.logger)
	metrics.Init()
	est.OnLoginAttempt(func(attempt int, state publish.LoginState, err error) {
		ok := err == nil && state == publish.LoggedIn
		metrics.ObserveLoginAttempt(ok)
		a.logger.Debug("login attempt", zap.Int("attempt", attempt), zap.Stringer("state", state), zap.Bool("ok", ok))
	})
	return est, nil
}

// Options resolves the publish options, loading the snapshot under replay.
func (a *App) Options(ctx context.Context) (publish.Options, error) {
	load, err := a.optionsLoader(ctx)
	if err != nil {
		return publish.Options{}, err
	}
	return load(ctx)
}

// optionsLoader resolves the snapshot store once and returns a function that
// reads the current snapshot into fresh options.
func (a *App) optionsLoader(ctx context.Context) (func(context.Context) (publish.Options, error), error) {
	if publish.SessionStrategy(a.cfg.Session.Strategy) != publish.SessionReplay {
		return func(context.Context) (publish.Options, error) {
			return a.cfg.PublishOptions(publish.SessionState{})
		}, nil
	}
	store, err := a.SessionStore(ctx, false)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) (publish.Options, error) {
		state, err := store.Load(ctx)
		if err != nil {
			return publish.Options{}, fmt.Errorf("load session from %s: %w", store.Describe(), err)
		}
		a.logger.Info("session snapshot loaded", zap.String("from", store.Describe()), zap.Int("cookies", len(state.Cookies)))
		return a.cfg.PublishOptions(state)
	}, nil
}

// Runner wires the full publish pipeline.
func (a *App) Runner(ctx context.Context) (*runner.Runner, error) {
	load, err := a.optionsLoader(ctx)
	if err != nil {
		return nil, err
	}
	opts, err := load(ctx)
	if err != nil {
		return nil, err
	}
	src, err := a.Source(ctx)
	if err != nil {
		return nil, fmt.Errorf("init job source: %w", err)
	}
	fetcher, err := a.Assets(ctx)
	if err != nil {
		return nil, err
	}
	artifacts, err := a.Artifacts(ctx)
	if err != nil {
		return nil, err
	}
	launcher, err := a.Launcher()
	if err != nil {
		return nil, err
	}
	notifier, err := a.Notifier(ctx)
	if err != nil {
		return nil, err
	}

	clock := system.New()
	build := func(ctx context.Context, opts publish.Options) (runner.Publisher, error) {
		est, err := a.Establisher(ctx, opts)
		if err != nil {
			return nil, err
		}
		orch := publish.NewOrchestrator(opts, launcher, est, fetcher, artifacts, clock, a.logger)
		orch.OnStep(metrics.ObserveStep)
		return orch, nil
	}
	pub, err := build(ctx, opts)
	if err != nil {
		return nil, err
	}
	if opts.SessionStrategy == publish.SessionReplay {
		pub = &replayPublisher{load: load, build: build}
	}

	r, err := runner.New(src, pub, notifier, uuid.New(), clock, runner.Config{
		LockPath:     a.cfg.Runner.LockPath,
		ErrorBackoff: a.cfg.Runner.ErrorBackoff,
		MarkTimeout:  a.cfg.Runner.MarkTimeout,
	}, a.logger)
	if err != nil {
		return nil, err
	}
	r.OnResult(func(res runner.Result, err error) {
		metrics.ObserveJob(jobStatus(res, err), clock.Now())
	})
	a.logger.Info("pipeline ready",
		zap.String("session_strategy", string(opts.SessionStrategy)),
		zap.String("target_strategy", string(opts.TargetStrategy)),
		zap.String("assets", a.cfg.Assets.Backend),
		zap.Bool("diagnostics", opts.Diagnostics),
		zap.Bool("proxy", a.cfg.Proxy.Enabled),
		logging.Secret("site_password", a.cfg.Site.Password),
		logging.Secret("captcha_key", a.cfg.Captcha.APIKey),
	)
	return r, nil
}

func jobStatus(res runner.Result, err error) string {
	switch {
	case errors.Is(err, runner.ErrNoPendingJob):
		return "none"
	case err == nil:
		return runner.StatusPosted
	case res.Marked:
		return publish.Kind(err)
	default:
		return "unmarked"
	}
}

// SaveSession logs in interactively and stores the resulting snapshot.
// It returns where the snapshot was written.
func (a *App) SaveSession(ctx context.Context) (string, error) {
	opts, err := a.cfg.PublishOptions(publish.SessionState{})
	if err != nil {
		return "", err
	}
	opts.SessionStrategy = publish.SessionInteractive
	store, err := a.SessionStore(ctx, true)
	if err != nil {
		return "", err
	}
	est, err := a.Establisher(ctx, opts)
	if err != nil {
		return "", err
	}
	launcher, err := a.Launcher()
	if err != nil {
		return "", err
	}
	return saveSession(ctx, launcher, est, store, a.logger)
}

func saveSession(
	ctx context.Context,
	b publish.Browser,
	est *publish.SessionEstablisher,
	store session.Store,
	logger *zap.Logger,
) (string, error) {
	page, err := b.NewPage(ctx)
	if err != nil {
		return "", fmt.Errorf("open browser: %w", err)
	}
	defer func() {
		if err := page.Close(); err != nil {
			logger.Warn("close browser failed", zap.Error(err))
		}
	}()
	if err := est.Establish(ctx, page, publish.NewRecorder(nil, "", "", nil, logger)); err != nil {
		return "", err
	}
	state, err := page.SaveSession(ctx)
	if err != nil {
		return "", err
	}
	if err := store.Save(ctx, state); err != nil {
		return "", fmt.Errorf("write snapshot to %s: %w", store.Describe(), err)
	}
	logger.Info("session saved", zap.String("to", store.Describe()), zap.Int("cookies", len(state.Cookies)))
	return store.Describe(), nil
}

func (a *App) storageClient(ctx context.Context) (*storage.Client, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.gcs != nil {
		return a.gcs, nil
	}
	client, err := storage.NewClient(ctx, a.googleOptions()...)
	if err != nil {
		return nil, fmt.Errorf("init storage client: %w", err)
	}
	a.gcs = client
	a.closers = append(a.closers, func() {
		if err := client.Close(); err != nil {
			a.logger.Warn("close storage client failed", zap.Error(err))
		}
	})
	return client, nil
}

func (a *App) pubsubClient(ctx context.Context) (*pubsub.Client, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pubsub != nil {
		return a.pubsub, nil
	}
	project := a.cfg.Google.ProjectID
	if project == "" {
		project = pubsub.DetectProjectID
	}
	client, err := pubsub.NewClient(ctx, project, a.googleOptions()...)
	if err != nil {
		return nil, fmt.Errorf("init pubsub client: %w", err)
	}
	a.pubsub = client
	a.closers = append(a.closers, func() {
		if err := client.Close(); err != nil {
			a.logger.Warn("close pubsub client failed", zap.Error(err))
		}
	})
	return client, nil
}

func (a *App) addCloser(fn func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closers = append(a.closers, fn)
}

// Close releases every service in reverse order of creation.
func (a *App) Close() {
	a.mu.Lock()
	closers := a.closers
	a.closers = nil
	a.mu.Unlock()
	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}
	_ = a.logger.Sync()
}
