package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// StepObserver receives the duration and outcome of each workflow step.
type StepObserver func(step string, elapsed time.Duration, err error)

// Orchestrator runs the publish workflow for one job at a time.
type Orchestrator struct {
	opts     Options
	browser  Browser
	session  *SessionEstablisher
	assets   AssetFetcher
	store    ArtifactStore
	clock    Clock
	observer StepObserver
	logger   *zap.Logger
}

// NewOrchestrator wires the workflow collaborators. store may be nil when
// diagnostics are off.
func NewOrchestrator(
	opts Options,
	browser Browser,
	session *SessionEstablisher,
	assets AssetFetcher,
	store ArtifactStore,
	clock Clock,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = systemClock{}
	}
	if opts.TargetStrategy == "" {
		opts.TargetStrategy = TargetToken
	}
	return &Orchestrator{
		opts:    opts,
		browser: browser,
		session: session,
		assets:  assets,
		store:   store,
		clock:   clock,
		logger:  logger.Named("publish"),
	}
}

// OnStep registers an observer for step timings.
func (o *Orchestrator) OnStep(fn StepObserver) {
	o.observer = fn
}

// run carries the per-invocation state of one publish.
type run struct {
	job     Job
	page    Page
	rec     *Recorder
	fetched []string
	logger  *zap.Logger
}

// Publish executes the workflow for job and returns the published location.
// Every locally fetched asset is removed before Publish returns.
func (o *Orchestrator) Publish(ctx context.Context, runID string, job Job) (out Outcome, err error) {
	if err := job.Validate(); err != nil {
		return Outcome{}, err
	}

	var store ArtifactStore
	if o.opts.Diagnostics {
		store = o.store
	}
	r := &run{
		job:    job,
		logger: o.logger.With(zap.String("run_id", runID), zap.Int("row", job.Row)),
	}
	r.rec = NewRecorder(store, o.opts.DiagnosticPrefix, runID, o.clock, r.logger)
	defer func() {
		o.cleanup(r)
		out.Screenshots = r.rec.Count()
	}()

	page, err := o.browser.NewPage(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("open browser: %w", err)
	}
	r.page = page
	defer func() {
		if cerr := page.Close(); cerr != nil {
			r.logger.Warn("close browser failed", zap.Error(cerr))
		}
	}()

	steps := []struct {
		name string
		fn   func(context.Context, *run) error
	}{
		{"session", o.establishSession},
		{"target", o.resolveTarget},
		{"overlays", o.dismissRules},
		{"title", o.setTitle},
		{"assets", o.fetchAssets},
		{"upload", o.upload},
		{"tags", o.enterTags},
		{"publish", o.publish},
	}
	for _, step := range steps {
		start := time.Now()
		err := step.fn(ctx, r)
		if o.observer != nil {
			o.observer(step.name, time.Since(start), err)
		}
		if err != nil {
			r.logger.Error("step failed", zap.String("step", step.name), zap.String("kind", Kind(err)), zap.Error(err))
			return Outcome{Assets: len(r.fetched)}, err
		}
		r.logger.Debug("step done", zap.String("step", step.name), zap.Duration("elapsed", time.Since(start)))
	}

	location, err := page.Location(ctx)
	if err != nil {
		return Outcome{Assets: len(r.fetched)}, fmt.Errorf("read final location: %w", err)
	}
	r.logger.Info("album published", zap.String("url", location), zap.Int("assets", len(r.fetched)))
	return Outcome{Location: location, Assets: len(r.fetched)}, nil
}

func (o *Orchestrator) establishSession(ctx context.Context, r *run) error {
	return o.session.Establish(ctx, r.page, r.rec)
}

func (o *Orchestrator) resolveTarget(ctx context.Context, r *run) error {
	var err error
	switch o.opts.TargetStrategy {
	case TargetClick:
		err = o.targetByClick(ctx, r)
	case TargetToken:
		err = o.targetByToken(ctx, r)
	default:
		return fmt.Errorf("unknown target strategy %q", o.opts.TargetStrategy)
	}
	if err != nil {
		r.rec.Capture(ctx, r.page, "target_unavailable")
		return err
	}
	location, _ := r.page.Location(ctx)
	r.logger.Info("edit target ready", zap.String("url", location))
	return nil
}

func (o *Orchestrator) isEdit(ctx context.Context, page Page) (bool, error) {
	location, err := page.Location(ctx)
	if err != nil {
		return false, err
	}
	return o.opts.Site.IsEdit(location), nil
}

func (o *Orchestrator) targetByClick(ctx context.Context, r *run) error {
	ctx, cancel := context.WithTimeout(ctx, o.opts.Timeouts.Target)
	defer cancel()

	sel := o.opts.Selectors.UploadLink
	trigger := Trigger{
		Name: "upload-link",
		Strategies: []Strategy{
			ClickStrategy(sel),
			ScriptClickStrategy(sel),
			NavigateStrategy(o.opts.Site.UploadURL),
		},
		Settle: o.opts.Timeouts.TriggerSettle,
		Poll:   o.opts.Timeouts.Poll,
	}
	if _, err := trigger.Fire(ctx, r.page, o.isEdit, r.logger); err != nil {
		return &Error{Kind: ErrUploadTargetUnavailable, Err: err}
	}
	return nil
}

type tokenResponse struct {
	Token string `json:"token"`
}

// targetByToken asks the site for a one-time upload token and opens the
// editor with it directly.
func (o *Orchestrator) targetByToken(ctx context.Context, r *run) error {
	resp, err := r.page.Request(ctx, APIRequest{
		Method: http.MethodPost,
		URL:    o.opts.Site.TokenURL,
		Headers: map[string]string{
			"Referer":          o.opts.Site.UploadURL,
			"Origin":           originOf(o.opts.Site.BaseURL),
			"X-Requested-With": "XMLHttpRequest",
		},
		CookieHeaders: map[string]string{"X-XSRF-TOKEN": "XSRF-TOKEN"},
	})
	if err != nil {
		return &Error{Kind: ErrUploadTargetUnavailable, Msg: "request token", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return &Error{Kind: ErrUploadTargetUnavailable, Msg: fmt.Sprintf("token endpoint returned %d", resp.StatusCode)}
	}
	token := parseToken(resp.Body)
	if token == "" {
		return &Error{Kind: ErrUploadTargetUnavailable, Msg: "empty token"}
	}
	r.logger.Info("upload token issued", zap.String("token_prefix", prefix(token, 10)))

	target, err := withQuery(o.opts.Site.UploadURL, "token", token)
	if err != nil {
		return &Error{Kind: ErrUploadTargetUnavailable, Err: err}
	}
	if err := r.page.Navigate(ctx, target); err != nil {
		return &Error{Kind: ErrUploadTargetUnavailable, Msg: "open upload url", Err: err}
	}
	ok, err := waitUntil(ctx, o.opts.Timeouts.Target, o.opts.Timeouts.Poll, func(ctx context.Context) (bool, error) {
		return o.isEdit(ctx, r.page)
	})
	if err != nil {
		return &Error{Kind: ErrUploadTargetUnavailable, Err: err}
	}
	if !ok {
		location, _ := r.page.Location(ctx)
		return &Error{Kind: ErrUploadTargetUnavailable, Msg: "no editor redirect, stuck on " + location}
	}
	return nil
}

func parseToken(body []byte) string {
	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err == nil && tr.Token != "" {
		return tr.Token
	}
	return strings.Trim(strings.TrimSpace(string(body)), `"`)
}

// dismissRules closes the rules modal if it blocks the editor. A modal that
// never shows up is not an error.
func (o *Orchestrator) dismissRules(ctx context.Context, r *run) error {
	sel := o.opts.Selectors
	t := o.opts.Timeouts
	removeAgeOverlay(ctx, r.page, sel, t, r.logger)
	if sel.RulesModal == "" {
		return nil
	}
	visible, err := waitUntil(ctx, t.Overlay, t.Poll, func(ctx context.Context) (bool, error) {
		return r.page.Visible(ctx, sel.RulesModal)
	})
	if err != nil {
		return err
	}
	if !visible {
		return nil
	}
	if err := r.page.Click(ctx, sel.RulesDismiss); err != nil {
		r.logger.Warn("close rules modal failed", zap.Error(err))
		return nil
	}
	if sel.ModalBackdrop != "" {
		_, _ = waitUntil(ctx, t.Overlay, t.Poll, func(ctx context.Context) (bool, error) {
			n, err := r.page.Count(ctx, sel.ModalBackdrop)
			return n == 0, err
		})
	}
	r.logger.Debug("rules modal closed")
	return nil
}

// setTitle writes the title into the visible editable heading and into the
// backing form input when the page has one, since the visible edit alone is
// not always what gets submitted.
func (o *Orchestrator) setTitle(ctx context.Context, r *run) error {
	sel := o.opts.Selectors
	if err := r.page.SetText(ctx, sel.Title, r.job.Title); err != nil {
		return fmt.Errorf("set title: %w", err)
	}
	if sel.TitleHidden != "" {
		n, err := r.page.Count(ctx, sel.TitleHidden)
		if err != nil {
			return fmt.Errorf("find title input: %w", err)
		}
		if n > 0 {
			if err := r.page.SetValue(ctx, sel.TitleHidden, r.job.Title); err != nil {
				return fmt.Errorf("set title input: %w", err)
			}
		}
	}
	if err := r.page.PressEnter(ctx, sel.Title); err != nil {
		r.logger.Debug("confirm title failed", zap.Error(err))
	}
	r.logger.Info("title set", zap.String("title", r.job.Title))
	return nil
}

// fetchAssets downloads each video in order. A missing or failed asset is
// skipped; only an empty result fails the job.
func (o *Orchestrator) fetchAssets(ctx context.Context, r *run) error {
	for _, name := range r.job.Videos {
		path, err := o.assets.Fetch(ctx, name)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.Warn("asset skipped", zap.String("asset", name), zap.String("kind", Kind(err)), zap.Error(err))
			continue
		}
		r.fetched = append(r.fetched, path)
		r.logger.Info("asset fetched", zap.String("asset", name), zap.String("path", path))
	}
	if len(r.fetched) == 0 {
		return &Error{Kind: ErrNoAssetsAvailable, Msg: fmt.Sprintf("0 of %d fetched", len(r.job.Videos))}
	}
	return nil
}

// upload submits every fetched asset as one batch and waits for the page to
// show a processed item per asset. The ceiling is not an error: the site's
// processing indicator is unreliable.
func (o *Orchestrator) upload(ctx context.Context, r *run) error {
	sel := o.opts.Selectors
	t := o.opts.Timeouts
	if err := r.page.SetFiles(ctx, sel.FileInput, r.fetched); err != nil {
		return fmt.Errorf("queue files: %w", err)
	}
	want := len(r.fetched)
	r.logger.Info("files queued", zap.Int("count", want))

	done, err := waitUntil(ctx, t.Upload, t.UploadPoll, func(ctx context.Context) (bool, error) {
		n, err := r.page.Count(ctx, sel.MediaItem)
		return n >= want, err
	})
	if err != nil {
		return fmt.Errorf("wait for uploads: %w", err)
	}
	if !done {
		r.logger.Warn("upload processing ceiling reached, continuing", zap.Duration("ceiling", t.Upload))
		r.rec.Capture(ctx, r.page, "upload_timeout")
	}
	return sleep(ctx, t.UploadSettle)
}

// enterTags types each tag and confirms it, pacing entries for the page's
// input debouncing.
func (o *Orchestrator) enterTags(ctx context.Context, r *run) error {
	sel := o.opts.Selectors.TagInput
	limiter := rate.NewLimiter(rate.Every(o.opts.Timeouts.TagPacing), 1)
	for _, tag := range r.job.Tags {
		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("pace tags: %w", err)
		}
		if err := r.page.Fill(ctx, sel, tag); err != nil {
			return fmt.Errorf("enter tag %q: %w", tag, err)
		}
		if err := r.page.PressEnter(ctx, sel); err != nil {
			return fmt.Errorf("confirm tag %q: %w", tag, err)
		}
	}
	r.logger.Info("tags added", zap.Int("count", len(r.job.Tags)))
	return nil
}

// publish saves the album and waits for the published location or an
// inline error.
func (o *Orchestrator) publish(ctx context.Context, r *run) error {
	sel := o.opts.Selectors
	t := o.opts.Timeouts

	left := func(ctx context.Context, page Page) (bool, error) {
		edit, err := o.isEdit(ctx, page)
		if err != nil || !edit {
			return !edit, err
		}
		return o.errorVisible(ctx, page)
	}
	trigger := Trigger{
		Name: "publish",
		Strategies: []Strategy{
			ClickStrategy(sel.PublishButton),
			ScriptClickStrategy(sel.PublishButton),
		},
		Settle: t.TriggerSettle,
		Poll:   t.Poll,
	}
	if _, err := trigger.Fire(ctx, r.page, left, r.logger); err != nil {
		if !errors.Is(err, ErrNoEffect) {
			return &Error{Kind: ErrPublishFailed, Err: err}
		}
		r.logger.Warn("publish control had no visible effect yet", zap.Error(err))
	}

	var inline string
	ok, err := waitUntil(ctx, t.Publish, t.PublishPoll, func(ctx context.Context) (bool, error) {
		location, err := r.page.Location(ctx)
		if err != nil {
			return false, err
		}
		if o.opts.Site.IsPublished(location) {
			return true, nil
		}
		visible, err := o.errorVisible(ctx, r.page)
		if err != nil || !visible {
			return false, err
		}
		inline, _ = r.page.Text(ctx, sel.ErrorIndicator)
		inline = strings.TrimSpace(inline)
		if inline == "" {
			inline = "error indicator shown"
		}
		return true, nil
	})
	if err != nil {
		return &Error{Kind: ErrPublishFailed, Err: err}
	}
	if inline != "" {
		r.rec.Capture(ctx, r.page, "publish_error")
		return &Error{Kind: ErrPublishFailed, Msg: inline}
	}
	if !ok {
		location, _ := r.page.Location(ctx)
		r.rec.Capture(ctx, r.page, "stuck_on_publish")
		return &Error{Kind: ErrPublishFailed, Msg: "still on " + location}
	}
	return nil
}

func (o *Orchestrator) errorVisible(ctx context.Context, page Page) (bool, error) {
	if o.opts.Selectors.ErrorIndicator == "" {
		return false, nil
	}
	return page.Visible(ctx, o.opts.Selectors.ErrorIndicator)
}

// cleanup removes every fetched asset on every exit path.
func (o *Orchestrator) cleanup(r *run) {
	for _, path := range r.fetched {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			r.logger.Warn("remove asset failed", zap.String("path", path), zap.Error(err))
		}
	}
}

func withQuery(rawURL, key, value string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", rawURL, err)
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func originOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Scheme + "://" + u.Host
}

func prefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
