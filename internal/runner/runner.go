// Package runner processes one spreadsheet row per run and optionally loops
// on a schedule.
package runner

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"github.com/JakeFAU/album-publisher/internal/notify"
	"github.com/JakeFAU/album-publisher/internal/publish"
)

// StatusPosted marks a row whose album was published.
const StatusPosted = "posted"

var (
	// ErrNoPendingJob reports that every row already has a status. It is not
	// a failure.
	ErrNoPendingJob = errors.New("no pending job")
	// ErrLocked reports that another process holds the run lock.
	ErrLocked = errors.New("another run holds the lock")
)

// Publisher runs the publish workflow for one job.
type Publisher interface {
	Publish(ctx context.Context, runID string, job publish.Job) (publish.Outcome, error)
}

// IDGenerator creates run identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Config controls Runner behavior.
type Config struct {
	// LockPath is the file lock that keeps runs from overlapping. Empty
	// disables locking.
	LockPath string
	// ErrorBackoff replaces the interval after a run that failed without
	// marking its row.
	ErrorBackoff time.Duration
	// MarkTimeout bounds the status write and notification after a job. They
	// run even when the run context is canceled.
	MarkTimeout time.Duration
}

// Result summarizes one run.
type Result struct {
	RunID       string
	Row         int
	Title       string
	Status      string
	Location    string
	Assets      int
	Screenshots int
	// Marked reports whether the status was written back to the row.
	Marked bool
}

// ResultObserver sees every finished run, including runs with no job.
type ResultObserver func(res Result, err error)

// Runner pulls a pending job, publishes it, and records the outcome.
type Runner struct {
	source    publish.JobSource
	publisher Publisher
	notifier  notify.Notifier
	ids       IDGenerator
	clock     publish.Clock
	cfg       Config
	observer  ResultObserver
	logger    *zap.Logger

	mu   sync.RWMutex
	last *lastRun
}

type lastRun struct {
	at     time.Time
	result Result
	err    error
}

// New constructs a Runner. notifier may be nil.
func New(
	source publish.JobSource,
	publisher Publisher,
	notifier notify.Notifier,
	ids IDGenerator,
	clock publish.Clock,
	cfg Config,
	logger *zap.Logger,
) (*Runner, error) {
	if source == nil {
		return nil, errors.New("job source is required")
	}
	if publisher == nil {
		return nil, errors.New("publisher is required")
	}
	if ids == nil {
		return nil, errors.New("id generator is required")
	}
	if clock == nil {
		return nil, errors.New("clock is required")
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = 5 * time.Minute
	}
	if cfg.MarkTimeout <= 0 {
		cfg.MarkTimeout = 30 * time.Second
	}
	return &Runner{
		source:    source,
		publisher: publisher,
		notifier:  notifier,
		ids:       ids,
		clock:     clock,
		cfg:       cfg,
		logger:    logger.Named("runner"),
	}, nil
}

// OnResult registers an observer for finished runs.
func (r *Runner) OnResult(fn ResultObserver) {
	r.observer = fn
}

// RunOnce processes the first pending row. It returns ErrNoPendingJob when
// there is nothing to do. A job failure is recorded on its row and returned.
func (r *Runner) RunOnce(ctx context.Context) (res Result, err error) {
	runID, err := r.ids.NewID()
	if err != nil {
		return Result{}, fmt.Errorf("new run id: %w", err)
	}
	res.RunID = runID
	logger := r.logger.With(zap.String("run_id", runID))
	defer func() {
		r.record(res, err)
		if r.observer != nil {
			r.observer(res, err)
		}
	}()

	unlock, err := r.lock()
	if err != nil {
		return res, err
	}
	defer unlock()

	job, ok, err := r.source.NextPending(ctx)
	if err != nil {
		return res, fmt.Errorf("fetch pending job: %w", err)
	}
	if !ok {
		logger.Info("no pending job")
		return res, ErrNoPendingJob
	}
	res.Row, res.Title = job.Row, job.Title
	logger = logger.With(zap.Int("row", job.Row))
	logger.Info("processing job", zap.String("title", job.Title), zap.Int("videos", len(job.Videos)), zap.Int("tags", len(job.Tags)))

	out, pubErr := r.publisher.Publish(ctx, runID, job)
	res.Location, res.Assets, res.Screenshots = out.Location, out.Assets, out.Screenshots

	// An interrupted job stays pending so the next run picks it up.
	if pubErr != nil && ctx.Err() != nil {
		logger.Warn("job interrupted; row left pending", zap.Error(pubErr))
		return res, pubErr
	}

	res.Status = StatusPosted
	if pubErr != nil {
		res.Status = publish.StatusMessage(pubErr)
	}
	// The row outcome is final at this point, so cancellation must not lose it.
	markCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.MarkTimeout)
	defer cancel()
	at := r.clock.Now()
	markErr := r.source.MarkResult(markCtx, job.Row, res.Status, at)
	res.Marked = markErr == nil
	r.announce(markCtx, res, pubErr, at, logger)

	if pubErr != nil {
		if markErr != nil {
			logger.Error("mark failed row", zap.Error(markErr))
		}
		logger.Error("job failed", zap.String("kind", publish.Kind(pubErr)), zap.String("status", res.Status), zap.Error(pubErr))
		return res, pubErr
	}
	if markErr != nil {
		return res, fmt.Errorf("mark row %d posted: %w", job.Row, markErr)
	}
	logger.Info("job posted", zap.String("url", res.Location), zap.Int("assets", res.Assets), zap.Int("screenshots", res.Screenshots))
	return res, nil
}

// RunForever calls RunOnce every interval until ctx ends. Errors are logged
// and never stop the loop. A run that failed without marking its row waits
// ErrorBackoff instead of interval. Canceling ctx stops the loop between
// runs; a run already in progress finishes first.
func (r *Runner) RunForever(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return errors.New("interval must be > 0")
	}
	r.logger.Info("scheduler started", zap.Duration("interval", interval))
	jobCtx := context.WithoutCancel(ctx)
	for ctx.Err() == nil {
		res, err := r.safeRunOnce(jobCtx)
		if ctx.Err() != nil {
			r.logger.Info("scheduler stopped")
			return nil
		}
		wait := interval
		if err != nil && !errors.Is(err, ErrNoPendingJob) {
			r.logger.Error("run failed", zap.String("run_id", res.RunID), zap.Error(err))
			if !res.Marked {
				wait = r.cfg.ErrorBackoff
			}
		}
		r.logger.Info("next run scheduled", zap.Duration("in", wait))
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			r.logger.Info("scheduler stopped")
			return nil
		case <-timer.C:
		}
	}
	r.logger.Info("scheduler stopped")
	return nil
}

// LastRun reports the latest run for health checks.
func (r *Runner) LastRun() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.last == nil {
		return map[string]any{"last_run": nil}
	}
	out := map[string]any{
		"last_run":    r.last.at.Format(time.RFC3339),
		"last_run_id": r.last.result.RunID,
		"last_status": r.last.result.Status,
	}
	if r.last.err != nil {
		out["last_error"] = r.last.err.Error()
	}
	return out
}

func (r *Runner) safeRunOnce(ctx context.Context) (res Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("run panicked", zap.Any("panic", rec), zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("run panicked: %v", rec)
		}
	}()
	return r.RunOnce(ctx)
}

func (r *Runner) lock() (func(), error) {
	if r.cfg.LockPath == "" {
		return func() {}, nil
	}
	fl := flock.New(r.cfg.LockPath)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", r.cfg.LockPath, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", r.cfg.LockPath, ErrLocked)
	}
	return func() {
		if err := fl.Unlock(); err != nil {
			r.logger.Warn("release lock failed", zap.Error(err))
		}
	}, nil
}

func (r *Runner) announce(ctx context.Context, res Result, pubErr error, at time.Time, logger *zap.Logger) {
	kind := "posted"
	if pubErr != nil {
		kind = publish.Kind(pubErr)
	}
	event := notify.Event{
		RunID:       res.RunID,
		Row:         res.Row,
		Title:       res.Title,
		Status:      res.Status,
		Kind:        kind,
		Location:    res.Location,
		Assets:      res.Assets,
		Screenshots: res.Screenshots,
		At:          at,
	}
	if err := r.notifier.Notify(ctx, event); err != nil {
		logger.Warn("notify failed", zap.Error(err))
	}
}

func (r *Runner) record(res Result, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last = &lastRun{at: r.clock.Now(), result: res, err: err}
}
