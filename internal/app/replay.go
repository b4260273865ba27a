package app

import (
	"context"
	"fmt"

	"github.com/JakeFAU/album-publisher/internal/publish"
	"github.com/JakeFAU/album-publisher/internal/runner"
)

// replayPublisher reads the session snapshot again before every job, so a
// snapshot refreshed by save-session reaches a running schedule.
type replayPublisher struct {
	load  func(ctx context.Context) (publish.Options, error)
	build func(ctx context.Context, opts publish.Options) (runner.Publisher, error)
}

func (p *replayPublisher) Publish(ctx context.Context, runID string, job publish.Job) (publish.Outcome, error) {
	opts, err := p.load(ctx)
	if err != nil {
		return publish.Outcome{}, &publish.Error{Kind: publish.ErrSessionExpired, Msg: "reload session snapshot", Err: err}
	}
	pub, err := p.build(ctx, opts)
	if err != nil {
		return publish.Outcome{}, fmt.Errorf("build publisher: %w", err)
	}
	return pub.Publish(ctx, runID, job)
}
