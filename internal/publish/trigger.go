package publish

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ErrNoEffect is returned by Trigger.Fire when no strategy produced an
// observable effect.
var ErrNoEffect = errors.New("no strategy produced an effect")

// Strategy attempts one way of activating a control.
type Strategy struct {
	Name string
	Run  func(ctx context.Context, page Page) error
}

// Effect reports whether the page shows the expected result of a trigger.
type Effect func(ctx context.Context, page Page) (bool, error)

// Trigger is a prioritized list of strategies for one control.
type Trigger struct {
	Name       string
	Strategies []Strategy
	// Settle bounds how long each strategy is given to produce the effect.
	Settle time.Duration
	Poll   time.Duration
}

// Fire runs the strategies in order and returns the name of the first one
// followed by the effect.
func (t Trigger) Fire(ctx context.Context, page Page, effect Effect, logger *zap.Logger) (string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var lastErr error
	for _, s := range t.Strategies {
		if err := s.Run(ctx, page); err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			logger.Debug("trigger strategy failed",
				zap.String("trigger", t.Name), zap.String("strategy", s.Name), zap.Error(err))
			lastErr = err
			continue
		}
		ok, err := waitUntil(ctx, t.Settle, t.Poll, func(ctx context.Context) (bool, error) {
			return effect(ctx, page)
		})
		if err != nil {
			return "", fmt.Errorf("%s: observe %s: %w", t.Name, s.Name, err)
		}
		if ok {
			logger.Debug("trigger fired", zap.String("trigger", t.Name), zap.String("strategy", s.Name))
			return s.Name, nil
		}
		logger.Debug("trigger strategy had no effect",
			zap.String("trigger", t.Name), zap.String("strategy", s.Name))
	}
	if lastErr != nil {
		return "", fmt.Errorf("%s: %w (last error: %v)", t.Name, ErrNoEffect, lastErr)
	}
	return "", fmt.Errorf("%s: %w", t.Name, ErrNoEffect)
}

// ClickStrategy performs a native click on selector.
func ClickStrategy(selector string) Strategy {
	return Strategy{Name: "click", Run: func(ctx context.Context, page Page) error {
		return page.Click(ctx, selector)
	}}
}

// ScriptClickStrategy clicks selector from page script.
func ScriptClickStrategy(selector string) Strategy {
	return Strategy{Name: "script-click", Run: func(ctx context.Context, page Page) error {
		return page.ClickScript(ctx, selector)
	}}
}

// SubmitStrategy submits the form enclosing selector.
func SubmitStrategy(selector string) Strategy {
	return Strategy{Name: "submit-form", Run: func(ctx context.Context, page Page) error {
		return page.SubmitForm(ctx, selector)
	}}
}

// NavigateStrategy loads url directly.
func NavigateStrategy(url string) Strategy {
	return Strategy{Name: "navigate", Run: func(ctx context.Context, page Page) error {
		return page.Navigate(ctx, url)
	}}
}
