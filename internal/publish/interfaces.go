package publish

import (
	"context"
	"io"
	"time"
)

// JobSource reads pending jobs and records their results.
type JobSource interface {
	// NextPending returns the first row without a terminal status. The bool is
	// false when no pending row exists.
	NextPending(ctx context.Context) (Job, bool, error)
	// MarkResult writes status and timestamp into the given row.
	MarkResult(ctx context.Context, row int, status string, at time.Time) error
}

// AssetFetcher downloads a logical asset into scratch storage and returns
// its local path. The caller owns the file.
type AssetFetcher interface {
	Fetch(ctx context.Context, name string) (string, error)
}

// CaptchaSolver turns a challenge image into its text.
type CaptchaSolver interface {
	Solve(ctx context.Context, image []byte) (string, error)
}

// ArtifactStore persists diagnostic artifacts and returns their URI.
type ArtifactStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Browser opens fresh browsing contexts.
type Browser interface {
	NewPage(ctx context.Context) (Page, error)
}

// Page is the DOM and network surface the workflow drives. Selectors are CSS
// selectors; calls operate on the first match unless noted.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Location(ctx context.Context) (string, error)
	Visible(ctx context.Context, selector string) (bool, error)
	// Count returns the number of elements matching selector without waiting.
	Count(ctx context.Context, selector string) (int, error)
	Text(ctx context.Context, selector string) (string, error)
	Click(ctx context.Context, selector string) error
	// ClickScript dispatches a click from page script, bypassing overlays.
	ClickScript(ctx context.Context, selector string) error
	SubmitForm(ctx context.Context, selector string) error
	// Remove deletes every match from the DOM and restores page scrolling.
	Remove(ctx context.Context, selector string) error
	// Fill clears an input and types value into it.
	Fill(ctx context.Context, selector, value string) error
	SetText(ctx context.Context, selector, text string) error
	SetValue(ctx context.Context, selector, value string) error
	PressEnter(ctx context.Context, selector string) error
	SetFiles(ctx context.Context, selector string, paths []string) error
	// Screenshot captures the element matching selector, or the viewport
	// when selector is empty.
	Screenshot(ctx context.Context, selector string) ([]byte, error)
	Request(ctx context.Context, req APIRequest) (APIResponse, error)
	RestoreSession(ctx context.Context, state SessionState) error
	SaveSession(ctx context.Context) (SessionState, error)
	Close() error
}
