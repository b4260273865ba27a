package publish

import (
	"context"
	"errors"
	"unicode/utf8"
)

// Error kinds surfaced by the workflow and its collaborators.
var (
	ErrInvalidJob              = errors.New("invalid job")
	ErrSourceUnavailable       = errors.New("job source unavailable")
	ErrAssetNotFound           = errors.New("asset not found")
	ErrNoAssetsAvailable       = errors.New("no assets available")
	ErrSessionExpired          = errors.New("session expired")
	ErrLoginFailed             = errors.New("login failed")
	ErrCaptchaUnsolved         = errors.New("captcha unsolved")
	ErrUploadTargetUnavailable = errors.New("upload target unavailable")
	ErrPublishFailed           = errors.New("publish failed or timed out")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrInvalidJob, "invalid_job"},
	{ErrSourceUnavailable, "source_unavailable"},
	{ErrAssetNotFound, "asset_not_found"},
	{ErrNoAssetsAvailable, "no_assets_available"},
	{ErrSessionExpired, "session_expired"},
	{ErrLoginFailed, "login_failed"},
	{ErrCaptchaUnsolved, "captcha_unsolved"},
	{ErrUploadTargetUnavailable, "upload_target_unavailable"},
	{ErrPublishFailed, "publish_failed"},
}

// Error attaches detail to one of the error kinds above.
type Error struct {
	Kind error
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	out := e.Kind.Error()
	if e.Msg != "" {
		out += ": " + e.Msg
	}
	if e.Err != nil {
		out += ": " + e.Err.Error()
	}
	return out
}

// Is matches the error kind.
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Kind maps err to a stable name for logs and metrics.
func Kind(err error) string {
	if err == nil {
		return "none"
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "canceled"
	}
	return "unknown"
}

const statusMessageLimit = 50

// StatusMessage renders the terminal row status recorded for a failed job.
func StatusMessage(err error) string {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	if utf8.RuneCountInString(msg) > statusMessageLimit {
		msg = string([]rune(msg)[:statusMessageLimit])
	}
	return "error: " + msg
}
