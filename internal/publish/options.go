package publish

import (
	"fmt"
	"regexp"
	"time"
)

// SessionStrategy selects how an authenticated session is obtained.
type SessionStrategy string

// Session strategies.
const (
	SessionReplay      SessionStrategy = "replay"
	SessionCookies     SessionStrategy = "cookies"
	SessionInteractive SessionStrategy = "interactive"
)

// TargetStrategy selects how the edit target of a new album is obtained.
type TargetStrategy string

// Target strategies.
const (
	TargetClick TargetStrategy = "click"
	TargetToken TargetStrategy = "token"
)

// Site holds the target site's addresses and location patterns.
type Site struct {
	BaseURL  string
	LoginURL string
	// TokenURL issues one-time upload tokens.
	TokenURL string
	// UploadURL is opened with ?token=<token> and redirects to the editor.
	UploadURL        string
	EditPattern      *regexp.Regexp
	PublishedPattern *regexp.Regexp
}

// Default location patterns. A published album may carry a trailing path,
// query, or fragment; editor locations are excluded by IsPublished.
const (
	DefaultEditPattern      = `/a/[^/]+/edit`
	DefaultPublishedPattern = `/a/[^/?#]+(?:[/?#]|$)`
)

// CompileSite builds a Site from pattern strings.
func CompileSite(base, login, token, upload, edit, published string) (Site, error) {
	editRe, err := regexp.Compile(edit)
	if err != nil {
		return Site{}, fmt.Errorf("compile edit pattern: %w", err)
	}
	publishedRe, err := regexp.Compile(published)
	if err != nil {
		return Site{}, fmt.Errorf("compile published pattern: %w", err)
	}
	return Site{
		BaseURL:          base,
		LoginURL:         login,
		TokenURL:         token,
		UploadURL:        upload,
		EditPattern:      editRe,
		PublishedPattern: publishedRe,
	}, nil
}

// IsEdit reports whether location is an album editor.
func (s Site) IsEdit(location string) bool {
	return s.EditPattern != nil && s.EditPattern.MatchString(location)
}

// IsPublished reports whether location is a published album.
func (s Site) IsPublished(location string) bool {
	return !s.IsEdit(location) && s.PublishedPattern != nil && s.PublishedPattern.MatchString(location)
}

// Selectors locates the site's controls.
type Selectors struct {
	LoggedIn       string
	AgeOverlay     string
	RulesModal     string
	RulesDismiss   string
	ModalBackdrop  string
	Email          string
	Password       string
	CaptchaImage   string
	CaptchaInput   string
	LoginSubmit    string
	UploadLink     string
	Title          string
	TitleHidden    string
	FileInput      string
	MediaItem      string
	TagInput       string
	PublishButton  string
	ErrorIndicator string
}

// DefaultSelectors matches the site's current markup.
func DefaultSelectors() Selectors {
	return Selectors{
		LoggedIn:       "a#upload-album, a[href*='/upload']",
		AgeOverlay:     "#disclaimer",
		RulesModal:     "#rules",
		RulesDismiss:   "#rules button[data-dismiss=\"modal\"]",
		ModalBackdrop:  ".modal-backdrop",
		Email:          "input#email.form-control",
		Password:       "input#password.form-control",
		CaptchaImage:   "div.form-group div.mb-10 img",
		CaptchaInput:   "input[name=\"captcha\"]",
		LoginSubmit:    "button[type=\"submit\"].btn.btn-pink",
		UploadLink:     "a#upload-album",
		Title:          "h1#title_editable",
		TitleHidden:    "#album_title",
		FileInput:      "#add_more_file",
		MediaItem:      "#medias .media-group",
		TagInput:       "#tag_input",
		PublishButton:  "div#done_box a.btn.btn-pink",
		ErrorIndicator: ".alert-danger",
	}
}

// Timeouts bounds every wait in the workflow.
type Timeouts struct {
	Overlay       time.Duration
	LoginVerify   time.Duration
	Target        time.Duration
	TriggerSettle time.Duration
	Upload        time.Duration
	UploadPoll    time.Duration
	UploadSettle  time.Duration
	TagPacing     time.Duration
	Publish       time.Duration
	PublishPoll   time.Duration
	Poll          time.Duration
}

// DefaultTimeouts returns the production bounds.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Overlay:       3 * time.Second,
		LoginVerify:   15 * time.Second,
		Target:        30 * time.Second,
		TriggerSettle: 10 * time.Second,
		Upload:        5 * time.Minute,
		UploadPoll:    2 * time.Second,
		UploadSettle:  5 * time.Second,
		TagPacing:     500 * time.Millisecond,
		Publish:       60 * time.Second,
		PublishPoll:   time.Second,
		Poll:          250 * time.Millisecond,
	}
}

// Credentials are the site login values.
type Credentials struct {
	Email    string
	Password string
}

// Options parameterizes the orchestrator.
type Options struct {
	Site            Site
	Selectors       Selectors
	Timeouts        Timeouts
	SessionStrategy SessionStrategy
	TargetStrategy  TargetStrategy
	Credentials     Credentials
	// Session is restored under SessionReplay and SessionCookies.
	Session       SessionState
	LoginAttempts int
	// Diagnostics enables screenshots into the artifact store.
	Diagnostics      bool
	DiagnosticPrefix string
}
