package publish

import (
	"net/http"
	"strings"
	"time"
)

// Job is one spreadsheet row describing an album to publish.
type Job struct {
	// Row is the 1-based sheet row number (the header is row 1).
	Row     int
	Title   string
	Videos  []string
	Tags    []string
	Status  string
	Updated string
}

// Pending reports whether the job has no terminal status yet.
func (j Job) Pending() bool {
	return strings.TrimSpace(j.Status) == ""
}

// Validate fails with ErrInvalidJob when the title, videos, or tags are empty.
func (j Job) Validate() error {
	var missing []string
	if strings.TrimSpace(j.Title) == "" {
		missing = append(missing, "title")
	}
	if len(j.Videos) == 0 {
		missing = append(missing, "videos")
	}
	if len(j.Tags) == 0 {
		missing = append(missing, "tags")
	}
	if len(missing) > 0 {
		return &Error{Kind: ErrInvalidJob, Msg: "missing " + strings.Join(missing, ", ")}
	}
	return nil
}

// SplitList splits a comma-separated cell, trimming blanks and keeping order.
func SplitList(cell string) []string {
	parts := strings.Split(cell, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Outcome is the result of one publish run.
type Outcome struct {
	Location    string
	Assets      int
	Screenshots int
}

// Cookie is a browser cookie in a session snapshot.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	SameSite string  `json:"sameSite,omitempty"`
}

// StorageEntry is one localStorage key/value pair.
type StorageEntry struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// OriginStorage holds the localStorage entries of one origin.
type OriginStorage struct {
	Origin       string         `json:"origin"`
	LocalStorage []StorageEntry `json:"localStorage"`
}

// SessionState is a persisted browsing session snapshot.
type SessionState struct {
	Cookies []Cookie        `json:"cookies"`
	Origins []OriginStorage `json:"origins,omitempty"`
}

// Empty reports whether the snapshot carries nothing to restore.
func (s SessionState) Empty() bool {
	return len(s.Cookies) == 0 && len(s.Origins) == 0
}

// APIRequest is an HTTP call issued with the page's cookies.
type APIRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	// CookieHeaders maps a header name to a cookie name whose URL-decoded
	// value is sent in that header.
	CookieHeaders map[string]string
	// FollowRedirects is false for calls whose Location header matters.
	FollowRedirects bool
}

// APIResponse is the result of an APIRequest.
type APIResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
