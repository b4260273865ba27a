// Package storage defines blob stores for diagnostics and session snapshots.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
)

// ErrNotFound is returned by GetObject for a missing object.
var ErrNotFound = errors.New("object not found")

// BlobStore reads and writes whole objects by path.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
	GetObject(ctx context.Context, path string) ([]byte, error)
}

// Location is a parsed blob URI.
type Location struct {
	// Scheme is "gs", "file", or "memory".
	Scheme string
	// Bucket is set for gs:// locations.
	Bucket string
	// Path is the object path, or the directory for file:// locations.
	Path string
}

// ParseURI parses gs://bucket/path, file:///dir, memory://path, or a plain
// filesystem path.
func ParseURI(raw string) (Location, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Location{}, errors.New("empty storage uri")
	}
	if !strings.Contains(raw, "://") {
		return Location{Scheme: "file", Path: raw}, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Location{}, fmt.Errorf("parse storage uri %q: %w", raw, err)
	}
	switch u.Scheme {
	case "gs":
		if u.Host == "" {
			return Location{}, fmt.Errorf("storage uri %q has no bucket", raw)
		}
		return Location{Scheme: "gs", Bucket: u.Host, Path: strings.TrimPrefix(u.Path, "/")}, nil
	case "file":
		return Location{Scheme: "file", Path: u.Host + u.Path}, nil
	case "memory":
		return Location{Scheme: "memory", Path: strings.TrimPrefix(u.Host+u.Path, "/")}, nil
	default:
		return Location{}, fmt.Errorf("unsupported storage scheme %q", u.Scheme)
	}
}
