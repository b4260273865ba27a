// Package session loads and saves browser session snapshots.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/album-publisher/internal/publish"
	"github.com/JakeFAU/album-publisher/internal/storage"
)

// ErrReadOnly is returned when saving to a source that cannot be written.
var ErrReadOnly = errors.New("snapshot source is read-only")

// Store persists a session snapshot.
type Store interface {
	Load(ctx context.Context) (publish.SessionState, error)
	Save(ctx context.Context, state publish.SessionState) error
	// Describe names the location for logs without revealing contents.
	Describe() string
}

// Decode parses a storage-state JSON document. An empty document decodes to
// an empty state.
func Decode(data []byte) (publish.SessionState, error) {
	var state publish.SessionState
	if len(bytes.TrimSpace(data)) == 0 {
		return state, nil
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return publish.SessionState{}, fmt.Errorf("decode session snapshot: %w", err)
	}
	return state, nil
}

// Encode renders state as indented storage-state JSON.
func Encode(state publish.SessionState) ([]byte, error) {
	if state.Cookies == nil {
		state.Cookies = []publish.Cookie{}
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode session snapshot: %w", err)
	}
	return data, nil
}

// FileStore keeps the snapshot in a local file.
type FileStore struct {
	Path string
}

// Load reads the snapshot file. A missing file is an empty state.
func (f FileStore) Load(context.Context) (publish.SessionState, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return publish.SessionState{}, nil
		}
		return publish.SessionState{}, fmt.Errorf("read %s: %w", f.Path, err)
	}
	return Decode(data)
}

// Save writes the snapshot atomically with owner-only permissions.
func (f FileStore) Save(_ context.Context, state publish.SessionState) error {
	data, err := Encode(state)
	if err != nil {
		return err
	}
	dir := filepath.Dir(f.Path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".session-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.Path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("replace %s: %w", f.Path, err)
	}
	return nil
}

// Describe returns the file path.
func (f FileStore) Describe() string { return "file " + f.Path }

// ValueStore holds a snapshot passed in as a configuration value, such as
// the BROWSER_STATE environment variable.
type ValueStore struct {
	Value string
}

// Load decodes the configured value.
func (v ValueStore) Load(context.Context) (publish.SessionState, error) {
	return Decode([]byte(v.Value))
}

// Save always fails; environment values cannot be written back.
func (v ValueStore) Save(context.Context, publish.SessionState) error {
	return ErrReadOnly
}

// Describe reports the value's size only.
func (v ValueStore) Describe() string { return fmt.Sprintf("inline value (%d bytes)", len(v.Value)) }

// BlobStore keeps the snapshot as one object in a blob store.
type BlobStore struct {
	Blobs storage.BlobStore
	Key   string
	URI   string
}

// Load reads the object. A missing object is an empty state.
func (b BlobStore) Load(ctx context.Context) (publish.SessionState, error) {
	data, err := b.Blobs.GetObject(ctx, b.Key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return publish.SessionState{}, nil
		}
		return publish.SessionState{}, fmt.Errorf("read %s: %w", b.Describe(), err)
	}
	return Decode(data)
}

// Save uploads the snapshot.
func (b BlobStore) Save(ctx context.Context, state publish.SessionState) error {
	data, err := Encode(state)
	if err != nil {
		return err
	}
	if _, err := b.Blobs.PutObject(ctx, b.Key, "application/json", bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write %s: %w", b.Describe(), err)
	}
	return nil
}

// Describe returns the object URI.
func (b BlobStore) Describe() string {
	if b.URI != "" {
		return b.URI
	}
	return "object " + b.Key
}

// ParseCookies turns a "name=value; name2=value2" list into cookies scoped
// to domain. Blank pairs are skipped; pairs without "=" are rejected.
func ParseCookies(list, domain string) ([]publish.Cookie, error) {
	var cookies []publish.Cookie
	for _, pair := range strings.Split(list, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, value, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("cookie %q is not name=value", name)
		}
		cookies = append(cookies, publish.Cookie{
			Name:   name,
			Value:  strings.TrimSpace(value),
			Domain: domain,
			Path:   "/",
			Secure: true,
		})
	}
	return cookies, nil
}
