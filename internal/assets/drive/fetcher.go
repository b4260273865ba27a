// Package drive fetches assets by name from one Google Drive folder.
package drive

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	driveapi "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/JakeFAU/album-publisher/internal/assets"
	"github.com/JakeFAU/album-publisher/internal/publish"
)

// Config identifies the asset folder.
type Config struct {
	FolderID  string
	Extension string
}

// File is a folder entry.
type File struct {
	ID   string
	Name string
}

// Fetcher implements publish.AssetFetcher.
type Fetcher struct {
	svc     *driveapi.Service
	cfg     Config
	scratch *assets.Scratch
	logger  *zap.Logger
}

// New builds a Fetcher writing into scratch.
func New(ctx context.Context, cfg Config, scratch *assets.Scratch, logger *zap.Logger, opts ...option.ClientOption) (*Fetcher, error) {
	if strings.TrimSpace(cfg.FolderID) == "" {
		return nil, errors.New("drive folder id is required")
	}
	if scratch == nil {
		return nil, errors.New("scratch storage is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	svc, err := driveapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}
	return &Fetcher{svc: svc, cfg: cfg, scratch: scratch, logger: logger.Named("drive")}, nil
}

// Fetch downloads the first file in the folder named name plus the
// configured extension.
func (f *Fetcher) Fetch(ctx context.Context, name string) (string, error) {
	fileName := assets.WithExtension(name, f.cfg.Extension)
	q := fmt.Sprintf("name='%s' and '%s' in parents and trashed=false", quote(fileName), quote(f.cfg.FolderID))
	list, err := f.svc.Files.List().
		Q(q).
		Fields("files(id, name)").
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("search %s: %w", fileName, err)
	}
	if len(list.Files) == 0 {
		return "", &publish.Error{Kind: publish.ErrAssetNotFound, Msg: fileName}
	}
	file := list.Files[0]
	if len(list.Files) > 1 {
		f.logger.Warn("several files share a name, using the first",
			zap.String("name", fileName), zap.Int("matches", len(list.Files)), zap.String("file_id", file.Id))
	}

	resp, err := f.svc.Files.Get(file.Id).SupportsAllDrives(true).Context(ctx).Download()
	if err != nil {
		return "", fmt.Errorf("download %s: %w", fileName, err)
	}
	defer resp.Body.Close()

	path, err := f.scratch.Write(fileName, resp.Body)
	if err != nil {
		return "", err
	}
	f.logger.Debug("asset downloaded", zap.String("name", fileName), zap.String("path", path))
	return path, nil
}

// List returns up to limit non-trashed files in the folder.
func (f *Fetcher) List(ctx context.Context, limit int64) ([]File, error) {
	q := fmt.Sprintf("'%s' in parents and trashed=false", quote(f.cfg.FolderID))
	list, err := f.svc.Files.List().
		Q(q).
		Fields("files(id, name)").
		PageSize(limit).
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("list folder %s: %w", f.cfg.FolderID, err)
	}
	out := make([]File, 0, len(list.Files))
	for _, file := range list.Files {
		out = append(out, File{ID: file.Id, Name: file.Name})
	}
	return out, nil
}

// quote escapes a value for a single-quoted Drive query literal.
func quote(v string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(v)
}
