// Package gcs fetches assets by name from a Cloud Storage prefix.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"

	"github.com/JakeFAU/album-publisher/internal/assets"
	"github.com/JakeFAU/album-publisher/internal/publish"
)

// Config locates asset objects.
type Config struct {
	Bucket    string
	Prefix    string
	Extension string
}

// Fetcher implements publish.AssetFetcher over bucket/prefix/<name>.
type Fetcher struct {
	client  *storage.Client
	cfg     Config
	scratch *assets.Scratch
	logger  *zap.Logger
}

// New builds a Fetcher writing into scratch.
func New(client *storage.Client, cfg Config, scratch *assets.Scratch, logger *zap.Logger) (*Fetcher, error) {
	if client == nil {
		return nil, errors.New("storage client is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("bucket name is required")
	}
	if scratch == nil {
		return nil, errors.New("scratch storage is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{client: client, cfg: cfg, scratch: scratch, logger: logger.Named("gcs_assets")}, nil
}

// Fetch streams the object named name plus the configured extension.
func (f *Fetcher) Fetch(ctx context.Context, name string) (string, error) {
	fileName := assets.WithExtension(name, f.cfg.Extension)
	key := path.Join(strings.Trim(f.cfg.Prefix, "/"), fileName)
	r, err := f.client.Bucket(f.cfg.Bucket).Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return "", &publish.Error{Kind: publish.ErrAssetNotFound, Msg: fmt.Sprintf("gs://%s/%s", f.cfg.Bucket, key)}
		}
		return "", fmt.Errorf("open gs://%s/%s: %w", f.cfg.Bucket, key, err)
	}
	defer r.Close()

	local, err := f.scratch.Write(fileName, r)
	if err != nil {
		return "", err
	}
	f.logger.Debug("asset downloaded", zap.String("object", key), zap.String("path", local))
	return local, nil
}

// Object is an entry under the asset prefix.
type Object struct {
	Name string
	Size int64
}

// List returns up to limit objects under the prefix.
func (f *Fetcher) List(ctx context.Context, limit int) ([]Object, error) {
	prefix := strings.Trim(f.cfg.Prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	it := f.client.Bucket(f.cfg.Bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	var out []Object
	for limit <= 0 || len(out) < limit {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list gs://%s/%s: %w", f.cfg.Bucket, prefix, err)
		}
		out = append(out, Object{Name: strings.TrimPrefix(attrs.Name, prefix), Size: attrs.Size})
	}
	return out, nil
}
