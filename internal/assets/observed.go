package assets

import (
	"context"

	"github.com/JakeFAU/album-publisher/internal/publish"
)

// FetchObserver receives the result of every fetch.
type FetchObserver func(name string, err error)

type observed struct {
	next    publish.AssetFetcher
	observe FetchObserver
}

// Observed wraps f so observe sees every fetch result.
func Observed(f publish.AssetFetcher, observe FetchObserver) publish.AssetFetcher {
	if observe == nil {
		return f
	}
	return &observed{next: f, observe: observe}
}

func (o *observed) Fetch(ctx context.Context, name string) (string, error) {
	path, err := o.next.Fetch(ctx, name)
	o.observe(name, err)
	return path, err
}
