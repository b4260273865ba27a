package gcs

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/JakeFAU/album-publisher/internal/assets"
	"github.com/JakeFAU/album-publisher/internal/publish"
)

func newTestFetcher(t *testing.T, handler http.Handler) (*Fetcher, *assets.Scratch) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := storage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	scratch, err := assets.NewScratch(t.TempDir())
	require.NoError(t, err)
	f, err := New(client, Config{Bucket: "media", Prefix: "/videos/", Extension: ".mp4"}, scratch, nil)
	require.NoError(t, err)
	return f, scratch
}

func TestFetch(t *testing.T) {
	var paths []string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if strings.HasSuffix(r.URL.Path, "videos/clip1.mp4") {
			w.Header().Set("Content-Type", "video/mp4")
			_, _ = w.Write([]byte("clip-bytes"))
			return
		}
		http.NotFound(w, r)
	})
	f, scratch := newTestFetcher(t, handler)

	local, err := f.Fetch(context.Background(), "clip1")

	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(local, scratch.Dir()))
	data, err := os.ReadFile(local)
	require.NoError(t, err)
	assert.Equal(t, "clip-bytes", string(data))
	require.NotEmpty(t, paths)
	assert.Contains(t, paths[0], "media")
}

func TestFetchNotFound(t *testing.T) {
	f, _ := newTestFetcher(t, http.NotFoundHandler())

	_, err := f.Fetch(context.Background(), "clip9")

	require.ErrorIs(t, err, publish.ErrAssetNotFound)
	assert.Contains(t, err.Error(), "gs://media/videos/clip9.mp4")
}

func TestNewValidates(t *testing.T) {
	t.Parallel()
	scratch, err := assets.NewScratch(t.TempDir())
	require.NoError(t, err)
	_, err = New(nil, Config{Bucket: "b"}, scratch, nil)
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	_, err = New(client, Config{}, scratch, nil)
	require.Error(t, err)
	_, err = New(client, Config{Bucket: "b"}, nil, nil)
	require.Error(t, err)
}

func TestList(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/b/media/o") {
			assert.Equal(t, "videos/", r.URL.Query().Get("prefix"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"kind":"storage#objects","items":[` +
				`{"name":"videos/clip1.mp4","bucket":"media","size":"10"},` +
				`{"name":"videos/clip2.mp4","bucket":"media","size":"20"},` +
				`{"name":"videos/clip3.mp4","bucket":"media","size":"30"}]}`))
			return
		}
		http.NotFound(w, r)
	})
	f, _ := newTestFetcher(t, handler)

	objs, err := f.List(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, []Object{{Name: "clip1.mp4", Size: 10}, {Name: "clip2.mp4", Size: 20}}, objs)
}
