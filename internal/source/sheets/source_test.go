package sheets

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/JakeFAU/album-publisher/internal/publish"
)

type update struct {
	Range  string
	Option string
	Values [][]any
}

// fakeSheet serves the subset of the Sheets v4 API the source uses.
type fakeSheet struct {
	mu      sync.Mutex
	values  [][]any
	updates []update
	reads   []string
	fail    bool
}

func (f *fakeSheet) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		http.Error(w, `{"error":{"code":403,"message":"denied"}}`, http.StatusForbidden)
		return
	}
	path := r.URL.Path
	switch {
	case r.Method == http.MethodGet && strings.Contains(path, "/values/"):
		rng := path[strings.Index(path, "/values/")+len("/values/"):]
		f.reads = append(f.reads, rng)
		values := f.values
		if strings.HasSuffix(rng, "!1:1") && len(values) > 0 {
			values = values[:1]
		}
		writeJSON(w, map[string]any{"range": rng, "values": values})
	case r.Method == http.MethodPut && strings.Contains(path, "/values/"):
		var body struct {
			Values [][]any `json:"values"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		rng := path[strings.Index(path, "/values/")+len("/values/"):]
		f.updates = append(f.updates, update{Range: rng, Option: r.URL.Query().Get("valueInputOption"), Values: body.Values})
		writeJSON(w, map[string]any{"updatedRange": rng, "updatedCells": 2})
	case r.Method == http.MethodGet && strings.HasSuffix(path, "/spreadsheets/sheet-1"):
		writeJSON(w, map[string]any{"sheets": []any{
			map[string]any{"properties": map[string]any{"title": "calendar"}},
			map[string]any{"properties": map[string]any{"title": "archive"}},
		}})
	default:
		http.NotFound(w, r)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newTestSource(t *testing.T, sheet *fakeSheet) *Source {
	t.Helper()
	server := httptest.NewServer(sheet)
	t.Cleanup(server.Close)
	src, err := New(context.Background(), Config{SpreadsheetID: "sheet-1", Tab: "calendar"}, nil,
		option.WithEndpoint(server.URL+"/"), option.WithoutAuthentication())
	require.NoError(t, err)
	return src
}

func jobRows() [][]any {
	return [][]any{
		{"title", "videos", "tags", "status", "updated"},
		{"Old", "o1", "t", "posted", "2026-01-01 00:00:00"},
		{"Clip A", "clip1, clip2", "fun, new"},
		{"Broken", "b1", "t", "error: x"},
	}
}

func TestNextPending(t *testing.T) {
	sheet := &fakeSheet{values: jobRows()}
	src := newTestSource(t, sheet)

	job, ok, err := src.NextPending(context.Background())

	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, job.Row)
	assert.Equal(t, "Clip A", job.Title)
	assert.Equal(t, []string{"clip1", "clip2"}, job.Videos)
	assert.Equal(t, []string{"calendar!A1:E"}, sheet.reads)
}

func TestNextPendingNone(t *testing.T) {
	sheet := &fakeSheet{values: [][]any{{"title", "videos", "tags", "status"}, {"A", "a", "t", "posted"}}}
	src := newTestSource(t, sheet)

	_, ok, err := src.NextPending(context.Background())

	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNextPendingSourceUnavailable(t *testing.T) {
	src := newTestSource(t, &fakeSheet{fail: true})

	_, _, err := src.NextPending(context.Background())

	require.ErrorIs(t, err, publish.ErrSourceUnavailable)
}

func TestMarkResultWritesTrailingColumns(t *testing.T) {
	sheet := &fakeSheet{values: jobRows()}
	src := newTestSource(t, sheet)
	_, _, err := src.NextPending(context.Background())
	require.NoError(t, err)

	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	require.NoError(t, src.MarkResult(context.Background(), 3, "posted", at))
	require.NoError(t, src.MarkResult(context.Background(), 3, "error: late", at.Add(time.Minute)))

	require.Len(t, sheet.updates, 2)
	first := sheet.updates[0]
	assert.Equal(t, "calendar!D3:E3", first.Range)
	assert.Equal(t, "RAW", first.Option)
	assert.Equal(t, [][]any{{"posted", "2026-03-01 09:30:00"}}, first.Values)
	assert.Equal(t, [][]any{{"error: late", "2026-03-01 09:31:00"}}, sheet.updates[1].Values)
}

func TestMarkResultReadsHeaderWhenCold(t *testing.T) {
	sheet := &fakeSheet{values: [][]any{{"status", "updated", "title", "videos", "tags"}}}
	src := newTestSource(t, sheet)

	require.NoError(t, src.MarkResult(context.Background(), 4, "posted", time.Now()))

	assert.Equal(t, []string{"calendar!1:1"}, sheet.reads)
	require.Len(t, sheet.updates, 1)
	assert.Equal(t, "calendar!A4:B4", sheet.updates[0].Range)
}

func TestMarkResultRejectsHeaderRow(t *testing.T) {
	src := newTestSource(t, &fakeSheet{values: jobRows()})
	require.Error(t, src.MarkResult(context.Background(), 1, "posted", time.Now()))
}

func TestTabs(t *testing.T) {
	src := newTestSource(t, &fakeSheet{})

	tabs, err := src.Tabs(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"calendar", "archive"}, tabs)
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()
	_, err := New(context.Background(), Config{Tab: "calendar"}, nil, option.WithoutAuthentication())
	require.Error(t, err)
	_, err = New(context.Background(), Config{SpreadsheetID: "x"}, nil, option.WithoutAuthentication())
	require.Error(t, err)
}
