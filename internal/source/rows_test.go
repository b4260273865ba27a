package source

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/album-publisher/internal/publish"
)

func header() []any {
	return []any{"title", "videos", "tags", "status", "updated"}
}

func TestFirstPendingSkipsTerminalRows(t *testing.T) {
	t.Parallel()
	values := [][]any{
		header(),
		{"A", "a1", "t", "posted", "2026-01-01 10:00:00"},
		{"Clip A", "clip1, clip2", "fun, new"},
		{"C", "c1", "t", "error: x"},
	}

	job, layout, ok, err := FirstPending(values)

	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, job.Row)
	assert.Equal(t, "Clip A", job.Title)
	assert.Equal(t, []string{"clip1", "clip2"}, job.Videos)
	assert.Equal(t, []string{"fun", "new"}, job.Tags)
	assert.Equal(t, 3, layout.Status)
}

func TestFirstPendingEmptyStatusCell(t *testing.T) {
	t.Parallel()
	values := [][]any{
		header(),
		{"A", "a1", "t", "posted"},
		{"B", "b1", "t", ""},
	}

	job, _, ok, err := FirstPending(values)

	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, job.Row)
	assert.Equal(t, "B", job.Title)
}

func TestFirstPendingNone(t *testing.T) {
	t.Parallel()
	tests := map[string][][]any{
		"empty range": nil,
		"header only": {header()},
		"all terminal": {
			header(),
			{"A", "a", "t", "posted"},
			{"B", "b", "t", "error: boom"},
		},
	}
	for name, values := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, _, ok, err := FirstPending(values)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestFirstPendingRequiresStatusHeader(t *testing.T) {
	t.Parallel()
	_, _, _, err := FirstPending([][]any{{"title", "videos", "tags"}, {"A", "a", "t"}})
	require.ErrorIs(t, err, publish.ErrSourceUnavailable)
}

func TestParseHeaderIsCaseInsensitive(t *testing.T) {
	t.Parallel()
	layout, err := ParseHeader([]any{" Status ", "Tags", "TITLE", "videos"})
	require.NoError(t, err)
	assert.Equal(t, Layout{Title: 2, Videos: 3, Tags: 1, Status: 0}, layout)
}

func TestLayoutJobNonStringCells(t *testing.T) {
	t.Parallel()
	layout := Layout{Title: 0, Videos: 1, Tags: 2, Status: 3}
	job := layout.Job(5, []any{2026, "v", "t", nil, 1.5})
	assert.Equal(t, "2026", job.Title)
	assert.True(t, job.Pending())
	assert.Equal(t, "1.5", job.Updated)
}

func TestResultRange(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "calendar!D7:E7", Layout{Status: 3}.ResultRange("calendar", 7))
	assert.Equal(t, "jobs!Z2:AA2", Layout{Status: 25}.ResultRange("jobs", 2))
}

func TestColumnName(t *testing.T) {
	t.Parallel()
	cases := map[int]string{0: "A", 3: "D", 25: "Z", 26: "AA", 27: "AB", 51: "AZ", 52: "BA", 701: "ZZ", 702: "AAA"}
	for index, want := range cases {
		assert.Equal(t, want, ColumnName(index), index)
	}
}
