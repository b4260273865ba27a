// Package source turns header-first spreadsheet rows into publish jobs.
package source

import (
	"fmt"
	"strings"

	"github.com/JakeFAU/album-publisher/internal/publish"
)

// Header names looked up by value, case-insensitively.
const (
	TitleHeader  = "title"
	VideosHeader = "videos"
	TagsHeader   = "tags"
	StatusHeader = "status"
)

// Layout records where each job field lives in a row.
type Layout struct {
	Title  int
	Videos int
	Tags   int
	// Status is written together with the updated timestamp in the next
	// column.
	Status int
}

// ParseHeader locates the job columns. Only the status column is required.
func ParseHeader(header []any) (Layout, error) {
	layout := Layout{Title: -1, Videos: -1, Tags: -1, Status: -1}
	for i, cell := range header {
		switch strings.ToLower(strings.TrimSpace(cellString(cell))) {
		case TitleHeader:
			layout.Title = i
		case VideosHeader:
			layout.Videos = i
		case TagsHeader:
			layout.Tags = i
		case StatusHeader:
			layout.Status = i
		}
	}
	if layout.Status < 0 {
		return Layout{}, &publish.Error{Kind: publish.ErrSourceUnavailable, Msg: "header has no status column"}
	}
	return layout, nil
}

// FirstPending scans the data rows of values in order and returns the first
// one whose status cell is missing or empty. Row numbers are 1-based sheet
// rows, so the first data row is row 2.
func FirstPending(values [][]any) (publish.Job, Layout, bool, error) {
	if len(values) == 0 {
		return publish.Job{}, Layout{}, false, nil
	}
	layout, err := ParseHeader(values[0])
	if err != nil {
		return publish.Job{}, Layout{}, false, err
	}
	for i, row := range values[1:] {
		job := layout.Job(i+2, row)
		if job.Pending() {
			return job, layout, true, nil
		}
	}
	return publish.Job{}, layout, false, nil
}

// Job builds the job stored in row.
func (l Layout) Job(rowNumber int, row []any) publish.Job {
	return publish.Job{
		Row:     rowNumber,
		Title:   strings.TrimSpace(cellAt(row, l.Title)),
		Videos:  publish.SplitList(cellAt(row, l.Videos)),
		Tags:    publish.SplitList(cellAt(row, l.Tags)),
		Status:  cellAt(row, l.Status),
		Updated: cellAt(row, l.Status+1),
	}
}

// ResultRange returns the A1 range covering the status and updated cells of
// rowNumber on tab.
func (l Layout) ResultRange(tab string, rowNumber int) string {
	from := ColumnName(l.Status)
	to := ColumnName(l.Status + 1)
	return fmt.Sprintf("%s!%s%d:%s%d", tab, from, rowNumber, to, rowNumber)
}

// ColumnName converts a 0-based column index to its A1 letters.
func ColumnName(index int) string {
	name := ""
	for n := index + 1; n > 0; n = (n - 1) / 26 {
		name = string(rune('A'+(n-1)%26)) + name
	}
	return name
}

func cellAt(row []any, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return cellString(row[i])
}

func cellString(cell any) string {
	switch v := cell.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}
