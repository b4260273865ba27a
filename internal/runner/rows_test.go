package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/album-publisher/internal/publish"
	"github.com/JakeFAU/album-publisher/internal/source"
)

type mark struct {
	Row    int
	Status string
	At     time.Time
}

// rowSource serves header-first rows and applies results in place. When
// honorCtx is set MarkResult fails on a done context like the Sheets client.
type rowSource struct {
	mu       sync.Mutex
	values   [][]any
	marks    []mark
	honorCtx bool
}

func newRowSource(rows [][]any) *rowSource {
	values := make([][]any, len(rows))
	for i, row := range rows {
		values[i] = append([]any(nil), row...)
	}
	return &rowSource{values: values}
}

func (s *rowSource) NextPending(_ context.Context) (publish.Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, _, ok, err := source.FirstPending(s.values)
	return job, ok, err
}

func (s *rowSource) MarkResult(ctx context.Context, row int, status string, at time.Time) error {
	if s.honorCtx {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	layout, err := source.ParseHeader(s.values[0])
	if err != nil {
		return err
	}
	i := row - 1
	if i < 1 || i >= len(s.values) {
		return fmt.Errorf("row %d out of range", row)
	}
	cells := s.values[i]
	for len(cells) < layout.Status+2 {
		cells = append(cells, "")
	}
	cells[layout.Status] = status
	cells[layout.Status+1] = at.Format("2006-01-02 15:04:05")
	s.values[i] = cells
	s.marks = append(s.marks, mark{Row: row, Status: status, At: at})
	return nil
}

func (s *rowSource) Marks() []mark {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]mark(nil), s.marks...)
}

func (s *rowSource) Status(row int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := row - 1
	if i < 1 || i >= len(s.values) {
		return ""
	}
	layout, err := source.ParseHeader(s.values[0])
	if err != nil || layout.Status >= len(s.values[i]) {
		return ""
	}
	status, _ := s.values[i][layout.Status].(string)
	return status
}
