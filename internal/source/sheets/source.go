// Package sheets reads publish jobs from a Google Sheets tab.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/option"
	sheetsapi "google.golang.org/api/sheets/v4"

	"github.com/JakeFAU/album-publisher/internal/publish"
	"github.com/JakeFAU/album-publisher/internal/source"
)

// TimestampLayout formats the updated cell.
const TimestampLayout = "2006-01-02 15:04:05"

// Config identifies the job tab.
type Config struct {
	SpreadsheetID string
	Tab           string
	// Range is the A1 column span read from Tab, e.g. "A1:E".
	Range string
}

// Source implements publish.JobSource over one tab.
type Source struct {
	svc    *sheetsapi.Service
	cfg    Config
	logger *zap.Logger

	mu     sync.Mutex
	layout *source.Layout
}

// New builds a Source. opts carry credentials or, in tests, an endpoint.
func New(ctx context.Context, cfg Config, logger *zap.Logger, opts ...option.ClientOption) (*Source, error) {
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, errors.New("spreadsheet id is required")
	}
	if strings.TrimSpace(cfg.Tab) == "" {
		return nil, errors.New("sheet tab is required")
	}
	if cfg.Range == "" {
		cfg.Range = "A1:E"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	svc, err := sheetsapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return &Source{svc: svc, cfg: cfg, logger: logger.Named("sheets")}, nil
}

// NextPending reads the whole job range and returns its first pending row.
func (s *Source) NextPending(ctx context.Context) (publish.Job, bool, error) {
	rng := s.cfg.Tab + "!" + s.cfg.Range
	resp, err := s.svc.Spreadsheets.Values.Get(s.cfg.SpreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return publish.Job{}, false, &publish.Error{Kind: publish.ErrSourceUnavailable, Msg: "read " + rng, Err: err}
	}
	job, layout, ok, err := source.FirstPending(resp.Values)
	if err != nil {
		return publish.Job{}, false, err
	}
	if len(resp.Values) > 0 {
		s.mu.Lock()
		s.layout = &layout
		s.mu.Unlock()
	}
	if !ok {
		s.logger.Info("no pending rows", zap.Int("rows", max(len(resp.Values)-1, 0)))
		return publish.Job{}, false, nil
	}
	s.logger.Info("pending row found", zap.Int("row", job.Row), zap.String("title", job.Title))
	return job, true, nil
}

// MarkResult overwrites the status and updated cells of row.
func (s *Source) MarkResult(ctx context.Context, row int, status string, at time.Time) error {
	if row < 2 {
		return fmt.Errorf("row %d is not a data row", row)
	}
	layout, err := s.currentLayout(ctx)
	if err != nil {
		return err
	}
	rng := layout.ResultRange(s.cfg.Tab, row)
	body := &sheetsapi.ValueRange{Values: [][]any{{status, at.Format(TimestampLayout)}}}
	_, err = s.svc.Spreadsheets.Values.Update(s.cfg.SpreadsheetID, rng, body).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return &publish.Error{Kind: publish.ErrSourceUnavailable, Msg: "write " + rng, Err: err}
	}
	s.logger.Info("row marked", zap.Int("row", row), zap.String("status", status))
	return nil
}

func (s *Source) currentLayout(ctx context.Context) (source.Layout, error) {
	s.mu.Lock()
	cached := s.layout
	s.mu.Unlock()
	if cached != nil {
		return *cached, nil
	}
	header, err := s.Header(ctx)
	if err != nil {
		return source.Layout{}, err
	}
	cells := make([]any, len(header))
	for i, h := range header {
		cells[i] = h
	}
	layout, err := source.ParseHeader(cells)
	if err != nil {
		return source.Layout{}, err
	}
	s.mu.Lock()
	s.layout = &layout
	s.mu.Unlock()
	return layout, nil
}

// Header returns the first row of the job tab.
func (s *Source) Header(ctx context.Context) ([]string, error) {
	rng := s.cfg.Tab + "!1:1"
	resp, err := s.svc.Spreadsheets.Values.Get(s.cfg.SpreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, &publish.Error{Kind: publish.ErrSourceUnavailable, Msg: "read " + rng, Err: err}
	}
	if len(resp.Values) == 0 {
		return nil, nil
	}
	out := make([]string, 0, len(resp.Values[0]))
	for _, cell := range resp.Values[0] {
		out = append(out, fmt.Sprint(cell))
	}
	return out, nil
}

// Tabs lists the titles of every tab in the spreadsheet.
func (s *Source) Tabs(ctx context.Context) ([]string, error) {
	resp, err := s.svc.Spreadsheets.Get(s.cfg.SpreadsheetID).
		Fields("sheets.properties.title").
		Context(ctx).
		Do()
	if err != nil {
		return nil, &publish.Error{Kind: publish.ErrSourceUnavailable, Msg: "list tabs", Err: err}
	}
	titles := make([]string, 0, len(resp.Sheets))
	for _, sh := range resp.Sheets {
		if sh.Properties != nil {
			titles = append(titles, sh.Properties.Title)
		}
	}
	return titles, nil
}
