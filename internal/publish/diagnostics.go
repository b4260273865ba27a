package publish

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"go.uber.org/zap"
)

// Recorder captures screenshots for one run. Its sequence counter belongs to
// the run, so concurrent or successive runs never share numbering.
type Recorder struct {
	store  ArtifactStore
	prefix string
	runID  string
	clock  Clock
	logger *zap.Logger
	seq    int
}

// NewRecorder returns a Recorder writing under prefix/runID. A nil store
// disables capture.
func NewRecorder(store ArtifactStore, prefix, runID string, clock Clock, logger *zap.Logger) *Recorder {
	if clock == nil {
		clock = systemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{store: store, prefix: strings.Trim(prefix, "/"), runID: runID, clock: clock, logger: logger}
}

// Capture stores a viewport screenshot labeled label. Failures are logged,
// never returned, so diagnostics cannot fail a job.
func (r *Recorder) Capture(ctx context.Context, page Page, label string) {
	if r == nil || r.store == nil || page == nil {
		return
	}
	shot, err := page.Screenshot(ctx, "")
	if err != nil {
		r.logger.Warn("screenshot failed", zap.String("label", label), zap.Error(err))
		return
	}
	n := r.seq + 1
	name := fmt.Sprintf("%02d_%s_%s.png", n, r.clock.Now().Format("20060102_150405"), sanitizeLabel(label))
	key := path.Join(r.prefix, r.runID, name)
	uri, err := r.store.PutObject(ctx, key, "image/png", bytes.NewReader(shot))
	if err != nil {
		r.logger.Warn("store screenshot failed", zap.String("path", key), zap.Error(err))
		return
	}
	r.seq = n
	location, _ := page.Location(ctx)
	r.logger.Info("screenshot saved", zap.String("uri", uri), zap.String("url", location))
}

// Count returns the number of screenshots stored so far.
func (r *Recorder) Count() int {
	if r == nil {
		return 0
	}
	return r.seq
}

func sanitizeLabel(label string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, label)
}
