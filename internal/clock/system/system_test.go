package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClockNowUTC(t *testing.T) {
	t.Parallel()

	clk := New()
	before := time.Now().UTC().Add(-time.Second)
	got := clk.Now()
	after := time.Now().UTC().Add(time.Second)

	assert.Equal(t, time.UTC, got.Location())
	assert.True(t, got.After(before) && got.Before(after), "got %v", got)
}

func TestManualAdvance(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 1, 2, 3, 4, 5, 0, time.FixedZone("X", 3600))
	clk := NewManual(start)
	assert.Equal(t, start.UTC(), clk.Now())

	clk.Advance(90 * time.Second)
	assert.Equal(t, start.UTC().Add(90*time.Second), clk.Now())
}
