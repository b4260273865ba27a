package source

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/JakeFAU/album-publisher/internal/publish"
)

// MockSource is a testify mock of publish.JobSource.
type MockSource struct {
	mock.Mock
}

// NextPending is the mock implementation of NextPending.
func (m *MockSource) NextPending(ctx context.Context) (publish.Job, bool, error) {
	args := m.Called(ctx)
	return args.Get(0).(publish.Job), args.Bool(1), args.Error(2)
}

// MarkResult is the mock implementation of MarkResult.
func (m *MockSource) MarkResult(ctx context.Context, row int, status string, at time.Time) error {
	args := m.Called(ctx, row, status, at)
	return args.Error(0)
}
