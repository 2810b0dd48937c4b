package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/brettbedarf/tempofs"
)

// MockSource implements tempofs.Source for testing across packages
type MockSource struct {
	mock.Mock
}

func (m *MockSource) Probe(ctx context.Context) (*tempofs.ProbeResult, error) {
	args := m.Called(ctx)

	// Handle function return types (for complex tests)
	if fn, ok := args.Get(0).(func(context.Context) *tempofs.ProbeResult); ok {
		return fn(ctx), args.Error(1)
	}

	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*tempofs.ProbeResult), args.Error(1)
}

func (m *MockSource) ReadRange(ctx context.Context, offset, length int64) (*tempofs.RangeResult, error) {
	args := m.Called(ctx, offset, length)

	if fn, ok := args.Get(0).(func(context.Context, int64, int64) *tempofs.RangeResult); ok {
		return fn(ctx, offset, length), args.Error(1)
	}

	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*tempofs.RangeResult), args.Error(1)
}

func (m *MockSource) FetchAll(ctx context.Context) ([]byte, error) {
	args := m.Called(ctx)

	if fn, ok := args.Get(0).(func(context.Context) []byte); ok {
		return fn(ctx), args.Error(1)
	}

	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockSource) URL() string {
	args := m.Called()
	return args.String(0)
}

var _ tempofs.Source = (*MockSource)(nil)

// MockSourceFactory hands out preset sources keyed by entry name.
type MockSourceFactory struct {
	mock.Mock
}

func (m *MockSourceFactory) NewSource(entry *tempofs.Entry) (tempofs.Source, error) {
	args := m.Called(entry.Name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(tempofs.Source), args.Error(1)
}
