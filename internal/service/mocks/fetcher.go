package mocks

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/godilite/kpi-dashboard/internal/service"
)

// MockFetcher is a func-field implementation of service.Fetcher that counts calls.
type MockFetcher struct {
	FetchFunc func(ctx context.Context) (service.Payload, error)
	calls     atomic.Int64
}

func (m *MockFetcher) Fetch(ctx context.Context) (service.Payload, error) {
	m.calls.Add(1)
	if m.FetchFunc != nil {
		return m.FetchFunc(ctx)
	}
	return service.Payload{}, errors.New("FetchFunc not implemented")
}

// Calls returns how many times Fetch was invoked.
func (m *MockFetcher) Calls() int64 {
	return m.calls.Load()
}
