package mocks

import (
	"context"
	"errors"

	"github.com/godilite/kpi-dashboard/internal/service"
)

// MockController is a function-based mock of the controller surface the transports serve.
type MockController struct {
	SummaryFunc func() (service.Summary, bool)
	StatusFunc  func() service.Status
	RefreshFunc func(ctx context.Context) error
}

func (m *MockController) Summary() (service.Summary, bool) {
	if m.SummaryFunc != nil {
		return m.SummaryFunc()
	}
	return service.Summary{}, false
}

func (m *MockController) Status() service.Status {
	if m.StatusFunc != nil {
		return m.StatusFunc()
	}
	return service.Status{Loading: true}
}

func (m *MockController) Refresh(ctx context.Context) error {
	if m.RefreshFunc != nil {
		return m.RefreshFunc(ctx)
	}
	return errors.New("RefreshFunc not implemented")
}
