package grpc

import (
	"context"

	"github.com/godilite/kpi-dashboard/internal/service"
)

// DashboardController is the part of the refresh controller the RPC handlers read from.
type DashboardController interface {
	Summary() (service.Summary, bool)
	Status() service.Status
	Refresh(ctx context.Context) error
}
