package service

import (
	"context"
	"time"
)

// Fetcher retrieves the remote KPI payload.
type Fetcher interface {
	Fetch(ctx context.Context) (Payload, error)
}

// Cacher persists the last good summary outside the process lifetime.
type Cacher interface {
	Get(ctx context.Context, key string, dest any) error
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
}

// Subscriber hands out ping channels, used for foreground-visibility signals.
type Subscriber interface {
	Subscribe() chan struct{}
	Unsubscribe(ch chan struct{})
}

// Broadcaster is told whenever a new summary is published.
type Broadcaster interface {
	Broadcast()
}
