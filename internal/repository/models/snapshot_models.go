package models

import "time"

// SnapshotEntry is one persisted key/value row. Value holds JSON.
type SnapshotEntry struct {
	Key       string
	Value     []byte
	ExpiresAt *time.Time
	UpdatedAt time.Time
}
