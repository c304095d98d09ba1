package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/godilite/kpi-dashboard/internal/repository/models"
)

var ErrNotFound = errors.New("snapshot not found")

// SnapshotRepository is a SQLite key/value store for the last good summary.
type SnapshotRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewSnapshotRepository(db *sql.DB) *SnapshotRepository {
	return &SnapshotRepository{db: db, now: time.Now}
}

// Get decodes the JSON stored at key into dest. Expired entries count as missing.
func (s *SnapshotRepository) Get(ctx context.Context, key string, dest any) error {
	const query = `SELECT value, expires_at FROM snapshots WHERE key = ?`

	var value string
	var expiresAt sql.NullInt64
	err := s.db.QueryRowContext(ctx, query, key).Scan(&value, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("query snapshot %q: %w", key, err)
	}

	if expiresAt.Valid && s.now().UnixMilli() >= expiresAt.Int64 {
		return ErrNotFound
	}

	if err := json.Unmarshal([]byte(value), dest); err != nil {
		return fmt.Errorf("decode snapshot %q: %w", key, err)
	}
	return nil
}

// Set upserts value as JSON. A zero expiration never expires.
func (s *SnapshotRepository) Set(ctx context.Context, key string, value any, expiration time.Duration) error {
	const query = `
		INSERT INTO snapshots (key, value, expires_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at
	`

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode snapshot %q: %w", key, err)
	}

	now := s.now()
	var expiresAt sql.NullInt64
	if expiration > 0 {
		expiresAt = sql.NullInt64{Int64: now.Add(expiration).UnixMilli(), Valid: true}
	}

	if _, err := s.db.ExecContext(ctx, query, key, string(data), expiresAt, now.UnixMilli()); err != nil {
		return fmt.Errorf("upsert snapshot %q: %w", key, err)
	}
	return nil
}

// List returns every stored entry ordered by key.
func (s *SnapshotRepository) List(ctx context.Context) ([]models.SnapshotEntry, error) {
	const query = `SELECT key, value, expires_at, updated_at FROM snapshots ORDER BY key`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query List: %w", err)
	}
	defer rows.Close()

	var results []models.SnapshotEntry
	for rows.Next() {
		var (
			e         models.SnapshotEntry
			value     string
			expiresAt sql.NullInt64
			updatedAt int64
		)
		if err := rows.Scan(&e.Key, &value, &expiresAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan List row: %w", err)
		}
		e.Value = []byte(value)
		e.UpdatedAt = time.UnixMilli(updatedAt)
		if expiresAt.Valid {
			t := time.UnixMilli(expiresAt.Int64)
			e.ExpiresAt = &t
		}
		results = append(results, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate List: %w", err)
	}
	return results, nil
}

// Close closes the underlying pool.
func (s *SnapshotRepository) Close() error {
	return s.db.Close()
}
