package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Metroman-Development/Metro-Bot-sub001/internal/status/domain"
)

// ErrNoSnapshot is returned when the durable cache is empty.
var ErrNoSnapshot = errors.New("snapshot store: no cached snapshot")

// SnapshotStore keeps the last raw snapshot as one durable JSON document,
// used as the fetch fallback and for crash recovery.
type SnapshotStore struct {
	db Querier
}

// NewSnapshotStore constructs the store.
func NewSnapshotStore(db Querier) *SnapshotStore {
	return &SnapshotStore{db: db}
}

// StoreRaw writes the snapshot through to the singleton cache row.
func (s *SnapshotStore) StoreRaw(ctx context.Context, raw domain.RawSnapshot, at time.Time) error {
	if s == nil || s.db == nil {
		return errors.New("snapshot store: nil db")
	}
	payload, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("snapshot store: marshal: %w", err)
	}
	_, err = s.db.Exec(ctx, `
INSERT INTO snapshot_cache (id, payload, updated_at)
VALUES (1, $1, $2)
ON CONFLICT (id)
DO UPDATE SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at`,
		payload, at)
	if err != nil {
		return fmt.Errorf("snapshot store: write: %w", err)
	}
	return nil
}

// LoadRaw reads the cached snapshot back.
func (s *SnapshotStore) LoadRaw(ctx context.Context) (domain.RawSnapshot, time.Time, error) {
	if s == nil || s.db == nil {
		return nil, time.Time{}, errors.New("snapshot store: nil db")
	}
	rows, err := s.db.Query(ctx, "SELECT payload, updated_at FROM snapshot_cache WHERE id = 1")
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("snapshot store: read: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, time.Time{}, err
		}
		return nil, time.Time{}, ErrNoSnapshot
	}
	var payload []byte
	var updatedAt time.Time
	if err := rows.Scan(&payload, &updatedAt); err != nil {
		return nil, time.Time{}, err
	}
	var raw domain.RawSnapshot
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, time.Time{}, fmt.Errorf("snapshot store: unmarshal: %w", err)
	}
	return raw, updatedAt, nil
}
