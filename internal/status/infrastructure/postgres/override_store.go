package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Metroman-Development/Metro-Bot-sub001/internal/status/domain"
)

// Querier is the read/write surface the stores need outside transactions.
type Querier interface {
	Query(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	Exec(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// OverrideStore persists operator overrides.
type OverrideStore struct {
	db Querier
}

// NewOverrideStore constructs the store.
func NewOverrideStore(db Querier) *OverrideStore {
	return &OverrideStore{db: db}
}

const selectOverrideSQL = `
SELECT id, target_type, target_id, status_code, message, source, expires_at, window_start, window_end, active
FROM status_overrides`

// ListActive returns overrides applicable at the given instant. Window and
// expiry filtering happens in SQL; ActiveAt re-checks in memory so callers
// holding a stale list stay correct.
func (s *OverrideStore) ListActive(ctx context.Context, now time.Time) ([]domain.Override, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("override store: nil db")
	}
	rows, err := s.db.Query(ctx, selectOverrideSQL+`
WHERE active
  AND (expires_at IS NULL OR expires_at > $1)
  AND (window_start IS NULL OR window_start <= $1)
  AND (window_end IS NULL OR window_end > $1)
ORDER BY id`, now)
	if err != nil {
		return nil, fmt.Errorf("override store: list active: %w", err)
	}
	defer rows.Close()
	return scanOverrides(rows)
}

// List returns every override, active or not.
func (s *OverrideStore) List(ctx context.Context) ([]domain.Override, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("override store: nil db")
	}
	rows, err := s.db.Query(ctx, selectOverrideSQL+" ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("override store: list: %w", err)
	}
	defer rows.Close()
	return scanOverrides(rows)
}

// Create inserts an override and returns its id.
func (s *OverrideStore) Create(ctx context.Context, ov domain.Override) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("override store: nil db")
	}
	if err := ov.Validate(); err != nil {
		return 0, err
	}
	rows, err := s.db.Query(ctx, `
INSERT INTO status_overrides (target_type, target_id, status_code, message, source, expires_at, window_start, window_end, active)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING id`,
		string(ov.TargetType),
		ov.TargetID,
		string(ov.Status),
		ov.Message,
		ov.Source,
		ov.ExpiresAt,
		ov.WindowStart,
		ov.WindowEnd,
		ov.Active,
	)
	if err != nil {
		return 0, fmt.Errorf("override store: create: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return 0, errors.New("override store: create returned no id")
	}
	var id int64
	if err := rows.Scan(&id); err != nil {
		return 0, err
	}
	return id, rows.Err()
}

// Deactivate flips an override off without deleting its audit trail.
func (s *OverrideStore) Deactivate(ctx context.Context, id int64) error {
	if s == nil || s.db == nil {
		return errors.New("override store: nil db")
	}
	result, err := s.db.Exec(ctx, "UPDATE status_overrides SET active = FALSE WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("override store: deactivate: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("override store: override %d not found", id)
	}
	return nil
}

func scanOverrides(rows *sql.Rows) ([]domain.Override, error) {
	var out []domain.Override
	for rows.Next() {
		var ov domain.Override
		var targetType string
		var targetID, message sql.NullString
		var status string
		var expiresAt, windowStart, windowEnd sql.NullTime
		if err := rows.Scan(
			&ov.ID,
			&targetType,
			&targetID,
			&status,
			&message,
			&ov.Source,
			&expiresAt,
			&windowStart,
			&windowEnd,
			&ov.Active,
		); err != nil {
			return nil, err
		}
		ov.TargetType = domain.TargetType(targetType)
		ov.TargetID = targetID.String
		ov.Status = domain.Code(status)
		ov.Message = message.String
		if expiresAt.Valid {
			t := expiresAt.Time
			ov.ExpiresAt = &t
		}
		if windowStart.Valid {
			t := windowStart.Time
			ov.WindowStart = &t
		}
		if windowEnd.Valid {
			t := windowEnd.Time
			ov.WindowEnd = &t
		}
		out = append(out, ov)
	}
	return out, rows.Err()
}
