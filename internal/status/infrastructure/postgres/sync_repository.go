package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/Metroman-Development/Metro-Bot-sub001/internal/status/domain"
)

// TxRunner runs a function inside one commit/rollback boundary.
type TxRunner interface {
	Transaction(ctx context.Context, fn func(tx *sql.Tx) error) error
}

// SyncRepository writes normalized state to the relational schema. Every
// write is an idempotent upsert: replaying a full snapshot or a change set
// is a no-op in effect.
type SyncRepository struct {
	db     TxRunner
	logger *log.Logger
}

// NewSyncRepository constructs the repository.
func NewSyncRepository(db TxRunner, logger *log.Logger) *SyncRepository {
	return &SyncRepository{db: db, logger: logger}
}

const upsertLineSQL = `
INSERT INTO line_status (line_id, status_code, status_type_id, message, severity, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (line_id)
DO UPDATE SET
	status_code = EXCLUDED.status_code,
	status_type_id = EXCLUDED.status_type_id,
	message = EXCLUDED.message,
	severity = EXCLUDED.severity,
	updated_at = EXCLUDED.updated_at`

const upsertStationSQL = `
INSERT INTO station_status (station_id, line_id, status_code, status_type_id, description, severity, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (station_id)
DO UPDATE SET
	line_id = EXCLUDED.line_id,
	status_code = EXCLUDED.status_code,
	status_type_id = EXCLUDED.status_type_id,
	description = EXCLUDED.description,
	severity = EXCLUDED.severity,
	updated_at = EXCLUDED.updated_at`

const insertChangeSQL = `
INSERT INTO status_changes (change_type, entity_id, line_id, from_code, to_code, severity, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

const upsertSummarySQL = `
INSERT INTO network_summary (id, status_code, severity, operational_lines, affected_lines, operational_stations, affected_stations, summary_es, summary_en, updated_at)
VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (id)
DO UPDATE SET
	status_code = EXCLUDED.status_code,
	severity = EXCLUDED.severity,
	operational_lines = EXCLUDED.operational_lines,
	affected_lines = EXCLUDED.affected_lines,
	operational_stations = EXCLUDED.operational_stations,
	affected_stations = EXCLUDED.affected_stations,
	summary_es = EXCLUDED.summary_es,
	summary_en = EXCLUDED.summary_en,
	updated_at = EXCLUDED.updated_at`

// ApplyFull upserts every line and station of the snapshot in one
// transaction. Used on the first run and on explicit full resyncs.
func (r *SyncRepository) ApplyFull(ctx context.Context, snap *domain.NormalizedSnapshot) error {
	if r == nil || r.db == nil {
		return errors.New("sync repo: nil db")
	}
	if snap == nil {
		return errors.New("sync repo: nil snapshot")
	}
	return r.db.Transaction(ctx, func(tx *sql.Tx) error {
		types, err := loadStatusTypes(ctx, tx)
		if err != nil {
			return err
		}
		for _, line := range snap.Lines {
			if err := r.upsertLine(ctx, tx, types, line, snap.LastUpdated); err != nil {
				return err
			}
		}
		for _, station := range snap.Stations {
			if err := r.upsertStation(ctx, tx, types, station, snap.LastUpdated); err != nil {
				return err
			}
		}
		return nil
	})
}

// ApplyChanges upserts only the rows referenced by the records, plus the
// change-log entries, in one transaction.
func (r *SyncRepository) ApplyChanges(ctx context.Context, records []domain.ChangeRecord, snap *domain.NormalizedSnapshot) error {
	if r == nil || r.db == nil {
		return errors.New("sync repo: nil db")
	}
	if len(records) == 0 {
		return nil
	}
	if snap == nil {
		return errors.New("sync repo: nil snapshot")
	}
	return r.db.Transaction(ctx, func(tx *sql.Tx) error {
		types, err := loadStatusTypes(ctx, tx)
		if err != nil {
			return err
		}
		for _, record := range records {
			switch record.Type {
			case domain.ChangeLine:
				line, ok := snap.Lines[record.ID]
				if !ok {
					return fmt.Errorf("sync repo: change references unknown line %q", record.ID)
				}
				if err := r.upsertLine(ctx, tx, types, line, snap.LastUpdated); err != nil {
					return err
				}
			case domain.ChangeStation:
				station, ok := snap.Stations[record.ID]
				if !ok {
					return fmt.Errorf("sync repo: change references unknown station %q", record.ID)
				}
				if err := r.upsertStation(ctx, tx, types, station, snap.LastUpdated); err != nil {
					return err
				}
			default:
				return fmt.Errorf("sync repo: unknown change type %q", record.Type)
			}

			var line sql.NullString
			if record.Line != "" {
				line = sql.NullString{String: record.Line, Valid: true}
			}
			if _, err := tx.ExecContext(ctx, insertChangeSQL,
				string(record.Type),
				record.ID,
				line,
				string(record.From),
				string(record.To),
				record.Severity,
				record.Timestamp,
			); err != nil {
				return fmt.Errorf("sync repo: change log insert: %w", err)
			}
		}
		return nil
	})
}

// SaveSummary upserts the singleton network summary row.
func (r *SyncRepository) SaveSummary(ctx context.Context, view domain.NetworkView, at time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("sync repo: nil db")
	}
	return r.db.Transaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, upsertSummarySQL,
			string(view.Status.Code),
			view.Severity,
			view.OperationalLines,
			view.AffectedLines,
			view.OperationalStations,
			view.AffectedStations,
			view.SummaryES,
			view.SummaryEN,
			at,
		)
		return err
	})
}

// PruneChangeLog deletes change-log rows older than the cutoff.
func (r *SyncRepository) PruneChangeLog(ctx context.Context, olderThan time.Time) (int64, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("sync repo: nil db")
	}
	var pruned int64
	err := r.db.Transaction(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, "DELETE FROM status_changes WHERE occurred_at < $1", olderThan)
		if err != nil {
			return err
		}
		pruned, _ = result.RowsAffected()
		return nil
	})
	return pruned, err
}

func (r *SyncRepository) upsertLine(ctx context.Context, tx *sql.Tx, types map[domain.Code]int, line domain.LineView, at time.Time) error {
	typeID, ok := types[line.Status.Code]
	if !ok {
		// Pre-check, not a statement failure: skipping the row keeps the
		// surrounding transaction alive.
		r.logf("skipping line row, unresolved status code: line=%s code=%q", line.ID, line.Status.Code)
		return nil
	}
	if _, err := tx.ExecContext(ctx, upsertLineSQL,
		line.ID,
		string(line.Status.Code),
		typeID,
		line.Status.Message,
		line.Severity,
		at,
	); err != nil {
		return fmt.Errorf("sync repo: line upsert %s: %w", line.ID, err)
	}
	return nil
}

func (r *SyncRepository) upsertStation(ctx context.Context, tx *sql.Tx, types map[domain.Code]int, station domain.StationView, at time.Time) error {
	typeID, ok := types[station.Status.Code]
	if !ok {
		r.logf("skipping station row, unresolved status code: station=%s code=%q", station.ID, station.Status.Code)
		return nil
	}
	if _, err := tx.ExecContext(ctx, upsertStationSQL,
		station.ID,
		station.Line,
		string(station.Status.Code),
		typeID,
		station.Status.Message,
		station.Severity,
		at,
	); err != nil {
		return fmt.Errorf("sync repo: station upsert %s: %w", station.ID, err)
	}
	return nil
}

// loadStatusTypes reads the code-translation table once per transaction.
func loadStatusTypes(ctx context.Context, tx *sql.Tx) (map[domain.Code]int, error) {
	rows, err := tx.QueryContext(ctx, "SELECT code, type_id FROM status_types")
	if err != nil {
		return nil, fmt.Errorf("sync repo: status types: %w", err)
	}
	defer rows.Close()

	types := make(map[domain.Code]int)
	for rows.Next() {
		var code string
		var typeID int
		if err := rows.Scan(&code, &typeID); err != nil {
			return nil, err
		}
		types[domain.Code(code)] = typeID
	}
	return types, rows.Err()
}

func (r *SyncRepository) logf(format string, args ...any) {
	if r.logger != nil {
		r.logger.Printf(format, args...)
	}
}
