package integration_test

import (
	"context"
	"database/sql"
	"io"
	"log"
	"os"
	"testing"
	"time"

	"github.com/Metroman-Development/Metro-Bot-sub001/internal/db"
	"github.com/Metroman-Development/Metro-Bot-sub001/internal/status/domain"
	statuspostgres "github.com/Metroman-Development/Metro-Bot-sub001/internal/status/infrastructure/postgres"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func openManager(t *testing.T) *db.Manager {
	t.Helper()
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}
	manager := db.NewManager(db.Config{DSN: dsn}, log.New(io.Discard, "", 0))
	if err := manager.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = manager.Close() })

	if !tableExists(manager.Pool(), "line_status") {
		t.Skip("line_status missing; apply migrations/schema.sql")
	}
	return manager
}

func tableExists(pool *sql.DB, table string) bool {
	var exists bool
	err := pool.QueryRow(`
SELECT EXISTS (
	SELECT 1
	FROM information_schema.tables
	WHERE table_schema = 'public' AND table_name = $1
)`, table).Scan(&exists)
	if err != nil {
		return false
	}
	return exists
}

func cleanStatusRows(t *testing.T, manager *db.Manager, lineID, stationID string) {
	t.Helper()
	ctx := context.Background()
	for _, stmt := range []struct {
		sql string
		arg string
	}{
		{"DELETE FROM status_changes WHERE entity_id IN ($1)", lineID},
		{"DELETE FROM status_changes WHERE entity_id IN ($1)", stationID},
		{"DELETE FROM station_status WHERE station_id = $1", stationID},
		{"DELETE FROM line_status WHERE line_id = $1", lineID},
	} {
		if _, err := manager.Exec(ctx, stmt.sql, stmt.arg); err != nil {
			t.Fatalf("cleanup: %v", err)
		}
	}
}

func snapshotFor(lineID, stationID string, lineCode, stationCode domain.Code, at time.Time) *domain.NormalizedSnapshot {
	return &domain.NormalizedSnapshot{
		Lines: map[string]domain.LineView{
			lineID: {
				ID:       lineID,
				Name:     "Línea IT",
				Status:   domain.StatusView{Code: lineCode, Message: "estado de prueba"},
				Severity: float64(lineCode.Severity()) * 2,
			},
		},
		Stations: map[string]domain.StationView{
			stationID: {
				ID:       stationID,
				Name:     "Estación IT",
				Line:     lineID,
				Status:   domain.StatusView{Code: stationCode},
				Severity: float64(stationCode.Severity()) * 2,
			},
		},
		Version:     1,
		LastUpdated: at,
	}
}

func TestSyncRepository_Postgres(t *testing.T) {
	manager := openManager(t)
	ctx := context.Background()
	repo := statuspostgres.NewSyncRepository(manager, log.New(io.Discard, "", 0))

	lineID := "line-it"
	stationID := "station-it"
	cleanStatusRows(t, manager, lineID, stationID)
	at := time.Now().UTC().Truncate(time.Millisecond)

	snap := snapshotFor(lineID, stationID, domain.CodeOperational, domain.CodeOperational, at)
	if err := repo.ApplyFull(ctx, snap); err != nil {
		t.Fatalf("full sync: %v", err)
	}

	var code, message string
	var severity float64
	row := manager.Pool().QueryRow("SELECT status_code, message, severity FROM line_status WHERE line_id = $1", lineID)
	if err := row.Scan(&code, &message, &severity); err != nil {
		t.Fatalf("line row: %v", err)
	}
	if code != "1" || message != "estado de prueba" || severity != 0 {
		t.Errorf("line row = %s/%q/%v", code, message, severity)
	}

	// Replaying the same snapshot is a pure upsert: no error, no drift.
	if err := repo.ApplyFull(ctx, snap); err != nil {
		t.Fatalf("replay full sync: %v", err)
	}
	var lineRows int
	if err := manager.Pool().QueryRow("SELECT count(*) FROM line_status WHERE line_id = $1", lineID).Scan(&lineRows); err != nil {
		t.Fatal(err)
	}
	if lineRows != 1 {
		t.Errorf("line rows = %d after replay, want 1", lineRows)
	}

	// Incremental: the line degrades, the change lands in the log.
	degraded := snapshotFor(lineID, stationID, domain.CodeDelayed, domain.CodeOperational, at.Add(time.Minute))
	records := []domain.ChangeRecord{{
		Type:      domain.ChangeLine,
		ID:        lineID,
		From:      domain.CodeOperational,
		To:        domain.CodeDelayed,
		Severity:  3,
		Timestamp: at.Add(time.Minute),
	}}
	if err := repo.ApplyChanges(ctx, records, degraded); err != nil {
		t.Fatalf("incremental sync: %v", err)
	}
	if err := manager.Pool().QueryRow("SELECT status_code FROM line_status WHERE line_id = $1", lineID).Scan(&code); err != nil {
		t.Fatal(err)
	}
	if code != "4" {
		t.Errorf("line code after change = %s, want 4", code)
	}
	var logged int
	if err := manager.Pool().QueryRow(
		"SELECT count(*) FROM status_changes WHERE entity_id = $1 AND to_code = '4'", lineID).Scan(&logged); err != nil {
		t.Fatal(err)
	}
	if logged != 1 {
		t.Errorf("change log rows = %d, want 1", logged)
	}
}

func TestSyncRepositoryAtomicity_Postgres(t *testing.T) {
	manager := openManager(t)
	ctx := context.Background()
	repo := statuspostgres.NewSyncRepository(manager, log.New(io.Discard, "", 0))

	lineID := "line-it-atomic"
	stationID := "station-it-atomic"
	cleanStatusRows(t, manager, lineID, stationID)
	at := time.Now().UTC()

	snap := snapshotFor(lineID, stationID, domain.CodeOperational, domain.CodeOperational, at)
	if err := repo.ApplyFull(ctx, snap); err != nil {
		t.Fatalf("full sync: %v", err)
	}

	// A batch where the second record references an entity the snapshot does
	// not carry must fail, and the first record's upsert must roll back.
	degraded := snapshotFor(lineID, stationID, domain.CodeSuspended, domain.CodeOperational, at.Add(time.Minute))
	records := []domain.ChangeRecord{
		{Type: domain.ChangeLine, ID: lineID, From: domain.CodeOperational, To: domain.CodeSuspended, Severity: 5, Timestamp: at},
		{Type: domain.ChangeStation, ID: "ghost-station", From: domain.CodeOperational, To: domain.CodeClosed, Severity: 6, Timestamp: at},
	}
	if err := repo.ApplyChanges(ctx, records, degraded); err == nil {
		t.Fatal("batch with unknown entity did not fail")
	}

	var code string
	if err := manager.Pool().QueryRow("SELECT status_code FROM line_status WHERE line_id = $1", lineID).Scan(&code); err != nil {
		t.Fatal(err)
	}
	if code != "1" {
		t.Errorf("line code = %s after rolled-back batch, want 1", code)
	}
	var logged int
	if err := manager.Pool().QueryRow("SELECT count(*) FROM status_changes WHERE entity_id = $1", lineID).Scan(&logged); err != nil {
		t.Fatal(err)
	}
	if logged != 0 {
		t.Errorf("change log rows = %d after rollback, want 0", logged)
	}
}

func TestSyncRepositorySkipsUnresolvedCode_Postgres(t *testing.T) {
	manager := openManager(t)
	ctx := context.Background()
	repo := statuspostgres.NewSyncRepository(manager, log.New(io.Discard, "", 0))

	lineID := "line-it-unknown"
	stationID := "station-it-unknown"
	cleanStatusRows(t, manager, lineID, stationID)

	snap := snapshotFor(lineID, stationID, domain.Code("99"), domain.CodeOperational, time.Now().UTC())
	if err := repo.ApplyFull(ctx, snap); err != nil {
		t.Fatalf("full sync: %v", err)
	}

	// The unresolved line row was skipped; the resolvable station landed.
	var lineRows, stationRows int
	if err := manager.Pool().QueryRow("SELECT count(*) FROM line_status WHERE line_id = $1", lineID).Scan(&lineRows); err != nil {
		t.Fatal(err)
	}
	if err := manager.Pool().QueryRow("SELECT count(*) FROM station_status WHERE station_id = $1", stationID).Scan(&stationRows); err != nil {
		t.Fatal(err)
	}
	if lineRows != 0 || stationRows != 1 {
		t.Errorf("rows = %d line / %d station, want 0/1", lineRows, stationRows)
	}
}

func TestSummaryAndPrune_Postgres(t *testing.T) {
	manager := openManager(t)
	ctx := context.Background()
	repo := statuspostgres.NewSyncRepository(manager, log.New(io.Discard, "", 0))

	view := domain.NetworkView{
		Status:           domain.StatusView{Code: domain.CodeDelayed},
		Severity:         42,
		OperationalLines: 10,
		AffectedLines:    2,
		SummaryES:        "Con retrasos: 2 líneas y 0 estaciones afectadas",
		SummaryEN:        "Delays: 2 lines and 0 stations affected",
	}
	if err := repo.SaveSummary(ctx, view, time.Now().UTC()); err != nil {
		t.Fatalf("save summary: %v", err)
	}
	view.Severity = 50
	if err := repo.SaveSummary(ctx, view, time.Now().UTC()); err != nil {
		t.Fatalf("save summary again: %v", err)
	}
	var count int
	var severity float64
	if err := manager.Pool().QueryRow("SELECT count(*) FROM network_summary").Scan(&count); err != nil {
		t.Fatal(err)
	}
	if err := manager.Pool().QueryRow("SELECT severity FROM network_summary WHERE id = 1").Scan(&severity); err != nil {
		t.Fatal(err)
	}
	if count != 1 || severity != 50 {
		t.Errorf("summary = %d rows, severity %v; want singleton at 50", count, severity)
	}

	// Prune: park an old change row and delete everything before the cutoff.
	entity := "line-it-prune"
	if _, err := manager.Exec(ctx,
		"INSERT INTO status_changes (change_type, entity_id, from_code, to_code, severity, occurred_at) VALUES ('line', $1, '1', '4', 3, $2)",
		entity, time.Now().UTC().Add(-48*time.Hour)); err != nil {
		t.Fatal(err)
	}
	pruned, err := repo.PruneChangeLog(ctx, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if pruned < 1 {
		t.Errorf("pruned = %d, want at least 1", pruned)
	}
	var left int
	if err := manager.Pool().QueryRow("SELECT count(*) FROM status_changes WHERE entity_id = $1", entity).Scan(&left); err != nil {
		t.Fatal(err)
	}
	if left != 0 {
		t.Errorf("old rows left = %d", left)
	}
}

func TestOverrideStore_Postgres(t *testing.T) {
	manager := openManager(t)
	ctx := context.Background()
	store := statuspostgres.NewOverrideStore(manager)

	if _, err := manager.Exec(ctx, "DELETE FROM status_overrides WHERE source = 'integration-test'"); err != nil {
		t.Fatal(err)
	}

	expired := time.Now().UTC().Add(-time.Hour)
	if _, err := store.Create(ctx, domain.Override{
		TargetType: domain.TargetLine,
		TargetID:   "line-it",
		Status:     domain.CodeClosed,
		Source:     "integration-test",
		ExpiresAt:  &expired,
		Active:     true,
	}); err != nil {
		t.Fatalf("create expired: %v", err)
	}
	id, err := store.Create(ctx, domain.Override{
		TargetType: domain.TargetSystem,
		Status:     domain.CodeSuspended,
		Message:    "simulacro",
		Source:     "integration-test",
		Active:     true,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	active, err := store.ListActive(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	found := false
	for _, ov := range active {
		if ov.Source != "integration-test" {
			continue
		}
		if ov.ID == id {
			found = true
		} else {
			t.Errorf("expired override %d still listed", ov.ID)
		}
	}
	if !found {
		t.Fatal("active override not listed")
	}

	if err := store.Deactivate(ctx, id); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	active, err = store.ListActive(ctx, time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}
	for _, ov := range active {
		if ov.ID == id {
			t.Error("deactivated override still listed")
		}
	}
	if err := store.Deactivate(ctx, id+100000); err == nil {
		t.Error("deactivating a missing override did not error")
	}
}

func TestSnapshotStore_Postgres(t *testing.T) {
	manager := openManager(t)
	ctx := context.Background()
	store := statuspostgres.NewSnapshotStore(manager)

	raw := domain.RawSnapshot{
		"l1": {Status: domain.CodeDelayed, Message: "lluvia", Stations: []domain.RawStation{
			{Code: "obs", Name: "Observatorio", Status: domain.CodeOperational},
			{Code: "tac", Name: "Tacubaya", Status: domain.CodePartial, TransferLines: []string{"l7"}},
		}},
	}
	at := time.Now().UTC().Truncate(time.Millisecond)
	if err := store.StoreRaw(ctx, raw, at); err != nil {
		t.Fatalf("store: %v", err)
	}

	got, gotAt, err := store.LoadRaw(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !gotAt.Equal(at) {
		t.Errorf("updated_at = %v, want %v", gotAt, at)
	}
	line, ok := got["l1"]
	if !ok || line.Status != domain.CodeDelayed || len(line.Stations) != 2 {
		t.Fatalf("round trip = %+v", got)
	}
	if line.Stations[1].TransferLines[0] != "l7" {
		t.Errorf("transfers lost: %+v", line.Stations[1])
	}

	// The cache is a singleton: a second write replaces, never appends.
	if err := store.StoreRaw(ctx, domain.RawSnapshot{"l2": {Status: domain.CodeOperational}}, at.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}
	got, _, err = store.LoadRaw(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, stale := got["l1"]; stale || len(got) != 1 {
		t.Errorf("cache not replaced: %+v", got)
	}
}

func TestReferenceStore_Postgres(t *testing.T) {
	manager := openManager(t)
	ctx := context.Background()
	store := statuspostgres.NewReferenceStore(manager)

	for _, stmt := range []string{
		"DELETE FROM metro_stations WHERE line_id = 'ref-it'",
		"DELETE FROM metro_lines WHERE id = 'ref-it'",
		"INSERT INTO metro_lines (id, name, weight) VALUES ('ref-it', 'Línea de prueba', 2.5)",
		"INSERT INTO metro_stations (id, line_id, name, position, transfer_lines) VALUES ('ref-b', 'ref-it', 'B', 2, '')",
		"INSERT INTO metro_stations (id, line_id, name, position, transfer_lines) VALUES ('ref-a', 'ref-it', 'A', 1, 'l7, l9')",
	} {
		if _, err := manager.Exec(ctx, stmt); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	network, err := store.LoadNetwork(ctx)
	if err != nil {
		t.Fatalf("load network: %v", err)
	}
	line := network.LineByID("ref-it")
	if line == nil {
		t.Fatal("seeded line missing")
	}
	if line.Weight != 2.5 {
		t.Errorf("weight = %v", line.Weight)
	}
	if len(line.Stations) != 2 || line.Stations[0].ID != "ref-a" || line.Stations[1].ID != "ref-b" {
		t.Fatalf("station order = %+v", line.Stations)
	}
	if len(line.Stations[0].TransferLines) != 2 || line.Stations[0].TransferLines[1] != "l9" {
		t.Errorf("transfers = %+v", line.Stations[0].TransferLines)
	}
}
