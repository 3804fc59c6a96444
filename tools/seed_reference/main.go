// Command seed_reference loads the static network model into Postgres:
// status code translations, lines with ridership weights, and ordered
// stations with transfer links. Input is a JSON file; without one a small
// built-in sample network is seeded for local development.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type stationSeed struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	TransferLines []string `json:"transferLines,omitempty"`
}

type lineSeed struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Weight   float64       `json:"weight"`
	Stations []stationSeed `json:"stations"`
}

type config struct {
	dsn      string
	file     string
	truncate bool
}

func main() {
	cfg := parseConfig()
	if cfg.dsn == "" {
		log.Fatal("PG_DSN or DATABASE_URL is required")
	}

	lines, err := loadLines(cfg.file)
	if err != nil {
		log.Fatalf("load network file: %v", err)
	}

	db, err := sql.Open("pgx", cfg.dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := seedStatusTypes(ctx, db); err != nil {
		log.Fatalf("seed status types: %v", err)
	}
	if err := seedNetwork(ctx, db, lines, cfg.truncate); err != nil {
		log.Fatalf("seed network: %v", err)
	}
	stations := 0
	for _, line := range lines {
		stations += len(line.Stations)
	}
	log.Printf("reference data seeded: lines=%d stations=%d", len(lines), stations)
}

func parseConfig() config {
	cfg := config{}
	flag.StringVar(&cfg.dsn, "pg-dsn", envOrDefault("PG_DSN", envOrDefault("DATABASE_URL", "")), "Postgres DSN")
	flag.StringVar(&cfg.file, "file", envOrDefault("NETWORK_FILE", ""), "network JSON file (omit for the built-in sample)")
	flag.BoolVar(&cfg.truncate, "truncate", false, "delete existing reference rows first")
	flag.Parse()
	return cfg
}

func loadLines(path string) ([]lineSeed, error) {
	if strings.TrimSpace(path) == "" {
		return sampleNetwork(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var lines []lineSeed
	if err := json.Unmarshal(data, &lines); err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("%s defines no lines", path)
	}
	return lines, nil
}

var statusTypes = []struct {
	typeID int
	code   string
	nameES string
	nameEN string
}{
	{1, "1", "Servicio normal", "Normal service"},
	{2, "2", "Cerrada", "Closed"},
	{3, "3", "Servicio parcial", "Partial service"},
	{4, "4", "Con retrasos", "Delays"},
	{5, "5", "Suspendida", "Suspended"},
	{6, "6", "Servicio extendido", "Extended service"},
	{7, "7", "Fuera de horario", "Outside service hours"},
}

func seedStatusTypes(ctx context.Context, db *sql.DB) error {
	const insertSQL = `
INSERT INTO status_types (type_id, code, name_es, name_en)
VALUES ($1, $2, $3, $4)
ON CONFLICT (type_id)
DO UPDATE SET code = EXCLUDED.code, name_es = EXCLUDED.name_es, name_en = EXCLUDED.name_en`

	for _, st := range statusTypes {
		if _, err := db.ExecContext(ctx, insertSQL, st.typeID, st.code, st.nameES, st.nameEN); err != nil {
			return err
		}
	}
	return nil
}

func seedNetwork(ctx context.Context, db *sql.DB, lines []lineSeed, truncate bool) error {
	const upsertLineSQL = `
INSERT INTO metro_lines (id, name, weight)
VALUES ($1, $2, $3)
ON CONFLICT (id)
DO UPDATE SET name = EXCLUDED.name, weight = EXCLUDED.weight`

	const upsertStationSQL = `
INSERT INTO metro_stations (id, line_id, name, position, transfer_lines)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id)
DO UPDATE SET
	line_id = EXCLUDED.line_id,
	name = EXCLUDED.name,
	position = EXCLUDED.position,
	transfer_lines = EXCLUDED.transfer_lines`

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if truncate {
		if _, err := tx.ExecContext(ctx, "DELETE FROM metro_stations"); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM metro_lines"); err != nil {
			return err
		}
	}

	lineStmt, err := tx.PrepareContext(ctx, upsertLineSQL)
	if err != nil {
		return err
	}
	defer lineStmt.Close()
	stationStmt, err := tx.PrepareContext(ctx, upsertStationSQL)
	if err != nil {
		return err
	}
	defer stationStmt.Close()

	for _, line := range lines {
		weight := line.Weight
		if weight <= 0 {
			weight = 1
		}
		if _, err := lineStmt.ExecContext(ctx, line.ID, line.Name, weight); err != nil {
			return fmt.Errorf("line %s: %w", line.ID, err)
		}
		for position, station := range line.Stations {
			transfers := strings.Join(station.TransferLines, ",")
			if _, err := stationStmt.ExecContext(ctx, station.ID, line.ID, station.Name, position+1, transfers); err != nil {
				return fmt.Errorf("station %s: %w", station.ID, err)
			}
		}
		log.Printf("seeded line %s: stations=%d weight=%.1f", line.ID, len(line.Stations), weight)
	}
	return tx.Commit()
}

func sampleNetwork() []lineSeed {
	return []lineSeed{
		{ID: "l1", Name: "Línea 1", Weight: 3, Stations: []stationSeed{
			{ID: "observatorio", Name: "Observatorio"},
			{ID: "tacubaya", Name: "Tacubaya", TransferLines: []string{"l7", "l9"}},
			{ID: "balderas", Name: "Balderas", TransferLines: []string{"l3"}},
			{ID: "pantitlan", Name: "Pantitlán", TransferLines: []string{"l9"}},
		}},
		{ID: "l3", Name: "Línea 3", Weight: 2.5, Stations: []stationSeed{
			{ID: "indios-verdes", Name: "Indios Verdes"},
			{ID: "balderas-l3", Name: "Balderas", TransferLines: []string{"l1"}},
			{ID: "universidad", Name: "Universidad"},
		}},
		{ID: "l7", Name: "Línea 7", Weight: 2, Stations: []stationSeed{
			{ID: "el-rosario", Name: "El Rosario"},
			{ID: "tacubaya-l7", Name: "Tacubaya", TransferLines: []string{"l1", "l9"}},
			{ID: "barranca", Name: "Barranca del Muerto"},
		}},
		{ID: "l9", Name: "Línea 9", Weight: 1.5, Stations: []stationSeed{
			{ID: "tacubaya-l9", Name: "Tacubaya", TransferLines: []string{"l1", "l7"}},
			{ID: "patriotismo", Name: "Patriotismo"},
			{ID: "pantitlan-l9", Name: "Pantitlán", TransferLines: []string{"l1"}},
		}},
	}
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
