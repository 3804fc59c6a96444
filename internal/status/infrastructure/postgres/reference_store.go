package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Metroman-Development/Metro-Bot-sub001/internal/status/domain"
)

// ReferenceStore loads the static network model: lines with ordered
// stations, transfer links, and ridership weights.
type ReferenceStore struct {
	db Querier
}

// NewReferenceStore constructs the store.
func NewReferenceStore(db Querier) *ReferenceStore {
	return &ReferenceStore{db: db}
}

// LoadNetwork reads the full reference model. Station order within a line
// follows the position column; that order drives segment detection.
func (s *ReferenceStore) LoadNetwork(ctx context.Context) (*domain.Network, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("reference store: nil db")
	}

	lineRows, err := s.db.Query(ctx, "SELECT id, name, weight FROM metro_lines ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("reference store: lines: %w", err)
	}
	defer lineRows.Close()

	network := &domain.Network{}
	index := make(map[string]int)
	for lineRows.Next() {
		var line domain.LineDef
		if err := lineRows.Scan(&line.ID, &line.Name, &line.Weight); err != nil {
			return nil, err
		}
		index[line.ID] = len(network.Lines)
		network.Lines = append(network.Lines, line)
	}
	if err := lineRows.Err(); err != nil {
		return nil, err
	}
	if len(network.Lines) == 0 {
		return nil, errors.New("reference store: no lines defined")
	}

	stationRows, err := s.db.Query(ctx, `
SELECT id, line_id, name, transfer_lines
FROM metro_stations
ORDER BY line_id, position`)
	if err != nil {
		return nil, fmt.Errorf("reference store: stations: %w", err)
	}
	defer stationRows.Close()

	for stationRows.Next() {
		var station domain.StationDef
		var lineID, transfers string
		if err := stationRows.Scan(&station.ID, &lineID, &station.Name, &transfers); err != nil {
			return nil, err
		}
		station.TransferLines = splitTransfers(transfers)
		i, ok := index[lineID]
		if !ok {
			// A station row pointing at a dropped line is a data bug; skip
			// it rather than invent a line.
			continue
		}
		network.Lines[i].Stations = append(network.Lines[i].Stations, station)
	}
	if err := stationRows.Err(); err != nil {
		return nil, err
	}
	return network, nil
}

func splitTransfers(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	var out []string
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
