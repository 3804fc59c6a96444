package domain

import "time"

// RawSnapshot is the upstream-shaped network state, keyed by line id. It is
// ephemeral: each poll cycle replaces it wholesale.
type RawSnapshot map[string]RawLine

// RawLine mirrors one line entry of the upstream payload.
type RawLine struct {
	Status   Code         `json:"status"`
	Message  string       `json:"message"`
	Stations []RawStation `json:"stations"`
}

// RawStation mirrors one station entry of the upstream payload.
type RawStation struct {
	Code          string   `json:"code"`
	Name          string   `json:"name"`
	Status        Code     `json:"status"`
	Description   string   `json:"description"`
	TransferLines []string `json:"transferLines,omitempty"`
}

// Clone returns a deep copy of the snapshot. Overrides and off-hours
// synthesis mutate a copy, never the stored original.
func (s RawSnapshot) Clone() RawSnapshot {
	if s == nil {
		return nil
	}
	out := make(RawSnapshot, len(s))
	for id, line := range s {
		stations := make([]RawStation, len(line.Stations))
		for i, st := range line.Stations {
			transfers := append([]string(nil), st.TransferLines...)
			st.TransferLines = transfers
			stations[i] = st
		}
		line.Stations = stations
		out[id] = line
	}
	return out
}

// StatusView is the normalized rendering of one status code.
type StatusView struct {
	Code    Code   `json:"code"`
	Message string `json:"message,omitempty"`
	LabelES string `json:"labelEs"`
	LabelEN string `json:"labelEn"`
}

// Segment is a contiguous run of non-operational stations on one line, in
// line order.
type Segment struct {
	FirstStation string `json:"firstStation"`
	LastStation  string `json:"lastStation"`
	Count        int    `json:"count"`
}

// LineView is the normalized state of one line.
type LineView struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Status   StatusView `json:"status"`
	Severity float64    `json:"severity"`
	Segments []Segment  `json:"segments,omitempty"`
}

// StationView is the normalized state of one station. Stations belong to one
// line but are indexed independently for O(1) lookup.
type StationView struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Line          string     `json:"line"`
	Status        StatusView `json:"status"`
	Severity      float64    `json:"severity"`
	TransferLines []string   `json:"transferLines,omitempty"`
}

// NetworkView aggregates the whole network.
type NetworkView struct {
	Status              StatusView `json:"status"`
	Severity            float64    `json:"severity"`
	SeverityES          string     `json:"severityEs"`
	SeverityEN          string     `json:"severityEn"`
	SummaryES           string     `json:"summaryEs"`
	SummaryEN           string     `json:"summaryEn"`
	OperationalLines    int        `json:"operationalLines"`
	AffectedLines       int        `json:"affectedLines"`
	OperationalStations int        `json:"operationalStations"`
	AffectedStations    int        `json:"affectedStations"`
}

// NormalizedSnapshot is the domain-shaped state of the network as of one
// cycle. It is immutable once produced: consumers treat it as a value, and
// the fetcher supersedes it with an atomic pointer swap.
type NormalizedSnapshot struct {
	Network     NetworkView            `json:"network"`
	Lines       map[string]LineView    `json:"lines"`
	Stations    map[string]StationView `json:"stations"`
	Version     int64                  `json:"version"`
	LastUpdated time.Time              `json:"lastUpdated"`
}
