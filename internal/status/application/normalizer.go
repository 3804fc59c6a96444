package application

import (
	"fmt"
	"log"
	"time"

	"github.com/Metroman-Development/Metro-Bot-sub001/internal/status/domain"
)

// Normalizer turns an upstream-shaped snapshot into the domain-shaped one,
// scoring severity from line weights and status badness. It is stateless;
// the reference network is passed per call so a refresh never races a cycle.
type Normalizer struct {
	logger *log.Logger
}

// NewNormalizer constructs a normalizer.
func NewNormalizer(logger *log.Logger) *Normalizer {
	return &Normalizer{logger: logger}
}

// Normalize builds an immutable NormalizedSnapshot from raw upstream data.
// Unknown status codes score severity 0 with a logged warning and never fail
// the cycle.
func (n *Normalizer) Normalize(network *domain.Network, raw domain.RawSnapshot, version int64, now time.Time) *domain.NormalizedSnapshot {
	snap := &domain.NormalizedSnapshot{
		Lines:       make(map[string]domain.LineView, len(raw)),
		Stations:    make(map[string]domain.StationView),
		Version:     version,
		LastUpdated: now,
	}

	total := 0.0
	for lineID, rawLine := range raw {
		weight := network.WeightOf(lineID)
		n.warnUnknown("line", lineID, rawLine.Status)

		lineView := domain.LineView{
			ID:       lineID,
			Name:     lineName(network, lineID),
			Status:   statusView(rawLine.Status, rawLine.Message),
			Severity: weight * float64(rawLine.Status.Severity()),
			Segments: affectedSegments(rawLine.Stations),
		}
		total += lineView.Severity

		for _, rawStation := range rawLine.Stations {
			n.warnUnknown("station", rawStation.Code, rawStation.Status)

			// Transfer stations accumulate every connected line's weight:
			// a disruption there strands riders of all of them.
			stationWeight := weight
			for _, transfer := range rawStation.TransferLines {
				stationWeight += network.WeightOf(transfer)
			}
			stationView := domain.StationView{
				ID:            rawStation.Code,
				Name:          rawStation.Name,
				Line:          lineID,
				Status:        statusView(rawStation.Status, rawStation.Description),
				Severity:      stationWeight * float64(rawStation.Status.Severity()),
				TransferLines: append([]string(nil), rawStation.TransferLines...),
			}
			total += stationView.Severity
			snap.Stations[stationView.ID] = stationView
		}
		snap.Lines[lineID] = lineView
	}

	snap.Network = n.networkView(snap, total)
	return snap
}

func (n *Normalizer) networkView(snap *domain.NormalizedSnapshot, total float64) domain.NetworkView {
	view := domain.NetworkView{Severity: total}
	view.SeverityES, view.SeverityEN = domain.SeverityLabels(total)

	for _, line := range snap.Lines {
		if line.Status.Code.Operational() {
			view.OperationalLines++
		} else {
			view.AffectedLines++
		}
	}
	for _, station := range snap.Stations {
		if station.Status.Code.Operational() {
			view.OperationalStations++
		} else {
			view.AffectedStations++
		}
	}

	code := resolveNetworkCode(snap)
	view.Status = statusView(code, "")
	view.SummaryES, view.SummaryEN = summaries(view, code)
	return view
}

// resolveNetworkCode walks the fixed priority ladder. The ordering is part
// of the contract, including the cases where a line-level code is masked by
// a station-level one; do not re-derive it.
func resolveNetworkCode(snap *domain.NormalizedSnapshot) domain.Code {
	uniform := uniformCode(snap)
	if uniform != "" && uniform != domain.CodeOperational {
		return uniform
	}

	var anyStationClosed, anyLineSuspended, anyPartial, anyDelayed, anyExtended, anyOffHours bool
	for _, station := range snap.Stations {
		switch station.Status.Code {
		case domain.CodeClosed:
			anyStationClosed = true
		case domain.CodePartial:
			anyPartial = true
		case domain.CodeDelayed:
			anyDelayed = true
		case domain.CodeExtended:
			anyExtended = true
		case domain.CodeOffHours:
			anyOffHours = true
		}
	}
	for _, line := range snap.Lines {
		switch line.Status.Code {
		case domain.CodeSuspended:
			anyLineSuspended = true
		case domain.CodePartial:
			anyPartial = true
		case domain.CodeDelayed:
			anyDelayed = true
		case domain.CodeExtended:
			anyExtended = true
		case domain.CodeOffHours:
			anyOffHours = true
		}
	}

	switch {
	case anyStationClosed:
		return domain.CodeClosed
	case anyLineSuspended:
		return domain.CodeSuspended
	case anyPartial:
		return domain.CodePartial
	case anyDelayed:
		return domain.CodeDelayed
	case anyExtended:
		return domain.CodeExtended
	case anyOffHours:
		return domain.CodeOffHours
	default:
		return domain.CodeOperational
	}
}

// uniformCode returns the single code shared by every line and station, or
// "" when they differ.
func uniformCode(snap *domain.NormalizedSnapshot) domain.Code {
	var uniform domain.Code
	first := true
	check := func(code domain.Code) bool {
		if first {
			uniform = code
			first = false
			return true
		}
		return code == uniform
	}
	for _, line := range snap.Lines {
		if !check(line.Status.Code) {
			return ""
		}
	}
	for _, station := range snap.Stations {
		if !check(station.Status.Code) {
			return ""
		}
	}
	if first {
		return ""
	}
	return uniform
}

// affectedSegments finds contiguous runs of non-operational stations in line
// order, for compact human-readable summaries.
func affectedSegments(stations []domain.RawStation) []domain.Segment {
	var segments []domain.Segment
	var open *domain.Segment
	for _, station := range stations {
		affected := !station.Status.Operational() && station.Status != domain.CodeOffHours
		if affected {
			if open == nil {
				open = &domain.Segment{FirstStation: station.Code}
			}
			open.LastStation = station.Code
			open.Count++
			continue
		}
		if open != nil {
			segments = append(segments, *open)
			open = nil
		}
	}
	if open != nil {
		segments = append(segments, *open)
	}
	return segments
}

func summaries(view domain.NetworkView, code domain.Code) (es, en string) {
	switch {
	case code == domain.CodeOffHours:
		return "Red fuera de horario de servicio", "Network outside service hours"
	case view.AffectedLines == 0 && view.AffectedStations == 0:
		return "Servicio normal en toda la red", "Normal service across the network"
	default:
		labelES, labelEN := code.Labels()
		es = fmt.Sprintf("%s: %d líneas y %d estaciones afectadas",
			labelES, view.AffectedLines, view.AffectedStations)
		en = fmt.Sprintf("%s: %d lines and %d stations affected",
			labelEN, view.AffectedLines, view.AffectedStations)
		return es, en
	}
}

func statusView(code domain.Code, message string) domain.StatusView {
	es, en := code.Labels()
	return domain.StatusView{Code: code, Message: message, LabelES: es, LabelEN: en}
}

func lineName(network *domain.Network, lineID string) string {
	if line := network.LineByID(lineID); line != nil && line.Name != "" {
		return line.Name
	}
	return lineID
}

func (n *Normalizer) warnUnknown(kind, id string, code domain.Code) {
	if code.Known() || n == nil || n.logger == nil {
		return
	}
	n.logger.Printf("unknown status code: kind=%s id=%s code=%q", kind, id, code)
}
