package application

import (
	"io"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/Metroman-Development/Metro-Bot-sub001/internal/status/domain"
)

func snapWith(lines map[string]domain.Code, stations map[string][2]string) *domain.NormalizedSnapshot {
	snap := &domain.NormalizedSnapshot{
		Lines:    make(map[string]domain.LineView),
		Stations: make(map[string]domain.StationView),
	}
	for id, code := range lines {
		snap.Lines[id] = domain.LineView{ID: id, Status: domain.StatusView{Code: code}}
	}
	for id, pair := range stations {
		snap.Stations[id] = domain.StationView{
			ID:     id,
			Line:   pair[0],
			Status: domain.StatusView{Code: domain.Code(pair[1])},
		}
	}
	return snap
}

func TestAnalyzeFirstRunEmitsEverything(t *testing.T) {
	d := NewDetector(log.New(io.Discard, "", 0))
	current := snapWith(
		map[string]domain.Code{"l1": domain.CodeOperational, "l7": domain.CodeDelayed},
		map[string][2]string{"obs": {"l1", "1"}, "tac": {"l1", "3"}},
	)

	set := d.Analyze(current, nil)

	if !set.Meta.IsFirstRun {
		t.Error("IsFirstRun = false, want true")
	}
	if set.Meta.LineChanges != 2 || set.Meta.StationChanges != 2 {
		t.Errorf("counts = %d lines / %d stations, want 2/2", set.Meta.LineChanges, set.Meta.StationChanges)
	}
	if !strings.HasPrefix(set.Meta.RunID, "run-") {
		t.Errorf("RunID = %q", set.Meta.RunID)
	}
	if set.Meta.NetworkStatus != domain.CodePartial {
		t.Errorf("network status = %s, want partial", set.Meta.NetworkStatus)
	}
}

func TestAnalyzeIdempotent(t *testing.T) {
	d := NewDetector(log.New(io.Discard, "", 0))
	snap := snapWith(
		map[string]domain.Code{"l1": domain.CodeDelayed},
		map[string][2]string{"obs": {"l1", "3"}},
	)

	set := d.Analyze(snap, snap)
	if len(set.Changes) != 0 {
		t.Errorf("analyze(s, s) produced %d changes, want 0", len(set.Changes))
	}
	if set.Meta.IsFirstRun {
		t.Error("IsFirstRun = true on a diff against itself")
	}
}

func TestAnalyzeDetectsTransitions(t *testing.T) {
	d := NewDetector(log.New(io.Discard, "", 0))
	previous := snapWith(
		map[string]domain.Code{"l1": domain.CodeOperational},
		map[string][2]string{"st1": {"l1", "1"}, "st2": {"l1", "1"}},
	)
	current := snapWith(
		map[string]domain.Code{"l1": domain.CodeDelayed},
		map[string][2]string{"st1": {"l1", "3"}, "st2": {"l1", "1"}},
	)

	set := d.Analyze(current, previous)

	if len(set.Changes) != 2 {
		t.Fatalf("changes = %d, want 2", len(set.Changes))
	}
	byID := make(map[string]domain.ChangeRecord)
	for _, c := range set.Changes {
		byID[c.ID] = c
	}

	line := byID["l1"]
	if line.Type != domain.ChangeLine || line.From != domain.CodeOperational || line.To != domain.CodeDelayed {
		t.Errorf("line change = %+v", line)
	}
	// Operational has priority 0, delayed 3.
	if line.Severity != 3 {
		t.Errorf("line severity = %d, want 3", line.Severity)
	}

	station := byID["st1"]
	if station.Type != domain.ChangeStation || station.Line != "l1" || station.To != domain.CodePartial {
		t.Errorf("station change = %+v", station)
	}
	// Operational 0 to partial 4.
	if station.Severity != 4 {
		t.Errorf("station severity = %d, want 4", station.Severity)
	}
	if set.Meta.Severity != 4 {
		t.Errorf("meta severity = %d, want max record severity 4", set.Meta.Severity)
	}
	if set.Meta.Improvements != 0 {
		t.Errorf("improvements = %d, want 0", set.Meta.Improvements)
	}
}

// A line delay and a transfer-station disruption arriving in the same cycle
// produce exactly one record each, and the transfer station carries a higher
// normalized severity than a plain station under the same transition.
func TestAnalyzeLineAndTransferStationTogether(t *testing.T) {
	n := newTestNormalizer()
	d := NewDetector(log.New(io.Discard, "", 0))
	network := testNetwork()
	now := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

	previous := n.Normalize(network, rawAllOperational(), 1, now)

	degraded := rawAllOperational()
	l1 := degraded["l1"]
	l1.Status = domain.CodeDelayed
	l1.Stations[1].Status = domain.CodePartial // tac, transfers to l7 and l9
	degraded["l1"] = l1
	current := n.Normalize(network, degraded, 2, now.Add(time.Minute))

	set := d.Analyze(current, previous)
	if len(set.Changes) != 2 {
		t.Fatalf("changes = %d, want 2", len(set.Changes))
	}
	byID := make(map[string]domain.ChangeRecord)
	for _, c := range set.Changes {
		byID[c.ID] = c
	}
	line := byID["l1"]
	if line.Type != domain.ChangeLine || line.From != domain.CodeOperational || line.To != domain.CodeDelayed {
		t.Errorf("line change = %+v", line)
	}
	station := byID["tac"]
	if station.Type != domain.ChangeStation || station.Line != "l1" || station.To != domain.CodePartial {
		t.Errorf("station change = %+v", station)
	}

	// Same transition on a non-transfer station of the same line scores lower.
	plain := rawAllOperational()
	l1 = plain["l1"]
	l1.Status = domain.CodeDelayed
	l1.Stations[0].Status = domain.CodePartial // obs, no transfers
	plain["l1"] = l1
	alt := n.Normalize(network, plain, 2, now.Add(time.Minute))
	if current.Stations["tac"].Severity <= alt.Stations["obs"].Severity {
		t.Errorf("transfer severity %v not above plain %v",
			current.Stations["tac"].Severity, alt.Stations["obs"].Severity)
	}
}

func TestAnalyzeImprovementScoresZero(t *testing.T) {
	d := NewDetector(log.New(io.Discard, "", 0))
	previous := snapWith(map[string]domain.Code{"l1": domain.CodeSuspended}, nil)
	current := snapWith(map[string]domain.Code{"l1": domain.CodeOperational}, nil)

	set := d.Analyze(current, previous)
	if len(set.Changes) != 1 {
		t.Fatalf("changes = %d, want 1", len(set.Changes))
	}
	change := set.Changes[0]
	if change.Severity != 0 {
		t.Errorf("improvement severity = %d, want 0", change.Severity)
	}
	if !change.Improvement() {
		t.Error("Improvement() = false for suspended->operational")
	}
	if set.Meta.Improvements != 1 {
		t.Errorf("improvements = %d, want 1", set.Meta.Improvements)
	}
}

func TestAnalyzeSeverityNeverNegative(t *testing.T) {
	d := NewDetector(log.New(io.Discard, "", 0))
	codes := []domain.Code{
		domain.CodeOperational, domain.CodeOffHours, domain.CodeExtended,
		domain.CodeDelayed, domain.CodePartial, domain.CodeSuspended, domain.CodeClosed,
	}
	for _, from := range codes {
		for _, to := range codes {
			if got := d.changeSeverity(from, to); got < 0 {
				t.Errorf("changeSeverity(%s, %s) = %d", from, to, got)
			}
		}
	}
}

func TestAnalyzeLastKnownBridgesPartialSnapshot(t *testing.T) {
	d := NewDetector(log.New(io.Discard, "", 0))

	// Run 1 seeds st1 as delayed.
	first := snapWith(nil, map[string][2]string{"st1": {"l1", "4"}})
	d.Analyze(first, nil)

	// Run 2's previous snapshot omits st1, but the station reappears with a
	// different code. The cached last-known status supplies the from side.
	previous := snapWith(nil, map[string][2]string{"st2": {"l1", "1"}})
	current := snapWith(nil, map[string][2]string{"st1": {"l1", "1"}, "st2": {"l1", "1"}})

	set := d.Analyze(current, previous)
	if len(set.Changes) != 1 {
		t.Fatalf("changes = %d, want 1", len(set.Changes))
	}
	change := set.Changes[0]
	if change.ID != "st1" || change.From != domain.CodeDelayed || change.To != domain.CodeOperational {
		t.Errorf("change = %+v", change)
	}
}

func TestAnalyzeUnseenStationSeedsSilently(t *testing.T) {
	d := NewDetector(log.New(io.Discard, "", 0))
	previous := snapWith(nil, map[string][2]string{"st1": {"l1", "1"}})
	current := snapWith(nil, map[string][2]string{"st1": {"l1", "1"}, "brand-new": {"l1", "4"}})

	set := d.Analyze(current, previous)
	if len(set.Changes) != 0 {
		t.Errorf("unseen station produced %d changes, want 0", len(set.Changes))
	}

	// Once seeded, a later transition is reported normally.
	next := snapWith(nil, map[string][2]string{"st1": {"l1", "1"}, "brand-new": {"l1", "5"}})
	set = d.Analyze(next, current)
	if len(set.Changes) != 1 || set.Changes[0].ID != "brand-new" {
		t.Fatalf("changes = %+v, want one for brand-new", set.Changes)
	}
	if set.Changes[0].From != domain.CodeDelayed {
		t.Errorf("from = %s, want delayed", set.Changes[0].From)
	}
}

func TestNetworkStatusCaching(t *testing.T) {
	d := NewDetector(log.New(io.Discard, "", 0))
	if got := d.NetworkStatus(); got != domain.CodeOperational {
		t.Errorf("initial status = %s, want operational", got)
	}

	snap := snapWith(
		map[string]domain.Code{"l1": domain.CodeDelayed},
		map[string][2]string{"st1": {"l1", "5"}},
	)
	d.Analyze(snap, nil)
	if got := d.NetworkStatus(); got != domain.CodeSuspended {
		t.Errorf("status = %s, want suspended (worst across lines and stations)", got)
	}
}

func TestHistoryBounded(t *testing.T) {
	d := NewDetector(log.New(io.Discard, "", 0))
	d.historyCap = 5
	d.now = func() time.Time { return time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC) }

	var previous *domain.NormalizedSnapshot
	codes := []domain.Code{domain.CodeDelayed, domain.CodeOperational}
	for i := 0; i < 10; i++ {
		current := snapWith(map[string]domain.Code{"l1": codes[i%2]}, nil)
		d.Analyze(current, previous)
		previous = current
	}

	history := d.History()
	if len(history) != 5 {
		t.Fatalf("history = %d records, want cap 5", len(history))
	}
	// Most recent last: the final run flipped back to operational.
	last := history[len(history)-1]
	if last.To != domain.CodeOperational {
		t.Errorf("last record to = %s, want operational", last.To)
	}
}
