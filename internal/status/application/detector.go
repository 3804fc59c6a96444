package application

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Metroman-Development/Metro-Bot-sub001/internal/status/domain"
)

// defaultHistoryCap bounds the in-memory change history.
const defaultHistoryCap = 200

// Detector diffs normalized snapshots into change records. The diff itself
// is pure; the detector additionally keeps a last-known status per station
// (to bridge partial upstream snapshots), the cached network status, and a
// bounded history of emitted records.
type Detector struct {
	logger     *log.Logger
	historyCap int
	now        func() time.Time

	mu          sync.Mutex
	lastKnown   map[string]domain.Code
	networkCode domain.Code
	runSeq      int64
	history     []domain.ChangeRecord
}

// NewDetector constructs a detector.
func NewDetector(logger *log.Logger) *Detector {
	return &Detector{
		logger:     logger,
		historyCap: defaultHistoryCap,
		now:        time.Now,
		lastKnown:  make(map[string]domain.Code),
	}
}

// Analyze diffs current against previous. A nil previous marks the first
// run: every entity produces a record so downstream performs a full resync.
func (d *Detector) Analyze(current, previous *domain.NormalizedSnapshot) domain.ChangeSet {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.runSeq++
	now := d.now()
	meta := domain.ChangeMeta{
		RunID:      fmt.Sprintf("run-%d-%d", now.UnixMilli(), d.runSeq),
		IsFirstRun: previous == nil,
		AnalyzedAt: now,
	}
	set := domain.ChangeSet{Meta: meta}
	if current == nil {
		return set
	}

	for id, line := range current.Lines {
		prev, known := previousLineCode(previous, id)
		if known && prev == line.Status.Code {
			continue
		}
		record := domain.ChangeRecord{
			Type:      domain.ChangeLine,
			ID:        id,
			From:      prev,
			To:        line.Status.Code,
			Severity:  d.changeSeverity(prev, line.Status.Code),
			Timestamp: now,
		}
		set.Changes = append(set.Changes, record)
		set.Meta.LineChanges++
	}

	for id, station := range current.Stations {
		prev, known := d.previousStationCode(previous, id)
		d.lastKnown[id] = station.Status.Code
		if known && prev == station.Status.Code {
			continue
		}
		if !known && previous != nil {
			// A station never seen before on a non-first run: seed the
			// cache without emitting a noisy synthetic transition.
			continue
		}
		record := domain.ChangeRecord{
			Type:      domain.ChangeStation,
			ID:        id,
			Line:      station.Line,
			From:      prev,
			To:        station.Status.Code,
			Severity:  d.changeSeverity(prev, station.Status.Code),
			Timestamp: now,
		}
		set.Changes = append(set.Changes, record)
		set.Meta.StationChanges++
	}

	for _, record := range set.Changes {
		if record.Improvement() {
			set.Meta.Improvements++
		}
		if record.Severity > set.Meta.Severity {
			set.Meta.Severity = record.Severity
		}
	}

	d.networkCode = worstCode(current)
	set.Meta.NetworkStatus = d.networkCode

	d.appendHistory(set.Changes)
	return set
}

// NetworkStatus returns the worst status cached from the latest run.
func (d *Detector) NetworkStatus() domain.Code {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.networkCode == "" {
		return domain.CodeOperational
	}
	return d.networkCode
}

// History returns the bounded record history, most recent last.
func (d *Detector) History() []domain.ChangeRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]domain.ChangeRecord(nil), d.history...)
}

// changeSeverity scores a transition from the priority delta. Worsening
// transitions score the size of the jump; improvements score zero.
func (d *Detector) changeSeverity(from, to domain.Code) int {
	if !to.Known() {
		if d.logger != nil {
			d.logger.Printf("unknown status code in transition: code=%q", to)
		}
		return 0
	}
	delta := to.Priority() - from.Priority()
	if delta <= 0 {
		return 0
	}
	return delta
}

func (d *Detector) previousStationCode(previous *domain.NormalizedSnapshot, id string) (domain.Code, bool) {
	if previous != nil {
		if station, ok := previous.Stations[id]; ok {
			return station.Status.Code, true
		}
	}
	// Absent from the previous snapshot (partial upstream payload): fall
	// back to the last status this detector ever saw for the station.
	if code, ok := d.lastKnown[id]; ok {
		return code, true
	}
	return "", false
}

func (d *Detector) appendHistory(records []domain.ChangeRecord) {
	d.history = append(d.history, records...)
	if excess := len(d.history) - d.historyCap; excess > 0 {
		d.history = append([]domain.ChangeRecord(nil), d.history[excess:]...)
	}
}

func previousLineCode(previous *domain.NormalizedSnapshot, id string) (domain.Code, bool) {
	if previous == nil {
		return "", false
	}
	if line, ok := previous.Lines[id]; ok {
		return line.Status.Code, true
	}
	return "", false
}

// worstCode recomputes the network-level cached status as the highest
// priority code observed across all lines and stations.
func worstCode(snap *domain.NormalizedSnapshot) domain.Code {
	worst := domain.CodeOperational
	for _, line := range snap.Lines {
		if line.Status.Code.Priority() > worst.Priority() {
			worst = line.Status.Code
		}
	}
	for _, station := range snap.Stations {
		if station.Status.Code.Priority() > worst.Priority() {
			worst = station.Status.Code
		}
	}
	return worst
}
