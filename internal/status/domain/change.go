package domain

import "time"

// ChangeType distinguishes line and station transitions.
type ChangeType string

const (
	ChangeLine    ChangeType = "line"
	ChangeStation ChangeType = "station"
)

// ChangeRecord captures one detected status transition. Records are created
// once per transition per cycle and never mutated afterwards.
type ChangeRecord struct {
	Type      ChangeType `json:"type"`
	ID        string     `json:"id"`
	Line      string     `json:"line,omitempty"`
	From      Code       `json:"from"`
	To        Code       `json:"to"`
	Severity  int        `json:"severity"`
	Timestamp time.Time  `json:"timestamp"`
}

// Improvement reports whether the transition moved to an equal or better
// priority.
func (c ChangeRecord) Improvement() bool {
	return c.To.Priority() <= c.From.Priority()
}

// ChangeMeta aggregates one analysis run.
type ChangeMeta struct {
	RunID          string    `json:"runId"`
	LineChanges    int       `json:"lineChanges"`
	StationChanges int       `json:"stationChanges"`
	Improvements   int       `json:"improvements"`
	Severity       int       `json:"severity"`
	NetworkStatus  Code      `json:"networkStatus"`
	IsFirstRun     bool      `json:"isFirstRun"`
	AnalyzedAt     time.Time `json:"analyzedAt"`
}

// ChangeSet is the result of diffing two snapshots.
type ChangeSet struct {
	Changes []ChangeRecord `json:"changes"`
	Meta    ChangeMeta     `json:"metadata"`
}
