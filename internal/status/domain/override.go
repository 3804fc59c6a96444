package domain

import (
	"errors"
	"time"
)

// TargetType scopes an override to a line, a station, or the whole system.
type TargetType string

const (
	TargetLine    TargetType = "line"
	TargetStation TargetType = "station"
	TargetSystem  TargetType = "system"
)

// Valid reports whether the target type is supported.
func (t TargetType) Valid() bool {
	switch t {
	case TargetLine, TargetStation, TargetSystem:
		return true
	default:
		return false
	}
}

// Override pins a status onto a line, station, or the whole network,
// superseding upstream data. Overrides may be scoped to a scheduled window
// and may expire.
type Override struct {
	ID          int64      `json:"id"`
	TargetType  TargetType `json:"targetType"`
	TargetID    string     `json:"targetId,omitempty"`
	Status      Code       `json:"status"`
	Message     string     `json:"message,omitempty"`
	Source      string     `json:"source"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	WindowStart *time.Time `json:"windowStart,omitempty"`
	WindowEnd   *time.Time `json:"windowEnd,omitempty"`
	Active      bool       `json:"active"`
}

// Validate checks override invariants.
func (o Override) Validate() error {
	if !o.TargetType.Valid() {
		return errors.New("override: invalid target type")
	}
	if o.TargetType != TargetSystem && o.TargetID == "" {
		return errors.New("override: empty target id")
	}
	if o.Status == "" {
		return errors.New("override: empty status")
	}
	if o.Source == "" {
		return errors.New("override: empty source")
	}
	if o.WindowStart != nil && o.WindowEnd != nil && !o.WindowEnd.After(*o.WindowStart) {
		return errors.New("override: window end not after start")
	}
	return nil
}

// ActiveAt reports whether the override applies at the given instant,
// honoring the active flag, the scheduled window, and expiry.
func (o Override) ActiveAt(now time.Time) bool {
	if !o.Active {
		return false
	}
	if o.ExpiresAt != nil && !now.Before(*o.ExpiresAt) {
		return false
	}
	if o.WindowStart != nil && now.Before(*o.WindowStart) {
		return false
	}
	if o.WindowEnd != nil && !now.Before(*o.WindowEnd) {
		return false
	}
	return true
}
