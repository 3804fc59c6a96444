package eventing

import (
	"fmt"
	"math/rand"
	"time"
)

// Metadata travels with every payload for log correlation.
type Metadata struct {
	Source  string `json:"source"`
	EventID string `json:"eventId"`
}

// Payload is one validated event emission. It is constructed per Emit call
// and discarded after the subscribers return.
type Payload struct {
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
	Metadata  Metadata       `json:"metadata"`
	Errors    []string       `json:"errors,omitempty"`
}

// NewEventID derives a correlation id from the timestamp plus a random
// suffix. It is for log correlation only, not a uniqueness guarantee.
func NewEventID(now time.Time, rng *rand.Rand) string {
	var suffix int64
	if rng != nil {
		suffix = rng.Int63n(1 << 32)
	} else {
		suffix = rand.Int63n(1 << 32)
	}
	return fmt.Sprintf("%d-%08x", now.UnixMilli(), suffix)
}

// wrapData coerces arbitrary data into the map shape payloads carry.
// Non-object values are wrapped as {"value": data}.
func wrapData(data any) map[string]any {
	switch v := data.(type) {
	case nil:
		return map[string]any{}
	case map[string]any:
		return v
	default:
		return map[string]any{"value": data}
	}
}
