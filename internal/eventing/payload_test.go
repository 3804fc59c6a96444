package eventing

import (
	"math/rand"
	"regexp"
	"testing"
	"time"
)

func TestNewEventIDDeterministicWithSeededSource(t *testing.T) {
	now := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

	a := NewEventID(now, rand.New(rand.NewSource(42)))
	b := NewEventID(now, rand.New(rand.NewSource(42)))
	if a != b {
		t.Errorf("same seed produced %q and %q", a, b)
	}

	pattern := regexp.MustCompile(`^\d+-[0-9a-f]{8}$`)
	if !pattern.MatchString(a) {
		t.Errorf("id %q does not match <millis>-<hex8>", a)
	}
	if c := NewEventID(now, nil); !pattern.MatchString(c) {
		t.Errorf("global-source id %q does not match <millis>-<hex8>", c)
	}
}
