package domain

import (
	"testing"
	"time"
)

func timePtr(t time.Time) *time.Time { return &t }

func TestOverrideActiveAt(t *testing.T) {
	now := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	base := Override{TargetType: TargetLine, TargetID: "l1", Status: CodeClosed, Source: "ops", Active: true}

	cases := []struct {
		name   string
		mutate func(o *Override)
		want   bool
	}{
		{"plain active", func(o *Override) {}, true},
		{"inactive flag", func(o *Override) { o.Active = false }, false},
		{"expired", func(o *Override) { o.ExpiresAt = timePtr(now.Add(-time.Minute)) }, false},
		{"expires later", func(o *Override) { o.ExpiresAt = timePtr(now.Add(time.Minute)) }, true},
		{"expiry boundary", func(o *Override) { o.ExpiresAt = timePtr(now) }, false},
		{"window not started", func(o *Override) { o.WindowStart = timePtr(now.Add(time.Hour)) }, false},
		{"window open", func(o *Override) {
			o.WindowStart = timePtr(now.Add(-time.Hour))
			o.WindowEnd = timePtr(now.Add(time.Hour))
		}, true},
		{"window closed", func(o *Override) {
			o.WindowStart = timePtr(now.Add(-2 * time.Hour))
			o.WindowEnd = timePtr(now.Add(-time.Hour))
		}, false},
		{"window start boundary", func(o *Override) { o.WindowStart = timePtr(now) }, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ov := base
			tc.mutate(&ov)
			if got := ov.ActiveAt(now); got != tc.want {
				t.Errorf("ActiveAt = %t, want %t", got, tc.want)
			}
		})
	}
}

func TestOverrideValidate(t *testing.T) {
	valid := Override{TargetType: TargetStation, TargetID: "st1", Status: CodePartial, Source: "ops"}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid override rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(o *Override)
	}{
		{"bad target type", func(o *Override) { o.TargetType = "network" }},
		{"missing target id", func(o *Override) { o.TargetID = "" }},
		{"missing status", func(o *Override) { o.Status = "" }},
		{"missing source", func(o *Override) { o.Source = "" }},
		{"inverted window", func(o *Override) {
			start := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
			o.WindowStart = timePtr(start)
			o.WindowEnd = timePtr(start.Add(-time.Hour))
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ov := valid
			tc.mutate(&ov)
			if err := ov.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}

	system := Override{TargetType: TargetSystem, Status: CodeSuspended, Source: "ops"}
	if err := system.Validate(); err != nil {
		t.Errorf("system override needs no target id: %v", err)
	}
}
