package domain

import "testing"

func TestCodeSeverityAndPriority(t *testing.T) {
	cases := []struct {
		code     Code
		severity int
		priority int
	}{
		{CodeOperational, 0, 0},
		{CodeOffHours, 0, 1},
		{CodeExtended, 1, 2},
		{CodeDelayed, 2, 3},
		{CodePartial, 3, 4},
		{CodeSuspended, 4, 5},
		{CodeClosed, 5, 6},
	}
	for _, tc := range cases {
		if got := tc.code.Severity(); got != tc.severity {
			t.Errorf("code %q severity = %d, want %d", tc.code, got, tc.severity)
		}
		if got := tc.code.Priority(); got != tc.priority {
			t.Errorf("code %q priority = %d, want %d", tc.code, got, tc.priority)
		}
		if !tc.code.Known() {
			t.Errorf("code %q should be known", tc.code)
		}
	}
}

func TestUnknownCodeIsHarmless(t *testing.T) {
	unknown := Code("99")
	if unknown.Known() {
		t.Fatal("code 99 should be unknown")
	}
	if unknown.Severity() != 0 {
		t.Errorf("unknown severity = %d, want 0", unknown.Severity())
	}
	if unknown.Priority() != 0 {
		t.Errorf("unknown priority = %d, want 0", unknown.Priority())
	}
	es, en := unknown.Labels()
	if es != "Desconocido" || en != "Unknown" {
		t.Errorf("unknown labels = %q/%q", es, en)
	}
}

func TestSeverityLabels(t *testing.T) {
	cases := []struct {
		total float64
		es    string
		en    string
	}{
		{0, "Normal", "Normal"},
		{49.9, "Normal", "Normal"},
		{50, "Baja", "Low"},
		{120, "Moderada", "Moderate"},
		{150, "Alta", "High"},
		{250, "Muy alta", "Very high"},
		{300, "Crítica", "Critical"},
		{1000, "Crítica", "Critical"},
	}
	for _, tc := range cases {
		es, en := SeverityLabels(tc.total)
		if es != tc.es || en != tc.en {
			t.Errorf("SeverityLabels(%v) = %q/%q, want %q/%q", tc.total, es, en, tc.es, tc.en)
		}
	}
}

func TestRawSnapshotCloneIsDeep(t *testing.T) {
	original := RawSnapshot{
		"l1": {
			Status: CodeOperational,
			Stations: []RawStation{
				{Code: "st1", Status: CodeOperational, TransferLines: []string{"l2"}},
			},
		},
	}
	clone := original.Clone()
	line := clone["l1"]
	line.Status = CodeClosed
	line.Stations[0].Status = CodeClosed
	line.Stations[0].TransferLines[0] = "l9"
	clone["l1"] = line

	if original["l1"].Status != CodeOperational {
		t.Error("clone mutated original line status")
	}
	if original["l1"].Stations[0].Status != CodeOperational {
		t.Error("clone mutated original station status")
	}
	if original["l1"].Stations[0].TransferLines[0] != "l2" {
		t.Error("clone mutated original transfer lines")
	}
}
