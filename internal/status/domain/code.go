package domain

// Code is an upstream status code. The vocabulary is closed: a code outside
// this set scores severity 0 and carries an "unknown" label, but never fails
// a cycle.
type Code string

const (
	CodeOperational Code = "1"
	CodeClosed      Code = "2"
	CodePartial     Code = "3"
	CodeDelayed     Code = "4"
	CodeSuspended   Code = "5"
	CodeExtended    Code = "6"
	CodeOffHours    Code = "7"
)

var codeSeverity = map[Code]int{
	CodeOperational: 0,
	CodeOffHours:    0,
	CodeExtended:    1,
	CodeDelayed:     2,
	CodePartial:     3,
	CodeSuspended:   4,
	CodeClosed:      5,
}

// codePriority orders codes from best to worst for network-status resolution
// and change scoring. It is distinct from severity: off-hours is harmless but
// still outranks operational when resolving the network code.
var codePriority = map[Code]int{
	CodeOperational: 0,
	CodeOffHours:    1,
	CodeExtended:    2,
	CodeDelayed:     3,
	CodePartial:     4,
	CodeSuspended:   5,
	CodeClosed:      6,
}

var codeLabels = map[Code][2]string{
	CodeOperational: {"Servicio normal", "Normal service"},
	CodeClosed:      {"Cerrada", "Closed"},
	CodePartial:     {"Servicio parcial", "Partial service"},
	CodeDelayed:     {"Con retrasos", "Delays"},
	CodeSuspended:   {"Suspendida", "Suspended"},
	CodeExtended:    {"Servicio extendido", "Extended service"},
	CodeOffHours:    {"Fuera de horario", "Outside service hours"},
}

// Known reports whether the code belongs to the closed vocabulary.
func (c Code) Known() bool {
	_, ok := codeSeverity[c]
	return ok
}

// Severity returns the intrinsic badness of the code, 0 for operational or
// unknown codes.
func (c Code) Severity() int {
	return codeSeverity[c]
}

// Priority returns the resolution rank of the code; higher means worse.
// Unknown codes rank 0.
func (c Code) Priority() int {
	return codePriority[c]
}

// Operational reports whether the code describes undisturbed service.
func (c Code) Operational() bool {
	return c == CodeOperational || c == CodeExtended
}

// Labels returns the Spanish and English labels for the code.
func (c Code) Labels() (es, en string) {
	if l, ok := codeLabels[c]; ok {
		return l[0], l[1]
	}
	return "Desconocido", "Unknown"
}

// severityBands maps cumulative severity to bilingual labels. Thresholds are
// ascending; the last band whose threshold is not exceeded wins.
var severityBands = []struct {
	min float64
	es  string
	en  string
}{
	{0, "Normal", "Normal"},
	{50, "Baja", "Low"},
	{100, "Moderada", "Moderate"},
	{150, "Alta", "High"},
	{200, "Muy alta", "Very high"},
	{300, "Crítica", "Critical"},
}

// SeverityLabels maps a cumulative severity score to its band labels.
func SeverityLabels(total float64) (es, en string) {
	es, en = severityBands[0].es, severityBands[0].en
	for _, band := range severityBands {
		if total >= band.min {
			es, en = band.es, band.en
		}
	}
	return es, en
}
