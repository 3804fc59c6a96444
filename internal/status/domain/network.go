package domain

// StationDef is the static definition of one station in reference data.
type StationDef struct {
	ID            string
	Name          string
	TransferLines []string
}

// LineDef is the static definition of one line: ordered stations plus the
// ridership weight used for severity scoring.
type LineDef struct {
	ID       string
	Name     string
	Weight   float64
	Stations []StationDef
}

// Network is the reference model of the transit network. It changes rarely
// and is refreshed independently of the status poll.
type Network struct {
	Lines []LineDef
}

// LineByID returns the line definition, or nil when unknown.
func (n *Network) LineByID(id string) *LineDef {
	if n == nil {
		return nil
	}
	for i := range n.Lines {
		if n.Lines[i].ID == id {
			return &n.Lines[i]
		}
	}
	return nil
}

// WeightOf returns the line's ridership weight, defaulting to 1 for unknown
// lines so severity math never zeroes out silently.
func (n *Network) WeightOf(lineID string) float64 {
	if line := n.LineByID(lineID); line != nil && line.Weight > 0 {
		return line.Weight
	}
	return 1
}

// StationCount returns the total number of stations across all lines.
func (n *Network) StationCount() int {
	if n == nil {
		return 0
	}
	total := 0
	for _, line := range n.Lines {
		total += len(line.Stations)
	}
	return total
}
