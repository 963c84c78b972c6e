package domain

import "fmt"

// StatusDef is one status in an organization's pipeline configuration.
type StatusDef struct {
	Name     string
	Position int
	Terminal bool
	Entry    bool
}

// Pipeline is an organization's ordered status configuration. Which statuses
// exist, which are terminal, and which one new leads enter at are all
// configuration, not code.
type Pipeline struct {
	Statuses []StatusDef
}

// Default pipeline status names referenced by other modules.
const (
	DefaultStatusNew           = "New"
	DefaultStatusInterested    = "Interested"
	DefaultStatusNotInterested = "NotInterested"
)

// DefaultPipeline is seeded for organizations that have not configured one.
func DefaultPipeline() Pipeline {
	return Pipeline{Statuses: []StatusDef{
		{Name: DefaultStatusNew, Position: 1, Entry: true},
		{Name: "Contacted", Position: 2},
		{Name: DefaultStatusInterested, Position: 3},
		{Name: "AppointmentScheduled", Position: 4},
		{Name: "AppointmentBooked", Position: 5},
		{Name: DefaultStatusNotInterested, Position: 6, Terminal: true},
		{Name: "DealClosed", Position: 7, Terminal: true},
		{Name: "Lost", Position: 8, Terminal: true},
	}}
}

// Has reports whether the pipeline contains the named status.
func (p Pipeline) Has(name string) bool {
	for _, s := range p.Statuses {
		if s.Name == name {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the named status is flagged terminal.
func (p Pipeline) IsTerminal(name string) bool {
	for _, s := range p.Statuses {
		if s.Name == name {
			return s.Terminal
		}
	}
	return false
}

// EntryStatus returns the status new leads are initialized to.
func (p Pipeline) EntryStatus() string {
	for _, s := range p.Statuses {
		if s.Entry {
			return s.Name
		}
	}
	if len(p.Statuses) > 0 {
		return p.Statuses[0].Name
	}
	return ""
}

// Validate rejects malformed pipeline configuration at write time.
func (p Pipeline) Validate() error {
	if len(p.Statuses) == 0 {
		return fmt.Errorf("pipeline must define at least one status")
	}

	seen := make(map[string]struct{}, len(p.Statuses))
	entries := 0
	for _, s := range p.Statuses {
		if s.Name == "" {
			return fmt.Errorf("pipeline status name must not be empty")
		}
		if _, dup := seen[s.Name]; dup {
			return fmt.Errorf("duplicate pipeline status %q", s.Name)
		}
		seen[s.Name] = struct{}{}
		if s.Entry {
			entries++
			if s.Terminal {
				return fmt.Errorf("entry status %q cannot be terminal", s.Name)
			}
		}
	}
	if entries != 1 {
		return fmt.Errorf("pipeline must define exactly one entry status, got %d", entries)
	}
	return nil
}
