package models

import (
	"sort"
	"time"
)

// Result is the record assembled at the end of a run and handed to the result store.
// Monitor logs are kept verbatim, one raw JSON-lines text per node address.
type Result struct {
	ID           string            `json:"id"`
	ScenarioHash string            `json:"scenario_hash"`
	Scenario     string            `json:"scenario"`
	Monitors     map[string]string `json:"monitors"`
	Outputs      map[string]string `json:"vms"`
	Placement    map[string]string `json:"placement"`
	Unallocated  []string          `json:"unallocated,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// VMNames returns the sorted names of the placed VMs.
func (r *Result) VMNames() []string {
	names := make([]string, 0, len(r.Placement))
	for name := range r.Placement {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
