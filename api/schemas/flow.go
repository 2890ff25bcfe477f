package schemas

import "time"

// Flow is a recorded automation: a top-level action sequence plus named subflows
// invoked by control directives and branch labels.
type Flow struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name,omitempty"`
	Variables map[string]interface{} `json:"variables,omitempty"`
	Actions   []Action               `json:"actions"`
	Subflows  map[string][]Action    `json:"subflows,omitempty"`
}

// Subflow returns the named subflow and whether it exists.
func (f *Flow) Subflow(id string) ([]Action, bool) {
	if f == nil || f.Subflows == nil {
		return nil, false
	}
	actions, ok := f.Subflows[id]
	return actions, ok
}

// FlowSummary is the listing form of a stored flow.
type FlowSummary struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	UpdatedAt time.Time `json:"updatedAt"`
}
