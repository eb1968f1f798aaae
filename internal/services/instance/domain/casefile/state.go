package casefile

// State is the replayed case.
type State struct {
	Title      string   `json:"title"`
	Assignee   string   `json:"assignee,omitempty"`
	Notes      []string `json:"notes,omitempty"`
	Activity   int      `json:"activity"`
	Closed     bool     `json:"closed"`
	Resolution string   `json:"resolution,omitempty"`
}
