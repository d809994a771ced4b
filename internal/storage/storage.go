package storage

import "time"

// Event is one resolved support query.
// Events are expected to be appended in chronological order.
type Event struct {
	Timestamp  time.Time `json:"timestamp"`
	UserID     string    `json:"user_id"`
	Channel    string    `json:"channel,omitempty"`
	Query      string    `json:"query"`
	Answer     string    `json:"answer"`
	Source     string    `json:"source"`
	Band       string    `json:"band"`
	Confidence float64   `json:"confidence"`
	Uncertain  bool      `json:"uncertain"`
}

// Recorder abstracts persistence of interaction events.
// Implementations must be safe for concurrent use.
type Recorder interface {
	AppendInteraction(event Event) error
	LoadInteractions() ([]Event, error)
}
