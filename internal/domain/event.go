package domain

// EventType describes a task's progress transition.
type EventType string

const (
	EventAdmitted EventType = "admitted"
	EventRunning  EventType = "running"
	EventRetrying EventType = "retrying"
	EventDone     EventType = "done"
)

// TaskEvent is one progress notification routed to the aggregator and
// the status server. Events carry enough context to render a progress
// line without consulting shared state.
type TaskEvent struct {
	Type          EventType     `json:"type"`
	SequenceIndex int           `json:"index"`
	Name          string        `json:"name,omitempty"`
	Attempt       int           `json:"attempt,omitempty"`
	Status        OutcomeStatus `json:"status,omitempty"`
	OutputFile    string        `json:"output,omitempty"`
	Error         string        `json:"error,omitempty"`
}
