package domain

import "time"

type EventKind string

const (
	// EventTransition reports one state change. Exactly one is published
	// per transition, in order, per job.
	EventTransition EventKind = "transition"
	// EventProgress reports transfer counters. May be coalesced under
	// backpressure, newest wins.
	EventProgress EventKind = "progress"
)

// Event is what the bus fans out to observers.
type Event struct {
	JobID     string           `json:"job_id"`
	Kind      EventKind        `json:"kind"`
	PrevState JobState         `json:"prev_state,omitempty"`
	NewState  JobState         `json:"new_state,omitempty"`
	Progress  ProgressSnapshot `json:"progress"`
	Error     string           `json:"error,omitempty"`
	Timestamp time.Time        `json:"timestamp"`

	// Dropped tells the observer that progress events were coalesced or
	// discarded for it since the previous delivery.
	Dropped bool `json:"dropped_events,omitempty"`
}
