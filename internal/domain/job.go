package domain

import (
	"context"
	"time"
)

type JobState string

const (
	StatePending           JobState = "pending"
	StateResolving         JobState = "resolving"
	StateAwaitingSelection JobState = "awaiting_selection"
	StateQueued            JobState = "queued"
	StateRunning           JobState = "running"
	StatePaused            JobState = "paused"
	StateSucceeded         JobState = "succeeded"
	StateFailed            JobState = "failed"
	StateCanceled          JobState = "canceled"
)

// validTransitions is the single source of truth for the job lifecycle.
// Every state change in the engine goes through CanTransition.
var validTransitions = map[JobState][]JobState{
	StatePending:           {StateResolving, StateCanceled},
	StateResolving:         {StateAwaitingSelection, StateFailed, StateCanceled},
	StateAwaitingSelection: {StateQueued, StateCanceled},
	StateQueued:            {StateRunning, StateCanceled},
	StateRunning:           {StateSucceeded, StateFailed, StateCanceled, StatePaused, StateQueued},
	StatePaused:            {StateQueued, StateCanceled},
	// Failed -> Queued is the manual retry path. Succeeded and Canceled
	// accept nothing; removal is not a transition.
	StateFailed: {StateQueued},
}

func CanTransition(from, to JobState) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a job in this state has finished its lifecycle.
// Terminal jobs stay in the table until explicitly removed.
func (s JobState) IsTerminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCanceled
}

// IsActive reports whether the job still owns (or may own) a worker.
func (s JobState) IsActive() bool {
	return s == StateQueued || s == StateRunning
}

// Job represents one user-submitted download from submission to terminal state.
// The engine's job table owns it; the executor only touches Progress.
type Job struct {
	ID    string   `json:"id"`
	URL   string   `json:"url"`
	Title string   `json:"title,omitempty"`
	State JobState `json:"state"`

	Variants []VariantDescriptor `json:"variants,omitempty"`
	Variant  *VariantDescriptor  `json:"variant,omitempty"`

	DestPath string `json:"dest_path,omitempty"`

	Progress Progress `json:"progress"`

	RetryCount int    `json:"retry_count"`
	LastError  string `json:"last_error,omitempty"`

	// QueueSeq orders admission. Assigned when the job first enters the
	// queue and kept across retries so FIFO fairness survives failures.
	QueueSeq int64 `json:"-"`

	// NotBefore delays re-admission after an automatic retry.
	NotBefore time.Time `json:"-"`

	CreatedAt  time.Time `json:"created_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`

	CancelFunc context.CancelFunc `json:"-"`
}

// Clone returns a detached copy safe to read and encode after the engine's
// lock is released. Progress counters are copied by value; CancelFunc stays
// with the engine.
func (j *Job) Clone() *Job {
	c := &Job{
		ID:         j.ID,
		URL:        j.URL,
		Title:      j.Title,
		State:      j.State,
		DestPath:   j.DestPath,
		RetryCount: j.RetryCount,
		LastError:  j.LastError,
		QueueSeq:   j.QueueSeq,
		NotBefore:  j.NotBefore,
		CreatedAt:  j.CreatedAt,
		FinishedAt: j.FinishedAt,
	}
	if len(j.Variants) > 0 {
		c.Variants = append([]VariantDescriptor(nil), j.Variants...)
	}
	if j.Variant != nil {
		v := *j.Variant
		c.Variant = &v
	}
	c.Progress.SetTotal(j.Progress.TotalBytes())
	c.Progress.AddBytes(j.Progress.BytesDone())
	c.Progress.SetSpeed(j.Progress.Speed())
	return c
}

// FindVariant returns the variant with the given id, if the resolver listed it.
func (j *Job) FindVariant(id string) (*VariantDescriptor, bool) {
	for i := range j.Variants {
		if j.Variants[i].ID == id {
			return &j.Variants[i], true
		}
	}
	return nil, false
}
