// Package cover holds the wire types shared by the analysis client: statuses,
// progress, results, settings and the typed errors returned by the service.
package cover

import (
	"encoding/json"
	"fmt"
)

// Status is the lifecycle state of an analysis.
type Status string

const (
	StatusNotStarted Status = "NOT_STARTED"
	StatusQueued     Status = "QUEUED"
	StatusRunning    Status = "RUNNING"
	StatusStopping   Status = "STOPPING"
	StatusCanceled   Status = "CANCELED"
	StatusErrored    Status = "ERRORED"
	StatusCompleted  Status = "COMPLETED"
)

// rank orders the in-progress statuses. Terminal statuses share the top rank.
var rank = map[Status]int{
	StatusNotStarted: 0,
	StatusQueued:     1,
	StatusRunning:    2,
	StatusStopping:   3,
	StatusCanceled:   4,
	StatusErrored:    4,
	StatusCompleted:  4,
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	_, ok := rank[s]
	return ok
}

// InProgress reports whether the remote job is still being processed.
func (s Status) InProgress() bool {
	return s == StatusQueued || s == StatusRunning || s == StatusStopping
}

// Ended reports whether s is terminal.
func (s Status) Ended() bool {
	return s == StatusCanceled || s == StatusErrored || s == StatusCompleted
}

func (s Status) String() string { return string(s) }

// UnmarshalJSON rejects statuses the service should never send, including
// NOT_STARTED which only exists on the client.
func (s *Status) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("status: %w", err)
	}
	st := Status(raw)
	if !st.Valid() || st == StatusNotStarted {
		return fmt.Errorf("status: unknown value %q", raw)
	}
	*s = st
	return nil
}

// CanTransition reports whether an analysis may move from one status to
// another. Statuses only move forward; an ended analysis can only be
// re-reported as ended.
func CanTransition(from, to Status) bool {
	if !from.Valid() || !to.Valid() || to == StatusNotStarted {
		return false
	}
	switch {
	case from == StatusNotStarted:
		return to == StatusQueued
	case from.Ended():
		return to.Ended()
	default:
		return rank[to] >= rank[from]
	}
}
