package run

import (
	"context"
	"time"

	"gallerygrab/internal/session"
)

// State is a run's position in its lifecycle.
type State string

const (
	StateCollecting  State = "collecting_metadata"
	StateDownloading State = "downloading"
	StateFinalizing  State = "finalizing"
	StateCompleted   State = "completed"
	StateCancelled   State = "cancelled"
	StateFailed      State = "failed"
)

// Terminal reports whether the state ends a run.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateFailed
}

// Run is the mutable state of one download run. All fields are owned by the
// Manager and guarded by its lock for the run's lifetime.
type Run struct {
	ID         string
	State      State
	Total      int
	Processed  int
	Succeeded  int
	Failed     int
	SinkHandle string
	StartedAt  time.Time

	cancel context.CancelFunc
	bus    *session.Bus
	events []session.Message
}

// Snapshot is a point-in-time copy of a run safe to hand to other goroutines.
type Snapshot struct {
	ID         string            `json:"id"`
	State      State             `json:"state"`
	Total      int               `json:"total"`
	Processed  int               `json:"processed"`
	Succeeded  int               `json:"succeeded"`
	Failed     int               `json:"failed"`
	SinkHandle string            `json:"sink_handle,omitempty"`
	StartedAt  time.Time         `json:"started_at"`
	Events     []session.Message `json:"events"`
}

func (r *Run) snapshot() Snapshot {
	events := make([]session.Message, len(r.events))
	copy(events, r.events)
	return Snapshot{
		ID:         r.ID,
		State:      r.State,
		Total:      r.Total,
		Processed:  r.Processed,
		Succeeded:  r.Succeeded,
		Failed:     r.Failed,
		SinkHandle: r.SinkHandle,
		StartedAt:  r.StartedAt,
		Events:     events,
	}
}
