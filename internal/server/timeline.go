package server

import (
	"slices"
	"time"

	"github.com/npezzotti/go-pickup/internal/types"
)

// MaxTimelineEvents is the number of events a room retains.
const MaxTimelineEvents = 30

// Timeline is a bounded, append-only event log. It is not safe for
// concurrent use; a room's timeline is only touched by the room goroutine.
type Timeline struct {
	events []types.Event
	limit  int
}

func NewTimeline(limit int) *Timeline {
	if limit <= 0 {
		limit = MaxTimelineEvents
	}

	return &Timeline{
		events: make([]types.Event, 0, limit+1),
		limit:  limit,
	}
}

// Append records label at the given time and evicts the oldest events
// once the log grows past its limit.
func (t *Timeline) Append(at time.Time, label string) types.Event {
	ev := types.Event{
		Time:  at.UnixMilli(),
		Event: label,
	}

	t.events = append(t.events, ev)
	if over := len(t.events) - t.limit; over > 0 {
		t.events = slices.Delete(t.events, 0, over)
	}

	return ev
}

// Events returns a copy of the log, oldest first.
func (t *Timeline) Events() []types.Event {
	return slices.Clone(t.events)
}

func (t *Timeline) Len() int {
	return len(t.events)
}
